package ingest

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
}

// Canonicalize strips the fragment and tracking query parameters from raw.
// The scheme is lowercased; host, path, and the remaining query are kept
// byte for byte. If raw cannot be parsed it is returned unchanged.
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	base, _, _ := strings.Cut(raw, "#")
	base, query, _ := strings.Cut(base, "?")
	if n := len(u.Scheme); n > 0 && n <= len(base) {
		base = strings.ToLower(base[:n]) + base[n:]
	}
	if query = stripTracking(query); query != "" {
		return base + "?" + query
	}
	return base
}

func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		if isTrackingParam(queryKey(part)) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if unescaped, err := url.QueryUnescape(key); err == nil {
		return unescaped
	}
	return key
}

func isTrackingParam(name string) bool {
	if strings.HasPrefix(name, "utm_") {
		return true
	}
	_, ok := trackingParams[name]
	return ok
}

// Hostname returns the lowercased host of raw without port, or "" if raw is not a URL.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
