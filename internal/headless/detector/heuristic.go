// Package detector decides when a plain HTTP fetch should be retried in a
// headless browser.
package detector

import (
	"bytes"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

const (
	defaultTextThreshold = 200
	scriptCoveragePct    = 25
)

// Heuristic promotes HTML responses that look like client-rendered shells.
type Heuristic struct {
	// TextThreshold is the minimum amount of visible body text, in bytes,
	// below which a script-heavy page is promoted.
	TextThreshold int
}

// NewHeuristic creates a detector. A zero threshold selects the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultTextThreshold
	}
	return &Heuristic{TextThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
}

var noscriptHints = []string{
	"enable javascript",
	"javascript is required",
	"requires javascript",
}

// ShouldPromote reports whether resp is an HTML page whose readable content
// probably needs JavaScript to appear. PDFs and error responses are never
// promoted.
func (h *Heuristic) ShouldPromote(resp ingest.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	if !isHTML(resp) {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if noscriptAsksForJS(doc) {
		return true
	}
	text := visibleText(doc)
	return len(text) < h.TextThreshold && scriptDensityHigh(body)
}

func isHTML(resp ingest.FetchResponse) bool {
	ct := resp.Headers.Get("Content-Type")
	if ct == "" {
		return !bytes.HasPrefix(resp.Body, []byte("%PDF"))
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func noscriptAsksForJS(doc *goquery.Document) bool {
	found := false
	doc.Find("noscript").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(s.Text())
		for _, hint := range noscriptHints {
			if strings.Contains(text, hint) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= scriptCoveragePct
}
