package connector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// DefaultCommonCrawlURL is the CommonCrawl index server.
const DefaultCommonCrawlURL = "https://index.commoncrawl.org"

const (
	commonCrawlLineCap      = 200
	commonCrawlIndexTimeout = 20 * time.Second
)

// ErrNoCollection is returned when collinfo.json lists no crawl.
var ErrNoCollection = errors.New("commoncrawl: no collection available")

// CommonCrawl queries the CDX index of the most recent crawl for URLs
// matching a pattern. Index records carry no publication date, so the
// cutoff is not applied.
type CommonCrawl struct {
	baseURL string
	pattern string
	mime    string
	fetcher ingest.Fetcher
	timeout time.Duration
}

// NewCommonCrawl builds a CommonCrawl connector. mime may be empty to accept
// every content type.
func NewCommonCrawl(baseURL, pattern, mime string, fetcher ingest.Fetcher) *CommonCrawl {
	if baseURL == "" {
		baseURL = DefaultCommonCrawlURL
	}
	if pattern == "" {
		pattern = "*.edu"
	}
	return &CommonCrawl{
		baseURL: strings.TrimRight(baseURL, "/"),
		pattern: pattern,
		mime:    mime,
		fetcher: fetcher,
		timeout: commonCrawlIndexTimeout,
	}
}

type commonCrawlCollection struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	CDXAPI string `json:"cdx-api"`
}

type commonCrawlRecord struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Name implements ingest.Connector.
func (c *CommonCrawl) Name() string { return SourceCommonCrawl }

// Fetch implements ingest.Connector.
func (c *CommonCrawl) Fetch(ctx context.Context, _ time.Time) ingest.ConnectorResult {
	endpoint, err := c.latestIndex(ctx)
	if err != nil {
		return ingest.ConnectorFailure(err)
	}
	body, err := get(ctx, c.fetcher, c.queryURL(endpoint), "", c.timeout)
	if err != nil {
		return ingest.ConnectorFailure(err)
	}
	return ingest.ConnectorSuccess(parseCDX(body, commonCrawlLineCap))
}

// latestIndex returns the CDX endpoint of the newest collection.
func (c *CommonCrawl) latestIndex(ctx context.Context) (string, error) {
	var collections []commonCrawlCollection
	if err := getJSON(ctx, c.fetcher, c.baseURL+"/collinfo.json", defaultTimeout, &collections); err != nil {
		return "", err
	}
	for _, coll := range collections {
		if coll.CDXAPI != "" {
			return coll.CDXAPI, nil
		}
		id := coll.ID
		if id == "" {
			id = coll.Name
		}
		if id != "" {
			return c.baseURL + "/" + url.PathEscape(id) + "-index", nil
		}
	}
	return "", ErrNoCollection
}

func (c *CommonCrawl) queryURL(endpoint string) string {
	q := url.Values{}
	q.Set("url", c.pattern)
	q.Set("output", "json")
	q.Set("limit", strconv.Itoa(commonCrawlLineCap))
	if c.mime != "" {
		q.Set("filter", "mime:"+c.mime)
	}
	return endpoint + "?" + q.Encode()
}

// parseCDX reads up to limit NDJSON lines. Lines that do not decode or
// that record a non-200 capture are skipped.
func parseCDX(body []byte, limit int) []ingest.Candidate {
	var out []ingest.Candidate
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lines := 0
	for scanner.Scan() && lines < limit {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++
		var rec commonCrawlRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.URL == "" {
			continue
		}
		if rec.Status != "" && rec.Status != "200" {
			continue
		}
		out = append(out, candidate(rec.URL, titleFromPath(rec.URL), SourceCommonCrawl))
	}
	return out
}

// titleFromPath derives a readable title from the last path segment.
func titleFromPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return u.Hostname()
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
