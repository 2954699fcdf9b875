// Package connector implements the discovery sources: arXiv RSS, OpenAlex,
// CrossRef, and the CommonCrawl CDX index. Every connector satisfies
// ingest.Connector and reports failures through ingest.ConnectorResult
// instead of returning them.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// Source tags attached to candidates.
const (
	SourceArxiv       = "arxiv"
	SourceOpenAlex    = "openalex"
	SourceCrossRef    = "crossref"
	SourceCommonCrawl = "commoncrawl"
)

const (
	defaultTimeout = 10 * time.Second
	defaultPerPage = 50
	doiResolver    = "https://doi.org/"
)

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// get fetches rawURL through fetcher with its own deadline. Provider
// endpoints are APIs, so robots.txt is not consulted.
func get(ctx context.Context, fetcher ingest.Fetcher, rawURL, accept string, timeout time.Duration) ([]byte, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("GET %s: no fetcher configured", rawURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := http.Header{}
	if accept != "" {
		headers.Set("Accept", accept)
	}
	resp, err := fetcher.Fetch(ctx, ingest.FetchRequest{
		URL:                   rawURL,
		Headers:               headers,
		RespectRobots:         false,
		RespectRobotsProvided: true,
	})
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func getJSON(ctx context.Context, fetcher ingest.Fetcher, rawURL string, timeout time.Duration, out any) error {
	body, err := get(ctx, fetcher, rawURL, "application/json", timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

func candidate(rawURL, title, source string) ingest.Candidate {
	return ingest.Candidate{
		URL:          rawURL,
		CanonicalURL: ingest.Canonicalize(rawURL),
		Title:        title,
		Source:       source,
	}
}

// doiURL turns a bare DOI into a resolver link. Values that are already
// URLs are returned as-is.
func doiURL(doi string) string {
	if doi == "" {
		return ""
	}
	if strings.HasPrefix(doi, "http") {
		return doi
	}
	return doiResolver + doi
}

func perPage(n int) int {
	if n <= 0 {
		return defaultPerPage
	}
	return n
}
