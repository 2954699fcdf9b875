package connector

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// DefaultCrossRefURL is the CrossRef works endpoint.
const DefaultCrossRefURL = "https://api.crossref.org/works"

// CrossRef lists works published on or after the cutoff date. CrossRef asks
// clients to identify themselves with a mailto parameter.
type CrossRef struct {
	baseURL string
	rows    int
	mailto  string
	fetcher ingest.Fetcher
	timeout time.Duration
}

// NewCrossRef builds a CrossRef connector.
func NewCrossRef(baseURL string, rows int, mailto string, fetcher ingest.Fetcher) *CrossRef {
	if baseURL == "" {
		baseURL = DefaultCrossRefURL
	}
	return &CrossRef{
		baseURL: baseURL,
		rows:    perPage(rows),
		mailto:  mailto,
		fetcher: fetcher,
		timeout: defaultTimeout,
	}
}

type crossRefResponse struct {
	Message struct {
		Items []crossRefItem `json:"items"`
	} `json:"message"`
}

type crossRefItem struct {
	DOI   string   `json:"DOI"`
	URL   string   `json:"URL"`
	Title []string `json:"title"`
}

// Name implements ingest.Connector.
func (c *CrossRef) Name() string { return SourceCrossRef }

// Fetch implements ingest.Connector.
func (c *CrossRef) Fetch(ctx context.Context, cutoff time.Time) ingest.ConnectorResult {
	var payload crossRefResponse
	if err := getJSON(ctx, c.fetcher, c.requestURL(cutoff), c.timeout, &payload); err != nil {
		return ingest.ConnectorFailure(err)
	}

	out := make([]ingest.Candidate, 0, len(payload.Message.Items))
	for _, item := range payload.Message.Items {
		link := doiURL(item.DOI)
		if link == "" {
			link = item.URL
		}
		if link == "" {
			continue
		}
		var title string
		if len(item.Title) > 0 {
			title = item.Title[0]
		}
		out = append(out, candidate(link, title, SourceCrossRef))
	}
	return ingest.ConnectorSuccess(out)
}

func (c *CrossRef) requestURL(cutoff time.Time) string {
	q := url.Values{}
	q.Set("rows", strconv.Itoa(c.rows))
	q.Set("filter", "from-pub-date:"+cutoff.UTC().Format(time.DateOnly))
	if c.mailto != "" {
		q.Set("mailto", c.mailto)
	}
	return c.baseURL + "?" + q.Encode()
}
