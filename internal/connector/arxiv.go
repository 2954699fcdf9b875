package connector

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/araddon/dateparse"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// DefaultArxivFeed is the arXiv computer science RSS feed.
const DefaultArxivFeed = "https://export.arxiv.org/rss/cs"

// Arxiv reads an arXiv RSS feed and keeps items published after the cutoff.
type Arxiv struct {
	feedURL string
	fetcher ingest.Fetcher
	timeout time.Duration
}

// NewArxiv builds an arXiv connector. An empty feedURL selects DefaultArxivFeed.
func NewArxiv(feedURL string, fetcher ingest.Fetcher) *Arxiv {
	if feedURL == "" {
		feedURL = DefaultArxivFeed
	}
	return &Arxiv{feedURL: feedURL, fetcher: fetcher, timeout: defaultTimeout}
}

// Name implements ingest.Connector.
func (a *Arxiv) Name() string { return SourceArxiv }

// Fetch implements ingest.Connector.
func (a *Arxiv) Fetch(ctx context.Context, cutoff time.Time) ingest.ConnectorResult {
	body, err := get(ctx, a.fetcher, a.feedURL, "application/rss+xml, application/xml", a.timeout)
	if err != nil {
		return ingest.ConnectorFailure(err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return ingest.ConnectorFailure(fmt.Errorf("parse arxiv feed: %w", err))
	}

	var out []ingest.Candidate
	for _, item := range xmlquery.Find(doc, "//item") {
		published, ok := parsePubDate(childText(item, "pubDate"))
		if !ok || !published.After(cutoff) {
			continue
		}
		link := childText(item, "link")
		if link == "" {
			link = childText(item, "guid")
		}
		if link == "" {
			continue
		}
		out = append(out, candidate(link, childText(item, "title"), SourceArxiv))
	}
	return ingest.ConnectorSuccess(out)
}

func childText(node *xmlquery.Node, name string) string {
	child := node.SelectElement(name)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

func parsePubDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
