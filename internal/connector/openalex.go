package connector

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// DefaultOpenAlexURL is the OpenAlex works endpoint.
const DefaultOpenAlexURL = "https://api.openalex.org/works"

// OpenAlex lists works published on or after the cutoff date.
type OpenAlex struct {
	baseURL string
	perPage int
	mailto  string
	fetcher ingest.Fetcher
	timeout time.Duration
}

// NewOpenAlex builds an OpenAlex connector. mailto may be empty.
func NewOpenAlex(baseURL string, perPageCount int, mailto string, fetcher ingest.Fetcher) *OpenAlex {
	if baseURL == "" {
		baseURL = DefaultOpenAlexURL
	}
	return &OpenAlex{
		baseURL: baseURL,
		perPage: perPage(perPageCount),
		mailto:  mailto,
		fetcher: fetcher,
		timeout: defaultTimeout,
	}
}

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID              string `json:"id"`
	DOI             string `json:"doi"`
	DisplayName     string `json:"display_name"`
	PrimaryLocation *struct {
		LandingPageURL string `json:"landing_page_url"`
	} `json:"primary_location"`
}

// Name implements ingest.Connector.
func (o *OpenAlex) Name() string { return SourceOpenAlex }

// Fetch implements ingest.Connector.
func (o *OpenAlex) Fetch(ctx context.Context, cutoff time.Time) ingest.ConnectorResult {
	var payload openAlexResponse
	if err := getJSON(ctx, o.fetcher, o.requestURL(cutoff), o.timeout, &payload); err != nil {
		return ingest.ConnectorFailure(err)
	}

	out := make([]ingest.Candidate, 0, len(payload.Results))
	for _, work := range payload.Results {
		link := doiURL(work.DOI)
		if link == "" && work.PrimaryLocation != nil {
			link = work.PrimaryLocation.LandingPageURL
		}
		if link == "" {
			link = work.ID
		}
		if link == "" {
			continue
		}
		out = append(out, candidate(link, work.DisplayName, SourceOpenAlex))
	}
	return ingest.ConnectorSuccess(out)
}

func (o *OpenAlex) requestURL(cutoff time.Time) string {
	q := url.Values{}
	q.Set("per-page", strconv.Itoa(o.perPage))
	q.Set("filter", "from_publication_date:"+cutoff.UTC().Format(time.DateOnly))
	if o.mailto != "" {
		q.Set("mailto", o.mailto)
	}
	return o.baseURL + "?" + q.Encode()
}
