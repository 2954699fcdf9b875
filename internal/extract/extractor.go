// Package extract turns a URL into structured text fields. HTML pages are
// parsed with goquery and readability, PDFs with a plain-text reader, and
// script-rendered pages can be promoted to a headless browser.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// DefaultMaxBodyChars caps BodyText when no limit is configured.
const DefaultMaxBodyChars = 10000

const acceptHeader = "text/html,application/xhtml+xml,application/pdf;q=0.9,text/plain;q=0.8,*/*;q=0.5"

// ErrUnsupportedContent is wrapped when a response is neither HTML, PDF nor plain text.
var ErrUnsupportedContent = errors.New("unsupported content type")

type docKind int

const (
	kindUnsupported docKind = iota
	kindHTML
	kindPDF
	kindText
)

// Config controls extraction limits.
type Config struct {
	MaxBodyChars int
}

// Extractor implements ingest.Extractor.
type Extractor struct {
	cfg      Config
	fetcher  ingest.Fetcher
	headless ingest.Fetcher
	detector ingest.HeadlessDetector
	logger   *zap.Logger
}

// New builds an Extractor that fetches documents with fetcher.
func New(cfg Config, fetcher ingest.Fetcher, logger *zap.Logger) *Extractor {
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = DefaultMaxBodyChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, fetcher: fetcher, logger: logger}
}

// WithHeadless enables rendering pages the detector flags through headless.
func (e *Extractor) WithHeadless(headless ingest.Fetcher, detector ingest.HeadlessDetector) *Extractor {
	e.headless = headless
	e.detector = detector
	return e
}

// Extract fetches url and returns its fields. Every failure is an
// *ingest.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, url string) (ingest.Document, error) {
	resp, err := e.fetch(ctx, url)
	if err != nil {
		return ingest.Document{}, &ingest.ExtractionError{URL: url, Err: err}
	}

	doc, err := e.parse(url, resp)
	if err != nil {
		return ingest.Document{}, &ingest.ExtractionError{URL: url, Err: err}
	}
	return doc, nil
}

func (e *Extractor) fetch(ctx context.Context, url string) (ingest.FetchResponse, error) {
	resp, err := e.fetcher.Fetch(ctx, ingest.FetchRequest{
		URL:     url,
		Headers: http.Header{"Accept": {acceptHeader}},
	})
	if err != nil {
		return ingest.FetchResponse{}, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ingest.FetchResponse{}, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	if e.headless == nil || e.detector == nil || !e.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := e.headless.Fetch(ctx, ingest.FetchRequest{URL: url, UseHeadless: true})
	if err != nil {
		e.logger.Warn("headless render failed; using plain response", zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	if rendered.StatusCode < 200 || rendered.StatusCode > 299 {
		e.logger.Warn("headless render returned error status; using plain response",
			zap.String("url", url), zap.Int("status", rendered.StatusCode))
		return resp, nil
	}
	e.logger.Debug("promoted to headless", zap.String("url", url))
	return rendered, nil
}

func (e *Extractor) parse(url string, resp ingest.FetchResponse) (ingest.Document, error) {
	contentType := resp.Headers.Get("Content-Type")
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = url
	}

	var (
		f   fields
		err error
	)
	switch classify(contentType, finalURL, resp.Body) {
	case kindHTML:
		body, decodeErr := decodeHTML(resp.Body, contentType)
		if decodeErr != nil {
			return ingest.Document{}, decodeErr
		}
		f, err = parseHTML(body, finalURL)
	case kindPDF:
		var title, text string
		title, text, err = readPDF(resp.Body)
		f = textFields(title, text)
	case kindText:
		f = textFields("", string(resp.Body))
	default:
		return ingest.Document{}, fmt.Errorf("%w: %q", ErrUnsupportedContent, contentType)
	}
	if err != nil {
		return ingest.Document{}, err
	}
	if f.body == "" && f.intro == "" && f.headings == "" {
		return ingest.Document{}, errors.New("document has no readable text")
	}

	body, truncated := truncateRunes(f.body, e.cfg.MaxBodyChars)
	return ingest.Document{
		URL:      url,
		FinalURL: finalURL,
		Fields: ingest.ExtractedFields{
			Title:           f.title,
			MetaDescription: f.description,
			Headings:        f.headings,
			IntroParagraphs: f.intro,
			Keywords:        f.keywords,
			BodyText:        body,
		},
		Date:         f.date,
		Author:       f.author,
		Truncated:    truncated,
		ContentType:  contentType,
		UsedHeadless: resp.UsedHeadless,
		Raw:          resp.Body,
	}, nil
}

func classify(contentType, url string, body []byte) docKind {
	if bytes.HasPrefix(body, []byte("%PDF-")) {
		return kindPDF
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if contentType == "" || err != nil {
		if strings.EqualFold(path.Ext(urlPath(url)), ".pdf") {
			return kindPDF
		}
		return kindHTML
	}
	switch {
	case mediaType == "application/pdf":
		return kindPDF
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return kindHTML
	case mediaType == "text/plain":
		return kindText
	default:
		return kindUnsupported
	}
}

func urlPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

func decodeHTML(body []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body, nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	return decoded, nil
}

func truncateRunes(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]), true
}
