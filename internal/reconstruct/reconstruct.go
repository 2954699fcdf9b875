// Package reconstruct rebuilds a readable summary of a stored page from its
// combined embedding and saved metadata.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// Metadata keys passed to a Summarizer.
const (
	KeyTitle           = "title"
	KeyMetaDescription = "meta_description"
	KeyHeadings        = "headings"
	KeyIntroParagraphs = "intro_paragraphs"
	KeyKeywords        = "keywords"
	KeyHints           = "hints"
)

// ErrNoEmbedding is returned when a page has no combined embedding to summarize.
var ErrNoEmbedding = errors.New("page has no embedding")

// Service loads a page, summarizes it, and stores the result.
type Service struct {
	pages      ingest.PageStore
	summarizer ingest.Summarizer
	ids        ingest.IDGenerator
	clock      ingest.Clock
	logger     *zap.Logger
}

// New creates a Service.
func New(pages ingest.PageStore, summarizer ingest.Summarizer, ids ingest.IDGenerator, clock ingest.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pages: pages, summarizer: summarizer, ids: ids, clock: clock, logger: logger}
}

// Reconstruct summarizes pageID and saves a Reconstruction row.
func (s *Service) Reconstruct(ctx context.Context, pageID string) (ingest.Reconstruction, error) {
	page, err := s.pages.GetPage(ctx, pageID)
	if err != nil {
		return ingest.Reconstruction{}, fmt.Errorf("reconstruct %s: %w", pageID, err)
	}
	if len(page.CombinedEmbedding) == 0 {
		return ingest.Reconstruction{}, fmt.Errorf("reconstruct %s: %w", pageID, ErrNoEmbedding)
	}

	summary, err := s.summarizer.Summarize(ctx, page.CombinedEmbedding, PageMetadata(page))
	if err != nil {
		return ingest.Reconstruction{}, fmt.Errorf("reconstruct %s: summarize: %w", pageID, err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return ingest.Reconstruction{}, fmt.Errorf("reconstruct %s: new id: %w", pageID, err)
	}
	rec := ingest.Reconstruction{
		ID:        id,
		PageID:    pageID,
		Summary:   summary,
		Model:     s.summarizer.Model(),
		CreatedAt: s.clock.Now(),
	}
	if err := s.pages.SaveReconstruction(ctx, rec); err != nil {
		return ingest.Reconstruction{}, fmt.Errorf("reconstruct %s: save: %w", pageID, err)
	}
	s.logger.Info("Page reconstructed",
		zap.String("page_id", pageID),
		zap.String("model", rec.Model),
		zap.Int("words", len(strings.Fields(summary))),
	)
	return rec, nil
}

// PageMetadata flattens the text fields of page into summarizer metadata.
// Empty fields are omitted.
func PageMetadata(page ingest.Page) map[string]string {
	meta := map[string]string{}
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			meta[key] = v
		}
	}
	title := page.Fields.Title
	if title == "" {
		title = page.Title
	}
	set(KeyTitle, title)
	set(KeyMetaDescription, page.Fields.MetaDescription)
	set(KeyHeadings, page.Fields.Headings)
	set(KeyIntroParagraphs, page.Fields.IntroParagraphs)
	set(KeyKeywords, page.Fields.Keywords)
	set(KeyHints, strings.Join(page.Hints.Lines, "\n"))
	return meta
}
