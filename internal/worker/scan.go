package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
)

// SourceScan tags pages stored through Scan.
const SourceScan = "scan"

// ScanResult is the page Scan stored, or the page that already held the
// URL when Existing is true.
type ScanResult struct {
	Page     ingest.Page
	Existing bool
}

// Scan runs one extract, embed, score, persist attempt for rawURL outside
// the queue. A URL that already has a non-decayed page is not fetched again.
func (p *Processor) Scan(ctx context.Context, rawURL string) (ScanResult, error) {
	canonical := ingest.Canonicalize(strings.TrimSpace(rawURL))
	if canonical == "" || ingest.Hostname(canonical) == "" {
		return ScanResult{}, fmt.Errorf("scan %q: %w", rawURL, ingest.ErrInvalidURL)
	}

	existing, err := p.deps.Pages.FindActivePageByURL(ctx, canonical)
	switch {
	case err == nil:
		return ScanResult{Page: existing, Existing: true}, nil
	case !errors.Is(err, ingest.ErrNotFound):
		return ScanResult{}, fmt.Errorf("scan %s: lookup page: %w", canonical, err)
	}

	page, err := p.process(ctx, ingest.PendingItem{URL: canonical, Source: SourceScan})
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan %s: %w", canonical, err)
	}
	p.logger.Info("Scanned and saved",
		zap.String("url", canonical),
		zap.String("page_id", page.ID),
		zap.Float64("decay_probability", page.DecayProbability),
	)
	p.publish(ctx, page, p.logger)
	return ScanResult{Page: page}, nil
}
