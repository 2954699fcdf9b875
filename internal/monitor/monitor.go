// Package monitor re-checks stored pages for liveness and flags the ones
// that no longer answer as decayed.
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/dispatcher"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
)

// Prober checks whether a URL is still reachable.
type Prober interface {
	Probe(ctx context.Context, rawURL string) ProbeResult
}

// Config tunes a monitor run.
type Config struct {
	Concurrency int
	Topic       string
}

// Summary counts what one run did.
type Summary struct {
	Checked      int `json:"checked"`
	Decayed      int `json:"decayed"`
	FlipFailures int `json:"flip_failures"`
}

// Monitor runs liveness checks over every non-decayed page.
type Monitor struct {
	pages     ingest.PageStore
	prober    Prober
	publisher ingest.Publisher
	clock     ingest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a Monitor. publisher may be nil.
func New(pages ingest.PageStore, prober Prober, publisher ingest.Publisher, clock ingest.Clock, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{pages: pages, prober: prober, publisher: publisher, clock: clock, cfg: cfg, logger: logger}
}

// Run probes all active pages and flips the unreachable ones to decayed. A
// failed flip is logged and does not stop the remaining pages.
func (m *Monitor) Run(ctx context.Context) (Summary, error) {
	pages, err := m.pages.ListActivePages(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list active pages: %w", err)
	}
	m.logger.Info("Starting decay check", zap.Int("pages", len(pages)))

	var checked, decayed, flipFailures atomic.Int64
	err = dispatcher.ForEach(ctx, m.cfg.Concurrency, pages, func(ctx context.Context, _ int, page ingest.Page) error {
		result := m.prober.Probe(ctx, page.URL)
		checked.Add(1)
		if !result.Decayed {
			metrics.ObserveProbe("alive")
			m.logger.Debug("Page alive", zap.String("url", page.URL), zap.Int("status", result.StatusCode))
			return nil
		}
		if result.Err != nil {
			metrics.ObserveProbe("error")
		} else {
			metrics.ObserveProbe("decayed")
		}
		m.logger.Info("Page decayed",
			zap.String("url", page.URL),
			zap.String("method", result.Method),
			zap.Int("status", result.StatusCode),
			zap.Error(result.Err),
		)

		now := m.clock.Now().UTC()
		if err := m.pages.MarkPageDecayed(ctx, page.ID, now); err != nil {
			flipFailures.Add(1)
			m.logger.Warn("Failed to mark page decayed", zap.String("url", page.URL), zap.Error(err))
			return nil
		}
		decayed.Add(1)
		m.publish(ctx, page, now)
		return nil
	})

	summary := Summary{
		Checked:      int(checked.Load()),
		Decayed:      int(decayed.Load()),
		FlipFailures: int(flipFailures.Load()),
	}
	m.logger.Info("Decay check complete",
		zap.Int("checked", summary.Checked),
		zap.Int("decayed", summary.Decayed),
		zap.Int("flip_failures", summary.FlipFailures),
	)
	if err != nil {
		return summary, fmt.Errorf("decay check: %w", err)
	}
	return summary, nil
}

func (m *Monitor) publish(ctx context.Context, page ingest.Page, at time.Time) {
	if m.publisher == nil || m.cfg.Topic == "" {
		return
	}
	event := ingest.PageEvent{
		Type:             ingest.EventPageDecayed,
		PageID:           page.ID,
		URL:              page.URL,
		Source:           page.Source,
		DecayProbability: page.DecayProbability,
		OccurredAt:       at,
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.Topic, event); err != nil {
		m.logger.Warn("Failed to publish decay event", zap.String("url", page.URL), zap.Error(err))
	}
}
