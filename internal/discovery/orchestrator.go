// Package discovery runs the connector set, merges and filters what it
// finds, and enqueues the survivors as pending items.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/dispatcher"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
	"github.com/JakeFAU/doc-freshness/internal/queue"
)

// Enqueuer accepts pending items. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.Request) (queue.Result, error)
}

// Config tunes a discovery cycle.
type Config struct {
	Concurrency int
	Lookback    time.Duration
	MaxEnqueue  int
}

// Summary counts what one cycle did.
type Summary struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Orchestrator owns one discovery cycle.
type Orchestrator struct {
	connectors []ingest.Connector
	queue      Enqueuer
	clock      ingest.Clock
	cfg        Config
	logger     *zap.Logger
}

// NewOrchestrator builds an Orchestrator. Connectors run in the given order
// when merging, so earlier connectors win duplicate URLs.
func NewOrchestrator(connectors []ingest.Connector, q Enqueuer, clock ingest.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 720 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{connectors: connectors, queue: q, clock: clock, cfg: cfg, logger: logger}
}

// Connectors returns the configured connector names in merge order.
func (o *Orchestrator) Connectors() []string {
	names := make([]string, 0, len(o.connectors))
	for _, c := range o.connectors {
		names = append(names, c.Name())
	}
	return names
}

// RunCycle fetches from every connector and enqueues new candidates.
// Re-running is safe: duplicates are skipped.
func (o *Orchestrator) RunCycle(ctx context.Context) (Summary, error) {
	cutoff := o.clock.Now().Add(-o.cfg.Lookback)
	o.logger.Info("Starting discovery cycle",
		zap.Int("connectors", len(o.connectors)),
		zap.Time("cutoff", cutoff),
	)

	results, err := dispatcher.Map(ctx, o.cfg.Concurrency, o.connectors,
		func(ctx context.Context, c ingest.Connector) ingest.ConnectorResult {
			return o.runConnector(ctx, c, cutoff)
		})
	if err != nil {
		return Summary{}, fmt.Errorf("run connectors: %w", err)
	}

	candidates := filterRelevant(dedupe(results))
	if o.cfg.MaxEnqueue > 0 && len(candidates) > o.cfg.MaxEnqueue {
		candidates = candidates[:o.cfg.MaxEnqueue]
	}

	var summary Summary
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("discovery cycle: %w", err)
		}
		res, err := o.queue.Enqueue(ctx, queue.Request{
			URL:      c.CanonicalURL,
			Source:   c.Source,
			Priority: Priority(c),
			Metadata: map[string]any{"title": c.Title},
		})
		if err != nil {
			o.logger.Warn("Failed to enqueue candidate", zap.String("url", c.CanonicalURL), zap.Error(err))
			summary.Skipped++
			continue
		}
		if res.Added {
			summary.Added++
		} else {
			summary.Skipped++
		}
	}

	o.logger.Info("Discovery cycle complete",
		zap.Int("added", summary.Added),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (o *Orchestrator) runConnector(ctx context.Context, c ingest.Connector, cutoff time.Time) (result ingest.ConnectorResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ingest.ConnectorFailure(fmt.Errorf("connector panic: %v", r))
			o.logger.Error("Connector panicked", zap.String("connector", c.Name()), zap.Any("panic", r))
		}
	}()
	result = c.Fetch(ctx, cutoff)
	if result.Fallback() {
		o.logger.Warn("Connector failed, returning no candidates",
			zap.String("connector", c.Name()),
			zap.Error(result.Err),
		)
		result.Candidates = nil
	}
	metrics.ObserveConnector(c.Name(), len(result.Candidates), result.Fallback())
	return result
}

// dedupe flattens results in connector order and keeps the first candidate
// per canonical URL.
func dedupe(results []ingest.ConnectorResult) []ingest.Candidate {
	seen := make(map[string]struct{})
	var out []ingest.Candidate
	for _, res := range results {
		for _, c := range res.Candidates {
			if c.CanonicalURL == "" {
				c.CanonicalURL = ingest.Canonicalize(c.URL)
			}
			if c.CanonicalURL == "" {
				continue
			}
			if _, ok := seen[c.CanonicalURL]; ok {
				continue
			}
			seen[c.CanonicalURL] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func filterRelevant(candidates []ingest.Candidate) []ingest.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if Relevant(c.CanonicalURL) {
			out = append(out, c)
		}
	}
	return out
}
