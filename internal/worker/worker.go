// Package worker implements the batch processor: it claims pending items
// and runs extract, embed, score, and persist for each under a retry policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/dispatcher"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
)

// Queue is the slice of the pending queue the processor drives.
type Queue interface {
	NextBatch(ctx context.Context, size int) ([]ingest.PendingItem, error)
	MarkProcessing(ctx context.Context, id string) (ingest.PendingItem, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Settle(ctx context.Context, id string, status ingest.PendingStatus, reason string) error
}

// Composer turns extracted fields into a combined embedding.
type Composer interface {
	Compose(ctx context.Context, fields ingest.ExtractedFields) (ingest.EmbeddingResult, error)
}

// Scorer estimates the decay probability of a URL.
type Scorer interface {
	Score(ctx context.Context, url string, truncated bool) float64
}

// Config controls batch size, fan-out, retries, and where results go.
type Config struct {
	BatchSize      int
	Concurrency    int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	ItemTimeout    time.Duration
	BlobPrefix     string
	Topic          string
}

// Deps bundles the collaborators of a Processor. Blobs and Publisher are
// optional.
type Deps struct {
	Queue     Queue
	Extractor ingest.Extractor
	Composer  Composer
	Scorer    Scorer
	Pages     ingest.PageStore
	Blobs     ingest.BlobStore
	Publisher ingest.Publisher
	Hasher    ingest.Hasher
	IDs       ingest.IDGenerator
	Clock     ingest.Clock
}

// Item outcomes.
const (
	OutcomeDone    = "done"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Summary counts what one batch did.
type Summary struct {
	Picked  int `json:"picked"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Processor runs batches of pending items.
type Processor struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Processor.
func New(deps Deps, cfg Config, logger *zap.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{deps: deps, cfg: cfg, logger: logger}
}

// RunBatch pulls up to BatchSize pending items and processes them with at
// most Concurrency in flight. Item failures are recorded on the items; only
// a failure to read the batch is returned.
func (p *Processor) RunBatch(ctx context.Context) (Summary, error) {
	items, err := p.deps.Queue.NextBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("run batch: %w", err)
	}
	if len(items) == 0 {
		p.logger.Info("No pending items found")
		return Summary{}, nil
	}
	p.logger.Info("Starting batch", zap.Int("items", len(items)), zap.Int("concurrency", p.cfg.Concurrency))

	var done, failed, skipped atomic.Int64
	err = dispatcher.ForEach(ctx, p.cfg.Concurrency, items, func(ctx context.Context, _ int, item ingest.PendingItem) error {
		switch p.processItem(ctx, item) {
		case OutcomeDone:
			done.Add(1)
		case OutcomeFailed:
			failed.Add(1)
		default:
			skipped.Add(1)
		}
		return nil
	})

	summary := Summary{
		Picked:  len(items),
		Done:    int(done.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}
	p.logger.Info("Batch complete",
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	if err != nil {
		return summary, fmt.Errorf("run batch: %w", err)
	}
	return summary, nil
}

// processItem claims one item and drives it to done or failed.
func (p *Processor) processItem(ctx context.Context, item ingest.PendingItem) string {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := p.logger.With(zap.String("pending_id", item.ID), zap.String("url", item.URL))

	claimed, err := p.deps.Queue.MarkProcessing(ctx, item.ID)
	claimLanded := err == nil
	switch {
	case errors.Is(err, ingest.ErrInvalidTransition):
		logger.Info("Item already claimed by another run, skipping")
		metrics.ObserveItem(OutcomeSkipped)
		return OutcomeSkipped
	case err != nil:
		// Processing still goes ahead; the terminal update retries the claim.
		logger.Warn("Failed to mark item processing, continuing", zap.Error(err))
	default:
		item = claimed
	}

	itemCtx := ctx
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}

	page, attempts, err := p.runWithRetry(itemCtx, item, logger)
	if err != nil {
		logger.Error("Processing failed", zap.Int("attempts", attempts), zap.Error(err))
		if markErr := p.complete(context.WithoutCancel(ctx), item.ID, claimLanded, ingest.StatusFailed, err.Error()); markErr != nil {
			logger.Error("Failed to mark item failed", zap.Error(markErr))
		}
		metrics.ObserveItem(OutcomeFailed)
		return OutcomeFailed
	}

	if err := p.complete(context.WithoutCancel(ctx), item.ID, claimLanded, ingest.StatusDone, ""); err != nil {
		logger.Error("Failed to mark item done", zap.Error(err))
	}
	metrics.ObserveItem(OutcomeDone)
	logger.Info("Processed and saved",
		zap.String("page_id", page.ID),
		zap.Float64("decay_probability", page.DecayProbability),
		zap.Int("attempts", attempts),
	)
	p.publish(ctx, page, logger)
	return OutcomeDone
}

// complete records the terminal status. Without a recorded claim the item
// is still pending, so the queue settles it through processing first.
func (p *Processor) complete(ctx context.Context, id string, claimed bool, status ingest.PendingStatus, reason string) error {
	switch {
	case !claimed:
		return p.deps.Queue.Settle(ctx, id, status, reason)
	case status == ingest.StatusFailed:
		return p.deps.Queue.MarkFailed(ctx, id, reason)
	default:
		return p.deps.Queue.MarkDone(ctx, id)
	}
}

// process runs one attempt of the extract, embed, score, persist sequence.
func (p *Processor) process(ctx context.Context, item ingest.PendingItem) (ingest.Page, error) {
	doc, err := p.deps.Extractor.Extract(ctx, item.URL)
	if err != nil {
		return ingest.Page{}, err
	}
	emb, err := p.deps.Composer.Compose(ctx, doc.Fields)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("embed %s: %w", item.URL, err)
	}
	return p.persist(ctx, item, doc, emb)
}

func (p *Processor) publish(ctx context.Context, page ingest.Page, logger *zap.Logger) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	event := ingest.PageEvent{
		Type:             ingest.EventPageIngested,
		PageID:           page.ID,
		URL:              page.URL,
		Source:           page.Source,
		DecayProbability: page.DecayProbability,
		OccurredAt:       p.deps.Clock.Now().UTC(),
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		logger.Warn("Failed to publish page event", zap.String("topic", p.cfg.Topic), zap.Error(err))
	}
}
