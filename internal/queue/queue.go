// Package queue implements the pending queue state machine on top of the
// persistence stores. Items move pending -> processing -> {done, failed}
// and never re-enter pending on their own.
package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
)

// Skip reasons reported by Enqueue.
const (
	SkipPageExists     = "page_exists"
	SkipAlreadyPending = "already_pending"
	SkipInvalidURL     = "invalid_url"
)

// Enqueue outcomes recorded in metrics.
const (
	OutcomeAdded   = "added"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Request describes one item to enqueue.
type Request struct {
	URL      string
	Source   string
	Priority float64
	Metadata map[string]any
}

// Result reports what Enqueue did. Item is set only when Added is true.
type Result struct {
	Added      bool
	SkipReason string
	Item       ingest.PendingItem
}

// Queue guards the pending item lifecycle.
type Queue struct {
	pages   ingest.PageStore
	pending ingest.PendingStore
	ids     ingest.IDGenerator
	clock   ingest.Clock
	logger  *zap.Logger
}

// New builds a Queue.
func New(pages ingest.PageStore, pending ingest.PendingStore, ids ingest.IDGenerator, clock ingest.Clock, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{pages: pages, pending: pending, ids: ids, clock: clock, logger: logger}
}

// Enqueue canonicalizes the URL and inserts a pending item unless a
// non-decayed page or an open pending item already holds that URL. A
// duplicate is reported as skipped, not as an error.
func (q *Queue) Enqueue(ctx context.Context, req Request) (Result, error) {
	canonical := ingest.Canonicalize(strings.TrimSpace(req.URL))
	if canonical == "" || ingest.Hostname(canonical) == "" {
		metrics.ObserveEnqueue(OutcomeSkipped)
		return Result{SkipReason: SkipInvalidURL}, nil
	}

	if _, err := q.pages.FindActivePageByURL(ctx, canonical); err == nil {
		return q.skipped(SkipPageExists), nil
	} else if !errors.Is(err, ingest.ErrNotFound) {
		metrics.ObserveEnqueue(OutcomeError)
		return Result{}, fmt.Errorf("enqueue %s: lookup page: %w", canonical, err)
	}

	if _, err := q.pending.FindOpenPendingByURL(ctx, canonical); err == nil {
		return q.skipped(SkipAlreadyPending), nil
	} else if !errors.Is(err, ingest.ErrNotFound) {
		metrics.ObserveEnqueue(OutcomeError)
		return Result{}, fmt.Errorf("enqueue %s: lookup pending: %w", canonical, err)
	}

	id, err := q.ids.NewID()
	if err != nil {
		metrics.ObserveEnqueue(OutcomeError)
		return Result{}, fmt.Errorf("enqueue %s: new id: %w", canonical, err)
	}
	item := ingest.PendingItem{
		ID:       id,
		URL:      canonical,
		Source:   req.Source,
		Priority: req.Priority,
		Status:   ingest.StatusPending,
		Metadata: maps.Clone(req.Metadata),
		AddedAt:  q.clock.Now().UTC(),
	}
	if err := q.pending.InsertPending(ctx, item); err != nil {
		// A concurrent enqueue won the race for this URL.
		if errors.Is(err, ingest.ErrDuplicate) {
			return q.skipped(SkipAlreadyPending), nil
		}
		metrics.ObserveEnqueue(OutcomeError)
		return Result{}, fmt.Errorf("enqueue %s: %w", canonical, err)
	}

	metrics.ObserveEnqueue(OutcomeAdded)
	q.logger.Debug("Enqueued pending item",
		zap.String("id", item.ID),
		zap.String("url", item.URL),
		zap.String("source", item.Source),
		zap.Float64("priority", item.Priority),
	)
	return Result{Added: true, Item: item}, nil
}

func (q *Queue) skipped(reason string) Result {
	metrics.ObserveEnqueue(OutcomeSkipped)
	return Result{SkipReason: reason}
}

// NextBatch returns up to size pending items, highest priority first.
func (q *Queue) NextBatch(ctx context.Context, size int) ([]ingest.PendingItem, error) {
	items, err := q.pending.ListPending(ctx, ingest.StatusPending, size)
	if err != nil {
		return nil, fmt.Errorf("next batch: %w", err)
	}
	return items, nil
}

// List returns up to limit items with the given status.
func (q *Queue) List(ctx context.Context, status ingest.PendingStatus, limit int) ([]ingest.PendingItem, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("list pending: unknown status %q", status)
	}
	items, err := q.pending.ListPending(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return items, nil
}

// MarkProcessing claims a pending item, stamping lastAttemptedAt and
// incrementing attempts. ingest.ErrInvalidTransition means another run
// already claimed it.
func (q *Queue) MarkProcessing(ctx context.Context, id string) (ingest.PendingItem, error) {
	item, err := q.pending.ClaimPending(ctx, id, q.clock.Now().UTC())
	if err != nil {
		return ingest.PendingItem{}, fmt.Errorf("mark processing %s: %w", id, err)
	}
	return item, nil
}

// MarkDone moves a processing item to done, keeping its metadata.
func (q *Queue) MarkDone(ctx context.Context, id string) error {
	if err := q.pending.CompletePending(ctx, id, ingest.StatusDone, nil); err != nil {
		return fmt.Errorf("mark done %s: %w", id, err)
	}
	return nil
}

// MarkFailed moves a processing item to failed and records reason under
// failed_reason without dropping the metadata already on the item.
func (q *Queue) MarkFailed(ctx context.Context, id, reason string) error {
	item, err := q.pending.GetPending(ctx, id)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	metadata := maps.Clone(item.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata[ingest.MetadataFailedReason] = reason
	if err := q.pending.CompletePending(ctx, id, ingest.StatusFailed, metadata); err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// Settle moves an item whose claim was never recorded to done or failed.
// The claim is retried first so attempts and lastAttemptedAt still count the
// run; an item that already reached processing is completed as is. reason
// is recorded only for failed.
func (q *Queue) Settle(ctx context.Context, id string, status ingest.PendingStatus, reason string) error {
	if status != ingest.StatusDone && status != ingest.StatusFailed {
		return fmt.Errorf("settle %s: %w: %s is not terminal", id, ingest.ErrInvalidTransition, status)
	}
	_, err := q.pending.ClaimPending(ctx, id, q.clock.Now().UTC())
	if err != nil && !errors.Is(err, ingest.ErrInvalidTransition) {
		return fmt.Errorf("settle %s: reclaim: %w", id, err)
	}
	if status == ingest.StatusFailed {
		return q.MarkFailed(ctx, id, reason)
	}
	return q.MarkDone(ctx, id)
}

// Counts returns the number of items per status.
func (q *Queue) Counts(ctx context.Context) (map[ingest.PendingStatus]int, error) {
	counts, err := q.pending.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	return counts, nil
}
