package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
)

const (
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 4 * time.Second
)

// retryPolicy allows MaxRetries attempts after the first one, with
// exponential backoff between them, and stops early when ctx ends.
func (p *Processor) retryPolicy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BackoffInitial
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = defaultBackoffInitial
	}
	exp.MaxInterval = p.cfg.BackoffMax
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = defaultBackoffMax
	}
	// The retry count bounds the loop; elapsed time is bounded by the item deadline.
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.MaxRetries)), ctx)
}

// runWithRetry runs the sequence until it succeeds or the retry budget is
// spent. It returns the last error and the number of attempts made.
func (p *Processor) runWithRetry(ctx context.Context, item ingest.PendingItem, logger *zap.Logger) (ingest.Page, int, error) {
	var (
		page     ingest.Page
		attempts int
		lastErr  error
	)
	operation := func() error {
		attempts++
		result, err := p.process(ctx, item)
		metrics.ObserveSequenceAttempt(err == nil)
		if err != nil {
			lastErr = err
			return err
		}
		page = result
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(operation, p.retryPolicy(ctx), notify); err != nil {
		// The policy reports the context error once the deadline passes.
		if lastErr != nil && !errors.Is(lastErr, err) {
			err = fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
		return ingest.Page{}, attempts, err
	}
	return page, attempts, nil
}
