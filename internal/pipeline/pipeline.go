// Package pipeline exposes the boundary operations of the freshness system:
// triggering the three jobs, manual enqueue, synchronous scans, status, page
// lookup, and reconstruction. Job runs go through the scheduler so a manual trigger
// and a scheduled tick never overlap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/discovery"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/monitor"
	"github.com/JakeFAU/doc-freshness/internal/queue"
	"github.com/JakeFAU/doc-freshness/internal/scheduler"
	"github.com/JakeFAU/doc-freshness/internal/worker"
)

// Job names registered with the scheduler.
const (
	JobDiscovery = "discovery"
	JobBatch     = "batch"
	JobDecay     = "decay"
)

// SourceManual tags items enqueued through EnqueueManualCandidate without a source.
const SourceManual = "manual"

// ErrUnavailable is returned when an optional collaborator is not configured.
var ErrUnavailable = errors.New("not configured")

// Discoverer runs one discovery cycle.
type Discoverer interface {
	RunCycle(ctx context.Context) (discovery.Summary, error)
}

// BatchRunner processes one batch of pending items.
type BatchRunner interface {
	RunBatch(ctx context.Context) (worker.Summary, error)
}

// DecayChecker probes every non-decayed page once.
type DecayChecker interface {
	Run(ctx context.Context) (monitor.Summary, error)
}

// Scanner stores one URL synchronously, outside the queue.
type Scanner interface {
	Scan(ctx context.Context, rawURL string) (worker.ScanResult, error)
}

// Reconstructor rebuilds a summary for a stored page.
type Reconstructor interface {
	Reconstruct(ctx context.Context, pageID string) (ingest.Reconstruction, error)
}

// Jobs is the scheduler surface the pipeline drives.
type Jobs interface {
	Register(name, spec string, fn scheduler.Func) error
	Exec(ctx context.Context, name string, fn scheduler.Func) error
	Go(name string) error
	Status() []scheduler.Status
}

// Deps bundles the pipeline collaborators. Scanner and Reconstructor are optional.
type Deps struct {
	Discovery     Discoverer
	Batch         BatchRunner
	Decay         DecayChecker
	Scanner       Scanner
	Queue         *queue.Queue
	Store         ingest.Store
	Reconstructor Reconstructor
	Jobs          Jobs
	Clock         ingest.Clock
}

// Schedules holds cron expressions per job. An empty expression registers
// the job for manual triggers only.
type Schedules struct {
	Discovery string
	Batch     string
	Decay     string
}

// ManualCandidate is a URL submitted outside the discovery connectors.
// A nil Priority selects the discovery heuristic.
type ManualCandidate struct {
	URL      string   `json:"url"`
	Source   string   `json:"source,omitempty"`
	Priority *float64 `json:"priority,omitempty"`
	Title    string   `json:"title,omitempty"`
}

// Status is the observable state of the pipeline.
type Status struct {
	Jobs    []scheduler.Status `json:"jobs"`
	Pending map[string]int     `json:"pending"`
	Last    map[string]any     `json:"last_results,omitempty"`
}

// Pipeline wires the jobs to the scheduler and serves boundary operations.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]any
}

// New creates a Pipeline.
func New(deps Deps, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, logger: logger, last: map[string]any{}}
}

// Register adds the three jobs to the scheduler.
func (p *Pipeline) Register(s Schedules) error {
	jobs := []struct {
		name string
		spec string
		fn   scheduler.Func
	}{
		{JobDiscovery, s.Discovery, func(ctx context.Context) error { _, err := p.runDiscovery(ctx); return err }},
		{JobBatch, s.Batch, p.runBatch},
		{JobDecay, s.Decay, p.runDecay},
	}
	for _, j := range jobs {
		if err := p.deps.Jobs.Register(j.name, j.spec, j.fn); err != nil {
			return fmt.Errorf("register pipeline: %w", err)
		}
	}
	return nil
}

// TriggerDiscoveryCycle runs a discovery cycle and waits for it. It returns
// ingest.ErrAlreadyRunning when a cycle is in flight.
func (p *Pipeline) TriggerDiscoveryCycle(ctx context.Context) (discovery.Summary, error) {
	var summary discovery.Summary
	err := p.deps.Jobs.Exec(ctx, JobDiscovery, func(ctx context.Context) error {
		var err error
		summary, err = p.runDiscovery(ctx)
		return err
	})
	return summary, err
}

// TriggerBatchProcessing starts a batch in the background and returns
// before it completes. Progress is visible through pending item status.
func (p *Pipeline) TriggerBatchProcessing() error {
	return p.deps.Jobs.Go(JobBatch)
}

// TriggerDecayCheck starts a decay check in the background.
func (p *Pipeline) TriggerDecayCheck() error {
	return p.deps.Jobs.Go(JobDecay)
}

// EnqueueManualCandidate enqueues one URL the same way a discovery cycle
// does, bypassing the connectors and the relevance filter.
func (p *Pipeline) EnqueueManualCandidate(ctx context.Context, c ManualCandidate) (queue.Result, error) {
	source := c.Source
	if source == "" {
		source = SourceManual
	}
	priority := discovery.Priority(ingest.Candidate{URL: c.URL, Source: source})
	if c.Priority != nil {
		priority = *c.Priority
	}
	var metadata map[string]any
	if c.Title != "" {
		metadata = map[string]any{"title": c.Title}
	}
	res, err := p.deps.Queue.Enqueue(ctx, queue.Request{
		URL:      c.URL,
		Source:   source,
		Priority: priority,
		Metadata: metadata,
	})
	if err != nil {
		return queue.Result{}, fmt.Errorf("manual enqueue: %w", err)
	}
	p.logger.Info("Manual candidate submitted",
		zap.String("url", c.URL),
		zap.Bool("added", res.Added),
		zap.String("skip_reason", res.SkipReason),
	)
	return res, nil
}

// ScanURL extracts, embeds, scores, and stores rawURL and waits for the
// result. A URL that already has a non-decayed page returns that page.
func (p *Pipeline) ScanURL(ctx context.Context, rawURL string) (worker.ScanResult, error) {
	if p.deps.Scanner == nil {
		return worker.ScanResult{}, fmt.Errorf("scan: %w", ErrUnavailable)
	}
	return p.deps.Scanner.Scan(ctx, rawURL)
}

// ListPending returns items with the given status.
func (p *Pipeline) ListPending(ctx context.Context, status ingest.PendingStatus, limit int) ([]ingest.PendingItem, error) {
	return p.deps.Queue.List(ctx, status, limit)
}

// Page returns a stored page.
func (p *Pipeline) Page(ctx context.Context, id string) (ingest.Page, error) {
	page, err := p.deps.Store.GetPage(ctx, id)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// Reconstruct summarizes a stored page.
func (p *Pipeline) Reconstruct(ctx context.Context, pageID string) (ingest.Reconstruction, error) {
	if p.deps.Reconstructor == nil {
		return ingest.Reconstruction{}, fmt.Errorf("reconstruct: %w", ErrUnavailable)
	}
	return p.deps.Reconstructor.Reconstruct(ctx, pageID)
}

// Status reports job state, pending counts by status, and the summary of
// the last completed run of each job.
func (p *Pipeline) Status(ctx context.Context) (Status, error) {
	counts, err := p.deps.Queue.Counts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("pipeline status: %w", err)
	}
	pending := make(map[string]int, len(ingest.AllStatuses))
	for _, s := range ingest.AllStatuses {
		pending[string(s)] = counts[s]
	}
	p.mu.Lock()
	last := make(map[string]any, len(p.last))
	for k, v := range p.last {
		last[k] = v
	}
	p.mu.Unlock()
	return Status{Jobs: p.deps.Jobs.Status(), Pending: pending, Last: last}, nil
}

// Ready reports whether the store is reachable.
func (p *Pipeline) Ready(ctx context.Context) error {
	return p.deps.Store.Ping(ctx)
}

func (p *Pipeline) runDiscovery(ctx context.Context) (discovery.Summary, error) {
	summary, err := p.deps.Discovery.RunCycle(ctx)
	if err != nil {
		return summary, err
	}
	p.record(JobDiscovery, summary)
	return summary, nil
}

func (p *Pipeline) runBatch(ctx context.Context) error {
	summary, err := p.deps.Batch.RunBatch(ctx)
	if err != nil {
		return err
	}
	p.record(JobBatch, summary)
	return nil
}

func (p *Pipeline) runDecay(ctx context.Context) error {
	summary, err := p.deps.Decay.Run(ctx)
	if err != nil {
		return err
	}
	p.record(JobDecay, summary)
	return nil
}

func (p *Pipeline) record(job string, summary any) {
	p.mu.Lock()
	p.last[job] = lastResult{At: p.deps.Clock.Now(), Summary: summary}
	p.mu.Unlock()
}

type lastResult struct {
	At      time.Time `json:"at"`
	Summary any       `json:"summary"`
}
