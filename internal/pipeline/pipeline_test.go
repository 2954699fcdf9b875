package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doc-freshness/internal/clock/system"
	"github.com/JakeFAU/doc-freshness/internal/discovery"
	"github.com/JakeFAU/doc-freshness/internal/id/uuid"
	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/monitor"
	"github.com/JakeFAU/doc-freshness/internal/queue"
	"github.com/JakeFAU/doc-freshness/internal/scheduler"
	"github.com/JakeFAU/doc-freshness/internal/storage/memory"
	"github.com/JakeFAU/doc-freshness/internal/worker"
)

var now = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

type fakeDiscoverer struct {
	block   chan struct{}
	started chan struct{}
	summary discovery.Summary
	err     error
}

func (f *fakeDiscoverer) RunCycle(context.Context) (discovery.Summary, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.summary, f.err
}

type fakeBatch struct {
	runs atomic.Int32
	done chan struct{}
}

func (f *fakeBatch) RunBatch(context.Context) (worker.Summary, error) {
	f.runs.Add(1)
	defer func() {
		if f.done != nil {
			close(f.done)
		}
	}()
	return worker.Summary{Picked: 2, Done: 2}, nil
}

type fakeDecay struct{ err error }

func (f fakeDecay) Run(context.Context) (monitor.Summary, error) {
	return monitor.Summary{Checked: 3}, f.err
}

type fakeReconstructor struct{}

func (fakeReconstructor) Reconstruct(_ context.Context, pageID string) (ingest.Reconstruction, error) {
	return ingest.Reconstruction{ID: "r1", PageID: pageID, Summary: "summary"}, nil
}

type harness struct {
	p     *Pipeline
	store *memory.Store
	jobs  *scheduler.Scheduler
	disc  *fakeDiscoverer
	batch *fakeBatch
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	clock := system.NewManual(now)
	store := memory.NewStore()
	jobs := scheduler.New(clock, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = jobs.Stop(ctx)
	})
	h := &harness{
		store: store,
		jobs:  jobs,
		disc:  &fakeDiscoverer{summary: discovery.Summary{Added: 4, Skipped: 1}},
		batch: &fakeBatch{done: make(chan struct{})},
	}
	deps := Deps{
		Discovery: h.disc,
		Batch:     h.batch,
		Decay:     fakeDecay{},
		Queue:     queue.New(store, store, uuid.New(), clock, nil),
		Store:     store,
		Jobs:      jobs,
		Clock:     clock,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.p = New(deps, nil)
	require.NoError(t, h.p.Register(Schedules{Discovery: "0 */6 * * *", Decay: "0 */6 * * *"}))
	return h
}

func TestTriggerDiscoveryCycleReturnsSummary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	summary, err := h.p.TriggerDiscoveryCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, discovery.Summary{Added: 4, Skipped: 1}, summary)

	status, err := h.p.Status(context.Background())
	require.NoError(t, err)
	require.Contains(t, status.Last, JobDiscovery)
	assert.Equal(t, summary, status.Last[JobDiscovery].(lastResult).Summary)
}

func TestTriggerDiscoveryCycleRejectsOverlap(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.disc.block = make(chan struct{})
	h.disc.started = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := h.p.TriggerDiscoveryCycle(context.Background())
		errCh <- err
	}()
	<-h.disc.started

	_, err := h.p.TriggerDiscoveryCycle(context.Background())
	require.ErrorIs(t, err, ingest.ErrAlreadyRunning)

	close(h.disc.block)
	require.NoError(t, <-errCh)
}

func TestTriggerDiscoveryCycleSurfacesError(t *testing.T) {
	t.Parallel()
	boom := errors.New("store down")
	h := newHarness(t, nil)
	h.disc.err = boom

	_, err := h.p.TriggerDiscoveryCycle(context.Background())
	require.ErrorIs(t, err, boom)
	status, err := h.p.Status(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, status.Last, JobDiscovery)
}

func TestTriggerBatchProcessingRunsInBackground(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	require.NoError(t, h.p.TriggerBatchProcessing())
	select {
	case <-h.batch.done:
	case <-time.After(time.Second):
		t.Fatal("batch did not run")
	}
	require.Eventually(t, func() bool {
		status, err := h.p.Status(context.Background())
		return err == nil && status.Last[JobBatch] != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.batch.runs.Load())
}

func TestTriggerDecayCheckRecordsFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(d *Deps) { d.Decay = fakeDecay{err: errors.New("list pages")} })

	require.NoError(t, h.p.TriggerDecayCheck())
	require.Eventually(t, func() bool {
		for _, st := range h.jobs.Status() {
			if st.Name == JobDecay && st.Runs == 1 {
				return st.LastError != ""
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueueManualCandidate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.p.EnqueueManualCandidate(ctx, ManualCandidate{
		URL:   "https://x.edu/paper.pdf?utm_source=a#frag",
		Title: "A Paper",
	})
	require.NoError(t, err)
	require.True(t, res.Added)
	assert.Equal(t, "https://x.edu/paper.pdf", res.Item.URL)
	assert.Equal(t, SourceManual, res.Item.Source)
	assert.InDelta(t, discovery.WeightPDF, res.Item.Priority, 1e-9)
	assert.Equal(t, "A Paper", res.Item.Metadata["title"])

	again, err := h.p.EnqueueManualCandidate(ctx, ManualCandidate{URL: "https://x.edu/paper.pdf"})
	require.NoError(t, err)
	assert.False(t, again.Added)
	assert.Equal(t, queue.SkipAlreadyPending, again.SkipReason)

	priority := 0.9
	explicit, err := h.p.EnqueueManualCandidate(ctx, ManualCandidate{URL: "https://y.edu/page", Source: "arxiv", Priority: &priority})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, explicit.Item.Priority, 1e-9)
	assert.Equal(t, "arxiv", explicit.Item.Source)

	invalid, err := h.p.EnqueueManualCandidate(ctx, ManualCandidate{URL: "not a url"})
	require.NoError(t, err)
	assert.Equal(t, queue.SkipInvalidURL, invalid.SkipReason)

	items, err := h.p.ListPending(ctx, ingest.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "https://y.edu/page", items[0].URL, "higher priority first")
}

func TestStatusReportsEveryPendingStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	_, err := h.p.EnqueueManualCandidate(context.Background(), ManualCandidate{URL: "https://x.edu/a"})
	require.NoError(t, err)

	status, err := h.p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pending": 1, "processing": 0, "done": 0, "failed": 0}, status.Pending)

	names := []string{}
	for _, j := range status.Jobs {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{JobBatch, JobDecay, JobDiscovery}, names)
}

func TestPageAndReconstruct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t, nil)
	_, err := h.p.Page(ctx, "missing")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	_, err = h.p.Reconstruct(ctx, "p1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.NoError(t, h.p.Ready(ctx))

	h = newHarness(t, func(d *Deps) { d.Reconstructor = fakeReconstructor{} })
	require.NoError(t, h.store.InsertPage(ctx, ingest.Page{ID: "p1", URL: "https://x.edu/a"}))
	page, err := h.p.Page(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "https://x.edu/a", page.URL)
	rec, err := h.p.Reconstruct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.PageID)
}

type fakeScanner struct {
	urls []string
}

func (f *fakeScanner) Scan(_ context.Context, rawURL string) (worker.ScanResult, error) {
	f.urls = append(f.urls, rawURL)
	return worker.ScanResult{Page: ingest.Page{ID: "pg1", URL: rawURL}}, nil
}

func TestScanURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t, nil)
	_, err := h.p.ScanURL(ctx, "https://x.edu/a")
	require.ErrorIs(t, err, ErrUnavailable)

	scanner := &fakeScanner{}
	h = newHarness(t, func(d *Deps) { d.Scanner = scanner })
	res, err := h.p.ScanURL(ctx, "https://x.edu/a")
	require.NoError(t, err)
	assert.Equal(t, "pg1", res.Page.ID)
	assert.Equal(t, []string{"https://x.edu/a"}, scanner.urls)
}
