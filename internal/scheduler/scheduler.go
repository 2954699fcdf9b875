// Package scheduler runs named jobs on cron schedules and on demand. Each
// job has an in-flight guard: a tick or trigger that arrives while the job
// is still running is skipped with ingest.ErrAlreadyRunning.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
)

// Func is the body of a job.
type Func func(ctx context.Context) error

// Status is a snapshot of one job.
type Status struct {
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule,omitempty"`
	Running      bool       `json:"running"`
	Runs         int        `json:"runs"`
	Skipped      int        `json:"skipped"`
	LastStarted  *time.Time `json:"last_started,omitempty"`
	LastFinished *time.Time `json:"last_finished,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

type job struct {
	name     string
	schedule string
	fn       Func
	running  atomic.Bool

	mu     sync.Mutex
	status Status
}

// Scheduler owns the cron loop and the registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	clock  ingest.Clock
	logger *zap.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Scheduler using standard five-field cron expressions.
func New(clock ingest.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		clock:   clock,
		logger:  logger,
		jobs:    make(map[string]*job),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register adds a job. An empty spec registers a job that only runs when
// triggered.
func (s *Scheduler) Register(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("register job %s: already registered", name)
	}
	j := &job{name: name, schedule: spec, fn: fn}
	j.status = Status{Name: name, Schedule: spec}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { s.tick(j) }); err != nil {
			return fmt.Errorf("register job %s: parse schedule %q: %w", name, spec, err)
		}
	}
	s.jobs[name] = j
	return nil
}

// Start begins firing scheduled jobs. Scheduled runs use a context derived
// from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.cancel()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts the cron loop, cancels in-flight runs, and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.mu.RLock()
	s.cancel()
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// Run executes the named job synchronously.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	return s.Exec(ctx, name, j.fn)
}

// Exec runs fn under the named job's guard and records it in the job's
// status. Callers use it when they need the job's result, not just its error.
func (s *Scheduler) Exec(ctx context.Context, name string, fn Func) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	if !j.running.CompareAndSwap(false, true) {
		s.skip(j)
		return fmt.Errorf("run %s: %w", name, ingest.ErrAlreadyRunning)
	}
	return s.execute(ctx, j, fn)
}

// Go starts the named job in the background. The guard is taken before Go
// returns, so an overlapping trigger fails immediately.
func (s *Scheduler) Go(name string) error {
	j, err := s.job(name)
	if err != nil {
		return err
	}
	if !j.running.CompareAndSwap(false, true) {
		s.skip(j)
		return fmt.Errorf("trigger %s: %w", name, ingest.ErrAlreadyRunning)
	}
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.execute(ctx, j, j.fn)
	}()
	return nil
}

// Status returns a snapshot of every job ordered by name.
func (s *Scheduler) Status() []Status {
	s.mu.RLock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Scheduler) tick(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.skip(j)
		return
	}
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	s.wg.Add(1)
	defer s.wg.Done()
	_ = s.execute(ctx, j, j.fn)
}

// execute runs fn; the caller must hold j's guard.
func (s *Scheduler) execute(ctx context.Context, j *job, fn Func) (err error) {
	defer j.running.Store(false)

	start := s.clock.Now()
	j.mu.Lock()
	j.status.LastStarted = &start
	j.mu.Unlock()
	s.logger.Info("Job started", zap.String("job", j.name))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
		finished := s.clock.Now()
		status := "ok"
		j.mu.Lock()
		j.status.Runs++
		j.status.LastFinished = &finished
		j.status.LastError = ""
		if err != nil {
			status = "error"
			j.status.LastError = err.Error()
		}
		j.mu.Unlock()
		metrics.ObserveJobRun(j.name, status, finished.Sub(start))
		if err != nil {
			s.logger.Error("Job failed", zap.String("job", j.name), zap.Error(err))
			return
		}
		s.logger.Info("Job finished", zap.String("job", j.name), zap.Duration("duration", finished.Sub(start)))
	}()

	return fn(ctx)
}

func (s *Scheduler) skip(j *job) {
	j.mu.Lock()
	j.status.Skipped++
	j.mu.Unlock()
	metrics.ObserveJobRun(j.name, "skipped", 0)
	s.logger.Warn("Job still running, skipping", zap.String("job", j.name))
}

func (s *Scheduler) job(name string) (*job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", name, ingest.ErrNotFound)
	}
	return j, nil
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.status
	out.Running = j.running.Load()
	return out
}
