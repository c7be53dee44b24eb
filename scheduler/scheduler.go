/*
Package scheduler runs the periodic billing jobs.

PURPOSE:
  Fires the invoice generator and the surcharge escalator on cron
  schedules, and lets admins trigger either one by hand.

DESIGN:
  - Schedules use standard 5-field cron syntax or "@every 1h" style
    intervals (robfig/cron parser)
  - Each job has a non-overlap guard: a trigger that arrives while the
    previous run is still going is dropped, not queued
  - Manual runs (RunNow) go through the same guard and get ErrJobRunning
  - An optional Locker extends the guard across replicas
  - Every run gets a bounded context (Timeout) derived from the
    scheduler's lifetime context, so Stop cancels in-flight work
  - Last report and error are kept per job for the admin API

USAGE:
  s := scheduler.New(logger)
  s.Add(scheduler.Job{Name: billing.JobGenerateInvoices, Spec: "0 0 1 * *", Run: gen.Run})
  s.Start(ctx)
  defer s.Stop(context.Background())

SEE ALSO:
  - lock.go: Redis-backed Locker
  - billing/generator.go, billing/surcharge.go: The jobs themselves
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/metrics"
)

// DefaultTimeout bounds a single job run.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrJobRunning is returned by RunNow while the job is executing.
	ErrJobRunning = fmt.Errorf("%w: job already running", billing.ErrConflict)

	// ErrUnknownJob is returned for a job name that was never added.
	ErrUnknownJob = fmt.Errorf("%w: unknown job", billing.ErrNotFound)
)

// RunFunc performs one job pass.
type RunFunc func(ctx context.Context) (billing.RunReport, error)

// Job binds a name and a schedule to a RunFunc.
type Job struct {
	Name string
	Spec string
	Run  RunFunc
}

// JobStatus describes a job for the admin API.
type JobStatus struct {
	Name       string
	Spec       string
	Running    bool
	NextRun    time.Time
	LastReport *billing.RunReport
	LastError  string
}

type entry struct {
	job     Job
	cronID  cron.EntryID
	running sync.Mutex

	mu         sync.Mutex // guards the fields below
	isRunning  bool
	lastReport *billing.RunReport
	lastErr    error
}

// Scheduler owns the cron loop and the per-job guards.
type Scheduler struct {
	Timeout time.Duration
	Locker  Locker
	Metrics *metrics.Collector
	Logger  *slog.Logger

	cron *cron.Cron
	jobs map[string]*entry

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler that evaluates schedules in local time.
func New(logger *slog.Logger) *Scheduler {
	return NewInLocation(logger, time.Local)
}

// NewInLocation creates a scheduler that evaluates schedules in loc.
func NewInLocation(logger *slog.Logger, loc *time.Location) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		Timeout: DefaultTimeout,
		Logger:  logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		jobs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. The cron expression is validated immediately.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a run function", billing.ErrInvalidInput)
	}
	schedule, err := cron.ParseStandard(job.Spec)
	if err != nil {
		return fmt.Errorf("%w: job %s schedule %q: %v", billing.ErrInvalidInput, job.Name, job.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: job %s already registered", billing.ErrConflict, job.Name)
	}

	e := &entry{job: job}
	e.cronID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		_, err := s.execute(s.baseContext(), e, "schedule")
		if errors.Is(err, ErrJobRunning) {
			s.Logger.Warn("previous run still in progress, skipping trigger", "job", job.Name)
		}
	}))
	s.jobs[job.Name] = e
	return nil
}

// Start begins firing jobs on their schedules. parent bounds the lifetime
// of scheduled runs.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(parent)
	s.mu.Unlock()

	s.cron.Start()
	for _, status := range s.Jobs() {
		s.Logger.Info("job scheduled", "job", status.Name, "spec", status.Spec, "next_run", status.NextRun)
	}
}

// Stop stops new triggers, cancels running jobs, and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	select {
	case <-done.Done():
		s.Logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// RunNow executes a job immediately through the non-overlap guard.
func (s *Scheduler) RunNow(ctx context.Context, name string) (billing.RunReport, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return billing.RunReport{}, fmt.Errorf("job %q: %w", name, ErrUnknownJob)
	}
	return s.execute(ctx, e, "manual")
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		status := JobStatus{
			Name:       e.job.Name,
			Spec:       e.job.Spec,
			Running:    e.isRunning,
			NextRun:    s.cron.Entry(e.cronID).Next,
			LastReport: e.lastReport,
		}
		if e.lastErr != nil {
			status.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) execute(parent context.Context, e *entry, trigger string) (billing.RunReport, error) {
	name := e.job.Name
	log := s.Logger.With("job", name, "trigger", trigger)

	if !e.running.TryLock() {
		s.Metrics.RecordJobOverlap(name)
		return billing.RunReport{}, fmt.Errorf("job %s: %w", name, ErrJobRunning)
	}
	defer e.running.Unlock()

	ctx, cancel := s.runContext(parent)
	defer cancel()

	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, lockKey(name), s.lockTTL())
		switch {
		case errors.Is(err, ErrLockHeld):
			s.Metrics.RecordJobOverlap(name)
			log.Info("job running on another replica, skipping")
			return billing.RunReport{}, fmt.Errorf("job %s: %w", name, ErrJobRunning)
		case err != nil:
			// Jobs are idempotent, so a lock outage only costs duplicate reads.
			log.Warn("distributed lock unavailable, running without it", "error", err)
		default:
			defer func() {
				if err := release(context.Background()); err != nil {
					log.Warn("failed to release distributed lock", "error", err)
				}
			}()
		}
	}

	e.setRunning(true)
	defer e.setRunning(false)

	log.Info("job started")
	report, err := e.job.Run(ctx)
	if report.Job == "" {
		report.Job = name
	}

	e.mu.Lock()
	e.lastReport = &report
	e.lastErr = err
	e.mu.Unlock()
	s.Metrics.RecordJobRun(report, err)

	if err != nil {
		log.Error("job failed", "error", err, "generated", report.Generated, "skipped", report.Skipped)
		return report, err
	}
	log.Info("job finished", "generated", report.Generated, "skipped", report.Skipped, "failed", report.Failed, "duration", report.Duration())
	return report, nil
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.Timeout)
}

func (s *Scheduler) lockTTL() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout + time.Minute
	}
	return s.Timeout + time.Minute
}

func (e *entry) setRunning(v bool) {
	e.mu.Lock()
	e.isRunning = v
	e.mu.Unlock()
}

func lockKey(job string) string {
	return "billing:job:" + job
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
