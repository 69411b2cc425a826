// Package scheduler runs the gateway's periodic background jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// DefaultJobTimeout bounds a run when the job sets none
const DefaultJobTimeout = 5 * time.Minute

// Job is a named unit of periodic work
type Job struct {
	Name     string
	Schedule string // standard 5-field cron expression or @every/@daily descriptor
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// JobState reports the last outcome of a job
type JobState struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Status       JobStatus     `json:"status"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
}

type registeredJob struct {
	job   Job
	entry cron.EntryID
	runMu sync.Mutex // serializes manual and scheduled runs

	mu    sync.Mutex
	state JobState
}

// Scheduler wraps a cron runner with per-job timeouts, state tracking and
// structured logging
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		jobs:   make(map[string]*registeredJob),
	}
}

// Register adds a job. Jobs can be registered before or after Start.
func (s *Scheduler) Register(job Job) error {
	if strings.TrimSpace(job.Name) == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a run function", ErrInvalidConfig)
	}
	if job.Timeout <= 0 {
		job.Timeout = DefaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	rj := &registeredJob{
		job:   job,
		state: JobState{Name: job.Name, Schedule: job.Schedule, Status: JobStatusPending},
	}
	id, err := s.cron.AddFunc(job.Schedule, func() {
		s.execute(s.runContext(), rj)
	})
	if err != nil {
		return fmt.Errorf("%w: schedule %q for %s: %v", ErrInvalidConfig, job.Schedule, job.Name, err)
	}
	rj.entry = id
	s.jobs[job.Name] = rj

	s.logger.Debug("Job registered", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return nil
}

// Start begins firing scheduled jobs. ctx is the parent of every job run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts scheduling, cancels running jobs and waits for them to return
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	cancel()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// RunNow executes a job immediately and returns its error
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(ctx, rj)
}

// Jobs returns the state of every job, sorted by name
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	jobs := make([]*registeredJob, 0, len(s.jobs))
	for _, rj := range s.jobs {
		jobs = append(jobs, rj)
	}
	running := s.running
	s.mu.Unlock()

	out := make([]JobState, 0, len(jobs))
	for _, rj := range jobs {
		rj.mu.Lock()
		st := rj.state
		rj.mu.Unlock()
		if running {
			if next := s.cron.Entry(rj.entry).Next; !next.IsZero() {
				st.NextRun = &next
			}
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b JobState) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) execute(ctx context.Context, rj *registeredJob) error {
	rj.runMu.Lock()
	defer rj.runMu.Unlock()

	started := time.Now()
	rj.mu.Lock()
	rj.state.Status = JobStatusRunning
	rj.state.LastRun = &started
	rj.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, rj.job.Timeout)
	defer cancel()

	err := runGuarded(jobCtx, rj.job.Run)
	elapsed := time.Since(started)

	rj.mu.Lock()
	rj.state.Runs++
	rj.state.LastDuration = elapsed
	if err != nil {
		rj.state.Status = JobStatusFailed
		rj.state.Failures++
		rj.state.LastError = err.Error()
	} else {
		rj.state.Status = JobStatusSuccess
		rj.state.LastError = ""
	}
	rj.mu.Unlock()

	if err != nil {
		s.logger.Error("Job failed",
			zap.String("job", rj.job.Name),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return err
	}
	s.logger.Debug("Job completed",
		zap.String("job", rj.job.Name),
		zap.Duration("duration", elapsed),
	)
	return nil
}

func runGuarded(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
