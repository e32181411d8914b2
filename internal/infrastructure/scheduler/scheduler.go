package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// JobKind identifies what a job does when a worker picks it up
type JobKind string

const (
	JobKindExtract JobKind = "EXTRACT"
	JobKindMonitor JobKind = "MONITOR"
	JobKindCleanup JobKind = "CLEANUP"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
	JobStatusSkipped JobStatus = "SKIPPED"
)

// Job is one unit of scheduled work. Extract jobs carry the source they
// run and optional window and mode overrides; monitor and cleanup jobs
// leave SourceID empty.
type Job struct {
	ID          uuid.UUID
	Kind        JobKind
	SourceID    string
	Window      *pipeline.Window
	Mode        pipeline.LoadMode
	Trigger     string
	Status      JobStatus
	Error       string
	BatchID     string
	Rows        int
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewJob creates a pending job
func NewJob(kind JobKind, sourceID, trigger string, now time.Time) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		SourceID:    sourceID,
		Trigger:     trigger,
		Status:      JobStatusPending,
		SubmittedAt: now,
	}
}

// key identifies jobs that must not be queued twice
func (j *Job) key() string {
	if j.SourceID == "" {
		return string(j.Kind)
	}
	return string(j.Kind) + ":" + j.SourceID
}

func (j *Job) start(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

func (j *Job) finish(status JobStatus, errMsg string, now time.Time) {
	j.Status = status
	j.Error = errMsg
	j.CompletedAt = &now
}

// Duration returns how long the job ran, or zero if it has not finished
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// JobExecutor runs a job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// Config holds scheduler configuration
type Config struct {
	Workers     int
	QueueSize   int
	JobTimeout  time.Duration
	HistorySize int
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Workers:     2,
		QueueSize:   32,
		JobTimeout:  30 * time.Minute,
		HistorySize: 100,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%w: history size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithNow replaces the clock used for job timestamps
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler runs jobs on a bounded worker pool. At most one job per key
// (kind plus source) is queued or running at a time.
type Scheduler struct {
	config   Config
	executor JobExecutor
	logger   *zap.Logger
	now      func() time.Time

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	inflight  map[string]uuid.UUID

	historyMu sync.RWMutex
	history   []*Job
}

// New creates a scheduler
func New(config Config, executor JobExecutor, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]uuid.UUID),
		history:  make([]*Job, 0, config.HistorySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start starts the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.jobs = make(chan *Job, s.config.QueueSize)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i, s.jobs)
	}

	s.logger.Info("ETL scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop stops accepting jobs and waits for queued and running jobs to
// drain. If ctx expires first, running jobs are cancelled and ctx's error
// is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	close(s.jobs)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("ETL scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		s.logger.Warn("ETL scheduler stop timed out, running jobs cancelled")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler accepts jobs
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitJob queues a job. It fails with ErrJobAlreadyQueued when a job
// with the same kind and source is pending or running.
func (s *Scheduler) SubmitJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	key := job.key()
	if existing, ok := s.inflight[key]; ok {
		return fmt.Errorf("%w: %s (job %s)", ErrJobAlreadyQueued, key, existing)
	}

	select {
	case s.jobs <- job:
		s.inflight[key] = job.ID
		s.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.String("source_id", job.SourceID),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// Submit creates and queues a job
func (s *Scheduler) Submit(kind JobKind, sourceID, trigger string) (*Job, error) {
	job := NewJob(kind, sourceID, trigger, s.now())
	if err := s.SubmitJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Scheduler) worker(ctx context.Context, workerID int, jobs <-chan *Job) {
	defer s.wg.Done()

	for job := range jobs {
		s.processJob(ctx, job, workerID)
	}
	s.logger.Debug("Worker stopping", zap.Int("worker_id", workerID))
}

func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	defer s.release(job)

	job.start(s.now())
	s.logger.Info("Processing job",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("source_id", job.SourceID),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	err := s.executor.Execute(jobCtx, job)
	switch {
	case err == nil:
		job.finish(JobStatusSuccess, "", s.now())
		s.logger.Info("Job completed successfully",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.String("source_id", job.SourceID),
			zap.String("batch_id", job.BatchID),
			zap.Duration("duration", job.Duration()),
		)
	case errors.Is(err, ErrJobSkipped):
		job.finish(JobStatusSkipped, err.Error(), s.now())
		s.logger.Info("Job skipped",
			zap.String("job_id", job.ID.String()),
			zap.String("source_id", job.SourceID),
			zap.Error(err),
		)
	default:
		job.finish(JobStatusFailed, err.Error(), s.now())
		s.logger.Error("Job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.String("source_id", job.SourceID),
			zap.String("batch_id", job.BatchID),
			zap.Error(err),
		)
	}
}

// release frees the job's key and records it in history
func (s *Scheduler) release(job *Job) {
	s.mu.Lock()
	if s.inflight[job.key()] == job.ID {
		delete(s.inflight, job.key())
	}
	s.mu.Unlock()

	if s.config.HistorySize == 0 {
		return
	}
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	if len(s.history) >= s.config.HistorySize {
		s.history = s.history[1:]
	}
	s.history = append(s.history, job)
}

// History returns finished jobs, most recent first
func (s *Scheduler) History(limit int) []*Job {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]*Job, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// Stats summarises scheduler state
type Stats struct {
	Running   bool
	Queued    int
	InFlight  int
	Completed int
	Failed    int
	Skipped   int
}

// Stats returns the current scheduler state
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	stats := Stats{Running: s.isRunning, InFlight: len(s.inflight)}
	if s.jobs != nil && s.isRunning {
		stats.Queued = len(s.jobs)
	}
	s.mu.Unlock()

	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	for _, job := range s.history {
		switch job.Status {
		case JobStatusSuccess:
			stats.Completed++
		case JobStatusFailed:
			stats.Failed++
		case JobStatusSkipped:
			stats.Skipped++
		}
	}
	return stats
}
