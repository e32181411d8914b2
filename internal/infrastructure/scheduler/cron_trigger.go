package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// SourceLister provides the registered data sources
type SourceLister interface {
	FindAll(ctx context.Context) ([]pipeline.DataSource, error)
}

// CronTriggerConfig holds the schedules for the housekeeping jobs. An empty
// schedule disables the job.
type CronTriggerConfig struct {
	MonitorSchedule string
	CleanupSchedule string
}

// CronTrigger submits jobs to the scheduler on cron schedules: one extract
// entry per active source plus the monitor and cleanup entries.
type CronTrigger struct {
	config    CronTriggerConfig
	scheduler *Scheduler
	sources   SourceLister
	logger    *zap.Logger

	parser  cron.Parser
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running bool
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(config CronTriggerConfig, scheduler *Scheduler, sources SourceLister, logger *zap.Logger) *CronTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronTrigger{
		config:    config,
		scheduler: scheduler,
		sources:   sources,
		logger:    logger,
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries:   make(map[string]cron.EntryID),
	}
}

// Load (re)builds the cron entries from the registered sources. Sources
// with an unparsable schedule are logged and skipped; an unparsable
// housekeeping schedule is an error. It returns the number of entries.
func (t *CronTrigger) Load(ctx context.Context) (int, error) {
	sources, err := t.sources.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list data sources: %w", err)
	}

	c := cron.New(
		cron.WithParser(t.parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{t.logger.Sugar()})),
	)
	entries := make(map[string]cron.EntryID)

	for _, src := range sources {
		if !src.Active || src.ExtractionFrequency == "" {
			continue
		}
		sourceID := src.ID
		id, err := c.AddFunc(src.ExtractionFrequency, func() { t.fire(JobKindExtract, sourceID) })
		if err != nil {
			t.logger.Warn("Skipping source with invalid schedule",
				zap.String("source_id", sourceID),
				zap.String("schedule", src.ExtractionFrequency),
				zap.Error(err),
			)
			continue
		}
		entries[string(JobKindExtract)+":"+sourceID] = id
	}

	housekeeping := []struct {
		kind     JobKind
		schedule string
	}{
		{JobKindMonitor, t.config.MonitorSchedule},
		{JobKindCleanup, t.config.CleanupSchedule},
	}
	for _, h := range housekeeping {
		if h.schedule == "" {
			continue
		}
		kind := h.kind
		id, err := c.AddFunc(h.schedule, func() { t.fire(kind, "") })
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q: %v", ErrInvalidSchedule, kind, h.schedule, err)
		}
		entries[string(kind)] = id
	}

	t.mu.Lock()
	old, wasRunning := t.cron, t.running
	t.cron, t.entries = c, entries
	if wasRunning {
		c.Start()
	}
	t.mu.Unlock()

	if old != nil && wasRunning {
		<-old.Stop().Done()
	}

	t.logger.Info("Cron entries loaded", zap.Int("entries", len(entries)))
	return len(entries), nil
}

// Start loads the entries and starts the cron runner
func (t *CronTrigger) Start(ctx context.Context) error {
	if _, err := t.Load(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	t.running = true
	t.cron.Start()
	t.logger.Info("Cron trigger started")
	return nil
}

// Stop stops the cron runner. Jobs already submitted keep running on the
// scheduler.
func (t *CronTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	c := t.cron
	t.mu.Unlock()

	select {
	case <-c.Stop().Done():
		t.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entry describes one scheduled entry
type Entry struct {
	Name string
	Next time.Time
}

// Entries returns the scheduled entries sorted by name
func (t *CronTrigger) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for name, id := range t.entries {
		e := Entry{Name: name}
		if t.cron != nil {
			e.Next = t.cron.Entry(id).Next
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fire submits a job. A job already queued for the same key is not an error.
func (t *CronTrigger) fire(kind JobKind, sourceID string) {
	job, err := t.scheduler.Submit(kind, sourceID, "cron")
	switch {
	case err == nil:
		t.logger.Debug("Cron job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(kind)),
			zap.String("source_id", sourceID),
		)
	case errors.Is(err, ErrJobAlreadyQueued):
		t.logger.Info("Previous job still pending, skipping tick",
			zap.String("kind", string(kind)),
			zap.String("source_id", sourceID),
		)
	default:
		t.logger.Warn("Failed to submit cron job",
			zap.String("kind", string(kind)),
			zap.String("source_id", sourceID),
			zap.Error(err),
		)
	}
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
