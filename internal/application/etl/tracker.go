// Package etl runs extraction pipelines: it sequences vendor clients,
// flatteners and the staging loader, and keeps the batch ledger.
package etl

import (
	"context"

	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/domain/shared"
)

// Tracker issues batch ids and records batch lifecycles.
type Tracker struct {
	repo   pipeline.BatchRunRepository
	clock  pipeline.Clock
	logger *zap.Logger
}

// NewTracker creates a tracker over repo
func NewTracker(repo pipeline.BatchRunRepository, clock pipeline.Clock, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{repo: repo, clock: clock, logger: logger}
}

// Begin persists a Running batch for (sourceID, target). It fails with
// ErrConcurrentRunRejected, creating nothing, when the pair already has a
// running batch.
func (t *Tracker) Begin(ctx context.Context, sourceID string, target pipeline.TargetTable, mode pipeline.LoadMode, window pipeline.Window) (*pipeline.BatchRun, error) {
	run, err := pipeline.NewBatchRun(sourceID, target.Name, mode, window, t.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := t.repo.CreateExclusive(ctx, run); err != nil {
		return nil, err
	}

	t.logger.Info("Batch started",
		zap.String("batch_id", run.ID),
		zap.String("source_id", sourceID),
		zap.String("target_table", target.Name),
		zap.String("mode", string(mode)),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
	)
	return run, nil
}

// Complete moves a running batch to a terminal status. A batch that is not
// running yields ErrInvalidTransition and is left unchanged.
func (t *Tracker) Complete(ctx context.Context, batchID string, status pipeline.BatchStatus, extracted, loaded int, errMsg string) (*pipeline.BatchRun, error) {
	run, err := t.repo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := run.Complete(ctx, status, extracted, loaded, errMsg, t.clock.Now()); err != nil {
		return nil, err
	}
	if err := t.repo.SaveCompletion(ctx, run); err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("batch_id", run.ID),
		zap.String("source_id", run.SourceID),
		zap.String("target_table", run.TargetTable),
		zap.String("status", string(run.Status)),
		zap.Int("records_extracted", extracted),
		zap.Int("records_loaded", loaded),
		zap.Duration("duration", run.Duration()),
	}
	if status == pipeline.BatchStatusFailed {
		t.logger.Warn("Batch failed", append(fields, zap.String("error_message", errMsg))...)
	} else {
		t.logger.Info("Batch completed", fields...)
	}
	return run, nil
}

// Get returns one batch
func (t *Tracker) Get(ctx context.Context, batchID string) (*pipeline.BatchRun, error) {
	return t.repo.FindByID(ctx, batchID)
}

// List returns a page of batches, newest first
func (t *Tracker) List(ctx context.Context, filter pipeline.BatchFilter) ([]pipeline.BatchRun, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = shared.DefaultFilter().PageSize
	}
	return t.repo.FindAll(ctx, filter)
}

// Recent returns the latest batches of a source, newest first
func (t *Tracker) Recent(ctx context.Context, sourceID string, limit int) ([]pipeline.BatchRun, error) {
	return t.repo.FindRecentBySource(ctx, sourceID, limit)
}
