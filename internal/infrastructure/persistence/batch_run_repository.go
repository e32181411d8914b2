package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormBatchRunRepository implements pipeline.BatchRunRepository using GORM
type GormBatchRunRepository struct {
	db *gorm.DB
}

// NewGormBatchRunRepository creates a new GormBatchRunRepository
func NewGormBatchRunRepository(db *gorm.DB) *GormBatchRunRepository {
	return &GormBatchRunRepository{db: db}
}

// CreateExclusive inserts run unless a running batch already exists for the
// same source and target. On postgres the partial unique index
// uq_etl_batch_runs_running backs the check against racing writers.
func (r *GormBatchRunRepository) CreateExclusive(ctx context.Context, run *pipeline.BatchRun) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var running int64
		if err := tx.Model(&models.BatchRunModel{}).
			Where("source_id = ? AND target_table = ? AND status = ?",
				run.SourceID, run.TargetTable, pipeline.BatchStatusRunning).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return errConcurrentRun(run)
		}

		model := &models.BatchRunModel{}
		model.FromDomain(run)
		return tx.Create(model).Error
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errConcurrentRun(run)
	}
	if errors.Is(err, pipeline.ErrConcurrentRunRejected) {
		return err
	}
	return classifyDBError("batch.begin", err)
}

func errConcurrentRun(run *pipeline.BatchRun) error {
	return pipeline.NewOperatorError("batch.begin", "CONCURRENT_RUN",
		fmt.Errorf("%w: %s -> %s", pipeline.ErrConcurrentRunRejected, run.SourceID, run.TargetTable))
}

// SaveCompletion writes the terminal fields of run only if the stored row is
// still running, so at most one completion wins.
func (r *GormBatchRunRepository) SaveCompletion(ctx context.Context, run *pipeline.BatchRun) error {
	result := r.db.WithContext(ctx).
		Model(&models.BatchRunModel{}).
		Where("id = ? AND status = ?", run.ID, pipeline.BatchStatusRunning).
		Updates(map[string]any{
			"status":            run.Status,
			"ended_at":          run.EndedAt,
			"records_extracted": run.RecordsExtracted,
			"records_loaded":    run.RecordsLoaded,
			"error_message":     run.ErrorMessage,
		})
	if result.Error != nil {
		return classifyDBError("batch.complete", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	stored, err := r.FindByID(ctx, run.ID)
	if err != nil {
		return err
	}
	return pipeline.NewFatalError("batch.complete", "INVALID_TRANSITION",
		fmt.Errorf("%w: batch %s is already %s", pipeline.ErrInvalidTransition, run.ID, stored.Status))
}

// FindByID finds a batch run by its id
func (r *GormBatchRunRepository) FindByID(ctx context.Context, id string) (*pipeline.BatchRun, error) {
	var model models.BatchRunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pipeline.NewOperatorError("batch.get", "BATCH_NOT_FOUND",
				fmt.Errorf("%w: %s", pipeline.ErrBatchNotFound, id))
		}
		return nil, classifyDBError("batch.get", err)
	}
	return model.ToDomain(), nil
}

// FindAll lists batch runs matching the filter with the total count
func (r *GormBatchRunRepository) FindAll(ctx context.Context, filter pipeline.BatchFilter) ([]pipeline.BatchRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.BatchRunModel{})
	if filter.SourceID != "" {
		query = query.Where("source_id = ?", filter.SourceID)
	}
	if filter.TargetTable != "" {
		query = query.Where("target_table = ?", filter.TargetTable)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classifyDBError("batch.list", err)
	}

	orderBy := ValidateSortField(filter.OrderBy, BatchRunSortFields, "started_at")
	query = query.Order(orderBy + " " + ValidateSortOrder(filter.OrderDir))
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var rows []models.BatchRunModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, classifyDBError("batch.list", err)
	}
	return toBatchRuns(rows), total, nil
}

// FindRecentBySource returns the latest runs of a source, newest first
func (r *GormBatchRunRepository) FindRecentBySource(ctx context.Context, sourceID string, limit int) ([]pipeline.BatchRun, error) {
	var rows []models.BatchRunModel
	if err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, classifyDBError("batch.recent", err)
	}
	return toBatchRuns(rows), nil
}

func toBatchRuns(rows []models.BatchRunModel) []pipeline.BatchRun {
	runs := make([]pipeline.BatchRun, len(rows))
	for i := range rows {
		runs[i] = *rows[i].ToDomain()
	}
	return runs
}

// Ensure GormBatchRunRepository implements the interface
var _ pipeline.BatchRunRepository = (*GormBatchRunRepository)(nil)
