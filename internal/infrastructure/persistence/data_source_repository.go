package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDataSourceRepository implements pipeline.DataSourceRepository using GORM
type GormDataSourceRepository struct {
	db *gorm.DB
}

// NewGormDataSourceRepository creates a new GormDataSourceRepository
func NewGormDataSourceRepository(db *gorm.DB) *GormDataSourceRepository {
	return &GormDataSourceRepository{db: db}
}

// FindByID finds a data source by its id
func (r *GormDataSourceRepository) FindByID(ctx context.Context, id string) (*pipeline.DataSource, error) {
	var model models.DataSourceModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pipeline.NewOperatorError("source.get", "UNKNOWN_SOURCE",
				fmt.Errorf("%w: %s", pipeline.ErrUnknownSource, id))
		}
		return nil, classifyDBError("source.get", err)
	}
	return model.ToDomain(), nil
}

// FindAll returns every registered data source ordered by id
func (r *GormDataSourceRepository) FindAll(ctx context.Context) ([]pipeline.DataSource, error) {
	var rows []models.DataSourceModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, classifyDBError("source.list", err)
	}
	sources := make([]pipeline.DataSource, len(rows))
	for i := range rows {
		sources[i] = *rows[i].ToDomain()
	}
	return sources, nil
}

// Save registers or updates a data source. The stored watermark is left
// untouched; it only moves through UpdateWatermark.
func (r *GormDataSourceRepository) Save(ctx context.Context, source *pipeline.DataSource) error {
	model := &models.DataSourceModel{}
	model.FromDomain(source)
	model.LastExtractTime = nil

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "category", "vendor", "active", "extraction_frequency",
			"target_table", "target_mode", "key_columns", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return classifyDBError("source.save", err)
	}
	return nil
}

// UpdateWatermark sets last_extract_time. A watermark earlier than the stored
// one is ignored.
func (r *GormDataSourceRepository) UpdateWatermark(ctx context.Context, id string, watermark time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.DataSourceModel{}).
		Where("id = ? AND (last_extract_time IS NULL OR last_extract_time < ?)", id, watermark).
		Updates(map[string]any{
			"last_extract_time": watermark,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return classifyDBError("source.watermark", result.Error)
	}
	if result.RowsAffected == 0 {
		// Either unknown or already at a later watermark.
		_, err := r.FindByID(ctx, id)
		return err
	}
	return nil
}

// Ensure GormDataSourceRepository implements the interface
var _ pipeline.DataSourceRepository = (*GormDataSourceRepository)(nil)
