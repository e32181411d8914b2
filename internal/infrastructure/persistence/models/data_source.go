package models

import (
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
	"gorm.io/datatypes"
)

// DataSourceModel is the persistence model for pipeline.DataSource.
type DataSourceModel struct {
	ID                  string                      `gorm:"type:varchar(100);primaryKey"`
	DisplayName         string                      `gorm:"type:varchar(255);not null"`
	Category            pipeline.SourceCategory     `gorm:"type:varchar(50);not null"`
	Vendor              string                      `gorm:"type:varchar(50);not null"`
	Active              bool                        `gorm:"not null;default:true"`
	ExtractionFrequency string                      `gorm:"type:varchar(100)"`
	TargetTable         string                      `gorm:"type:varchar(100);not null;uniqueIndex"`
	TargetMode          pipeline.LoadMode           `gorm:"type:varchar(20);not null"`
	KeyColumns          datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	LastExtractTime     *time.Time
	TimestampModel
}

// TableName returns the table name for GORM
func (DataSourceModel) TableName() string {
	return "etl_data_sources"
}

// ToDomain converts the persistence model to a domain DataSource.
func (m *DataSourceModel) ToDomain() *pipeline.DataSource {
	return &pipeline.DataSource{
		ID:                  m.ID,
		DisplayName:         m.DisplayName,
		Category:            m.Category,
		Vendor:              m.Vendor,
		Active:              m.Active,
		ExtractionFrequency: m.ExtractionFrequency,
		Target: pipeline.TargetTable{
			Name:       m.TargetTable,
			KeyColumns: []string(m.KeyColumns),
			Mode:       m.TargetMode,
		},
		LastExtractTime: utcPtr(m.LastExtractTime),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

// FromDomain populates the persistence model from a domain DataSource.
func (m *DataSourceModel) FromDomain(d *pipeline.DataSource) {
	m.ID = d.ID
	m.DisplayName = d.DisplayName
	m.Category = d.Category
	m.Vendor = d.Vendor
	m.Active = d.Active
	m.ExtractionFrequency = d.ExtractionFrequency
	m.TargetTable = d.Target.Name
	m.TargetMode = d.Target.Mode
	m.KeyColumns = datatypes.JSONSlice[string](d.Target.KeyColumns)
	m.LastExtractTime = d.LastExtractTime
	m.UpdatedAt = d.UpdatedAt
}
