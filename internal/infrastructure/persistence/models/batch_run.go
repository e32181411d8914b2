package models

import (
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// BatchRunModel is the persistence model for pipeline.BatchRun.
type BatchRunModel struct {
	ID               string               `gorm:"type:varchar(36);primaryKey"`
	SourceID         string               `gorm:"type:varchar(100);not null;index:idx_batch_runs_source_target,priority:1"`
	TargetTable      string               `gorm:"type:varchar(100);not null;index:idx_batch_runs_source_target,priority:2"`
	Mode             pipeline.LoadMode    `gorm:"type:varchar(20);not null"`
	Status           pipeline.BatchStatus `gorm:"type:varchar(20);not null;index"`
	WindowStart      time.Time            `gorm:"not null"`
	WindowEnd        time.Time            `gorm:"not null"`
	StartedAt        time.Time            `gorm:"not null;index"`
	EndedAt          *time.Time
	RecordsExtracted int    `gorm:"not null;default:0"`
	RecordsLoaded    int    `gorm:"not null;default:0"`
	ErrorMessage     string `gorm:"type:text"`
	TimestampModel
}

// TableName returns the table name for GORM
func (BatchRunModel) TableName() string {
	return "etl_batch_runs"
}

// ToDomain converts the persistence model to a domain BatchRun.
func (m *BatchRunModel) ToDomain() *pipeline.BatchRun {
	return &pipeline.BatchRun{
		ID:               m.ID,
		SourceID:         m.SourceID,
		TargetTable:      m.TargetTable,
		Mode:             m.Mode,
		WindowStart:      m.WindowStart.UTC(),
		WindowEnd:        m.WindowEnd.UTC(),
		StartedAt:        m.StartedAt.UTC(),
		EndedAt:          utcPtr(m.EndedAt),
		Status:           m.Status,
		RecordsExtracted: m.RecordsExtracted,
		RecordsLoaded:    m.RecordsLoaded,
		ErrorMessage:     m.ErrorMessage,
	}
}

// FromDomain populates the persistence model from a domain BatchRun.
func (m *BatchRunModel) FromDomain(b *pipeline.BatchRun) {
	m.ID = b.ID
	m.SourceID = b.SourceID
	m.TargetTable = b.TargetTable
	m.Mode = b.Mode
	m.Status = b.Status
	m.WindowStart = b.WindowStart
	m.WindowEnd = b.WindowEnd
	m.StartedAt = b.StartedAt
	m.EndedAt = b.EndedAt
	m.RecordsExtracted = b.RecordsExtracted
	m.RecordsLoaded = b.RecordsLoaded
	m.ErrorMessage = b.ErrorMessage
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
