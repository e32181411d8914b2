package models

import (
	"time"
)

// TimestampModel provides bookkeeping timestamps for control tables.
type TimestampModel struct {
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
