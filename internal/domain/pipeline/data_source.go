package pipeline

import (
	"time"
)

// SourceCategory groups data sources by kind of system
type SourceCategory string

const (
	SourceCategoryEcommerce SourceCategory = "ecommerce"
	SourceCategoryCRM       SourceCategory = "crm"
)

// DataSource is the registration of an extractable source. LastExtractTime is
// the watermark: the end of the last successfully processed window.
type DataSource struct {
	ID                  string
	DisplayName         string
	Category            SourceCategory
	Vendor              string
	Active              bool
	ExtractionFrequency string
	Target              TargetTable
	LastExtractTime     *time.Time
	UpdatedAt           time.Time
}

// NextWindow returns the incremental window ending at now. The first run
// reaches back by lookback.
func (d *DataSource) NextWindow(now time.Time, lookback time.Duration) Window {
	start := now.Add(-lookback)
	if d.LastExtractTime != nil && !d.LastExtractTime.IsZero() {
		start = *d.LastExtractTime
	}
	if start.After(now) {
		start = now
	}
	return Window{Start: start, End: now}
}

// AdvanceWatermark moves the watermark to windowEnd. It never moves it
// backwards and reports whether it changed.
func (d *DataSource) AdvanceWatermark(windowEnd time.Time, now time.Time) bool {
	if d.LastExtractTime != nil && !windowEnd.After(*d.LastExtractTime) {
		return false
	}
	end := windowEnd
	d.LastExtractTime = &end
	d.UpdatedAt = now
	return true
}
