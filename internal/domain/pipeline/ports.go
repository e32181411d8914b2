package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/facolos/etl/internal/domain/shared"
)

// Page is one page of raw vendor records. An empty NextCursor means the
// window is exhausted.
type Page struct {
	Records    []json.RawMessage
	NextCursor string
}

// Done reports whether this is the last page.
func (p Page) Done() bool {
	return p.NextCursor == ""
}

// VendorClient fetches raw records for a window. The cursor is opaque and is
// passed back unchanged; "" requests the first page.
type VendorClient interface {
	Fetch(ctx context.Context, window Window, cursor string) (Page, error)
}

// Flattener turns one raw parent record into flat rows. Implementations
// must be pure.
type Flattener interface {
	Flatten(raw json.RawMessage) ([]FlatRow, error)
}

// StagingLoader writes flat rows into a staging table. A call either loads
// every row or none.
type StagingLoader interface {
	Load(ctx context.Context, target TargetTable, rows []FlatRow, batchID, source string) (int, error)
}

// BatchRunRepository persists batch runs.
type BatchRunRepository interface {
	// CreateExclusive inserts run unless another running batch exists for the
	// same source and target, in which case it returns ErrConcurrentRunRejected.
	CreateExclusive(ctx context.Context, run *BatchRun) error
	// SaveCompletion persists terminal fields only if the stored row is still running.
	SaveCompletion(ctx context.Context, run *BatchRun) error
	FindByID(ctx context.Context, id string) (*BatchRun, error)
	FindAll(ctx context.Context, filter BatchFilter) ([]BatchRun, int64, error)
	FindRecentBySource(ctx context.Context, sourceID string, limit int) ([]BatchRun, error)
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	shared.Filter
	SourceID    string
	TargetTable string
	Status      BatchStatus
}

// DataSourceRepository persists data source registrations and watermarks.
type DataSourceRepository interface {
	FindByID(ctx context.Context, id string) (*DataSource, error)
	FindAll(ctx context.Context) ([]DataSource, error)
	Save(ctx context.Context, source *DataSource) error
	// UpdateWatermark writes last_extract_time only.
	UpdateWatermark(ctx context.Context, id string, watermark time.Time) error
}

// RunLock guards a (source, target) pair against concurrent runs.
type RunLock interface {
	// TryAcquire returns false when the pair is already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// PageArchiver keeps a copy of raw vendor pages.
type PageArchiver interface {
	ArchivePage(ctx context.Context, sourceID, batchID string, pageNo int, records []json.RawMessage) error
}

// Clock abstracts time for retry scheduling.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// After waits for d
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Notifier delivers monitor alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
