package persistence

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultInsertBatchSize keeps one INSERT well under postgres' 65535
// bind parameter limit for wide staging tables.
const defaultInsertBatchSize = 500

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StagingLoader writes flat rows into staging tables as column maps. Table
// columns are discovered from the database and cached per table.
type StagingLoader struct {
	db              *gorm.DB
	now             func() time.Time
	insertBatchSize int
	logger          *zap.Logger

	mu      sync.RWMutex
	columns map[string]map[string]struct{}
}

// StagingLoaderOption configures a StagingLoader
type StagingLoaderOption func(*StagingLoader)

// WithLoaderClock sets the clock used for etl_created_at and etl_updated_at
func WithLoaderClock(now func() time.Time) StagingLoaderOption {
	return func(l *StagingLoader) {
		l.now = now
	}
}

// WithInsertBatchSize sets how many rows go into one INSERT statement
func WithInsertBatchSize(n int) StagingLoaderOption {
	return func(l *StagingLoader) {
		if n > 0 {
			l.insertBatchSize = n
		}
	}
}

// WithLoaderLogger sets the logger
func WithLoaderLogger(zl *zap.Logger) StagingLoaderOption {
	return func(l *StagingLoader) {
		l.logger = zl
	}
}

// NewStagingLoader creates a StagingLoader
func NewStagingLoader(db *gorm.DB, opts ...StagingLoaderOption) *StagingLoader {
	l := &StagingLoader{
		db:              db,
		now:             func() time.Time { return time.Now().UTC() },
		insertBatchSize: defaultInsertBatchSize,
		logger:          zap.NewNop(),
		columns:         make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load writes rows into target inside one transaction and returns the number
// of rows written. Rows are checked against the table schema first; any
// mismatch fails the call before a write.
//
// Append inserts every row. Upsert updates rows whose key already exists,
// keeping their etl_created_at and etl_batch_id; within one call the last
// row for a key wins.
func (l *StagingLoader) Load(ctx context.Context, target pipeline.TargetTable, rows []pipeline.FlatRow, batchID, source string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := target.Validate(); err != nil {
		return 0, err
	}
	if !identifierPattern.MatchString(target.Name) {
		return 0, pipeline.NewOperatorError("load", "INVALID_TARGET",
			fmt.Errorf("%w: %q", pipeline.ErrUnknownTarget, target.Name))
	}

	tableCols, err := l.tableColumns(ctx, target.Name)
	if err != nil {
		return 0, err
	}

	records, columns, err := l.buildRecords(target, tableCols, rows, batchID, source)
	if err != nil {
		return 0, err
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(records); start += l.insertBatchSize {
			end := min(start+l.insertBatchSize, len(records))
			q := tx.Table(target.Name)
			if target.Mode == pipeline.LoadModeUpsert {
				q = q.Clauses(upsertClause(target, columns))
			}
			if err := q.Create(records[start:end]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, classifyDBError("load", err)
	}

	logger.WithLogger(ctx, l.logger).Debug("Staging rows loaded",
		zap.String("target_table", target.Name),
		zap.String("mode", string(target.Mode)),
		zap.Int("rows", len(records)),
	)
	return len(records), nil
}

// buildRecords turns rows into column maps with ETL metadata. Every record
// carries the same column set.
func (l *StagingLoader) buildRecords(target pipeline.TargetTable, tableCols map[string]struct{}, rows []pipeline.FlatRow, batchID, source string) ([]map[string]any, []string, error) {
	mismatch := func(format string, args ...any) error {
		return pipeline.NewFatalError("load", "SCHEMA_MISMATCH",
			fmt.Errorf("%w: %s: %s", pipeline.ErrSchemaMismatch, target.Name, fmt.Sprintf(format, args...)))
	}

	for _, col := range pipeline.MetadataColumns {
		if _, ok := tableCols[col]; !ok {
			return nil, nil, mismatch("table has no %s column", col)
		}
	}
	for _, key := range target.KeyColumns {
		if _, ok := tableCols[key]; !ok {
			return nil, nil, mismatch("table has no key column %s", key)
		}
	}

	colSet := make(map[string]struct{})
	for _, row := range rows {
		for col := range row.Columns {
			if _, ok := tableCols[col]; !ok {
				return nil, nil, mismatch("unknown column %s", col)
			}
			colSet[col] = struct{}{}
		}
	}
	for _, key := range target.KeyColumns {
		colSet[key] = struct{}{}
	}
	for _, col := range pipeline.MetadataColumns {
		colSet[col] = struct{}{}
	}
	columns := make([]string, 0, len(colSet))
	for col := range colSet {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	now := l.now()
	records := make([]map[string]any, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(columns))
		for _, col := range columns {
			rec[col] = row.Columns[col]
		}
		for _, key := range target.KeyColumns {
			if _, present := row.Columns[key]; !present {
				return nil, nil, mismatch("row %s has no value for key column %s", row.Key, key)
			}
			if rec[key] == nil {
				rec[key] = ""
			}
		}
		rec[pipeline.ColumnBatchID] = batchID
		rec[pipeline.ColumnSource] = source
		rec[pipeline.ColumnCreatedAt] = now
		rec[pipeline.ColumnUpdatedAt] = now

		if len(target.KeyColumns) == 0 {
			records = append(records, rec)
			continue
		}
		k := keyOf(rec, target.KeyColumns)
		if idx, dup := seen[k]; dup {
			if target.Mode == pipeline.LoadModeAppend {
				return nil, nil, pipeline.NewFatalError("load", "DUPLICATE_KEY",
					fmt.Errorf("duplicate key %s in one append to %s", k, target.Name))
			}
			records[idx] = rec
			continue
		}
		seen[k] = len(records)
		records = append(records, rec)
	}
	return records, columns, nil
}

func keyOf(rec map[string]any, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(rec[k])
	}
	return strings.Join(parts, "\x1f")
}

// upsertClause updates every non-key column except the first-seen metadata.
func upsertClause(target pipeline.TargetTable, columns []string) clause.OnConflict {
	conflict := make([]clause.Column, len(target.KeyColumns))
	for i, k := range target.KeyColumns {
		conflict[i] = clause.Column{Name: k}
	}
	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if target.IsKeyColumn(col) || col == pipeline.ColumnCreatedAt || col == pipeline.ColumnBatchID {
			continue
		}
		updates = append(updates, col)
	}
	return clause.OnConflict{
		Columns:   conflict,
		DoUpdates: clause.AssignmentColumns(updates),
	}
}

// tableColumns returns the cached column set of table.
func (l *StagingLoader) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	l.mu.RLock()
	cols, ok := l.columns[table]
	l.mu.RUnlock()
	if ok {
		return cols, nil
	}

	migrator := l.db.WithContext(ctx).Migrator()
	if !migrator.HasTable(table) {
		return nil, pipeline.NewFatalError("load", "SCHEMA_MISMATCH",
			fmt.Errorf("%w: table %s does not exist", pipeline.ErrSchemaMismatch, table))
	}
	types, err := migrator.ColumnTypes(table)
	if err != nil {
		return nil, classifyDBError("load.columns", err)
	}

	cols = make(map[string]struct{}, len(types))
	for _, ct := range types {
		cols[ct.Name()] = struct{}{}
	}

	l.mu.Lock()
	l.columns[table] = cols
	l.mu.Unlock()
	return cols, nil
}

// PurgeOlderThan deletes staging rows created before cutoff and returns how
// many were removed.
func (l *StagingLoader) PurgeOlderThan(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	if !identifierPattern.MatchString(table) {
		return 0, pipeline.NewOperatorError("purge", "INVALID_TARGET",
			fmt.Errorf("%w: %q", pipeline.ErrUnknownTarget, table))
	}
	result := l.db.WithContext(ctx).Exec("DELETE FROM ? WHERE "+pipeline.ColumnCreatedAt+" < ?",
		clause.Table{Name: table}, cutoff)
	if result.Error != nil {
		return 0, classifyDBError("purge", result.Error)
	}
	return result.RowsAffected, nil
}

// CountRows returns the number of rows in a staging table.
func (l *StagingLoader) CountRows(ctx context.Context, table string) (int64, error) {
	if !identifierPattern.MatchString(table) {
		return 0, pipeline.NewOperatorError("count", "INVALID_TARGET",
			fmt.Errorf("%w: %q", pipeline.ErrUnknownTarget, table))
	}
	var n int64
	if err := l.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, classifyDBError("count", err)
	}
	return n, nil
}

// Ensure StagingLoader implements the interface
var _ pipeline.StagingLoader = (*StagingLoader)(nil)
