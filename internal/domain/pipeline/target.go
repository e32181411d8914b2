package pipeline

import (
	"fmt"
	"strings"
)

// LoadMode controls how the staging loader writes rows.
type LoadMode string

const (
	// LoadModeAppend inserts every row tagged with its batch id.
	LoadModeAppend LoadMode = "append"
	// LoadModeUpsert updates rows matching the business key in place.
	LoadModeUpsert LoadMode = "upsert"
)

// IsValid checks if the mode is valid
func (m LoadMode) IsValid() bool {
	return m == LoadModeAppend || m == LoadModeUpsert
}

// ParseLoadMode parses a mode name, case-insensitively.
func ParseLoadMode(s string) (LoadMode, error) {
	m := LoadMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", NewOperatorError("mode.parse", "INVALID_MODE",
			fmt.Errorf("%w: %q", ErrModeNotSupported, s))
	}
	return m, nil
}

// ETL metadata columns every staging table carries.
const (
	ColumnBatchID   = "etl_batch_id"
	ColumnCreatedAt = "etl_created_at"
	ColumnUpdatedAt = "etl_updated_at"
	ColumnSource    = "etl_source"
)

// MetadataColumns lists the ETL metadata columns.
var MetadataColumns = []string{ColumnBatchID, ColumnCreatedAt, ColumnUpdatedAt, ColumnSource}

// TargetTable describes a staging sink table.
type TargetTable struct {
	Name       string
	KeyColumns []string
	Mode       LoadMode
}

// Validate checks the target can be loaded in its configured mode.
func (t TargetTable) Validate() error {
	if t.Name == "" {
		return NewOperatorError("target.validate", "INVALID_TARGET", ErrUnknownTarget)
	}
	if !t.Mode.IsValid() {
		return NewOperatorError("target.validate", "INVALID_MODE",
			fmt.Errorf("%w: %q for %s", ErrModeNotSupported, t.Mode, t.Name))
	}
	if t.Mode == LoadModeUpsert && len(t.KeyColumns) == 0 {
		return NewOperatorError("target.validate", "UPSERT_REQUIRES_KEY",
			fmt.Errorf("%w: %s", ErrUpsertRequiresKey, t.Name))
	}
	return nil
}

// Supports reports whether a run in mode can write to the target. An empty
// mode means the target's own mode.
func (t TargetTable) Supports(mode LoadMode) bool {
	return mode == "" || mode == t.Mode
}

// IsKeyColumn reports whether col is part of the business key.
func (t TargetTable) IsKeyColumn(col string) bool {
	for _, k := range t.KeyColumns {
		if k == col {
			return true
		}
	}
	return false
}
