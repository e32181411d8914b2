package transform

import (
	"encoding/json"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// RecordFlattener maps a record without children to exactly one row.
type RecordFlattener struct {
	name        string
	keyField    string
	schema      Schema
	extraColumn string
}

// NewRecordFlattener creates a flattener keyed by keyField. Undeclared
// fields go to extraColumn when it is set and are dropped otherwise.
func NewRecordFlattener(name, keyField string, schema Schema, extraColumn string) *RecordFlattener {
	return &RecordFlattener{
		name:        name,
		keyField:    keyField,
		schema:      schema,
		extraColumn: extraColumn,
	}
}

// Flatten returns a single row.
func (f *RecordFlattener) Flatten(raw json.RawMessage) ([]pipeline.FlatRow, error) {
	op := "flatten." + f.name

	obj, err := decodeObject(op, raw)
	if err != nil {
		return nil, err
	}
	key, ok := keyString(obj[f.keyField])
	if !ok {
		return nil, schemaMismatch(op, "record has no %s", f.keyField)
	}

	cols, extras := mapFields(obj, f.schema, "")
	cols[f.keyField] = key
	if f.extraColumn != "" {
		cols[f.extraColumn] = extrasValue(extras)
	}
	return []pipeline.FlatRow{{
		Key:     pipeline.RowKey{Parent: key},
		Columns: cols,
	}}, nil
}

var _ pipeline.Flattener = (*RecordFlattener)(nil)
