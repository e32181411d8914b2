package transform

import (
	"encoding/json"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// NestedConfig describes a parent record with one array of children.
type NestedConfig struct {
	// Name is used in error operations, e.g. "misa_sale_orders".
	Name string

	ParentKeyField    string
	ParentKeyColumn   string
	ParentPrefix      string
	ParentSchema      Schema
	ParentExtraColumn string

	ChildrenField string
	// ChildKeyFields are tried in order; the first non-empty value is the key.
	ChildKeyFields   []string
	ChildKeyColumn   string
	ChildPrefix      string
	ChildSchema      Schema
	ChildExtraColumn string
}

// NestedFlattener expands a parent with a child array into one row per
// child, parent columns duplicated onto each row.
type NestedFlattener struct {
	cfg         NestedConfig
	placeholder []string
}

// NewNestedFlattener creates a flattener for cfg
func NewNestedFlattener(cfg NestedConfig) *NestedFlattener {
	placeholder := []string{cfg.ChildKeyColumn}
	if cfg.ChildSchema != nil {
		placeholder = append(placeholder, prefixed(cfg.ChildPrefix, cfg.ChildSchema.Names()...)...)
	}
	if cfg.ChildExtraColumn != "" {
		placeholder = append(placeholder, cfg.ChildExtraColumn)
	}
	return &NestedFlattener{cfg: cfg, placeholder: placeholder}
}

// Flatten returns max(len(children), 1) rows in child order.
func (f *NestedFlattener) Flatten(raw json.RawMessage) ([]pipeline.FlatRow, error) {
	op := "flatten." + f.cfg.Name

	obj, err := decodeObject(op, raw)
	if err != nil {
		return nil, err
	}
	parentKey, ok := keyString(obj[f.cfg.ParentKeyField])
	if !ok {
		return nil, schemaMismatch(op, "record has no %s", f.cfg.ParentKeyField)
	}

	parent, extras := mapFields(obj, f.cfg.ParentSchema, f.cfg.ParentPrefix, f.cfg.ParentKeyField, f.cfg.ChildrenField)
	parent[f.cfg.ParentKeyColumn] = parentKey
	if f.cfg.ParentExtraColumn != "" {
		parent[f.cfg.ParentExtraColumn] = extrasValue(extras)
	}

	var items []any
	switch v := obj[f.cfg.ChildrenField].(type) {
	case nil:
	case []any:
		items = v
	default:
		return nil, schemaMismatch(op, "%s %s: %s is not an array", f.cfg.ParentKeyField, parentKey, f.cfg.ChildrenField)
	}

	children := make([]pipeline.ChildRecord, 0, len(items))
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, schemaMismatch(op, "%s %s: child %d is not an object", f.cfg.ParentKeyField, parentKey, i)
		}
		key, keyField := f.childKey(fields)
		if key == "" {
			return nil, schemaMismatch(op, "%s %s: child %d has no key", f.cfg.ParentKeyField, parentKey, i)
		}
		cols, childExtras := mapFields(fields, f.cfg.ChildSchema, f.cfg.ChildPrefix, keyField)
		cols[f.cfg.ChildKeyColumn] = key
		if f.cfg.ChildExtraColumn != "" {
			cols[f.cfg.ChildExtraColumn] = extrasValue(childExtras)
		}
		children = append(children, pipeline.ChildRecord{Key: key, Columns: cols})
	}

	return pipeline.ExpandChildren(parentKey, parent, children, f.placeholder), nil
}

func (f *NestedFlattener) childKey(fields map[string]any) (string, string) {
	for _, name := range f.cfg.ChildKeyFields {
		if key, ok := keyString(fields[name]); ok {
			return key, name
		}
	}
	return "", ""
}

var _ pipeline.Flattener = (*NestedFlattener)(nil)
