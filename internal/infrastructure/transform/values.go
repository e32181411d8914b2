package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/facolos/etl/internal/infrastructure/connector"
)

// FieldType is the staging column type a vendor field is converted to
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInt       FieldType = "int"
	TypeDecimal   FieldType = "decimal"
	TypeTimestamp FieldType = "timestamp"
	TypeBool      FieldType = "bool"
	TypeJSON      FieldType = "json"
)

// Column maps one vendor field to a typed staging column of the same name.
type Column struct {
	Name string
	Type FieldType
}

// Schema is the declared column set of one record shape. A nil schema passes
// every field through with inferred types.
type Schema []Column

// Names returns the column names in declaration order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Column constructors keep schema tables short.
func str(name string) Column  { return Column{Name: name, Type: TypeString} }
func num(name string) Column  { return Column{Name: name, Type: TypeDecimal} }
func ts(name string) Column   { return Column{Name: name, Type: TypeTimestamp} }
func flag(name string) Column { return Column{Name: name, Type: TypeBool} }

// decodeObject decodes raw into a field map, keeping numbers exact.
func decodeObject(op string, raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, schemaMismatch(op, "malformed record: %v", err)
	}
	if obj == nil {
		return nil, schemaMismatch(op, "record is not a JSON object")
	}
	return obj, nil
}

func schemaMismatch(op, format string, args ...any) error {
	return pipeline.NewFatalError(op, "SCHEMA_MISMATCH",
		fmt.Errorf("%w: %s", pipeline.ErrSchemaMismatch, fmt.Sprintf(format, args...)))
}

// keyString renders an identifier field. ok is false for absent, null or
// empty values.
func keyString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// mapFields converts fields into columns named prefix+name. Fields the schema
// does not declare, and values that do not fit their declared type, are
// returned in extras unchanged.
func mapFields(fields map[string]any, schema Schema, prefix string, skip ...string) (map[string]any, map[string]any) {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}

	cols := make(map[string]any, len(fields))
	extras := map[string]any{}

	if schema == nil {
		for name, v := range fields {
			if _, ok := skipped[name]; ok {
				continue
			}
			cols[prefix+name] = inferValue(v)
		}
		return cols, extras
	}

	declared := make(map[string]struct{}, len(schema))
	for _, c := range schema {
		declared[c.Name] = struct{}{}
		v, present := fields[c.Name]
		if !present {
			cols[prefix+c.Name] = nil
			continue
		}
		converted, ok := convertValue(v, c.Type)
		if !ok {
			extras[c.Name] = v
		}
		cols[prefix+c.Name] = converted
	}
	for name, v := range fields {
		if _, ok := skipped[name]; ok {
			continue
		}
		if _, ok := declared[name]; !ok {
			extras[name] = v
		}
	}
	return cols, extras
}

// extrasValue renders leftover fields as a JSON column, nil when empty.
func extrasValue(extras map[string]any) any {
	if len(extras) == 0 {
		return nil
	}
	b, err := json.Marshal(extras)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// convertValue converts a decoded JSON value to t. A nil result with ok
// false means the value did not fit and should be preserved elsewhere.
func convertValue(v any, t FieldType) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, true
		case json.Number:
			return x.String(), true
		case bool:
			return strconv.FormatBool(x), true
		}
		return nil, false
	case TypeDecimal:
		return toDecimal(v)
	case TypeInt:
		d, ok := toDecimal(v)
		if !ok || d == nil {
			return nil, ok
		}
		dec := d.(decimal.Decimal)
		if !dec.Equal(dec.Truncate(0)) {
			return nil, false
		}
		return dec.IntPart(), true
	case TypeTimestamp:
		return toTime(v)
	case TypeBool:
		return toBool(v)
	case TypeJSON:
		return jsonValue(v), true
	}
	return nil, false
}

// inferValue picks a column value for an undeclared field.
func inferValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool:
		return x
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return d
		}
		return x.String()
	}
	return jsonValue(v)
}

func toDecimal(v any) (any, bool) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
		if s == "" {
			return nil, true
		}
	default:
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	return d, true
}

func toTime(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, true
		}
		if t, ok := connector.ParseMISATime(x); ok {
			return t, true
		}
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return unixTime(n), true
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return unixTime(n), true
		}
	}
	return nil, false
}

// unixTime reads epoch seconds; values above 1e12 are milliseconds.
func unixTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func toBool(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case json.Number:
		switch x.String() {
		case "0":
			return false, true
		case "1":
			return true, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "y":
			return true, true
		case "false", "0", "no", "n":
			return false, true
		case "":
			return nil, true
		}
	}
	return nil, false
}

func jsonValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// prefixed returns the schema names with prefix applied, sorted.
func prefixed(prefix string, names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	sort.Strings(out)
	return out
}
