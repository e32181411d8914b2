package pipeline

// Grouping columns added to every row of a nested parent.
const (
	ColumnHasMultipleChildren   = "has_multiple_children"
	ColumnTotalChildrenInParent = "total_children_in_parent"
)

// RowKey identifies a flat row by its business identifiers.
type RowKey struct {
	Parent     string
	Child      string
	Grandchild string
}

// String joins the non-empty parts of the key.
func (k RowKey) String() string {
	s := k.Parent
	if k.Child != "" {
		s += "/" + k.Child
	}
	if k.Grandchild != "" {
		s += "/" + k.Grandchild
	}
	return s
}

// FlatRow is one parent x child combination with every parent field
// duplicated onto it.
type FlatRow struct {
	Key                   RowKey
	Columns               map[string]any
	HasMultipleChildren   bool
	TotalChildrenInParent int
}

// ChildRecord is one child of a parent, with its key and prefixed columns.
type ChildRecord struct {
	Key     string
	Columns map[string]any
}

// ExpandChildren builds max(len(children), 1) rows for one parent. Parent
// columns are copied onto every row. A parent without children yields a
// single row where every placeholder column is nil.
func ExpandChildren(parentKey string, parent map[string]any, children []ChildRecord, placeholder []string) []FlatRow {
	total := len(children)
	multiple := total > 1

	if total == 0 {
		cols := make(map[string]any, len(parent)+len(placeholder)+2)
		for k, v := range parent {
			cols[k] = v
		}
		for _, c := range placeholder {
			cols[c] = nil
		}
		cols[ColumnHasMultipleChildren] = false
		cols[ColumnTotalChildrenInParent] = 0
		return []FlatRow{{
			Key:     RowKey{Parent: parentKey},
			Columns: cols,
		}}
	}

	rows := make([]FlatRow, 0, total)
	for _, child := range children {
		cols := make(map[string]any, len(parent)+len(child.Columns)+2)
		for k, v := range parent {
			cols[k] = v
		}
		for k, v := range child.Columns {
			cols[k] = v
		}
		cols[ColumnHasMultipleChildren] = multiple
		cols[ColumnTotalChildrenInParent] = total
		rows = append(rows, FlatRow{
			Key:                   RowKey{Parent: parentKey, Child: child.Key},
			Columns:               cols,
			HasMultipleChildren:   multiple,
			TotalChildrenInParent: total,
		})
	}
	return rows
}
