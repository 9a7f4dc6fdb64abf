package models

// Row is one cached table row, column name -> value
type Row map[string]any

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// RowSet holds every row of one table for one guild.
// A RowSet with no rows is a loaded-but-empty slice, which is distinct from
// a slice that was never loaded (nil *RowSet).
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewEmptyRowSet returns a loaded RowSet with the given columns and no rows
func NewEmptyRowSet(columns []string) *RowSet {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &RowSet{
		Columns: cols,
		Rows:    []Row{},
	}
}

// HasColumn checks if the column exists in the set
func (rs *RowSet) HasColumn(column string) bool {
	for _, c := range rs.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Len returns the number of rows
func (rs *RowSet) Len() int {
	return len(rs.Rows)
}
