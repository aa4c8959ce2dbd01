package panel

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Sternrassler/wbpanel/pkg/indicator"
)

var (
	// ErrDuplicateColumn is returned when a column name would appear twice.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrUnknownColumn is returned when addressing a column the table lacks.
	ErrUnknownColumn = errors.New("unknown column")
)

// Cell is one table value. Valid is false for an empty cell.
type Cell struct {
	Value float64
	Valid bool
}

// Table is a year-indexed table with ordered, uniquely named columns.
// Every row has a cell per column; cells may be empty. The zero value is
// not usable, use NewTable.
type Table struct {
	columns  []string
	colIndex map[string]int
	rows     map[int][]Cell
}

// NewTable creates a table with the given columns and no rows.
// NewTable() is the empty panel: zero rows, zero columns.
func NewTable(columns ...string) (*Table, error) {
	t := &Table{
		columns:  make([]string, 0, len(columns)),
		colIndex: make(map[string]int, len(columns)),
		rows:     make(map[int][]Cell),
	}
	for _, c := range columns {
		if _, dup := t.colIndex[c]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c)
		}
		t.colIndex[c] = len(t.columns)
		t.columns = append(t.columns, c)
	}
	return t, nil
}

// Empty returns a table with zero rows and zero columns.
func Empty() *Table {
	t, _ := NewTable()
	return t
}

// AddYear ensures a row exists for year.
func (t *Table) AddYear(year int) {
	if _, ok := t.rows[year]; !ok {
		t.rows[year] = make([]Cell, len(t.columns))
	}
}

// Set stores value at (year, column), creating the row if needed.
func (t *Table) Set(year int, column string, value float64) error {
	i, ok := t.colIndex[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	t.AddYear(year)
	t.rows[year][i] = Cell{Value: value, Valid: true}
	return nil
}

// Get returns the value at (year, column) and whether the cell is filled.
func (t *Table) Get(year int, column string) (float64, bool) {
	i, ok := t.colIndex[column]
	if !ok {
		return 0, false
	}
	row, ok := t.rows[year]
	if !ok {
		return 0, false
	}
	return row[i].Value, row[i].Valid
}

// HasYear reports whether year is a row of the table.
func (t *Table) HasYear(year int) bool {
	_, ok := t.rows[year]
	return ok
}

// Row returns a copy of the cells for year in column order.
func (t *Table) Row(year int) ([]Cell, bool) {
	row, ok := t.rows[year]
	if !ok {
		return nil, false
	}
	return slices.Clone(row), true
}

// Years returns the row keys in ascending order.
func (t *Table) Years() []int {
	years := make([]int, 0, len(t.rows))
	for y := range t.rows {
		years = append(years, y)
	}
	slices.Sort(years)
	return years
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.columns)
}

// IsEmpty reports whether the table has neither rows nor columns.
func (t *Table) IsEmpty() bool {
	return len(t.rows) == 0 && len(t.columns) == 0
}

// RenameColumns returns a copy of t with every column renamed by fn.
func (t *Table) RenameColumns(fn func(string) string) (*Table, error) {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = fn(c)
	}
	out, err := NewTable(names...)
	if err != nil {
		return nil, err
	}
	for year, row := range t.rows {
		out.rows[year] = slices.Clone(row)
	}
	return out, nil
}

// Pivot spreads observations into a year × country table. Columns follow
// order for the codes it lists, then any other country in first-seen order.
// Several observations for one (year, country) are averaged over their
// present values. Years and countries whose values are all absent still get
// a row or column, with empty cells.
func Pivot(observations []indicator.Observation, order []string) *Table {
	seen := make(map[string]bool)
	for _, obs := range observations {
		seen[obs.Country] = true
	}

	var columns []string
	placed := make(map[string]bool)
	for _, c := range order {
		if seen[c] && !placed[c] {
			columns = append(columns, c)
			placed[c] = true
		}
	}
	for _, obs := range observations {
		if !placed[obs.Country] {
			columns = append(columns, obs.Country)
			placed[obs.Country] = true
		}
	}

	// Columns are unique by construction.
	t, _ := NewTable(columns...)

	type acc struct {
		sum float64
		n   int
	}
	sums := make(map[int][]acc)
	for _, obs := range observations {
		t.AddYear(obs.Year)
		if !obs.Present {
			continue
		}
		if sums[obs.Year] == nil {
			sums[obs.Year] = make([]acc, len(columns))
		}
		a := &sums[obs.Year][t.colIndex[obs.Country]]
		a.sum += obs.Value
		a.n++
	}

	for year, row := range sums {
		for i, a := range row {
			if a.n > 0 {
				t.rows[year][i] = Cell{Value: a.sum / float64(a.n), Valid: true}
			}
		}
	}

	return t
}

// OuterJoin merges two tables on year. The result holds every year of
// either side and the columns of left followed by those of right; cells
// missing on one side stay empty. Shared column names are an error.
func OuterJoin(left, right *Table) (*Table, error) {
	columns := make([]string, 0, left.Width()+right.Width())
	columns = append(columns, left.columns...)
	columns = append(columns, right.columns...)

	out, err := NewTable(columns...)
	if err != nil {
		return nil, fmt.Errorf("outer join: %w", err)
	}

	offset := left.Width()
	for year, row := range left.rows {
		out.AddYear(year)
		copy(out.rows[year], row)
	}
	for year, row := range right.rows {
		out.AddYear(year)
		copy(out.rows[year][offset:], row)
	}

	return out, nil
}
