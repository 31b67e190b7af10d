package query

import (
	"database/sql"
	"maps"
	"slices"

	"github.com/jmoiron/sqlx"
)

// Row is one result row keyed by column name. Byte slice values are
// exposed as strings.
type Row map[string]any

// Result is an immutable snapshot of a row-returning statement.
type Result struct {
	columns []string
	rows    []Row
}

// NumRows returns the number of rows.
func (r *Result) NumRows() int { return len(r.rows) }

// Rows returns a copy of all rows. The slice is never nil.
func (r *Result) Rows() []Row {
	out := make([]Row, len(r.rows))
	for i, row := range r.rows {
		out[i] = maps.Clone(row)
	}
	return out
}

// Row returns a copy of the first row, or nil for an empty result.
func (r *Result) Row() Row {
	if len(r.rows) == 0 {
		return nil
	}
	return maps.Clone(r.rows[0])
}

// Columns returns the column names in select order.
func (r *Result) Columns() []string { return slices.Clone(r.columns) }

func scanResult(rows *sql.Rows) (*Result, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{columns: cols, rows: []Row{}}
	for rows.Next() {
		m := make(map[string]any, len(cols))
		if err := sqlx.MapScan(rows, m); err != nil {
			return nil, err
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		res.rows = append(res.rows, Row(m))
	}
	return res, rows.Err()
}
