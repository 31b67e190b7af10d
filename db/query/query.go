// Package query assembles MySQL SELECT statements from chained fragments and
// executes them, together with insert, update and delete helpers, against a
// connection pool or a transaction.
//
// A Query is an immutable value: every chained call returns a new Query and
// leaves its receiver untouched, so a partially built Query can be shared,
// branched, or reused from several goroutines.
//
//	rows, err := db.Select("idBiaya", "nama").
//	    Where(query.Map{"aktif": true}).
//	    OrWhere(query.List{query.Op("jumlah", ">", 1000)}).
//	    OrderBy("idBiaya DESC").
//	    Limit(10).
//	    Get(ctx, "biaya")
package query

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrUnbound is returned when executing a Query that has no session.
	ErrUnbound = errors.New("query: not bound to a connection")
	// ErrNoTable is returned when a Query is executed without a table.
	ErrNoTable = errors.New("query: no table given")
)

// Query is an immutable SELECT specification.
type Query struct {
	s *Session

	columns  []string
	from     string
	joins    []string
	where    []group
	groupBy  []string
	orderBy  []string
	limit    int
	hasLimit bool
	offset   int
}

// New returns an unbound Query. It can render SQL but not execute it.
func New() Query {
	return Query{}
}

// appendClipped appends to a copy-on-write view of s so the receiver's
// backing array is never shared with the result.
func appendClipped[T any](s []T, v ...T) []T {
	return append(slices.Clip(s), v...)
}

// Select replaces the selected columns. No columns means "*".
func (q Query) Select(cols ...string) Query {
	q.columns = slices.Clone(cols)
	return q
}

// From sets the table. A table passed to Get or SQL takes precedence.
func (q Query) From(table string) Query {
	q.from = table
	return q
}

// LeftJoin adds a LEFT JOIN.
func (q Query) LeftJoin(table, on string) Query {
	q.joins = appendClipped(q.joins, "LEFT JOIN "+table+" ON "+on)
	return q
}

// InnerJoin adds an INNER JOIN.
func (q Query) InnerJoin(table, on string) Query {
	q.joins = appendClipped(q.joins, "INNER JOIN "+table+" ON "+on)
	return q
}

// Where adds a group whose clauses are joined with AND. The group itself is
// attached to earlier groups with AND.
func (q Query) Where(cond Condition) Query {
	if g, ok := newGroup(cond, "AND"); ok {
		q.where = appendClipped(q.where, g)
	}
	return q
}

// OrWhere adds a group whose clauses are joined with OR. The group itself is
// attached to earlier groups with OR.
func (q Query) OrWhere(cond Condition) Query {
	if g, ok := newGroup(cond, "OR"); ok {
		q.where = appendClipped(q.where, g)
	}
	return q
}

// GroupBy replaces the GROUP BY columns.
func (q Query) GroupBy(cols ...string) Query {
	q.groupBy = slices.Clone(cols)
	return q
}

// OrderBy replaces the ORDER BY terms, e.g. "idBiaya DESC". No terms clears it.
func (q Query) OrderBy(terms ...string) Query {
	q.orderBy = slices.Clone(terms)
	return q
}

// Limit sets the row limit. A negative n clears it.
func (q Query) Limit(n int) Query {
	q.limit = n
	q.hasLimit = n >= 0
	return q
}

// Offset sets the row offset. It is only rendered together with a limit.
func (q Query) Offset(n int) Query {
	q.offset = max(n, 0)
	return q
}

// Bound reports whether the Query can be executed.
func (q Query) Bound() bool {
	return q.s != nil
}

// SQL renders the statement. A non-empty table overrides From.
func (q Query) SQL(table string) string {
	if table == "" {
		table = q.from
	}

	parts := make([]string, 0, 10)
	parts = append(parts, "SELECT")
	if len(q.columns) == 0 {
		parts = append(parts, "*")
	} else {
		parts = append(parts, strings.Join(q.columns, ", "))
	}
	if table != "" {
		parts = append(parts, "FROM", table)
	}
	parts = append(parts, q.joins...)
	if len(q.where) > 0 {
		parts = append(parts, "WHERE", joinGroups(q.where))
	}
	if len(q.groupBy) > 0 {
		parts = append(parts, "GROUP BY", strings.Join(q.groupBy, ", "))
	}
	if len(q.orderBy) > 0 {
		parts = append(parts, "ORDER BY", strings.Join(q.orderBy, ", "))
	}
	if q.hasLimit {
		parts = append(parts, "LIMIT", strconv.Itoa(q.limit))
		if q.offset > 0 {
			parts = append(parts, "OFFSET", strconv.Itoa(q.offset))
		}
	}
	return strings.Join(parts, " ")
}

// String renders the statement against the table given to From.
func (q Query) String() string {
	return q.SQL("")
}

// Get executes the SELECT and returns the full result set.
func (q Query) Get(ctx context.Context, table string) (*Result, error) {
	if q.s == nil {
		return nil, ErrUnbound
	}
	if table == "" && q.from == "" {
		return nil, ErrNoTable
	}
	return q.s.Query(ctx, q.SQL(table))
}

// First executes the SELECT with LIMIT 1 and returns the first row, or nil.
func (q Query) First(ctx context.Context, table string) (Row, error) {
	res, err := q.Limit(1).Get(ctx, table)
	if err != nil {
		return nil, err
	}
	return res.Row(), nil
}
