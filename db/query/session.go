package query

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrEmptyData is returned by Insert and Update when no columns are given.
	ErrEmptyData = errors.New("query: no data given")
	// ErrMissingWhere is returned by Update and Delete when the condition is empty.
	ErrMissingWhere = errors.New("query: refusing to run without a WHERE condition")
)

// Querier is the interface for executing queries.
// *sql.DB, *sql.Conn and *sql.Tx implement this interface.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Conn)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// Session runs statements on a Querier. It holds no builder state.
type Session struct {
	q      Querier
	name   string
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*Session)

// WithName sets the connection name used in logs and errors.
func WithName(name string) Option {
	return func(s *Session) { s.name = name }
}

// WithLogger sets the statement logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// Name returns the connection name.
func (s *Session) Name() string { return s.name }

// Builder starts a Query bound to this session.
func (s *Session) Builder() Query { return Query{s: s} }

// Select starts a bound Query with the given columns.
func (s *Session) Select(cols ...string) Query { return s.Builder().Select(cols...) }

// From starts a bound Query on table.
func (s *Session) From(table string) Query { return s.Builder().From(table) }

// Where starts a bound Query with an AND group.
func (s *Session) Where(cond Condition) Query { return s.Builder().Where(cond) }

// OrWhere starts a bound Query with an OR group.
func (s *Session) OrWhere(cond Condition) Query { return s.Builder().OrWhere(cond) }

// Get runs SELECT * FROM table.
func (s *Session) Get(ctx context.Context, table string) (*Result, error) {
	return s.Builder().Get(ctx, table)
}

// Query runs a row-returning statement.
func (s *Session) Query(ctx context.Context, stmt string, args ...any) (*Result, error) {
	s.log(ctx, stmt, args)
	rows, err := s.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "%s: query", s.name)
	}
	res, err := scanResult(rows)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "%s: scan", s.name)
	}
	return res, nil
}

// Exec runs a statement that returns no rows.
func (s *Session) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	s.log(ctx, stmt, args)
	res, err := s.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "%s: exec", s.name)
	}
	return res, nil
}

// Insert adds one row and returns the generated auto-increment id, or 0 when
// the table has none.
func (s *Session) Insert(ctx context.Context, table string, data map[string]any) (int64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyData
	}
	cols, args := sortedColumns(data)

	stmt := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	res, err := s.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "%s: last insert id", s.name)
	}
	return id, nil
}

// Update sets data on the rows matching where and returns the number of rows affected.
func (s *Session) Update(ctx context.Context, table string, data map[string]any, where Condition) (int64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyData
	}
	pred := Compile(where)
	if pred == "" {
		return 0, ErrMissingWhere
	}
	cols, args := sortedColumns(data)
	for i, c := range cols {
		cols[i] = c + " = ?"
	}

	stmt := "UPDATE " + table + " SET " + strings.Join(cols, ", ") + " WHERE " + pred
	res, err := s.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(s, res)
}

// Delete removes the rows matching where and returns the number of rows affected.
func (s *Session) Delete(ctx context.Context, table string, where Condition) (int64, error) {
	pred := Compile(where)
	if pred == "" {
		return 0, ErrMissingWhere
	}
	res, err := s.Exec(ctx, "DELETE FROM "+table+" WHERE "+pred)
	if err != nil {
		return 0, err
	}
	return rowsAffected(s, res)
}

func rowsAffected(s *Session, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "%s: rows affected", s.name)
	}
	return n, nil
}

func sortedColumns(data map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(data))
	for c := range data {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = data[c]
	}
	return cols, args
}

func (s *Session) log(ctx context.Context, stmt string, args []any) {
	if s.logger == nil {
		return
	}
	s.logger.DebugContext(ctx, "sql", "connection", s.name, "statement", stmt, "args", len(args))
}
