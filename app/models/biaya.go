// Package models holds the table gateways of the demo application.
package models

import (
	"context"
	"fmt"

	"github.com/minifast/minifast/db"
	"github.com/minifast/minifast/db/query"
	"github.com/minifast/minifast/dbstrings"
	"github.com/minifast/minifast/httperror"
)

const (
	// Connection is the database connection the models use.
	Connection = "default"

	BiayaTable = "biaya"
	BiayaKey   = "idBiaya"
)

// BiayaModel reads and writes the biaya (expense) table.
type BiayaModel struct {
	db *query.DB
}

// NewBiayaModel returns a model bound to the Connection pool of m.
func NewBiayaModel(m *db.Manager) (*BiayaModel, error) {
	conn, err := m.Get(Connection)
	if err != nil {
		return nil, err
	}
	return &BiayaModel{db: conn}, nil
}

// ListOptions narrows Result.
type ListOptions struct {
	Where   query.Condition
	OrderBy []string
	Limit   int // negative for no limit
	Offset  int
}

// Result returns the matching rows.
func (m *BiayaModel) Result(ctx context.Context, opts ListOptions) ([]query.Row, error) {
	q := m.db.Select("*").OrderBy(opts.OrderBy...)
	if opts.Where != nil {
		q = q.Where(opts.Where)
	}
	if opts.Limit >= 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	res, err := q.Get(ctx, BiayaTable)
	if err != nil {
		return nil, err
	}
	return res.Rows(), nil
}

// Row returns the first matching row, or nil.
func (m *BiayaModel) Row(ctx context.Context, where query.Condition) (query.Row, error) {
	return m.db.Select("*").Where(where).First(ctx, BiayaTable)
}

// Insert adds a row and returns its id.
func (m *BiayaModel) Insert(ctx context.Context, data map[string]any) (int64, error) {
	if err := checkColumns(data); err != nil {
		return 0, err
	}
	return m.db.Insert(ctx, BiayaTable, data)
}

// Update reports whether any row matching where changed.
func (m *BiayaModel) Update(ctx context.Context, where query.Condition, data map[string]any) (bool, error) {
	if err := checkColumns(data); err != nil {
		return false, err
	}
	n, err := m.db.Update(ctx, BiayaTable, data, where)
	return n > 0, err
}

// Delete reports whether any row matching where was removed.
func (m *BiayaModel) Delete(ctx context.Context, where query.Condition) (bool, error) {
	n, err := m.db.Delete(ctx, BiayaTable, where)
	return n > 0, err
}

// checkColumns rejects column names that are not plain identifiers; they are
// interpolated into the statement.
func checkColumns(data map[string]any) error {
	if len(data) == 0 {
		return httperror.BadRequest("no fields to write")
	}
	for col := range data {
		if !dbstrings.IsIdentifier(col) {
			return httperror.BadRequest(fmt.Sprintf("invalid column %q", col))
		}
	}
	return nil
}
