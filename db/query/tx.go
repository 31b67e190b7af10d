package query

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// ErrNoTransaction is returned by Commit and Rollback when the transaction
// has already finished.
var ErrNoTransaction = errors.New("query: no active transaction")

// DB is a named connection pool.
type DB struct {
	Session
	pool *sql.DB
}

// NewDB wraps pool. The default name is "default".
func NewDB(pool *sql.DB, opts ...Option) *DB {
	db := &DB{
		Session: Session{q: pool, name: "default"},
		pool:    pool,
	}
	for _, opt := range opts {
		opt(&db.Session)
	}
	return db
}

// Pool returns the underlying pool.
func (db *DB) Pool() *sql.DB { return db.pool }

// Close closes the pool.
func (db *DB) Close() error { return db.pool.Close() }

// Begin starts a transaction on a connection dedicated to it. The connection
// returns to the pool when the transaction commits or rolls back.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	conn, err := db.pool.Conn(ctx)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "%s: acquire connection", db.name)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, pkgerrors.Wrapf(err, "%s: begin", db.name)
	}
	db.log(ctx, "BEGIN", nil)
	return &Tx{
		Session: Session{q: tx, name: db.name, logger: db.logger},
		conn:    conn,
		tx:      tx,
	}, nil
}

// Transaction runs fn inside a transaction. It commits when fn returns nil and
// rolls back when fn returns an error or panics.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrNoTransaction) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil && !errors.Is(err, ErrNoTransaction) {
		return err
	}
	return nil
}

// Tx is a transaction pinned to one connection.
type Tx struct {
	Session

	mu   sync.Mutex
	conn *sql.Conn
	tx   *sql.Tx
	done bool
}

// Active reports whether the transaction can still run statements.
func (t *Tx) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

// Commit commits and releases the connection.
func (t *Tx) Commit() error {
	return t.finish("COMMIT", (*sql.Tx).Commit)
}

// Rollback rolls back and releases the connection.
func (t *Tx) Rollback() error {
	return t.finish("ROLLBACK", (*sql.Tx).Rollback)
}

// Close rolls back a transaction that was neither committed nor rolled back.
// It is safe to defer right after Begin.
func (t *Tx) Close() error {
	if err := t.Rollback(); err != nil && !errors.Is(err, ErrNoTransaction) {
		return err
	}
	return nil
}

func (t *Tx) finish(verb string, end func(*sql.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrNoTransaction
	}
	t.done = true

	t.log(context.Background(), verb, nil)
	err := end(t.tx)
	if cerr := t.conn.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "%s: %s", t.name, verb)
	}
	return nil
}
