// Package tx runs engine operations as atomic units of work. The active
// database transaction travels through context, so every store an operation
// touches, the audit store included, joins the same commit or rollback.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const defaultTxTimeout = 5 * time.Second

type txKey struct{}

// WithTx attaches the active transaction to the context.
func WithTx(ctx context.Context, dbTx *sql.Tx) context.Context {
	if dbTx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, dbTx)
}

// From returns the transaction carried by the context, if any. Stores fall
// back to their plain connection when none is present.
func From(ctx context.Context) (*sql.Tx, bool) {
	dbTx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return dbTx, ok
}

// Runner executes a function inside one atomic unit of work. Every engine
// mutation runs through a Runner: it either commits fully, mutation and audit
// entry together, or rolls back fully.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs the function inside a database transaction carried through
// context. Stores built on this package join it transparently.
type SQLRunner struct {
	db          *sql.DB
	timeout     time.Duration
	lockTimeout time.Duration
}

// NewSQLRunner constructs a Runner over the given database. Timeout bounds
// the whole transaction when the caller's context carries no deadline;
// lockTimeout bounds each row-lock wait so contention surfaces as a
// retryable conflict instead of an indefinite stall.
func NewSQLRunner(db *sql.DB, timeout, lockTimeout time.Duration) *SQLRunner {
	return &SQLRunner{db: db, timeout: timeout, lockTimeout: lockTimeout}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if r.lockTimeout > 0 {
		query := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := dbTx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}

// MemoryRunner serializes units of work behind a single mutex. The in-memory
// stores have no row locks, so full serialization stands in for them; this
// keeps the check-then-act invariants exact in tests.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner constructs a mutex-serialized Runner for in-memory stores.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
