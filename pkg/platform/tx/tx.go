package tx

import (
	"context"
	"database/sql"
	"sync"
)

type ctxKey struct{}
type journalKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Journal records compensating actions for in-memory stores taking part in a
// unit of work. Undo runs them in reverse registration order.
type Journal struct {
	mu    sync.Mutex
	undos []func()
}

// WithJournal attaches a fresh journal to ctx.
func WithJournal(ctx context.Context) (context.Context, *Journal) {
	j := &Journal{}
	return context.WithValue(ctx, journalKey{}, j), j
}

// OnRollback registers undo on the journal carried by ctx. Outside a unit of
// work it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*Journal); ok {
		j.mu.Lock()
		j.undos = append(j.undos, undo)
		j.mu.Unlock()
	}
}

// Undo runs registered compensations newest first and clears the journal.
func (j *Journal) Undo() {
	j.mu.Lock()
	undos := j.undos
	j.undos = nil
	j.mu.Unlock()
	for i := len(undos) - 1; i >= 0; i-- {
		undos[i]()
	}
}
