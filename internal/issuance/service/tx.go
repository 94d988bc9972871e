package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	dErrors "certledger/pkg/domain-errors"
	txcontext "certledger/pkg/platform/tx"
	"certledger/pkg/requestcontext"
)

// StoreTx runs fn as one unit of work. Stores called with the ctx passed to
// fn take part in it.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	numIssuanceShards        = 64
	defaultIssuanceTxTimeout = 5 * time.Second
)

// shardedMemoryTx serialises units of work per institution and undoes
// in-memory writes through a rollback journal when fn fails.
type shardedMemoryTx struct {
	shards  [numIssuanceShards]sync.Mutex
	timeout time.Duration
}

// NewInMemoryTx returns the StoreTx used with the in-memory stores.
func NewInMemoryTx() StoreTx {
	return &shardedMemoryTx{timeout: defaultIssuanceTxTimeout}
}

func (t *shardedMemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	txCtx, journal := txcontext.WithJournal(ctx)
	defer func() {
		if p := recover(); p != nil {
			journal.Undo()
			panic(p)
		}
		if err != nil {
			journal.Undo()
		}
	}()
	return fn(txCtx)
}

func (t *shardedMemoryTx) selectShard(ctx context.Context) int {
	instID := requestcontext.InstitutionID(ctx)
	if instID.IsNil() {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(instID.String()))
	return int(h.Sum32() % numIssuanceShards)
}
