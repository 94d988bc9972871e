package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/upstream"
)

// InMemoryLedger is a process-local ledger for development and tests. It can
// be switched unavailable and given latency to exercise degraded paths.
type InMemoryLedger struct {
	mu          sync.Mutex
	next        uint64
	tokens      map[id.TokenID]*Token
	byHash      map[id.ContentHash]id.TokenID
	unavailable bool
	latency     time.Duration
	mints       int
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		tokens: make(map[id.TokenID]*Token),
		byHash: make(map[id.ContentHash]id.TokenID),
	}
}

// SetUnavailable makes every call fail with a retryable outage.
func (l *InMemoryLedger) SetUnavailable(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = down
}

// SetLatency delays every call, honouring context cancellation.
func (l *InMemoryLedger) SetLatency(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latency = d
}

// MintCount reports how many mints succeeded.
func (l *InMemoryLedger) MintCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mints
}

// SetValid flips a token's validity directly, as an on-ledger revocation by
// another party would.
func (l *InMemoryLedger) SetValid(tokenID id.TokenID, valid bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.tokens[tokenID]; ok {
		t.IsValid = valid
	}
}

func (l *InMemoryLedger) Mint(ctx context.Context, req MintRequest) (*MintReceipt, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	tokenID := id.TokenID(strconv.FormatUint(l.next, 10))
	txHash := fakeTxHash(tokenID, req.ContentHash)
	l.tokens[tokenID] = &Token{
		TokenID:     tokenID,
		Owner:       req.StudentAddress,
		StudentName: req.StudentName,
		CourseName:  req.CourseName,
		ContentHash: req.ContentHash,
		IsValid:     true,
		MintedAt:    time.Now(),
		TxHash:      txHash,
	}
	l.byHash[req.ContentHash] = tokenID
	l.mints++
	return &MintReceipt{TokenID: tokenID, TxHash: txHash}, nil
}

func (l *InMemoryLedger) Get(ctx context.Context, tokenID id.TokenID) (*Token, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[tokenID]
	if !ok {
		return nil, upstream.NewError(upstream.ErrorNotFound, upstreamName, "token not found", nil)
	}
	cp := *t
	return &cp, nil
}

func (l *InMemoryLedger) FindByContentHash(ctx context.Context, hash id.ContentHash) (*Token, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	tokenID, ok := l.byHash[hash]
	l.mu.Unlock()
	if !ok {
		return nil, upstream.NewError(upstream.ErrorNotFound, upstreamName, "token not found", nil)
	}
	return l.Get(ctx, tokenID)
}

func (l *InMemoryLedger) Revoke(ctx context.Context, tokenID id.TokenID) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[tokenID]
	if !ok {
		return "", upstream.NewError(upstream.ErrorNotFound, upstreamName, "token not found", nil)
	}
	t.IsValid = false
	return fakeTxHash(tokenID, "revoke"), nil
}

func (l *InMemoryLedger) wait(ctx context.Context) error {
	l.mu.Lock()
	down, latency := l.unavailable, l.latency
	l.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return upstream.FromTransport(upstreamName, ctx.Err())
		case <-time.After(latency):
		}
	}
	if down {
		return upstream.NewError(upstream.ErrorOutage, upstreamName, "ledger unavailable", nil)
	}
	if err := ctx.Err(); err != nil {
		return upstream.FromTransport(upstreamName, err)
	}
	return nil
}

func fakeTxHash(tokenID id.TokenID, salt id.ContentHash) string {
	sum := sha256.Sum256([]byte(string(tokenID) + ":" + string(salt)))
	return "0x" + hex.EncodeToString(sum[:])
}
