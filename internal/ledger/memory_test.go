package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/upstream"
)

func TestInMemoryLedger_MintAndRead(t *testing.T) {
	l := NewInMemoryLedger()
	ctx := context.Background()

	r1, err := l.Mint(ctx, MintRequest{StudentAddress: id.WalletAddress(owner), ContentHash: "h1"})
	require.NoError(t, err)
	r2, err := l.Mint(ctx, MintRequest{StudentAddress: id.WalletAddress(owner), ContentHash: "h2"})
	require.NoError(t, err)
	assert.NotEqual(t, r1.TokenID, r2.TokenID)
	assert.Equal(t, 2, l.MintCount())

	tok, err := l.FindByContentHash(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, r2.TokenID, tok.TokenID)
	assert.True(t, tok.IsValid)

	_, err = l.Revoke(ctx, r1.TokenID)
	require.NoError(t, err)
	tok, err = l.Get(ctx, r1.TokenID)
	require.NoError(t, err)
	assert.False(t, tok.IsValid)
}

func TestInMemoryLedger_NotFound(t *testing.T) {
	l := NewInMemoryLedger()
	_, err := l.Get(context.Background(), "99")
	assert.True(t, upstream.IsNotFound(err))
}

func TestInMemoryLedger_Unavailable(t *testing.T) {
	l := NewInMemoryLedger()
	l.SetUnavailable(true)
	_, err := l.Mint(context.Background(), MintRequest{ContentHash: "h"})
	require.Error(t, err)
	assert.True(t, upstream.IsRetryable(err))
	assert.Zero(t, l.MintCount())
}

func TestInMemoryLedger_LatencyRespectsDeadline(t *testing.T) {
	l := NewInMemoryLedger()
	l.SetLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Get(ctx, "1")
	require.Error(t, err)
	assert.Equal(t, upstream.ErrorTimeout, upstream.GetCategory(err))
}
