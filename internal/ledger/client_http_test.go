package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/upstream"
)

const owner = "0x52908400098527886e0f7030069857d2e4169ee7"

func TestHTTPClient_Mint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/tokens", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, owner, body["to"])
		assert.Equal(t, "QmHash", body["contentHash"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"tokenId":"7","txHash":"0xabc"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", time.Second)
	receipt, err := c.Mint(context.Background(), MintRequest{
		StudentAddress: id.WalletAddress(owner),
		StudentName:    "Ada",
		CourseName:     "Go",
		ContentHash:    "QmHash",
	})
	require.NoError(t, err)
	assert.Equal(t, id.TokenID("7"), receipt.TokenID)
	assert.Equal(t, "0xabc", receipt.TxHash)
}

func TestHTTPClient_MintIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.Mint(context.Background(), MintRequest{StudentAddress: id.WalletAddress(owner), ContentHash: "QmHash"})
	require.Error(t, err)
	assert.True(t, upstream.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_GetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/v1/tokens/7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tokenId":"7","owner":"0x52908400098527886E0F7030069857D2E4169EE7","contentHash":"QmHash","isValid":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	tok, err := c.Get(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, id.WalletAddress(owner), tok.Owner)
	assert.True(t, tok.IsValid)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		category upstream.ErrorCategory
	}{
		{"missing token", http.StatusNotFound, upstream.ErrorNotFound},
		{"bad key", http.StatusUnauthorized, upstream.ErrorAuthentication},
		{"rejected", http.StatusBadRequest, upstream.ErrorRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "", time.Second)
			_, err := c.FindByContentHash(context.Background(), "QmHash")
			require.Error(t, err)
			assert.Equal(t, tt.category, upstream.GetCategory(err))
		})
	}
}

func TestHTTPClient_BadTokenPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tokenId":"7","owner":"nobody"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.Get(context.Background(), "7")
	require.Error(t, err)
	assert.Equal(t, upstream.ErrorBadData, upstream.GetCategory(err))
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, "", 200*time.Millisecond)
	_, err := c.Revoke(context.Background(), "7")
	require.Error(t, err)
	assert.True(t, upstream.IsRetryable(err))
}
