package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/platform/kafka/producer"
	id "certledger/pkg/domain"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/store/memory"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []producer.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msgs ...producer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func newWorker(store *memory.InMemoryStore, pub Publisher) *Worker {
	return NewWorker(store, pub, "certledger.audit", slog.New(slog.NewTextHandler(io.Discard, nil)), WithBatchSize(2))
}

func TestWorker_RelayOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	certID := id.CertificateID(uuid.New())
	for range 3 {
		require.NoError(t, store.Append(ctx, audit.Event{CertificateID: certID, Action: string(audit.EventCertificateIssued)}))
	}
	pub := &recordingPublisher{}
	w := newWorker(store, pub)

	n, err := w.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, pub.msgs, 3)
	msg := pub.msgs[0]
	assert.Equal(t, "certledger.audit", msg.Topic)
	assert.Equal(t, certID.String(), string(msg.Key))
	assert.Equal(t, "certificate_issued", msg.Headers["event_type"])

	var payload audit.Payload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, certID.String(), payload.CertificateID)
	assert.Equal(t, "compliance", payload.Category)
}

func TestWorker_PublishFailureKeepsRows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	require.NoError(t, store.Append(ctx, audit.Event{Action: string(audit.EventCertificateMinted)}))

	w := newWorker(store, &recordingPublisher{err: errors.New("broker down")})
	_, err := w.RelayOnce(ctx)
	require.Error(t, err)

	pending, err := store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
