package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	id "certledger/pkg/domain"
	audit "certledger/pkg/platform/audit"
	txcontext "certledger/pkg/platform/tx"
)

type record struct {
	event     audit.Event
	published bool
}

// InMemoryStore keeps events in insertion order. Inside a unit of work an
// append is undone on rollback, matching the outbox row in Postgres.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Category = audit.AuditEvent(event.Action).Category()

	s.mu.Lock()
	rec := &record{event: event}
	s.records = append(s.records, rec)
	s.mu.Unlock()

	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, r := range s.records {
			if r == rec {
				s.records = append(s.records[:i], s.records[i+1:]...)
				return
			}
		}
	})
	return nil
}

// ListAll returns every event, oldest first.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.event)
	}
	return out, nil
}

func (s *InMemoryStore) ListByCertificate(_ context.Context, certID id.CertificateID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, r := range s.records {
		if r.event.CertificateID == certID {
			out = append(out, r.event)
		}
	}
	return out, nil
}

// FetchUnpublished returns up to limit events not yet relayed.
func (s *InMemoryStore) FetchUnpublished(_ context.Context, limit int) ([]audit.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.OutboxEntry
	for _, r := range s.records {
		if r.published {
			continue
		}
		if len(out) == limit {
			break
		}
		body, err := json.Marshal(audit.NewPayload(r.event))
		if err != nil {
			return nil, fmt.Errorf("marshal audit payload: %w", err)
		}
		aggType, aggID := audit.Aggregate(r.event)
		out = append(out, audit.OutboxEntry{
			ID:            r.event.ID,
			AggregateType: aggType,
			AggregateID:   aggID,
			EventType:     r.event.Action,
			Payload:       body,
			CreatedAt:     r.event.Timestamp,
		})
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, i := range ids {
		set[i] = struct{}{}
	}
	for _, r := range s.records {
		if _, ok := set[r.event.ID]; ok {
			r.published = true
		}
	}
	return nil
}
