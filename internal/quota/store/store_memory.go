package store

import (
	"context"
	"sync"
	"time"

	"certledger/internal/quota/models"
	id "certledger/pkg/domain"
	txcontext "certledger/pkg/platform/tx"
)

// InMemoryUsageStore keeps one usage period per institution.
type InMemoryUsageStore struct {
	mu    sync.Mutex
	usage map[id.InstitutionID]*models.UsagePeriod
}

func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{usage: make(map[id.InstitutionID]*models.UsagePeriod)}
}

// Increment rolls the period over when expired, then adds amount. Inside a
// unit of work rollback subtracts amount again from the same period, so
// increments made outside the unit of work survive.
func (s *InMemoryUsageStore) Increment(ctx context.Context, institutionID id.InstitutionID, metric models.Metric, amount int64, now time.Time) (*models.UsagePeriod, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.UsagePeriod
	if prev, ok := s.usage[institutionID]; ok {
		current = prev.RolledOver(now)
	} else {
		current = models.NewUsagePeriod(institutionID, now)
	}
	current.Add(metric, amount)
	s.usage[institutionID] = current

	periodStart := current.PeriodStart
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.usage[institutionID]
		if !ok || !u.PeriodStart.Equal(periodStart) {
			return
		}
		u.Add(metric, -amount)
	})

	out := *current
	return &out, nil
}

// Get returns the period as seen at now. Institutions with no usage get an
// empty period starting at now.
func (s *InMemoryUsageStore) Get(_ context.Context, institutionID id.InstitutionID, now time.Time) (*models.UsagePeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[institutionID]
	if !ok {
		return models.NewUsagePeriod(institutionID, now), nil
	}
	return u.RolledOver(now), nil
}

// RollExpired resets every expired period and returns how many were reset.
func (s *InMemoryUsageStore) RollExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for instID, u := range s.usage {
		if u.Expired(now) {
			s.usage[instID] = u.RolledOver(now)
			n++
		}
	}
	return n, nil
}
