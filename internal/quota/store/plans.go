package store

import (
	"context"
	"sync"

	"certledger/internal/quota/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// DefaultPlans mirrors the billing catalog's published tiers.
func DefaultPlans() []models.Plan {
	return []models.Plan{
		{ID: "trial", Name: "Trial", CertificateLimit: 10, StorageLimitBytes: 50 << 20, APICallLimit: 1_000, IsTrial: true},
		{ID: "basic", Name: "Basic", CertificateLimit: 100, StorageLimitBytes: 1 << 30, APICallLimit: 10_000},
		{ID: "pro", Name: "Pro", CertificateLimit: 1_000, StorageLimitBytes: 10 << 30, APICallLimit: 100_000},
		{ID: "enterprise", Name: "Enterprise", CertificateLimit: models.Unlimited, StorageLimitBytes: models.Unlimited, APICallLimit: models.Unlimited},
	}
}

// InMemoryPlanCatalog is a read-only lookup of plans by id.
type InMemoryPlanCatalog struct {
	mu    sync.RWMutex
	plans map[id.PlanID]models.Plan
}

func NewInMemoryPlanCatalog(plans ...models.Plan) *InMemoryPlanCatalog {
	c := &InMemoryPlanCatalog{plans: make(map[id.PlanID]models.Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.ID] = p
	}
	return c
}

func (c *InMemoryPlanCatalog) FindPlan(_ context.Context, planID id.PlanID) (*models.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[planID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}
