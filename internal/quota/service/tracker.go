package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"certledger/internal/quota/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// UsageStore persists per-institution usage periods.
type UsageStore interface {
	Increment(ctx context.Context, institutionID id.InstitutionID, metric models.Metric, amount int64, now time.Time) (*models.UsagePeriod, error)
	Get(ctx context.Context, institutionID id.InstitutionID, now time.Time) (*models.UsagePeriod, error)
	RollExpired(ctx context.Context, now time.Time) (int64, error)
}

// PlanCatalog resolves subscription plans.
type PlanCatalog interface {
	FindPlan(ctx context.Context, planID id.PlanID) (*models.Plan, error)
}

// Tracker tracks institution usage against plan limits.
type Tracker struct {
	usage  UsageStore
	plans  PlanCatalog
	logger *slog.Logger
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func New(usage UsageStore, plans PlanCatalog, opts ...Option) (*Tracker, error) {
	if usage == nil {
		return nil, errors.New("usage store is required")
	}
	if plans == nil {
		return nil, errors.New("plan catalog is required")
	}
	t := &Tracker{usage: usage, plans: plans}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Increment atomically adds amount to the metric and returns the new period.
// It joins the unit of work on ctx when there is one.
func (t *Tracker) Increment(ctx context.Context, institutionID id.InstitutionID, metric models.Metric, amount int64) (*models.UsagePeriod, error) {
	if !metric.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown usage metric %q", metric)
	}
	if amount < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "usage increment must not be negative")
	}
	u, err := t.usage.Increment(ctx, institutionID, metric, amount, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to record usage")
	}
	return u, nil
}

// Usage returns the institution's current period with rollover applied.
func (t *Tracker) Usage(ctx context.Context, institutionID id.InstitutionID) (*models.UsagePeriod, error) {
	u, err := t.usage.Get(ctx, institutionID, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load usage")
	}
	return u, nil
}

// Plan resolves a plan id. A missing plan is reported as NoActiveSubscription.
func (t *Tracker) Plan(ctx context.Context, planID id.PlanID) (*models.Plan, error) {
	if planID == "" {
		return nil, dErrors.New(dErrors.CodeNoActiveSubscription, "institution has no active subscription")
	}
	p, err := t.plans.FindPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNoActiveSubscription, "subscription plan is not active")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load plan")
	}
	return p, nil
}

// RollExpired resets every usage period whose end has passed.
func (t *Tracker) RollExpired(ctx context.Context) (int64, error) {
	n, err := t.usage.RollExpired(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to roll usage periods")
	}
	if n > 0 && t.logger != nil {
		t.logger.InfoContext(ctx, "usage periods rolled over", "count", n)
	}
	return n, nil
}

// CheckLimit allows issuance while both counters are strictly below their
// limits. Unlimited limits always pass.
func CheckLimit(plan *models.Plan, usage *models.UsagePeriod) models.Decision {
	if plan == nil {
		return models.Decision{Allowed: false, Reason: models.ReasonNoPlan}
	}
	if usage == nil {
		return models.Decision{Allowed: true}
	}
	if plan.CertificateLimit != models.Unlimited && usage.CertificatesIssued >= plan.CertificateLimit {
		return models.Decision{Allowed: false, Reason: models.ReasonCertificateLimit}
	}
	if plan.StorageLimitBytes != models.Unlimited && usage.StorageBytesUsed >= plan.StorageLimitBytes {
		return models.Decision{Allowed: false, Reason: models.ReasonStorageLimit}
	}
	return models.Decision{Allowed: true}
}
