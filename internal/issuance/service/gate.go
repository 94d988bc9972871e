// Package service implements certificate issuance: institution and quota
// preconditions, content addressing, and the create-and-count unit of work.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/certificate/models"
	content "certledger/internal/content"
	issuancemetrics "certledger/internal/issuance/metrics"
	quotamodels "certledger/internal/quota/models"
	quotaservice "certledger/internal/quota/service"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/upstream"
	"certledger/pkg/requestcontext"
)

// CertificateStore is the write side of the certificate store used here.
type CertificateStore interface {
	Create(ctx context.Context, cert *models.Certificate) (*models.Certificate, error)
}

// UsageTracker resolves plans and records usage.
type UsageTracker interface {
	Plan(ctx context.Context, planID id.PlanID) (*quotamodels.Plan, error)
	Usage(ctx context.Context, institutionID id.InstitutionID) (*quotamodels.UsagePeriod, error)
	Increment(ctx context.Context, institutionID id.InstitutionID, metric quotamodels.Metric, amount int64) (*quotamodels.UsagePeriod, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Gate issues certificates.
type Gate struct {
	certs    CertificateStore
	content  content.Addresser
	quota    UsageTracker
	tx       StoreTx
	auditor  AuditPublisher
	logger   *slog.Logger
	metrics  *issuancemetrics.Metrics
	tracer   trace.Tracer
	validate *validator.Validate
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithStoreTx(tx StoreTx) Option {
	return func(g *Gate) {
		g.tx = tx
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(g *Gate) {
		g.auditor = p
	}
}

func WithMetrics(m *issuancemetrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func New(certs CertificateStore, addresser content.Addresser, quota UsageTracker, opts ...Option) (*Gate, error) {
	if certs == nil {
		return nil, errors.New("certificate store is required")
	}
	if addresser == nil {
		return nil, errors.New("content addresser is required")
	}
	if quota == nil {
		return nil, errors.New("usage tracker is required")
	}
	g := &Gate{
		certs:    certs,
		content:  addresser,
		quota:    quota,
		logger:   slog.Default(),
		tracer:   otel.Tracer("certledger/issuance"),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tx == nil {
		g.tx = NewInMemoryTx()
	}
	return g, nil
}

// IssueForSession loads the institution's plan and current usage, then issues.
func (g *Gate) IssueForSession(ctx context.Context, inst requestcontext.InstitutionSession, payload Payload, artifact Artifact) (*models.Certificate, error) {
	var plan *quotamodels.Plan
	if inst.HasActiveSubscription() {
		p, err := g.quota.Plan(ctx, inst.ActiveSubscriptionPlanID)
		if err != nil && !dErrors.HasCode(err, dErrors.CodeNoActiveSubscription) {
			return nil, err
		}
		plan = p
	}
	usage, err := g.quota.Usage(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	return g.Issue(ctx, inst, plan, usage, payload, artifact)
}

// Issue checks, in order: verification (or trial plan), active subscription,
// quota, payload fields, artifact. On success the artifact is uploaded once
// and the certificate is created and counted in one unit of work.
func (g *Gate) Issue(
	ctx context.Context,
	inst requestcontext.InstitutionSession,
	plan *quotamodels.Plan,
	usage *quotamodels.UsagePeriod,
	payload Payload,
	artifact Artifact,
) (*models.Certificate, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "issuance.Issue",
		trace.WithAttributes(attribute.String("institution_id", inst.ID.String())))
	defer span.End()
	if _, ok := requestcontext.Institution(ctx); !ok {
		ctx = requestcontext.WithInstitution(ctx, inst)
	}

	cert, err := g.issue(ctx, inst, plan, usage, payload, artifact)
	if err != nil {
		code := dErrors.CodeOf(err)
		g.metrics.IncrementRejected(string(code))
		span.SetStatus(codes.Error, string(code))
		g.logger.InfoContext(ctx, "certificate issuance rejected",
			"request_id", requestcontext.RequestID(ctx),
			"institution_id", inst.ID,
			"code", code,
			"error", err,
		)
		return nil, err
	}

	g.metrics.IncrementIssued()
	g.metrics.ObserveIssue(start)
	span.SetAttributes(attribute.String("certificate_id", cert.ID.String()))
	g.logger.InfoContext(ctx, "certificate issued",
		"event", string(audit.EventCertificateIssued),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"institution_id", inst.ID,
		"certificate_id", cert.ID,
	)
	return cert, nil
}

func (g *Gate) issue(
	ctx context.Context,
	inst requestcontext.InstitutionSession,
	plan *quotamodels.Plan,
	usage *quotamodels.UsagePeriod,
	payload Payload,
	artifact Artifact,
) (*models.Certificate, error) {
	if !inst.IsVerified && (plan == nil || !plan.IsTrial) {
		return nil, dErrors.New(dErrors.CodeNotVerified, "institution is not verified")
	}
	if !inst.HasActiveSubscription() || plan == nil {
		return nil, dErrors.New(dErrors.CodeNoActiveSubscription, "institution has no active subscription")
	}
	if decision := quotaservice.CheckLimit(plan, usage); !decision.Allowed {
		g.emitQuotaExceeded(ctx, inst.ID, decision.Reason)
		return nil, dErrors.New(dErrors.CodeQuotaExceeded, decision.Reason)
	}

	draft, err := g.draft(payload)
	if err != nil {
		return nil, err
	}
	draft.IssuerID = inst.ID
	draft.IssuerName = inst.Name

	if len(artifact.Data) == 0 {
		return nil, dErrors.New(dErrors.CodeMissingArtifact, "certificate artifact is required")
	}

	hash, err := g.content.Upload(ctx, artifact.Data, artifact.Filename)
	if err != nil {
		if upstream.IsRetryable(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeContentUnavailable, "content storage unavailable")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate artifact")
	}

	cert, err := models.NewCertificate(draft, hash, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build certificate")
	}

	var created *models.Certificate
	err = g.tx.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := g.certs.Create(txCtx, cert)
		if err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "a certificate with this content already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to store certificate")
		}
		if err := g.count(txCtx, plan, inst.ID, quotamodels.MetricCertificates, 1); err != nil {
			return err
		}
		if err := g.count(txCtx, plan, inst.ID, quotamodels.MetricStorageBytes, int64(len(artifact.Data))); err != nil {
			return err
		}
		if g.auditor != nil {
			if err := g.auditor.Emit(txCtx, audit.Event{
				Action:        string(audit.EventCertificateIssued),
				InstitutionID: inst.ID,
				CertificateID: c.ID,
				Subject:       c.StudentAddress.String(),
				ActorID:       inst.ID.String(),
			}); err != nil {
				return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to record issuance")
			}
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// count increments one metric and re-checks the limit against the total
// before this increment, so concurrent issuers cannot overshoot.
func (g *Gate) count(ctx context.Context, plan *quotamodels.Plan, instID id.InstitutionID, metric quotamodels.Metric, amount int64) error {
	u, err := g.quota.Increment(ctx, instID, metric, amount)
	if err != nil {
		return err
	}
	limit := plan.Limit(metric)
	if limit != quotamodels.Unlimited && u.Value(metric)-amount >= limit {
		reason := quotamodels.ReasonCertificateLimit
		if metric == quotamodels.MetricStorageBytes {
			reason = quotamodels.ReasonStorageLimit
		}
		return dErrors.New(dErrors.CodeQuotaExceeded, reason)
	}
	return nil
}

func (g *Gate) emitQuotaExceeded(ctx context.Context, instID id.InstitutionID, reason string) {
	if g.auditor == nil {
		return
	}
	if err := g.auditor.Emit(ctx, audit.Event{
		Action:        string(audit.EventQuotaExceeded),
		InstitutionID: instID,
		Reason:        reason,
	}); err != nil {
		g.logger.WarnContext(ctx, "failed to audit quota rejection",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}
