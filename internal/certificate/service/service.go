// Package service exposes certificate reads, wallet listings, revocation and
// the issuing institution's usage view.
package service

import (
	"context"
	"errors"
	"log/slog"

	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	quotamodels "certledger/internal/quota/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/upstream"
	"certledger/pkg/requestcontext"
)

// Store is the part of the certificate store this service uses.
type Store interface {
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	FindByOwner(ctx context.Context, owner id.WalletAddress) ([]*models.Certificate, error)
	Revoke(ctx context.Context, certID id.CertificateID, actor string) (*models.Certificate, bool, error)
}

// UsageReader resolves plans and current usage.
type UsageReader interface {
	Plan(ctx context.Context, planID id.PlanID) (*quotamodels.Plan, error)
	Usage(ctx context.Context, institutionID id.InstitutionID) (*quotamodels.UsagePeriod, error)
}

// StoreTx runs fn as one unit of work.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RevokeResult is a completed revocation. LedgerTxHash is set when the
// revocation was also written to the ledger; LedgerError carries a
// client-safe reason when that write failed.
type RevokeResult struct {
	Certificate  *models.Certificate
	LedgerTxHash string
	LedgerError  string
}

// UsageView is the institution's current period together with its plan.
type UsageView struct {
	Usage *quotamodels.UsagePeriod
	Plan  *quotamodels.Plan
}

type Service struct {
	certs   Store
	ledger  ledger.Client
	usage   UsageReader
	tx      StoreTx
	auditor AuditPublisher
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithLedger enables propagating revocations to the ledger.
func WithLedger(client ledger.Client) Option {
	return func(s *Service) {
		s.ledger = client
	}
}

func WithUsageReader(u UsageReader) Option {
	return func(s *Service) {
		s.usage = u
	}
}

func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func New(certs Store, opts ...Option) (*Service, error) {
	if certs == nil {
		return nil, errors.New("certificate store is required")
	}
	s := &Service{certs: certs, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	cert, err := s.certs.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load certificate")
	}
	return cert, nil
}

// ListByWallet returns every certificate issued to address, newest first.
func (s *Service) ListByWallet(ctx context.Context, address string) ([]*models.Certificate, error) {
	wallet, err := id.ParseWalletAddress(address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid wallet address")
	}
	certs, err := s.certs.FindByOwner(ctx, wallet)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to list certificates")
	}
	return certs, nil
}

// Revoke invalidates a certificate on behalf of its issuer. Revocation is
// one-way and idempotent; repeating it returns the stored record and writes
// nothing.
func (s *Service) Revoke(ctx context.Context, inst requestcontext.InstitutionSession, certID id.CertificateID, reason string, propagate bool) (*RevokeResult, error) {
	cert, err := s.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.IssuerID != inst.ID {
		s.emitBestEffort(ctx, audit.Event{
			Action:        string(audit.EventRevokeDenied),
			InstitutionID: inst.ID,
			CertificateID: cert.ID,
			Reason:        "institution is not the issuer",
			ActorID:       inst.ID.String(),
		})
		return nil, dErrors.New(dErrors.CodeForbidden, "only the issuing institution may revoke a certificate")
	}
	if !cert.IsValid {
		return &RevokeResult{Certificate: cert}, nil
	}

	var (
		revoked *models.Certificate
		changed bool
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		c, ok, err := s.certs.Revoke(txCtx, certID, inst.ID.String())
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "certificate not found")
			}
			return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to revoke certificate")
		}
		revoked, changed = c, ok
		if !ok {
			return nil
		}
		if s.auditor != nil {
			if err := s.auditor.Emit(txCtx, audit.Event{
				Action:        string(audit.EventCertificateRevoked),
				InstitutionID: inst.ID,
				CertificateID: c.ID,
				TokenID:       c.TokenID(),
				Subject:       c.StudentAddress.String(),
				Reason:        reason,
				ActorID:       inst.ID.String(),
			}); err != nil {
				return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to record revocation")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return &RevokeResult{Certificate: revoked}, nil
	}

	s.logger.InfoContext(ctx, "certificate revoked",
		"event", string(audit.EventCertificateRevoked),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"institution_id", inst.ID,
		"certificate_id", certID,
	)

	res := &RevokeResult{Certificate: revoked}
	if propagate && revoked.IsMinted() {
		s.propagate(ctx, revoked, res)
	}
	return res, nil
}

// propagate writes the revocation to the ledger. The off-chain revocation
// already stands, and verification ANDs both sides, so a ledger failure is
// reported rather than returned.
func (s *Service) propagate(ctx context.Context, cert *models.Certificate, res *RevokeResult) {
	if s.ledger == nil {
		res.LedgerError = "ledger revocation is not configured"
		return
	}
	txHash, err := s.ledger.Revoke(ctx, cert.TokenID())
	if err != nil {
		s.logger.WarnContext(ctx, "ledger revocation failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_id", cert.ID,
			"token_id", cert.TokenID(),
			"error", err,
		)
		if upstream.IsRetryable(err) {
			res.LedgerError = "ledger unavailable"
		} else {
			res.LedgerError = "ledger rejected the revocation"
		}
		return
	}
	res.LedgerTxHash = txHash
}

// Usage returns the calling institution's usage and plan. Plan is nil when
// the institution has no active subscription.
func (s *Service) Usage(ctx context.Context, inst requestcontext.InstitutionSession) (*UsageView, error) {
	if s.usage == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "usage tracking is not configured")
	}
	u, err := s.usage.Usage(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	view := &UsageView{Usage: u}
	if inst.HasActiveSubscription() {
		plan, err := s.usage.Plan(ctx, inst.ActiveSubscriptionPlanID)
		if err != nil && !dErrors.HasCode(err, dErrors.CodeNoActiveSubscription) {
			return nil, err
		}
		view.Plan = plan
	}
	return view, nil
}

func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}

func (s *Service) emitBestEffort(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to audit certificate event",
			"request_id", requestcontext.RequestID(ctx),
			"action", event.Action,
			"error", err,
		)
	}
}
