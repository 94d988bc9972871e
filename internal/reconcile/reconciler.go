package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/upstream"
	"certledger/pkg/requestcontext"
)

// Reconciler binds a certificate to a token an operator names, after the
// ledger confirms the token belongs to that certificate.
type Reconciler struct {
	store   BindStore
	ledger  ledger.Client
	auditor AuditPublisher
	logger  *slog.Logger
}

func NewReconciler(store BindStore, client ledger.Client, auditor AuditPublisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, ledger: client, auditor: auditor, logger: logger}
}

// Reconcile is idempotent: a certificate already bound to tokenID is
// returned unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, certID id.CertificateID, tokenID id.TokenID) (*models.Certificate, error) {
	cert, err := r.store.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load certificate")
	}
	if cert.IsMinted() {
		if cert.TokenID() == tokenID {
			return cert, nil
		}
		return nil, dErrors.New(dErrors.CodeAlreadyMinted, "certificate is bound to a different token")
	}

	token, err := r.ledger.Get(ctx, tokenID)
	if err != nil {
		switch {
		case upstream.IsNotFound(err):
			return nil, dErrors.New(dErrors.CodeNotFound, "token not found on ledger")
		case upstream.IsRetryable(err):
			return nil, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read token")
		}
	}
	if token.ContentHash != cert.ContentHash || !id.SameAddress(token.Owner.String(), cert.StudentAddress.String()) {
		return nil, dErrors.New(dErrors.CodeConflict, "token does not match certificate")
	}

	mintedAt := token.MintedAt
	if mintedAt.IsZero() {
		mintedAt = requestcontext.Now(ctx)
	}
	bound, err := r.store.BindToken(ctx, certID, models.Binding{
		TokenID:  tokenID,
		MintedTo: cert.StudentAddress,
		MintedAt: mintedAt,
		TxHash:   token.TxHash,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAlreadyMinted):
			return r.store.FindByID(ctx, certID)
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "token is bound to another certificate")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to bind token")
		}
	}

	r.logger.InfoContext(ctx, "certificate reconciled",
		"event", string(audit.EventCertificateReconciled),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", certID,
		"token_id", tokenID,
	)
	if r.auditor != nil {
		if err := r.auditor.Emit(ctx, audit.Event{
			Action:        string(audit.EventCertificateReconciled),
			InstitutionID: bound.IssuerID,
			CertificateID: bound.ID,
			TokenID:       tokenID,
			Subject:       bound.StudentAddress.String(),
			ActorID:       "admin",
		}); err != nil {
			r.logger.WarnContext(ctx, "failed to audit reconciliation", "error", err)
		}
	}
	return bound, nil
}
