package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
)

// BindStore is the part of the certificate store reconciliation touches.
type BindStore interface {
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	BindToken(ctx context.Context, certID id.CertificateID, binding models.Binding) (*models.Certificate, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Worker completes pending binds. Handle returns an error only when the
// bind should be retried.
type Worker struct {
	store   BindStore
	auditor AuditPublisher
	logger  *slog.Logger
}

func NewWorker(store BindStore, auditor AuditPublisher, logger *slog.Logger) *Worker {
	return &Worker{store: store, auditor: auditor, logger: logger}
}

func (w *Worker) Handle(ctx context.Context, pb PendingBind) error {
	cert, err := w.store.BindToken(ctx, pb.CertificateID, models.Binding{
		TokenID:  pb.TokenID,
		MintedTo: pb.WalletAddress,
		MintedAt: pb.MintedAt,
		TxHash:   pb.TxHash,
	})
	switch {
	case err == nil:
		w.logger.InfoContext(ctx, "pending bind completed",
			"event", string(audit.EventCertificateReconciled),
			"log_type", "audit",
			"certificate_id", pb.CertificateID,
			"token_id", pb.TokenID,
		)
		w.emit(ctx, audit.Event{
			Action:        string(audit.EventCertificateReconciled),
			InstitutionID: cert.IssuerID,
			CertificateID: cert.ID,
			TokenID:       pb.TokenID,
			Subject:       cert.StudentAddress.String(),
			ActorID:       "reconcile-worker",
		})
		return nil

	case errors.Is(err, models.ErrAlreadyMinted):
		return w.alreadyMinted(ctx, pb)

	case errors.Is(err, sentinel.ErrNotFound):
		w.logger.ErrorContext(ctx, "pending bind for unknown certificate, dropping",
			"certificate_id", pb.CertificateID,
			"token_id", pb.TokenID,
		)
		return nil

	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, models.ErrAddressMismatch):
		w.orphan(ctx, pb, "", err.Error())
		return nil

	default:
		return err
	}
}

func (w *Worker) alreadyMinted(ctx context.Context, pb PendingBind) error {
	cert, err := w.store.FindByID(ctx, pb.CertificateID)
	if err != nil {
		return err
	}
	if cert.TokenID() == pb.TokenID {
		return nil
	}
	w.orphan(ctx, pb, cert.TokenID(), "certificate already bound to another token")
	return nil
}

func (w *Worker) orphan(ctx context.Context, pb PendingBind, bound id.TokenID, reason string) {
	w.logger.ErrorContext(ctx, "orphaned ledger token",
		"event", string(audit.EventMintOrphaned),
		"log_type", "audit",
		"certificate_id", pb.CertificateID,
		"token_id", pb.TokenID,
		"bound_token_id", bound,
		"reason", reason,
	)
	w.emit(ctx, audit.Event{
		Action:        string(audit.EventMintOrphaned),
		CertificateID: pb.CertificateID,
		TokenID:       pb.TokenID,
		Reason:        reason,
		ActorID:       "reconcile-worker",
	})
}

func (w *Worker) emit(ctx context.Context, event audit.Event) {
	if w.auditor == nil {
		return
	}
	if err := w.auditor.Emit(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "failed to audit reconciliation", "action", event.Action, "error", err)
	}
}
