// Package service binds issued certificates to ledger tokens.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	"certledger/internal/minting/lock"
	mintmetrics "certledger/internal/minting/metrics"
	"certledger/internal/reconcile"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/upstream"
	"certledger/pkg/requestcontext"
)

const (
	defaultBindAttempts = 3
	defaultBindBackoff  = 50 * time.Millisecond
	defaultBindTimeout  = 5 * time.Second
)

// CertificateStore is the part of the certificate store minting needs.
type CertificateStore interface {
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	BindToken(ctx context.Context, certID id.CertificateID, binding models.Binding) (*models.Certificate, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Result is a successful mint.
type Result struct {
	Certificate *models.Certificate
	TokenID     id.TokenID
	TxHash      string
}

// Binder mints a ledger token for a certificate and binds it exactly once.
type Binder struct {
	certs   CertificateStore
	ledger  ledger.Client
	locker  lock.Locker
	pending reconcile.Queue
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *mintmetrics.Metrics
	tracer  trace.Tracer

	bindAttempts int
	bindBackoff  time.Duration
	bindTimeout  time.Duration
}

type Option func(*Binder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Binder) {
		b.logger = logger
	}
}

// WithLocker replaces the process-local mint lock, e.g. with a Redis lease.
func WithLocker(l lock.Locker) Option {
	return func(b *Binder) {
		b.locker = l
	}
}

func WithPendingQueue(q reconcile.Queue) Option {
	return func(b *Binder) {
		b.pending = q
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(b *Binder) {
		b.auditor = p
	}
}

func WithMetrics(m *mintmetrics.Metrics) Option {
	return func(b *Binder) {
		b.metrics = m
	}
}

// WithBindRetry sets how many times a store bind is attempted after a
// successful ledger mint, and the backoff before the first retry. The
// backoff doubles per attempt.
func WithBindRetry(attempts int, backoff time.Duration) Option {
	return func(b *Binder) {
		if attempts > 0 {
			b.bindAttempts = attempts
		}
		if backoff > 0 {
			b.bindBackoff = backoff
		}
	}
}

func New(certs CertificateStore, client ledger.Client, opts ...Option) (*Binder, error) {
	if certs == nil {
		return nil, errors.New("certificate store is required")
	}
	if client == nil {
		return nil, errors.New("ledger client is required")
	}
	b := &Binder{
		certs:        certs,
		ledger:       client,
		logger:       slog.Default(),
		tracer:       otel.Tracer("certledger/minting"),
		bindAttempts: defaultBindAttempts,
		bindBackoff:  defaultBindBackoff,
		bindTimeout:  defaultBindTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.locker == nil {
		b.locker = lock.NewKeyedLocker()
	}
	return b, nil
}

// Mint checks the certificate under its mint lock, mints on the ledger and
// binds the returned token.
func (b *Binder) Mint(ctx context.Context, certID id.CertificateID, walletAddress string) (*Result, error) {
	ctx, span := b.tracer.Start(ctx, "minting.Mint",
		trace.WithAttributes(attribute.String("certificate_id", certID.String())))
	defer span.End()

	res, err := b.mint(ctx, certID, walletAddress)
	if err != nil {
		code := dErrors.CodeOf(err)
		b.metrics.IncrementMintFailure(string(code))
		span.SetStatus(codes.Error, string(code))
		b.logger.InfoContext(ctx, "certificate mint failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_id", certID,
			"code", code,
			"error", err,
		)
		return nil, err
	}

	b.metrics.IncrementMinted()
	span.SetAttributes(attribute.String("token_id", res.TokenID.String()))
	b.logger.InfoContext(ctx, "certificate minted",
		"event", string(audit.EventCertificateMinted),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", certID,
		"token_id", res.TokenID,
	)
	return res, nil
}

func (b *Binder) mint(ctx context.Context, certID id.CertificateID, walletAddress string) (*Result, error) {
	wallet, err := id.ParseWalletAddress(walletAddress)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid wallet address")
	}

	release, err := b.locker.Acquire(ctx, certID.String())
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, dErrors.New(dErrors.CodeConflict, "a mint for this certificate is already in progress")
		}
		if ctx.Err() != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "timed out waiting for mint lock")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to acquire mint lock")
	}
	defer release()

	cert, err := b.certs.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load certificate")
	}
	if err := cert.CanBind(wallet); err != nil {
		if errors.Is(err, models.ErrAlreadyMinted) {
			return nil, dErrors.New(dErrors.CodeAlreadyMinted, "certificate is already minted")
		}
		b.emit(ctx, audit.Event{
			Action:        string(audit.EventAddressDenied),
			InstitutionID: cert.IssuerID,
			CertificateID: cert.ID,
			Subject:       wallet.String(),
			Reason:        "wallet address does not match certificate owner",
		})
		return nil, dErrors.New(dErrors.CodeAddressMismatch, "wallet address does not match certificate owner")
	}

	start := time.Now()
	receipt, err := b.ledger.Mint(ctx, ledger.MintRequest{
		StudentAddress: cert.StudentAddress,
		StudentName:    cert.StudentName,
		CourseName:     cert.CourseName,
		ContentHash:    cert.ContentHash,
	})
	b.metrics.ObserveLedgerMint(start)
	if err != nil {
		if upstream.IsRetryable(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger rejected the mint")
	}

	binding := models.Binding{
		TokenID:  receipt.TokenID,
		MintedTo: cert.StudentAddress,
		MintedAt: requestcontext.Now(ctx),
		TxHash:   receipt.TxHash,
	}
	// The token exists on the ledger now; the bind must not be abandoned
	// because the caller went away.
	bindCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.bindTimeout)
	defer cancel()

	bound, err := b.bindWithRetry(bindCtx, certID, binding)
	if err != nil {
		return nil, err
	}

	b.emit(bindCtx, audit.Event{
		Action:        string(audit.EventCertificateMinted),
		InstitutionID: bound.IssuerID,
		CertificateID: bound.ID,
		TokenID:       receipt.TokenID,
		Subject:       bound.StudentAddress.String(),
	})
	return &Result{Certificate: bound, TokenID: receipt.TokenID, TxHash: receipt.TxHash}, nil
}

func (b *Binder) bindWithRetry(ctx context.Context, certID id.CertificateID, binding models.Binding) (*models.Certificate, error) {
	backoff := b.bindBackoff
	var lastErr error
	for attempt := 0; attempt < b.bindAttempts; attempt++ {
		if attempt > 0 {
			b.metrics.IncrementBindRetry()
			select {
			case <-ctx.Done():
				return nil, b.deferBind(ctx, certID, binding, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		bound, err := b.certs.BindToken(ctx, certID, binding)
		if err == nil {
			return bound, nil
		}
		switch {
		case errors.Is(err, models.ErrAlreadyMinted):
			return b.alreadyBound(ctx, certID, binding)
		case errors.Is(err, sentinel.ErrConflict):
			b.orphan(ctx, certID, binding, "token already bound to another certificate")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "minted token is bound to another certificate")
		case errors.Is(err, models.ErrAddressMismatch), errors.Is(err, sentinel.ErrNotFound):
			b.orphan(ctx, certID, binding, err.Error())
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "certificate changed during mint")
		}
		lastErr = err
		b.logger.WarnContext(ctx, "bind after mint failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_id", certID,
			"token_id", binding.TokenID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, b.deferBind(ctx, certID, binding, lastErr)
}

// alreadyBound resolves a bind that lost to an earlier one. The same token is
// an idempotent replay; a different token leaves ours orphaned.
func (b *Binder) alreadyBound(ctx context.Context, certID id.CertificateID, binding models.Binding) (*models.Certificate, error) {
	current, err := b.certs.FindByID(ctx, certID)
	if err != nil {
		return nil, b.deferBind(ctx, certID, binding, err)
	}
	if current.TokenID() == binding.TokenID {
		return current, nil
	}
	b.orphan(ctx, certID, binding, "certificate already bound to token "+current.TokenID().String())
	return nil, dErrors.New(dErrors.CodeAlreadyMinted, "certificate is already minted")
}

// deferBind hands the minted token to the reconciliation queue. The returned
// error always names the token so the caller can reconcile by hand.
func (b *Binder) deferBind(ctx context.Context, certID id.CertificateID, binding models.Binding, cause error) error {
	msg := "certificate minted as token " + binding.TokenID.String() + " but not yet recorded"
	if b.pending == nil {
		b.orphan(ctx, certID, binding, "bind failed and no reconciliation queue is configured")
		return dErrors.Wrap(cause, dErrors.CodeStoreUnavailable, msg)
	}
	err := b.pending.Enqueue(ctx, reconcile.PendingBind{
		CertificateID: certID,
		TokenID:       binding.TokenID,
		WalletAddress: binding.MintedTo,
		TxHash:        binding.TxHash,
		MintedAt:      binding.MintedAt,
	})
	if err != nil {
		b.orphan(ctx, certID, binding, "bind failed and reconciliation enqueue failed: "+err.Error())
		return dErrors.Wrap(cause, dErrors.CodeStoreUnavailable, msg)
	}
	b.metrics.IncrementBindDeferred()
	b.logger.WarnContext(ctx, "bind deferred to reconciliation",
		"event", string(audit.EventBindDeferred),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", certID,
		"token_id", binding.TokenID,
	)
	b.emit(ctx, audit.Event{
		Action:        string(audit.EventBindDeferred),
		CertificateID: certID,
		TokenID:       binding.TokenID,
		Reason:        errString(cause),
	})
	return dErrors.Wrap(cause, dErrors.CodeStoreUnavailable, msg)
}

func (b *Binder) orphan(ctx context.Context, certID id.CertificateID, binding models.Binding, reason string) {
	b.logger.ErrorContext(ctx, "orphaned ledger token",
		"event", string(audit.EventMintOrphaned),
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", certID,
		"token_id", binding.TokenID,
		"reason", reason,
	)
	b.emit(ctx, audit.Event{
		Action:        string(audit.EventMintOrphaned),
		CertificateID: certID,
		TokenID:       binding.TokenID,
		Reason:        reason,
	})
}

// emit is best effort: minting has already happened on the ledger and
// cannot be rolled back by an audit failure.
func (b *Binder) emit(ctx context.Context, event audit.Event) {
	if b.auditor == nil {
		return
	}
	if err := b.auditor.Emit(ctx, event); err != nil {
		b.logger.WarnContext(ctx, "failed to audit mint event",
			"request_id", requestcontext.RequestID(ctx),
			"action", event.Action,
			"error", err,
		)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
