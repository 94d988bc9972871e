// Package service answers "is this certificate valid" by combining the
// certificate store with the ledger.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	verifymetrics "certledger/internal/verification/metrics"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/circuit"
	"certledger/pkg/platform/middleware/metadata"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/upstream"
	"certledger/pkg/requestcontext"
)

const defaultLedgerTimeout = 2 * time.Second

// errBreakerOpen is returned for ledger reads skipped by the open circuit.
var errBreakerOpen = upstream.NewError(upstream.ErrorOutage, "ledger", "circuit open", nil)

// CertificateLookup is the read side of the certificate store.
type CertificateLookup interface {
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	FindByContentHash(ctx context.Context, hash id.ContentHash) (*models.Certificate, error)
	FindByToken(ctx context.Context, tokenID id.TokenID) (*models.Certificate, error)
}

// Engine verifies certificates. It is safe for concurrent use.
type Engine struct {
	certs         CertificateLookup
	ledger        ledger.Client
	breaker       *circuit.Breaker
	group         singleflight.Group
	ledgerTimeout time.Duration
	logger        *slog.Logger
	metrics       *verifymetrics.Metrics
	tracer        trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *verifymetrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLedgerTimeout bounds each ledger read.
func WithLedgerTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ledgerTimeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(e *Engine) {
		e.breaker = b
	}
}

func New(certs CertificateLookup, client ledger.Client, opts ...Option) (*Engine, error) {
	if certs == nil {
		return nil, errors.New("certificate lookup is required")
	}
	if client == nil {
		return nil, errors.New("ledger client is required")
	}
	e := &Engine{
		certs:         certs,
		ledger:        client,
		ledgerTimeout: defaultLedgerTimeout,
		logger:        slog.Default(),
		tracer:        otel.Tracer("certledger/verification"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = circuit.New("ledger")
	}
	return e, nil
}

// Verify resolves identifier as kind and merges the store record with the
// ledger. A store hit never fails because of the ledger.
func (e *Engine) Verify(ctx context.Context, identifier string, kind Kind) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "verification.Verify",
		trace.WithAttributes(attribute.String("kind", string(kind))))
	defer span.End()

	res, err := e.verify(ctx, identifier, kind)
	if err != nil {
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("source", string(res.Source)),
		attribute.Bool("valid", res.Valid),
		attribute.Bool("degraded", res.Degraded),
	)
	e.metrics.IncrementResult(string(res.Source), res.Valid, metadata.ClientKind(requestcontext.UserAgent(ctx)))
	if res.Discrepancy != "" {
		e.logger.WarnContext(ctx, "store and ledger disagree",
			"request_id", requestcontext.RequestID(ctx),
			"identifier", identifier,
			"discrepancy", res.Discrepancy,
		)
	}
	return res, nil
}

func (e *Engine) verify(ctx context.Context, identifier string, kind Kind) (*Result, error) {
	identifier = strings.TrimSpace(identifier)
	cert, err := e.lookup(ctx, identifier, kind)
	if err != nil {
		return nil, err
	}

	if cert != nil {
		if !cert.IsMinted() {
			return &Result{Valid: cert.IsValid, Source: SourceBackend, Certificate: cert}, nil
		}
		token, err := e.getToken(ctx, cert.TokenID())
		switch {
		case err == nil:
			return merge(cert, token), nil
		case upstream.IsNotFound(err):
			return &Result{
				Valid:       false,
				Source:      SourceBoth,
				Certificate: cert,
				Discrepancy: DiscrepancyTokenMissing,
			}, nil
		default:
			e.metrics.IncrementDegraded()
			e.logger.WarnContext(ctx, "ledger unavailable, answering from store",
				"request_id", requestcontext.RequestID(ctx),
				"certificate_id", cert.ID,
				"error", err,
			)
			return &Result{Valid: cert.IsValid, Source: SourceBackend, Certificate: cert, Degraded: true}, nil
		}
	}

	var token *ledger.Token
	switch kind {
	case KindTokenID:
		token, err = e.getToken(ctx, id.TokenID(identifier))
	case KindContentHash:
		token, err = e.findByHash(ctx, id.ContentHash(identifier))
	default:
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		if upstream.IsNotFound(err) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable and no local record")
	}
	return &Result{Valid: token.IsValid, Source: SourceBlockchain, Ledger: token}, nil
}

// lookup returns nil without error when the store has no record.
func (e *Engine) lookup(ctx context.Context, identifier string, kind Kind) (*models.Certificate, error) {
	var (
		cert *models.Certificate
		err  error
	)
	switch kind {
	case KindID:
		certID, perr := id.ParseCertificateID(identifier)
		if perr != nil {
			return nil, dErrors.Wrap(perr, dErrors.CodeValidation, "invalid certificate id")
		}
		cert, err = e.certs.FindByID(ctx, certID)
	case KindTokenID:
		tokenID, perr := id.ParseTokenID(identifier)
		if perr != nil {
			return nil, dErrors.Wrap(perr, dErrors.CodeValidation, "invalid token id")
		}
		cert, err = e.certs.FindByToken(ctx, tokenID)
	case KindContentHash:
		hash, perr := id.ParseContentHash(identifier)
		if perr != nil {
			return nil, dErrors.Wrap(perr, dErrors.CodeValidation, "invalid content hash")
		}
		cert, err = e.certs.FindByContentHash(ctx, hash)
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "kind must be one of id, contentHash, tokenId")
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to load certificate")
	}
	return cert, nil
}

func (e *Engine) getToken(ctx context.Context, tokenID id.TokenID) (*ledger.Token, error) {
	return e.read(ctx, "get", "get:"+tokenID.String(), func(ctx context.Context) (*ledger.Token, error) {
		return e.ledger.Get(ctx, tokenID)
	})
}

func (e *Engine) findByHash(ctx context.Context, hash id.ContentHash) (*ledger.Token, error) {
	return e.read(ctx, "find_by_content_hash", "hash:"+hash.String(), func(ctx context.Context) (*ledger.Token, error) {
		return e.ledger.FindByContentHash(ctx, hash)
	})
}

// read runs one ledger read behind the breaker. Concurrent reads of the same
// key share a single call, which runs detached from any one caller's
// cancellation and is bounded by the ledger timeout.
func (e *Engine) read(ctx context.Context, op, key string, fn func(context.Context) (*ledger.Token, error)) (*ledger.Token, error) {
	if !e.breaker.Allow() {
		return nil, errBreakerOpen
	}
	ch := e.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.ledgerTimeout)
		defer cancel()
		start := time.Now()
		token, err := fn(callCtx)
		e.metrics.ObserveLedgerRead(op, start)
		e.record(ctx, err)
		return token, err
	})
	select {
	case <-ctx.Done():
		return nil, upstream.FromTransport("ledger", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*ledger.Token), nil
	}
}

// record feeds the breaker. Only retryable failures count against the
// ledger; a missing token is a healthy answer.
func (e *Engine) record(ctx context.Context, err error) {
	if err != nil && upstream.IsRetryable(err) {
		if _, change := e.breaker.RecordFailure(); change.Opened {
			e.metrics.IncrementBreakerOpened()
			e.logger.WarnContext(ctx, "ledger circuit opened", "breaker", e.breaker.Name())
		}
		return
	}
	if _, change := e.breaker.RecordSuccess(); change.Closed {
		e.logger.InfoContext(ctx, "ledger circuit closed", "breaker", e.breaker.Name())
	}
}
