// Package handler exposes the certificate HTTP API.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certledger/internal/certificate/models"
	certservice "certledger/internal/certificate/service"
	issuanceservice "certledger/internal/issuance/service"
	mintservice "certledger/internal/minting/service"
	verifyservice "certledger/internal/verification/service"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	adminmw "certledger/pkg/platform/middleware/admin"
	authmw "certledger/pkg/platform/middleware/auth"
	"certledger/pkg/requestcontext"
)

type Issuer interface {
	IssueForSession(ctx context.Context, inst requestcontext.InstitutionSession, payload issuanceservice.Payload, artifact issuanceservice.Artifact) (*models.Certificate, error)
}

type Minter interface {
	Mint(ctx context.Context, certID id.CertificateID, walletAddress string) (*mintservice.Result, error)
}

type Verifier interface {
	Verify(ctx context.Context, identifier string, kind verifyservice.Kind) (*verifyservice.Result, error)
}

type Certificates interface {
	Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	ListByWallet(ctx context.Context, address string) ([]*models.Certificate, error)
	Revoke(ctx context.Context, inst requestcontext.InstitutionSession, certID id.CertificateID, reason string, propagate bool) (*certservice.RevokeResult, error)
	Usage(ctx context.Context, inst requestcontext.InstitutionSession) (*certservice.UsageView, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, certID id.CertificateID, tokenID id.TokenID) (*models.Certificate, error)
}

// Handler serves certificate endpoints. Issue, revoke and usage require an
// institution session; reconcile requires the admin token.
type Handler struct {
	issuer     Issuer
	minter     Minter
	verifier   Verifier
	certs      Certificates
	reconciler Reconciler
	sessions   authmw.SessionValidator
	adminToken string
	logger     *slog.Logger

	sessionMiddleware []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithSessionMiddleware runs mws after authentication on every route that
// requires an institution session.
func WithSessionMiddleware(mws ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.sessionMiddleware = append(h.sessionMiddleware, mws...)
	}
}

func New(
	issuer Issuer,
	minter Minter,
	verifier Verifier,
	certs Certificates,
	reconciler Reconciler,
	sessions authmw.SessionValidator,
	adminToken string,
	logger *slog.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		issuer:     issuer,
		minter:     minter,
		verifier:   verifier,
		certs:      certs,
		reconciler: reconciler,
		sessions:   sessions,
		adminToken: adminToken,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) authenticated() []func(http.Handler) http.Handler {
	return append([]func(http.Handler) http.Handler{authmw.RequireInstitution(h.sessions, h.logger)}, h.sessionMiddleware...)
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/certificates", func(r chi.Router) {
		r.Get("/verify/{identifier}", h.handleVerify)
		r.Get("/wallet/{address}", h.handleListByWallet)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/mint", h.handleMint)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticated()...)
			r.Post("/issue", h.handleIssue)
			r.Post("/{id}/revoke", h.handleRevoke)
		})
	})

	r.With(h.authenticated()...).
		Get("/institutions/me/usage", h.handleUsage)

	r.With(adminmw.RequireAdminToken(h.adminToken, h.logger)).
		Post("/admin/certificates/{id}/reconcile", h.handleReconcile)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	inst, ok := h.institution(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.issuer.IssueForSession(ctx, inst, req.Payload, req.toArtifact())
	if err != nil {
		h.writeError(ctx, w, "issue certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, certificateEnvelope{Certificate: toCertificateResponse(cert)})
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[MintRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	res, err := h.minter.Mint(ctx, certID, req.WalletAddress)
	if err != nil {
		h.writeError(ctx, w, "mint certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMintResponse(res))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")
	kind, err := verifyservice.ParseKind(r.URL.Query().Get("kind"), identifier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.verifier.Verify(ctx, identifier, kind)
	if err != nil {
		h.writeError(ctx, w, "verify certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(res))
}

func (h *Handler) handleListByWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certs, err := h.certs.ListByWallet(ctx, chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(ctx, w, "list certificates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCertificateList(certs))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	cert, err := h.certs.Get(ctx, certID)
	if err != nil {
		h.writeError(ctx, w, "get certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, certificateEnvelope{Certificate: toCertificateResponse(cert)})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, ok := h.institution(w, r)
	if !ok {
		return
	}
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	res, err := h.certs.Revoke(ctx, inst, certID, req.Reason, req.PropagateToLedger)
	if err != nil {
		h.writeError(ctx, w, "revoke certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRevokeResponse(res))
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, ok := h.institution(w, r)
	if !ok {
		return
	}
	view, err := h.certs.Usage(ctx, inst)
	if err != nil {
		h.writeError(ctx, w, "load usage", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UsageResponse{Usage: view.Usage, Plan: view.Plan})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReconcileRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	cert, err := h.reconciler.Reconcile(ctx, certID, req.tokenID)
	if err != nil {
		h.writeError(ctx, w, "reconcile certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, certificateEnvelope{Certificate: toCertificateResponse(cert)})
}

func (h *Handler) certificateID(w http.ResponseWriter, r *http.Request) (id.CertificateID, bool) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid certificate id"))
		return id.CertificateID{}, false
	}
	return certID, true
}

func (h *Handler) institution(w http.ResponseWriter, r *http.Request) (requestcontext.InstitutionSession, bool) {
	inst, ok := requestcontext.Institution(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "institution missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return requestcontext.InstitutionSession{}, false
	}
	return inst, true
}

// writeError logs server-side failures at error level and client errors at
// info, then writes the mapped response.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"code", dErrors.CodeOf(err),
		"error", err,
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.InfoContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
