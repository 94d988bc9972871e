package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate/handler/mocks"
	"certledger/internal/certificate/models"
	certservice "certledger/internal/certificate/service"
	issuanceservice "certledger/internal/issuance/service"
	"certledger/internal/ledger"
	mintservice "certledger/internal/minting/service"
	quotamodels "certledger/internal/quota/models"
	verifyservice "certledger/internal/verification/service"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
	"certledger/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

const (
	adminToken   = "admin-secret"
	sessionToken = "session-token"
	wallet       = "0x52908400098527886e0f7030069857d2e4169ee7"
)

type stubSessions struct {
	session requestcontext.InstitutionSession
}

func (s stubSessions) ValidateToken(token string) (*requestcontext.InstitutionSession, error) {
	if token != sessionToken {
		return nil, errors.New("invalid token")
	}
	session := s.session
	return &session, nil
}

type HandlerSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	issuer     *mocks.MockIssuer
	minter     *mocks.MockMinter
	verifier   *mocks.MockVerifier
	certs      *mocks.MockCertificates
	reconciler *mocks.MockReconciler
	session    requestcontext.InstitutionSession
	router     http.Handler
	cert       *models.Certificate
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.issuer = mocks.NewMockIssuer(s.ctrl)
	s.minter = mocks.NewMockMinter(s.ctrl)
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.certs = mocks.NewMockCertificates(s.ctrl)
	s.reconciler = mocks.NewMockReconciler(s.ctrl)
	s.session = requestcontext.InstitutionSession{
		ID:                       id.InstitutionID(uuid.New()),
		Name:                     "Example University",
		IsVerified:               true,
		ActiveSubscriptionPlanID: "pro",
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.issuer, s.minter, s.verifier, s.certs, s.reconciler, stubSessions{session: s.session}, adminToken, logger)
	r := chi.NewRouter()
	h.Register(r)
	s.router = r

	addr, err := id.ParseWalletAddress(wallet)
	s.Require().NoError(err)
	s.cert = &models.Certificate{
		ID:              id.NewCertificateID(),
		StudentAddress:  addr,
		StudentName:     "Ada Lovelace",
		CourseName:      "Analytical Engines",
		Grade:           "A",
		ContentHash:     "bafyexamplehash",
		CompletionDate:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		CertificateType: "diploma",
		IssuerID:        s.session.ID,
		IssuerName:      s.session.Name,
		IssuedAt:        time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC),
		IsValid:         true,
		MintState:       models.MintStateUnminted,
	}
}

func (s *HandlerSuite) authed(req *http.Request) *http.Request {
	return testutil.WithBearer(req, sessionToken)
}

func (s *HandlerSuite) errorCode(body []byte) string {
	var resp httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(body, &resp))
	return resp.Error
}

func (s *HandlerSuite) TestIssue() {
	s.Run("issues for the authenticated institution", func() {
		artifact := []byte("%PDF-1.7 certificate")
		s.issuer.EXPECT().
			IssueForSession(gomock.Any(), s.session, gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, _ requestcontext.InstitutionSession, p issuanceservice.Payload, a issuanceservice.Artifact) (*models.Certificate, error) {
				s.Equal(wallet, p.StudentAddress)
				s.Equal("Ada Lovelace", p.StudentName)
				s.Equal(artifact, a.Data)
				s.Equal("ada.pdf", a.Filename)
				return s.cert, nil
			})

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/issue", map[string]any{
			"studentAddress":   wallet,
			"studentName":      "Ada Lovelace",
			"courseName":       "Analytical Engines",
			"grade":            "A",
			"completionDate":   "2024-06-01",
			"certificateType":  "diploma",
			"artifact":         base64.StdEncoding.EncodeToString(artifact),
			"artifactFilename": "ada.pdf",
		})
		rec := testutil.DoRequest(s.router, s.authed(req))

		s.Equal(http.StatusCreated, rec.Code)
		resp := testutil.UnmarshalResponse[certificateEnvelope](s.T(), rec)
		s.Equal(s.cert.ID.String(), resp.Certificate.ID)
		s.Equal("unminted", resp.Certificate.MintState)
		s.Equal("2024-06-01", resp.Certificate.CompletionDate)
		s.Empty(resp.Certificate.TokenID)
	})

	s.Run("requires a session", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/issue", map[string]any{"studentName": "x"})
		rec := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("rejects an artifact that is not base64", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/issue", map[string]any{
			"studentAddress": wallet,
			"artifact":       "***not base64***",
		})
		rec := testutil.DoRequest(s.router, s.authed(req))
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeValidation), s.errorCode(rec.Body.Bytes()))
	})

	s.Run("maps quota exhaustion to 429", func() {
		s.issuer.EXPECT().IssueForSession(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeQuotaExceeded, quotamodels.ReasonCertificateLimit))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/issue", map[string]any{
			"studentAddress": wallet,
			"artifact":       base64.StdEncoding.EncodeToString([]byte("doc")),
		})
		rec := testutil.DoRequest(s.router, s.authed(req))

		s.Equal(http.StatusTooManyRequests, rec.Code)
		var resp httputil.ErrorResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal(string(dErrors.CodeQuotaExceeded), resp.Error)
		s.Equal(quotamodels.ReasonCertificateLimit, resp.Description)
	})
}

func (s *HandlerSuite) TestMint() {
	s.Run("returns the bound token", func() {
		minted := s.cert.Clone()
		minted.MintState = models.MintStateMinted
		minted.Binding = &models.Binding{TokenID: "7", MintedTo: minted.StudentAddress, MintedAt: time.Now(), TxHash: "0xabc"}
		s.minter.EXPECT().Mint(gomock.Any(), s.cert.ID, wallet).
			Return(&mintservice.Result{Certificate: minted, TokenID: "7", TxHash: "0xabc"}, nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/"+s.cert.ID.String()+"/mint",
			map[string]string{"walletAddress": "  " + wallet + " "})
		rec := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[MintResponse](s.T(), rec)
		s.Equal("7", resp.TokenID)
		s.Equal("0xabc", resp.TxHash)
		s.Equal("minted", resp.Certificate.MintState)
		s.Equal(wallet, resp.Certificate.MintedToAddress)
	})

	s.Run("requires a wallet address", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/"+s.cert.ID.String()+"/mint",
			map[string]string{"walletAddress": ""})
		rec := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeMissingField), s.errorCode(rec.Body.Bytes()))
	})

	s.Run("rejects a malformed certificate id", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/not-a-uuid/mint",
			map[string]string{"walletAddress": wallet})
		rec := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeValidation), s.errorCode(rec.Body.Bytes()))
	})

	for _, tc := range []struct {
		name   string
		err    error
		status int
	}{
		{"already minted", dErrors.New(dErrors.CodeAlreadyMinted, "certificate is already minted"), http.StatusConflict},
		{"address mismatch", dErrors.New(dErrors.CodeAddressMismatch, "wallet does not match"), http.StatusBadRequest},
		{"not found", dErrors.New(dErrors.CodeNotFound, "certificate not found"), http.StatusNotFound},
		{"ledger unavailable", dErrors.New(dErrors.CodeLedgerUnavailable, "ledger unavailable"), http.StatusServiceUnavailable},
		{"internal", dErrors.New(dErrors.CodeInternal, "secret detail"), http.StatusInternalServerError},
	} {
		s.Run(tc.name, func() {
			s.minter.EXPECT().Mint(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tc.err)
			req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/"+s.cert.ID.String()+"/mint",
				map[string]string{"walletAddress": wallet})
			rec := testutil.DoRequest(s.router, req)
			s.Equal(tc.status, rec.Code)
			s.NotContains(rec.Body.String(), "secret detail")
		})
	}
}

func (s *HandlerSuite) TestVerify() {
	s.Run("passes the explicit kind", func() {
		token := &ledger.Token{TokenID: "7", Owner: s.cert.StudentAddress, ContentHash: s.cert.ContentHash, IsValid: true, MintedAt: time.Now()}
		s.verifier.EXPECT().Verify(gomock.Any(), "7", verifyservice.KindTokenID).
			Return(&verifyservice.Result{Valid: true, Source: verifyservice.SourceBoth, Certificate: s.cert, Ledger: token}, nil)

		rec := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/verify/7?kind=tokenId"))

		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[VerifyResponse](s.T(), rec)
		s.True(resp.Valid)
		s.Equal("both", resp.Source)
		s.Require().NotNil(resp.Ledger)
		s.Equal("7", resp.Ledger.TokenID)
	})

	s.Run("infers the kind when omitted", func() {
		s.verifier.EXPECT().Verify(gomock.Any(), s.cert.ID.String(), verifyservice.KindID).
			Return(&verifyservice.Result{Valid: true, Source: verifyservice.SourceBackend, Certificate: s.cert}, nil)

		rec := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/verify/"+s.cert.ID.String()))
		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[VerifyResponse](s.T(), rec)
		s.Nil(resp.Ledger)
	})

	s.Run("rejects an unknown kind", func() {
		rec := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/verify/7?kind=serial"))
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("reports a degraded result", func() {
		s.verifier.EXPECT().Verify(gomock.Any(), "bafyexamplehash", verifyservice.KindContentHash).
			Return(&verifyservice.Result{Valid: true, Source: verifyservice.SourceBackend, Certificate: s.cert, Degraded: true}, nil)

		rec := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/verify/bafyexamplehash?kind=contentHash"))
		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[VerifyResponse](s.T(), rec)
		s.True(resp.Degraded)
	})
}

func (s *HandlerSuite) TestWalletAndGet() {
	s.Run("lists certificates for a wallet", func() {
		s.certs.EXPECT().ListByWallet(gomock.Any(), wallet).Return([]*models.Certificate{s.cert}, nil)
		rec := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/wallet/"+wallet))
		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[CertificateListResponse](s.T(), rec)
		s.Len(resp.Certificates, 1)
	})

	s.Run("empty wallet lists as an empty array", func() {
		s.certs.EXPECT().ListByWallet(gomock.Any(), wallet).Return(nil, nil)
		rec := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/wallet/"+wallet))
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"certificates":[]}`, rec.Body.String())
	})

	s.Run("gets one certificate", func() {
		s.certs.EXPECT().Get(gomock.Any(), s.cert.ID).Return(s.cert, nil)
		rec := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/certificates/"+s.cert.ID.String()))
		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[certificateEnvelope](s.T(), rec)
		s.Equal(s.cert.StudentName, resp.Certificate.StudentName)
	})
}

func (s *HandlerSuite) TestRevoke() {
	s.Run("revokes and reports ledger propagation failure", func() {
		revoked := s.cert.Clone()
		revoked.Revoke(s.session.ID.String(), time.Now())
		s.certs.EXPECT().Revoke(gomock.Any(), s.session, s.cert.ID, "issued in error", true).
			Return(&certservice.RevokeResult{Certificate: revoked, LedgerError: "ledger unavailable"}, nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/"+s.cert.ID.String()+"/revoke",
			map[string]any{"reason": "issued in error", "propagateToLedger": true})
		rec := testutil.DoRequest(s.router, s.authed(req))

		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[RevokeResponse](s.T(), rec)
		s.False(resp.Certificate.IsValid)
		s.NotNil(resp.Certificate.RevokedAt)
		s.Equal("ledger unavailable", resp.LedgerError)
	})

	s.Run("forbidden for another institution", func() {
		s.certs.EXPECT().Revoke(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), false).
			Return(nil, dErrors.New(dErrors.CodeForbidden, "only the issuing institution may revoke"))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/"+s.cert.ID.String()+"/revoke",
			map[string]any{"reason": "x"})
		rec := testutil.DoRequest(s.router, s.authed(req))
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("requires a session", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/certificates/"+s.cert.ID.String()+"/revoke",
			map[string]any{"reason": "x"})
		req.Header.Set("Authorization", "Bearer wrong")
		rec := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *HandlerSuite) TestUsage() {
	period := quotamodels.NewUsagePeriod(s.session.ID, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	period.CertificatesIssued = 3
	plan := &quotamodels.Plan{ID: "pro", Name: "Pro", CertificateLimit: 100, StorageLimitBytes: quotamodels.Unlimited}
	s.certs.EXPECT().Usage(gomock.Any(), s.session).Return(&certservice.UsageView{Usage: period, Plan: plan}, nil)

	rec := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/institutions/me/usage")))

	s.Equal(http.StatusOK, rec.Code)
	resp := testutil.UnmarshalResponse[UsageResponse](s.T(), rec)
	s.EqualValues(3, resp.Usage.CertificatesIssued)
	s.Equal(id.PlanID("pro"), resp.Plan.ID)
}

func (s *HandlerSuite) TestReconcile() {
	path := "/admin/certificates/" + s.cert.ID.String() + "/reconcile"

	s.Run("requires the admin token", func() {
		rec := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, path, map[string]string{"tokenId": "7"}))
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("rejects a non-decimal token id", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, map[string]string{"tokenId": "0x07"})
		req.Header.Set("X-Admin-Token", adminToken)
		rec := testutil.DoRequest(s.router, req)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("binds the confirmed token", func() {
		minted := s.cert.Clone()
		minted.MintState = models.MintStateMinted
		minted.Binding = &models.Binding{TokenID: "7", MintedTo: minted.StudentAddress, MintedAt: time.Now()}
		s.reconciler.EXPECT().Reconcile(gomock.Any(), s.cert.ID, id.TokenID("7")).Return(minted, nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, map[string]string{"tokenId": "7"})
		req.Header.Set("X-Admin-Token", adminToken)
		rec := testutil.DoRequest(s.router, req)

		s.Equal(http.StatusOK, rec.Code)
		resp := testutil.UnmarshalResponse[certificateEnvelope](s.T(), rec)
		s.Equal("7", resp.Certificate.TokenID)
	})
}

func TestSessionMiddlewareRunsOnlyOnAuthenticatedRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	certs := mocks.NewMockCertificates(ctrl)
	session := requestcontext.InstitutionSession{ID: id.InstitutionID(uuid.New()), IsVerified: true}

	var seen []id.InstitutionID
	counter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, requestcontext.InstitutionID(r.Context()))
			next.ServeHTTP(w, r)
		})
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(mocks.NewMockIssuer(ctrl), mocks.NewMockMinter(ctrl), mocks.NewMockVerifier(ctrl), certs,
		mocks.NewMockReconciler(ctrl), stubSessions{session: session}, adminToken, logger,
		WithSessionMiddleware(counter))
	r := chi.NewRouter()
	h.Register(r)

	certs.EXPECT().Usage(gomock.Any(), session).Return(&certservice.UsageView{Usage: quotamodels.NewUsagePeriod(session.ID, time.Now())}, nil)
	certs.EXPECT().ListByWallet(gomock.Any(), wallet).Return(nil, nil)

	req := testutil.NewRequest(t, http.MethodGet, "/institutions/me/usage")
	testutil.DoRequest(r, testutil.WithBearer(req, sessionToken))
	testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/certificates/wallet/"+wallet))

	if len(seen) != 1 || seen[0] != session.ID {
		t.Fatalf("expected one authenticated call for %s, got %v", session.ID, seen)
	}
}
