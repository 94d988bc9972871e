package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certledger/internal/certificate/models"
	certstore "certledger/internal/certificate/store"
	issuanceservice "certledger/internal/issuance/service"
	"certledger/internal/ledger"
	quotamodels "certledger/internal/quota/models"
	quotaservice "certledger/internal/quota/service"
	quotastore "certledger/internal/quota/store"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	auditpublisher "certledger/pkg/platform/audit/publisher"
	auditmemory "certledger/pkg/platform/audit/store/memory"
	"certledger/pkg/requestcontext"
)

const studentAddr = "0x52908400098527886e0f7030069857d2e4169ee7"

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	certs   *certstore.InMemoryStore
	ledger  *ledger.InMemoryLedger
	audits  *auditmemory.InMemoryStore
	usage   *quotastore.InMemoryUsageStore
	svc     *Service
	issuer  requestcontext.InstitutionSession
	other   requestcontext.InstitutionSession
	logger  *slog.Logger
	tracker *quotaservice.Tracker
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.certs = certstore.NewInMemoryStore()
	s.ledger = ledger.NewInMemoryLedger()
	s.audits = auditmemory.NewInMemoryStore()
	s.usage = quotastore.NewInMemoryUsageStore()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker, err := quotaservice.New(s.usage, quotastore.NewInMemoryPlanCatalog(
		quotamodels.Plan{ID: "basic", CertificateLimit: 100, StorageLimitBytes: quotamodels.Unlimited, APICallLimit: quotamodels.Unlimited},
	))
	s.Require().NoError(err)
	s.tracker = tracker
	s.svc = s.newService(auditpublisher.New(s.audits))

	s.issuer = requestcontext.InstitutionSession{ID: id.InstitutionID(uuid.New()), Name: "Issuer", IsVerified: true, ActiveSubscriptionPlanID: "basic"}
	s.other = requestcontext.InstitutionSession{ID: id.InstitutionID(uuid.New()), Name: "Other", IsVerified: true}
}

func (s *ServiceSuite) newService(auditor AuditPublisher) *Service {
	svc, err := New(s.certs,
		WithLogger(s.logger),
		WithLedger(s.ledger),
		WithUsageReader(s.tracker),
		WithStoreTx(issuanceservice.NewInMemoryTx()),
		WithAuditPublisher(auditor),
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) issue(hash id.ContentHash, issuedAt time.Time) *models.Certificate {
	cert, err := models.NewCertificate(models.Draft{
		StudentAddress: studentAddr,
		StudentName:    "Ada",
		CourseName:     "Math",
		IssuerID:       s.issuer.ID,
		IssuerName:     s.issuer.Name,
	}, hash, issuedAt)
	s.Require().NoError(err)
	created, err := s.certs.Create(s.ctx, cert)
	s.Require().NoError(err)
	return created
}

func (s *ServiceSuite) mint(cert *models.Certificate) *models.Certificate {
	receipt, err := s.ledger.Mint(s.ctx, ledger.MintRequest{StudentAddress: cert.StudentAddress, ContentHash: cert.ContentHash})
	s.Require().NoError(err)
	bound, err := s.certs.BindToken(s.ctx, cert.ID, models.Binding{TokenID: receipt.TokenID, MintedTo: cert.StudentAddress, MintedAt: time.Now()})
	s.Require().NoError(err)
	return bound
}

func (s *ServiceSuite) TestGet() {
	cert := s.issue("sha256-1", time.Now())

	got, err := s.svc.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.ID, got.ID)

	_, err = s.svc.Get(s.ctx, id.NewCertificateID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestListByWalletMatchesAnyCase() {
	older := s.issue("sha256-1", time.Now().Add(-time.Hour))
	newer := s.issue("sha256-2", time.Now())

	certs, err := s.svc.ListByWallet(s.ctx, "0x52908400098527886E0F7030069857D2E4169EE7")
	s.Require().NoError(err)
	s.Require().Len(certs, 2)
	s.Equal(newer.ID, certs[0].ID)
	s.Equal(older.ID, certs[1].ID)

	certs, err = s.svc.ListByWallet(s.ctx, "0x0000000000000000000000000000000000000001")
	s.Require().NoError(err)
	s.Empty(certs)

	_, err = s.svc.ListByWallet(s.ctx, "nope")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestRevokeByIssuer() {
	cert := s.issue("sha256-1", time.Now())

	res, err := s.svc.Revoke(s.ctx, s.issuer, cert.ID, "issued in error", false)
	s.Require().NoError(err)
	s.False(res.Certificate.IsValid)
	s.NotNil(res.Certificate.RevokedAt)
	s.Empty(res.LedgerTxHash)

	events, err := s.audits.ListByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventCertificateRevoked), events[0].Action)
	s.Equal("issued in error", events[0].Reason)
}

func (s *ServiceSuite) TestRevokeIsIdempotent() {
	cert := s.issue("sha256-1", time.Now())
	first, err := s.svc.Revoke(s.ctx, s.issuer, cert.ID, "first", false)
	s.Require().NoError(err)
	second, err := s.svc.Revoke(s.ctx, s.issuer, cert.ID, "second", false)
	s.Require().NoError(err)

	s.Equal(first.Certificate.RevokedAt, second.Certificate.RevokedAt)
	events, err := s.audits.ListByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *ServiceSuite) TestConcurrentRevokesRecordOneAudit() {
	cert := s.issue("sha256-1", time.Now())

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.svc.Revoke(s.ctx, s.issuer, cert.ID, "issued in error", false)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		s.Require().NoError(err)
	}
	events, err := s.audits.ListByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *ServiceSuite) TestRevokeRacedAfterReadWritesNoAudit() {
	cert := s.issue("sha256-1", time.Now())
	svc, err := New(revokeAfterRead{s.certs},
		WithLogger(s.logger),
		WithStoreTx(issuanceservice.NewInMemoryTx()),
		WithAuditPublisher(auditpublisher.New(s.audits)),
	)
	s.Require().NoError(err)

	res, err := svc.Revoke(s.ctx, s.issuer, cert.ID, "late", false)
	s.Require().NoError(err)
	s.False(res.Certificate.IsValid)
	s.Equal("concurrent", res.Certificate.RevokedBy)

	events, err := s.audits.ListByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *ServiceSuite) TestRevokeByOtherInstitutionIsForbidden() {
	cert := s.issue("sha256-1", time.Now())

	_, err := s.svc.Revoke(s.ctx, s.other, cert.ID, "mine now", false)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	got, err := s.certs.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.True(got.IsValid)
	events, err := s.audits.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventRevokeDenied), events[0].Action)
}

func (s *ServiceSuite) TestRevokePropagatesToLedger() {
	cert := s.mint(s.issue("sha256-1", time.Now()))

	res, err := s.svc.Revoke(s.ctx, s.issuer, cert.ID, "fraud", true)
	s.Require().NoError(err)
	s.NotEmpty(res.LedgerTxHash)
	s.Empty(res.LedgerError)

	tok, err := s.ledger.Get(s.ctx, cert.TokenID())
	s.Require().NoError(err)
	s.False(tok.IsValid)
}

func (s *ServiceSuite) TestRevokeKeepsOffChainResultWhenLedgerDown() {
	cert := s.mint(s.issue("sha256-1", time.Now()))
	s.ledger.SetUnavailable(true)

	res, err := s.svc.Revoke(s.ctx, s.issuer, cert.ID, "fraud", true)
	s.Require().NoError(err)
	s.False(res.Certificate.IsValid)
	s.Empty(res.LedgerTxHash)
	s.Equal("ledger unavailable", res.LedgerError)
}

func (s *ServiceSuite) TestRevokeRollsBackWhenAuditFails() {
	cert := s.issue("sha256-1", time.Now())
	svc := s.newService(failingAuditor{})

	_, err := svc.Revoke(s.ctx, s.issuer, cert.ID, "fraud", false)
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))

	got, err := s.certs.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.True(got.IsValid)
	s.Nil(got.RevokedAt)
}

func (s *ServiceSuite) TestUsage() {
	_, err := s.tracker.Increment(s.ctx, s.issuer.ID, quotamodels.MetricCertificates, 2)
	s.Require().NoError(err)

	view, err := s.svc.Usage(s.ctx, s.issuer)
	s.Require().NoError(err)
	s.EqualValues(2, view.Usage.CertificatesIssued)
	s.Require().NotNil(view.Plan)
	s.Equal(id.PlanID("basic"), view.Plan.ID)

	view, err = s.svc.Usage(s.ctx, s.other)
	s.Require().NoError(err)
	s.Nil(view.Plan)
	s.Zero(view.Usage.CertificatesIssued)
}

// revokeAfterRead revokes the record right after handing out a still-valid
// copy of it, so the caller's own revoke finds it already done.
type revokeAfterRead struct {
	*certstore.InMemoryStore
}

func (r revokeAfterRead) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	c, err := r.InMemoryStore.FindByID(ctx, certID)
	if err != nil {
		return nil, err
	}
	if _, _, err := r.InMemoryStore.Revoke(ctx, certID, "concurrent"); err != nil {
		return nil, err
	}
	return c, nil
}

type failingAuditor struct{}

func (failingAuditor) Emit(context.Context, audit.Event) error {
	return errors.New("outbox unavailable")
}
