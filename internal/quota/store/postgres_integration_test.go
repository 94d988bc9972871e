//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certledger/internal/quota/models"
	id "certledger/pkg/domain"
	txcontext "certledger/pkg/platform/tx"
	"certledger/pkg/testutil/containers"
)

type PostgresUsageStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresUsageStore
	ctx      context.Context
	now      time.Time
}

func TestPostgresUsageStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresUsageStoreSuite))
}

func (s *PostgresUsageStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgresUsageStore(s.postgres.DB)
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresUsageStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "usage_periods"))
}

func (s *PostgresUsageStoreSuite) TestIncrementCreatesAndAccumulates() {
	instID := id.InstitutionID(uuid.New())

	u, err := s.store.Increment(s.ctx, instID, models.MetricCertificates, 1, s.now)
	s.Require().NoError(err)
	s.Equal(int64(1), u.CertificatesIssued)

	u, err = s.store.Increment(s.ctx, instID, models.MetricStorageBytes, 4096, s.now)
	s.Require().NoError(err)
	s.Equal(int64(1), u.CertificatesIssued)
	s.Equal(int64(4096), u.StorageBytesUsed)
}

func (s *PostgresUsageStoreSuite) TestIncrementRollsOverExpiredPeriod() {
	instID := id.InstitutionID(uuid.New())
	_, err := s.store.Increment(s.ctx, instID, models.MetricCertificates, 7, s.now)
	s.Require().NoError(err)

	later := s.now.AddDate(0, 1, 1)
	u, err := s.store.Increment(s.ctx, instID, models.MetricCertificates, 1, later)
	s.Require().NoError(err)
	s.Equal(int64(1), u.CertificatesIssued)
	s.True(u.PeriodStart.Equal(later))
}

func (s *PostgresUsageStoreSuite) TestConcurrentIncrements() {
	instID := id.InstitutionID(uuid.New())
	const goroutines = 50
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.store.Increment(s.ctx, instID, models.MetricCertificates, 1, s.now)
		}()
	}
	wg.Wait()

	u, err := s.store.Get(s.ctx, instID, s.now)
	s.Require().NoError(err)
	s.Equal(int64(goroutines), u.CertificatesIssued)
}

func (s *PostgresUsageStoreSuite) TestIncrementJoinsTransaction() {
	instID := id.InstitutionID(uuid.New())
	tx, err := s.postgres.DB.BeginTx(s.ctx, nil)
	s.Require().NoError(err)

	_, err = s.store.Increment(txcontext.WithTx(s.ctx, tx), instID, models.MetricCertificates, 1, s.now)
	s.Require().NoError(err)
	s.Require().NoError(tx.Rollback())

	u, err := s.store.Get(s.ctx, instID, s.now)
	s.Require().NoError(err)
	s.Zero(u.CertificatesIssued)
}

func (s *PostgresUsageStoreSuite) TestRollExpired() {
	instID := id.InstitutionID(uuid.New())
	_, err := s.store.Increment(s.ctx, instID, models.MetricCertificates, 3, s.now)
	s.Require().NoError(err)

	n, err := s.store.RollExpired(s.ctx, s.now.AddDate(0, 2, 0))
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}
