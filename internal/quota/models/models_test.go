package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "certledger/pkg/domain"
)

func TestUsagePeriodRollover(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	u := NewUsagePeriod(id.InstitutionID(uuid.New()), start)
	u.Add(MetricCertificates, 4)
	u.Add(MetricStorageBytes, 1024)

	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), u.PeriodEnd)

	t.Run("current period is unchanged", func(t *testing.T) {
		got := u.RolledOver(u.PeriodEnd)
		assert.Equal(t, int64(4), got.CertificatesIssued)
	})

	t.Run("expired period resets", func(t *testing.T) {
		later := u.PeriodEnd.Add(time.Second)
		got := u.RolledOver(later)
		assert.Zero(t, got.CertificatesIssued)
		assert.Zero(t, got.StorageBytesUsed)
		assert.Equal(t, later, got.PeriodStart)
		assert.Equal(t, int64(4), u.CertificatesIssued, "original untouched")
	})
}

func TestPlanExceeds(t *testing.T) {
	p := &Plan{CertificateLimit: 10, StorageLimitBytes: Unlimited}
	assert.False(t, p.Exceeds(MetricCertificates, 10))
	assert.True(t, p.Exceeds(MetricCertificates, 11))
	assert.False(t, p.Exceeds(MetricStorageBytes, 1<<40))
}
