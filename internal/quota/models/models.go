package models

import (
	"time"

	id "certledger/pkg/domain"
)

// Unlimited disables a plan limit.
const Unlimited int64 = -1

// Metric names a per-period usage counter.
type Metric string

const (
	MetricCertificates Metric = "certificates"
	MetricStorageBytes Metric = "storage_bytes"
	MetricAPICalls     Metric = "api_calls"
)

func (m Metric) IsValid() bool {
	switch m {
	case MetricCertificates, MetricStorageBytes, MetricAPICalls:
		return true
	}
	return false
}

// Plan is a read-only subscription plan from the billing catalog.
type Plan struct {
	ID                id.PlanID `json:"id"`
	Name              string    `json:"name"`
	CertificateLimit  int64     `json:"certificateLimit"`
	StorageLimitBytes int64     `json:"storageLimitBytes"`
	APICallLimit      int64     `json:"apiCallLimit"`
	IsTrial           bool      `json:"isTrial"`
}

// Limit returns the plan limit for a metric.
func (p *Plan) Limit(m Metric) int64 {
	switch m {
	case MetricCertificates:
		return p.CertificateLimit
	case MetricStorageBytes:
		return p.StorageLimitBytes
	case MetricAPICalls:
		return p.APICallLimit
	default:
		return 0
	}
}

// Exceeds reports whether total is over the plan limit for m.
func (p *Plan) Exceeds(m Metric, total int64) bool {
	limit := p.Limit(m)
	return limit != Unlimited && total > limit
}

// UsagePeriod is one institution's counters for the current billing window.
type UsagePeriod struct {
	InstitutionID      id.InstitutionID `json:"institutionId"`
	PeriodStart        time.Time        `json:"periodStart"`
	PeriodEnd          time.Time        `json:"periodEnd"`
	CertificatesIssued int64            `json:"certificatesIssued"`
	StorageBytesUsed   int64            `json:"storageBytesUsed"`
	APICalls           int64            `json:"apiCalls"`
}

// NewUsagePeriod starts an empty monthly period at now.
func NewUsagePeriod(institutionID id.InstitutionID, now time.Time) *UsagePeriod {
	return &UsagePeriod{
		InstitutionID: institutionID,
		PeriodStart:   now,
		PeriodEnd:     PeriodEnd(now),
	}
}

// PeriodEnd returns the end of a monthly period starting at start.
func PeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// Expired reports whether now is past the period end.
func (u *UsagePeriod) Expired(now time.Time) bool {
	return now.After(u.PeriodEnd)
}

// RolledOver returns the period as seen at now: unchanged while current,
// otherwise a fresh zeroed period starting at now.
func (u *UsagePeriod) RolledOver(now time.Time) *UsagePeriod {
	if !u.Expired(now) {
		cp := *u
		return &cp
	}
	return NewUsagePeriod(u.InstitutionID, now)
}

// Value returns the counter for m.
func (u *UsagePeriod) Value(m Metric) int64 {
	switch m {
	case MetricCertificates:
		return u.CertificatesIssued
	case MetricStorageBytes:
		return u.StorageBytesUsed
	case MetricAPICalls:
		return u.APICalls
	default:
		return 0
	}
}

// Add increments the counter for m.
func (u *UsagePeriod) Add(m Metric, amount int64) {
	switch m {
	case MetricCertificates:
		u.CertificatesIssued += amount
	case MetricStorageBytes:
		u.StorageBytesUsed += amount
	case MetricAPICalls:
		u.APICalls += amount
	}
}

// Denial reasons reported by CheckLimit.
const (
	ReasonCertificateLimit = "certificate_limit_reached"
	ReasonStorageLimit     = "storage_limit_reached"
	ReasonNoPlan           = "no_plan"
)

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
