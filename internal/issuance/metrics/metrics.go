package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for certificate issuance.
type Metrics struct {
	Issued        prometheus.Counter
	Rejected      *prometheus.CounterVec
	IssueDuration prometheus.Histogram
}

// New registers issuance metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Issued: f.NewCounter(prometheus.CounterOpts{
			Name: "certledger_certificates_issued_total",
			Help: "Total number of certificates issued",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_issuance_rejected_total",
			Help: "Issuance requests rejected, by error code",
		}, []string{"reason"}),
		IssueDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_issue_duration_seconds",
			Help:    "Duration of successful issuance including content upload",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	if m == nil {
		return
	}
	m.Issued.Inc()
}

func (m *Metrics) IncrementRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

// ObserveIssue records the duration since start.
func (m *Metrics) ObserveIssue(start time.Time) {
	if m == nil {
		return
	}
	m.IssueDuration.Observe(time.Since(start).Seconds())
}
