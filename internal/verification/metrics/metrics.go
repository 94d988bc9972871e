package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for certificate verification.
type Metrics struct {
	Results       *prometheus.CounterVec
	Degraded      prometheus.Counter
	LedgerLatency *prometheus.HistogramVec
	BreakerOpened prometheus.Counter
}

// New registers verification metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verifications_total",
			Help: "Verification answers by source, validity and client kind",
		}, []string{"source", "valid", "client"}),
		Degraded: f.NewCounter(prometheus.CounterOpts{
			Name: "certledger_verifications_degraded_total",
			Help: "Verifications answered from the store alone because the ledger failed",
		}),
		LedgerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_ledger_read_duration_seconds",
			Help:    "Duration of ledger reads made for verification",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		BreakerOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "certledger_ledger_breaker_opened_total",
			Help: "Times the ledger read circuit opened",
		}),
	}
}

func (m *Metrics) IncrementResult(source string, valid bool, client string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(source, strconv.FormatBool(valid), client).Inc()
}

func (m *Metrics) IncrementDegraded() {
	if m == nil {
		return
	}
	m.Degraded.Inc()
}

func (m *Metrics) ObserveLedgerRead(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.LedgerLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementBreakerOpened() {
	if m == nil {
		return
	}
	m.BreakerOpened.Inc()
}
