package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for certificate minting.
type Metrics struct {
	Minted             prometheus.Counter
	MintFailures       *prometheus.CounterVec
	LedgerMintDuration prometheus.Histogram
	BindRetries        prometheus.Counter
	BindsDeferred      prometheus.Counter
}

// New registers minting metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Minted: f.NewCounter(prometheus.CounterOpts{
			Name: "certledger_certificates_minted_total",
			Help: "Total number of certificates bound to a ledger token",
		}),
		MintFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_mint_failures_total",
			Help: "Mint requests that did not bind, by error code",
		}, []string{"reason"}),
		LedgerMintDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_ledger_mint_duration_seconds",
			Help:    "Duration of ledger mint calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BindRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "certledger_bind_retries_total",
			Help: "Store bind attempts retried after a minted token",
		}),
		BindsDeferred: f.NewCounter(prometheus.CounterOpts{
			Name: "certledger_binds_deferred_total",
			Help: "Minted tokens handed to the reconciliation queue",
		}),
	}
}

func (m *Metrics) IncrementMinted() {
	if m == nil {
		return
	}
	m.Minted.Inc()
}

func (m *Metrics) IncrementMintFailure(reason string) {
	if m == nil {
		return
	}
	m.MintFailures.WithLabelValues(reason).Inc()
}

// ObserveLedgerMint records the duration since start.
func (m *Metrics) ObserveLedgerMint(start time.Time) {
	if m == nil {
		return
	}
	m.LedgerMintDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementBindRetry() {
	if m == nil {
		return
	}
	m.BindRetries.Inc()
}

func (m *Metrics) IncrementBindDeferred() {
	if m == nil {
		return
	}
	m.BindsDeferred.Inc()
}
