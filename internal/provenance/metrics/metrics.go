package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the provenance module. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Mutation results by kind (mint, transfer) and result code
	MutationOutcomes *prometheus.CounterVec

	// Time from submission to observed finality
	FinalityLatency *prometheus.HistogramVec

	QueryLatency prometheus.Histogram

	// Ledger views retried after a transient failure
	ViewRetries prometheus.Counter

	// Advisory transfer pre-checks that disagreed with the caller
	OwnershipPrecheckMismatches prometheus.Counter

	// Existence cache lookups by result: hit, miss, error
	ExistsCache *prometheus.CounterVec

	VerifyResults *prometheus.CounterVec

	// Scan payload resolutions by payload form and client device class
	ScansResolved *prometheus.CounterVec
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the module metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MutationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_mutation_outcomes_total",
			Help: "Mint and transfer results by kind and result",
		}, []string{"kind", "result"}),

		FinalityLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_finality_duration_seconds",
			Help:    "Time from ledger submission to observed finality",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),

		QueryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "provenance_query_duration_seconds",
			Help:    "Duration of product queries including decode",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		ViewRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "provenance_view_retries_total",
			Help: "Ledger view calls retried after a transient failure",
		}),

		OwnershipPrecheckMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "provenance_transfer_precheck_mismatches_total",
			Help: "Transfers whose signer was not the owner seen by the advisory pre-check",
		}),

		ExistsCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_exists_cache_lookups_total",
			Help: "Existence cache lookups by result",
		}, []string{"result"}),

		VerifyResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_verifications_total",
			Help: "Authenticity checks by result",
		}, []string{"result"}),

		ScansResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_scans_resolved_total",
			Help: "Scan payloads resolved by payload form and device class",
		}, []string{"form", "device"}),
	}
}

func (m *Metrics) IncrementMutation(kind, result string) {
	if m != nil {
		m.MutationOutcomes.WithLabelValues(kind, result).Inc()
	}
}

// ObserveFinality records the time since start for an operation kind.
func (m *Metrics) ObserveFinality(kind string, start time.Time) {
	if m != nil {
		m.FinalityLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveQuery(start time.Time) {
	if m != nil {
		m.QueryLatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncrementViewRetries() {
	if m != nil {
		m.ViewRetries.Inc()
	}
}

func (m *Metrics) IncrementPrecheckMismatch() {
	if m != nil {
		m.OwnershipPrecheckMismatches.Inc()
	}
}

func (m *Metrics) IncrementExistsCache(result string) {
	if m != nil {
		m.ExistsCache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementVerify(result string) {
	if m != nil {
		m.VerifyResults.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementScan(form, device string) {
	if m != nil {
		m.ScansResolved.WithLabelValues(form, device).Inc()
	}
}
