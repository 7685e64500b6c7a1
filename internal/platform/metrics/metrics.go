package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transport-level Prometheus metrics shared by all routes.
type Metrics struct {
	RequestLatency   *prometheus.HistogramVec
	UnauthorizedHits prometheus.Counter
	PanicsRecovered  prometheus.Counter
}

// New creates and registers the transport metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route pattern and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		UnauthorizedHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "provenance_http_unauthorized_total",
			Help: "Requests rejected for a missing or invalid signer token",
		}),
		PanicsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "provenance_http_panics_recovered_total",
			Help: "Handler panics converted into 500 responses",
		}),
	}
}

func (m *Metrics) ObserveRequest(route, method, status string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(route, method, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementUnauthorized() {
	if m == nil {
		return
	}
	m.UnauthorizedHits.Inc()
}

func (m *Metrics) IncrementPanics() {
	if m == nil {
		return
	}
	m.PanicsRecovered.Inc()
}
