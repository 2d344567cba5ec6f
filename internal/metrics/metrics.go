// Package metrics defines the prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "milkbill"

// Metrics holds the collectors updated by the handlers.
type Metrics struct {
	gatherer prometheus.Gatherer

	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	BillsCreated     prometheus.Counter
	BillConflicts    prometheus.Counter
	PaymentsRecorded prometheus.Counter
	PaymentAmount    prometheus.Histogram
}

// New registers the collectors in a fresh registry, along with the go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "The total number of handled HTTP requests.",
		}, []string{"method", "route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		BillsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_created_total",
			Help:      "The total number of created bills.",
		}),
		BillConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_conflicts_total",
			Help:      "The total number of bills rejected as duplicates of an existing period.",
		}),
		PaymentsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "The total number of recorded payments.",
		}),
		PaymentAmount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_amount",
			Help:      "Recorded payment amounts.",
			Buckets:   prometheus.ExponentialBuckets(10, 10, 5), // 10, 100, 1000, 10000, 100000
		}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
