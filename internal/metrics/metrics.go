package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the POS collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SalesCompleted      *prometheus.CounterVec
	SaleFailures        *prometheus.CounterVec
	SaleAmount          prometheus.Histogram
	SaleDuration        prometheus.Histogram
	TillSessionsOpened  prometheus.Counter
	TillSessionsClosed  prometheus.Counter
	TillVariance        prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SalesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_sales_completed_total",
			Help: "Total number of committed sales",
		}, []string{"payment_method"}),
		SaleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_sale_failures_total",
			Help: "Total number of rejected sales",
		}, []string{"reason"}),
		SaleAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_sale_amount_cents",
			Help:    "Final total of committed sales in cents",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		}),
		SaleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_sale_duration_seconds",
			Help:    "Latency of sale processing",
			Buckets: prometheus.DefBuckets,
		}),
		TillSessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "pos_till_sessions_opened_total",
			Help: "Total number of till sessions opened",
		}),
		TillSessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pos_till_sessions_closed_total",
			Help: "Total number of till sessions closed",
		}),
		TillVariance: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_till_variance_cents",
			Help:    "Counted minus expected cash at session close",
			Buckets: []float64{-10000, -1000, -100, -1, 0, 1, 100, 1000, 10000},
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) SaleCompleted(paymentMethod string, totalCents int64, took time.Duration) {
	if m == nil {
		return
	}
	m.SalesCompleted.WithLabelValues(paymentMethod).Inc()
	m.SaleAmount.Observe(float64(totalCents))
	m.SaleDuration.Observe(took.Seconds())
}

func (m *Metrics) SaleFailed(reason string) {
	if m == nil {
		return
	}
	m.SaleFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.TillSessionsOpened.Inc()
}

func (m *Metrics) SessionClosed(varianceCents int64) {
	if m == nil {
		return
	}
	m.TillSessionsClosed.Inc()
	m.TillVariance.Observe(float64(varianceCents))
}

func (m *Metrics) HTTPRequest(method string, path string, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(took.Seconds())
}
