package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSaleCountersUseLabels(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SaleCompleted("CASH", 2000, 15*time.Millisecond)
	m.SaleCompleted("CASH", 500, 5*time.Millisecond)
	m.SaleCompleted("SPLIT", 4500, 5*time.Millisecond)
	m.SaleFailed("insufficient_stock")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SalesCompleted.WithLabelValues("CASH")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SalesCompleted.WithLabelValues("SPLIT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SaleFailures.WithLabelValues("insufficient_stock")))
}

func TestSessionCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionClosed(-500)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TillSessionsOpened))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TillSessionsClosed))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SaleCompleted("CASH", 1, time.Millisecond)
		m.SaleFailed("x")
		m.SessionOpened()
		m.SessionClosed(0)
		m.HTTPRequest("GET", "/", "200", time.Millisecond)
	})
}
