package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RPC("getOrder", nil)
		m.Refresh(time.Second, 1, 2, 3, 4)
		m.Trade("settled")
		m.PriceRequest(errors.New("boom"))
		m.NotificationDelivered()
	})
	assert.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.RPC("getOrder", nil)
	m.RPC("getOrder", errors.New("dial tcp"))
	m.RPC("getOrder", nil)
	m.Refresh(2*time.Second, 3, 1, 0, 2)
	m.Trade("settled")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rpcRequests.WithLabelValues("getOrder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcRequests.WithLabelValues("getOrder", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.catalogOrders.WithLabelValues("active")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failedReads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partialSnapshots))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "otcdesk_trades_total")
}
