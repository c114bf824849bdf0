package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("ping", OutcomeOK, time.Millisecond)
	m.ObserveRequest("ping", OutcomeOK, time.Millisecond)
	m.ObserveRequest("", OutcomeError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("ping", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(UnmatchedMethod, OutcomeError)))
}

func TestAdmissionAndReporting(t *testing.T) {
	m := New()
	m.Overflow(1)
	m.SetConnections(1, 7)
	m.Reported()
	m.WorkerServing(2)
	m.WorkerServing(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.overflows.WithLabelValues("1")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.connections.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reported))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workers))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("x", OutcomeOK, 0)
		m.Overflow(0)
		m.SetConnections(0, 1)
		m.Reported()
		m.WorkerServing(1)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("ping", OutcomeOK, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `rpcd_requests_total{method="ping",outcome="ok"} 1`)
}
