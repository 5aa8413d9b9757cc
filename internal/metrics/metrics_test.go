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

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Turn(OutcomeOK)
	m.Turn(OutcomeOK)
	m.Turn(OutcomeFailed)
	m.SessionCompleted()
	m.Extraction("zip", 200*time.Millisecond, "")
	m.Extraction("zip", time.Second, "malformed")

	assert.InDelta(t, 1, testutil.ToFloat64(m.connectionsActive), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessionsCompleted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.extractFailures.WithLabelValues("malformed")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.extractDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.Turn(OutcomeOK)
		m.SessionCompleted()
		m.Extraction("zip", time.Second, "timeout")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Turn(OutcomeOK)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `intake_turns_total{outcome="ok"} 1`)
}
