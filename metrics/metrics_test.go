package metrics

import (
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
		m.ObserveCommand("ChangeState", "ok", time.Millisecond)
		m.ObserveEvent("peck-keys")
		m.RejectEvent("bad_topic")
		m.ObserveAwait("matched")
		m.SetQueueDepth(3)
		m.SetLinkUp("command", true)
	})
	assert.Nil(t, m.Registry())
}

func TestCollectors(t *testing.T) {
	m := New()

	m.ObserveCommand("ChangeState", "ok", 10*time.Millisecond)
	m.ObserveCommand("ChangeState", "ok", 20*time.Millisecond)
	m.ObserveCommand("GetParameters", "timed_out", time.Second)
	m.ObserveEvent("stepper-motor")
	m.SetQueueDepth(4)
	m.SetLinkUp("telemetry", true)
	m.SetLinkUp("telemetry", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("ChangeState", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("GetParameters", "timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("stepper-motor")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LinkUp.WithLabelValues("telemetry")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveAwait("timeout")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `scryer_scry_awaits_total{outcome="timeout"} 1`)
}
