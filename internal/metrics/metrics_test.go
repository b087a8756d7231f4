package metrics

import (
	"errors"
	"io"
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
		m.ObserveHTTP("GET", "/events", 200, time.Millisecond)
		m.IncidentIngested("critical", false)
		m.Transition("resolve", nil)
		m.Notification("slack", "success", time.Second)
		m.Execution("manual", "success")
		m.AnalysisReport("template", "SUCCESS")
		m.StreamClient(1)
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Transition("acknowledge", nil)
	m.Transition("acknowledge", errors.New("invalid"))
	m.Transition("acknowledge", nil)
	m.Notification("webhook", "failed", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("acknowledge", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("webhook", "failed")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sre_platform_incident_transitions_total")
	assert.Contains(t, string(body), "go_goroutines")
}
