package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.ObserveTransition("task", "start", OutcomeCommitted, 10*time.Millisecond)
	m.ObserveTransition("task", "start", OutcomeCommitted, 20*time.Millisecond)
	m.ObserveTransition("task", "start", OutcomeRejected, time.Millisecond)
	m.ObservePublishFailure("task")
	m.ObserveAdapter("rest", true, time.Millisecond)
	m.ObserveAdapter("rest", false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("task", "start", OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("task", "start", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures.WithLabelValues("task")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterExecutions.WithLabelValues("rest", "failure")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "statecore_transitions_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("task", "start", OutcomeCommitted, time.Millisecond)
		m.ObservePublishFailure("task")
		m.ObserveAdapter("mcp", true, time.Millisecond)
	})
}

func TestNew_Unregistered(t *testing.T) {
	m := New(nil)
	m.ObserveAdapter("script", true, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterExecutions.WithLabelValues("script", "success")))
}
