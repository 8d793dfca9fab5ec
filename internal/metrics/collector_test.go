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

func TestMetrics_CountersAndGauges(t *testing.T) {
	m := New()
	m.MessageSent()
	m.MessageSent()
	m.MessageDelivered()
	m.SendIgnored("empty")
	m.ViewOpened()
	m.ViewOpened()
	m.ViewClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDeliv))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendsIgnored.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.openViews))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.MessageSent()
	m.SendIgnored("x")
	m.ObserveHTTP("/status", 200, time.Millisecond)
	assert.Nil(t, m.Registry())
	assert.Zero(t, m.Uptime())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_HandlerExposition(t *testing.T) {
	m := New()
	m.TypingChanged("ai")
	m.ObserveHTTP("GET /status", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		"supportdesk_uptime_seconds",
		`supportdesk_typing_changes_total{party="ai"} 1`,
		"supportdesk_http_request_duration_seconds_bucket",
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}
