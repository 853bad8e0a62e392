package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()

	m.DeviceOnline()
	m.DeviceOnline()
	m.DeviceOffline()
	m.AuthResult("OK")
	m.AuthResult("DEVICE_INACTIVE")
	m.MessagePersisted("group")
	m.Push("message_received", true)
	m.Push("message_received", false)
	m.Request("ping", "OK")

	body := scrape(t, m)

	assert.Contains(t, body, "chatrelay_online_devices 1")
	assert.Contains(t, body, `chatrelay_auth_results_total{result="OK"} 1`)
	assert.Contains(t, body, `chatrelay_auth_results_total{result="DEVICE_INACTIVE"} 1`)
	assert.Contains(t, body, `chatrelay_messages_persisted_total{kind="group"} 1`)
	assert.Contains(t, body, `chatrelay_pushes_total{event="message_received",outcome="queued"} 1`)
	assert.Contains(t, body, `chatrelay_pushes_total{event="message_received",outcome="dropped"} 1`)
	assert.Contains(t, body, `chatrelay_requests_total{code="OK",event="ping"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DeviceOnline()
		m.DeviceOffline()
		m.AuthResult("OK")
		m.MessagePersisted("direct")
		m.Push("x", true)
		m.Request("x", "OK")
	})
}
