package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porihq/pori/event"
)

func TestObserveCountsTraffic(t *testing.T) {
	m := New()

	m.observe(event.RequestForwarded("r-1", "GET", "/a"))
	m.observe(event.RequestForwarded("r-2", "GET", "/b"))
	m.observe(event.ResponseReceived("r-1", 200, 128))
	m.observe(event.ResponseReceived("r-2", 503, 64))
	m.observe(event.Error("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsForwarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues("503")))
	assert.Equal(t, 192.0, testutil.ToFloat64(m.responseBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors))
}

func TestObserveTracksConnectionState(t *testing.T) {
	m := New()

	m.observe(event.Connection(event.StatusConnected, ""))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))

	m.observe(event.Connection(event.StatusReconnecting, "1s"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))

	m.observe(event.Connection(event.StatusConnected, ""))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.observe(event.RequestForwarded("r-1", "GET", "/a"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "pori_tunnel_requests_forwarded_total 1")
}

func TestRunDrainsChannel(t *testing.T) {
	m := New()
	events := make(chan event.Event, 4)
	events <- event.RequestForwarded("r-1", "GET", "/a")
	events <- event.Connection(event.StatusConnected, "")
	close(events)

	m.Run(events)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsForwarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
}
