// Package tunnelstate keeps the shared tunnel statistics and the
// connection status view consumed by the dashboard.
package tunnelstate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/porihq/pori/event"
)

// Stats is a snapshot of the tunnel counters.
type Stats struct {
	RequestsProcessed  uint64  `json:"requests_processed"`
	RequestsSuccessful uint64  `json:"requests_successful"`
	RequestsFailed     uint64  `json:"requests_failed"`
	BytesForwarded     uint64  `json:"bytes_forwarded"`
	AvgResponseMs      float64 `json:"avg_response_ms"`
	ActiveRequests     uint64  `json:"active_requests"`
	Reconnects         uint64  `json:"websocket_reconnects"`
	UptimeSeconds      uint64  `json:"uptime_seconds"`
	ConnectionStatus   string  `json:"connection_status"`
}

// Tracker aggregates counters from the tunnel engine. Writers take the
// lock for the duration of one field update; readers receive a copy.
type Tracker struct {
	mu          sync.RWMutex
	stats       Stats
	totalTimeMs float64
	startedAt   time.Time
	log         *zerolog.Logger
}

func NewTracker(log *zerolog.Logger) *Tracker {
	return &Tracker{
		stats:     Stats{ConnectionStatus: string(event.StatusDisconnected)},
		startedAt: time.Now(),
		log:       log,
	}
}

// Snapshot returns a consistent copy of the counters.
func (t *Tracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.stats
	s.UptimeSeconds = uint64(time.Since(t.startedAt).Seconds())
	return s
}

// RequestStarted marks a request as in flight.
func (t *Tracker) RequestStarted() {
	t.mu.Lock()
	t.stats.ActiveRequests++
	t.mu.Unlock()
}

// RequestFinished records the outcome of one forwarded request.
func (t *Tracker) RequestFinished(success bool, bytes int, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.ActiveRequests > 0 {
		t.stats.ActiveRequests--
	}
	t.stats.RequestsProcessed++
	if success {
		t.stats.RequestsSuccessful++
	} else {
		t.stats.RequestsFailed++
	}
	t.stats.BytesForwarded += uint64(bytes)
	t.totalTimeMs += float64(elapsed.Milliseconds())
	t.stats.AvgResponseMs = t.totalTimeMs / float64(t.stats.RequestsProcessed)
}

// RemoteFailure counts a failure the server reported for a request
// this client never completed, without touching the in-flight gauge.
func (t *Tracker) RemoteFailure() {
	t.mu.Lock()
	t.stats.RequestsFailed++
	t.mu.Unlock()
}

// ReconnectStarted counts one reconnect attempt.
func (t *Tracker) ReconnectStarted() {
	t.mu.Lock()
	t.stats.Reconnects++
	t.mu.Unlock()
}

// SetConnectionStatus records the current connection state.
func (t *Tracker) SetConnectionStatus(status event.ConnectionStatus) {
	t.mu.Lock()
	t.stats.ConnectionStatus = string(status)
	t.mu.Unlock()
}

// ConnectionStatus returns the last recorded connection state.
func (t *Tracker) ConnectionStatus() event.ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return event.ConnectionStatus(t.stats.ConnectionStatus)
}

// IsConnected reports whether the tunnel is currently authenticated.
func (t *Tracker) IsConnected() bool {
	return t.ConnectionStatus() == event.StatusConnected
}

// Run consumes bus events until the channel closes, keeping the status
// field in sync with connection transitions.
func (t *Tracker) Run(events <-chan event.Event) {
	for ev := range events {
		switch ev.Kind {
		case event.KindConnectionStatus:
			t.SetConnectionStatus(ev.ConnState)
		case event.KindRequestForwarded, event.KindResponseReceived, event.KindError:
			// Counters for these are updated synchronously by the
			// session; nothing to do here.
		default:
			if t.log != nil {
				t.log.Debug().Str("kind", string(ev.Kind)).Msg("unhandled bus event")
			}
		}
	}
}
