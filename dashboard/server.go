// Package dashboard serves the local REST API and Prometheus endpoint
// for inspecting a running tunnel.
package dashboard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/porihq/pori/config"
	"github.com/porihq/pori/event"
	"github.com/porihq/pori/signal"
	"github.com/porihq/pori/tunnelstate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	eventRingSize   = 100
	shutdownTimeout = 5 * time.Second
)

// Tunneler is the slice of the supervisor the dashboard drives.
type Tunneler interface {
	Reconnect() bool
	QueueLen() int
}

// Server is the dashboard HTTP server.
type Server struct {
	settings config.Settings
	tracker  *tunnelstate.Tracker
	tunnel   Tunneler
	shutdown *signal.Signal
	metrics  http.Handler
	log      *zerolog.Logger
	ring     *eventRing
}

func NewServer(settings config.Settings, tracker *tunnelstate.Tracker, tunnel Tunneler, shutdown *signal.Signal, metrics http.Handler, log *zerolog.Logger) *Server {
	return &Server{
		settings: settings,
		tracker:  tracker,
		tunnel:   tunnel,
		shutdown: shutdown,
		metrics:  metrics,
		log:      log,
		ring:     newEventRing(eventRingSize),
	}
}

// Observe records bus events for the activity feed. It returns when the
// channel closes.
func (s *Server) Observe(events <-chan event.Event) {
	for ev := range events {
		s.ring.add(ev)
	}
}

// Run serves until ctx is cancelled or the shutdown signal fires.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.settings.Dashboard.BindAddress, fmt.Sprintf("%d", s.settings.Dashboard.Port))
	server := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Dashboard listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-s.shutdown.Wait():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Routes builds the dashboard router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.settings.Dashboard.EnableCORS {
		r.Use(allowCORS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/config", s.handleConfig)
		r.Get("/events", s.handleEvents)
		r.Post("/reconnect", s.handleReconnect)
		r.Post("/shutdown", s.handleShutdown)
	})
	r.Method(http.MethodGet, "/metrics", s.metrics)

	return r
}

// allowCORS opens the API to browser tools on other local ports.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Status        string `json:"status"`
	Connected     bool   `json:"connected"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
	QueuedFrames  int    `json:"queued_frames"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.tracker.Snapshot()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:        stats.ConnectionStatus,
		Connected:     s.tracker.IsConnected(),
		UptimeSeconds: stats.UptimeSeconds,
		QueuedFrames:  s.tunnel.QueueLen(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

type configResponse struct {
	WebSocketURL   string `json:"websocket_url"`
	LocalServerURL string `json:"local_server_url"`
	HTTPVersion    string `json:"http_version"`
	VerifySSL      bool   `json:"verify_ssl"`
	MaxReconnects  uint   `json:"max_reconnects"`
	DashboardPort  int    `json:"dashboard_port"`
	LogLevel       string `json:"log_level"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	// The token never leaves the process.
	s.writeJSON(w, http.StatusOK, configResponse{
		WebSocketURL:   s.settings.WebSocket.URL,
		LocalServerURL: s.settings.LocalServer.URL,
		HTTPVersion:    s.settings.LocalServer.HTTPVersion,
		VerifySSL:      s.settings.LocalServer.VerifySSL,
		MaxReconnects:  s.settings.WebSocket.MaxReconnects,
		DashboardPort:  s.settings.Dashboard.Port,
		LogLevel:       s.settings.Logging.Level,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.ring.snapshot(),
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	dropped := s.tunnel.Reconnect()
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"reconnecting": dropped})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	s.shutdown.Notify()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write dashboard response")
	}
}
