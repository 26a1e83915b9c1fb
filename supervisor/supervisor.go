// Package supervisor owns the tunnel session lifecycle: it dials,
// authenticates, reconnects with backoff and queues outbound frames
// while no session is live.
package supervisor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/porihq/pori/connection"
	"github.com/porihq/pori/event"
	"github.com/porihq/pori/origin"
	"github.com/porihq/pori/retry"
	"github.com/porihq/pori/signal"
	"github.com/porihq/pori/tunnel"
	"github.com/porihq/pori/tunnelstate"
)

// ErrAttemptsExhausted is returned by Run when the reconnect budget is
// spent. The CLI maps it to a distinct exit code.
var ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")

// Config carries everything one tunnel needs across its sessions.
type Config struct {
	Connection connection.Config
	Retry      retry.Policy
}

// Supervisor runs the reconnect loop for a single tunnel.
type Supervisor struct {
	cfg       Config
	forwarder *origin.Forwarder
	bus       *event.Bus
	tracker   *tunnelstate.Tracker
	shutdown  *signal.Signal
	log       *zerolog.Logger
	backoff   *retry.BackoffHandler

	mu      sync.Mutex
	queue   []*tunnel.Frame
	session *connection.Session
}

func New(cfg Config, forwarder *origin.Forwarder, bus *event.Bus, tracker *tunnelstate.Tracker, shutdown *signal.Signal, log *zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		forwarder: forwarder,
		bus:       bus,
		tracker:   tracker,
		shutdown:  shutdown,
		log:       log,
		backoff:   retry.NewBackoff(cfg.Retry),
	}
}

// Run dials and serves sessions until shutdown, a fatal auth failure or
// reconnect exhaustion. A nil return means clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if s.shutdown.Notified() || ctx.Err() != nil {
			s.bus.Publish(event.Connection(event.StatusDisconnected, "shutdown"))
			return nil
		}
		if s.backoff.ReachedMaxAttempts() {
			s.log.Error().Uint("attempts", s.backoff.Attempt()).Msg("Reconnect attempts exhausted")
			s.bus.Publish(event.Connection(event.StatusDisconnected, ErrAttemptsExhausted.Error()))
			return ErrAttemptsExhausted
		}

		s.bus.Publish(event.Connection(event.StatusConnecting, ""))

		err := s.runSession(ctx)

		if s.shutdown.Notified() || ctx.Err() != nil {
			s.bus.Publish(event.Connection(event.StatusDisconnected, "shutdown"))
			return nil
		}
		if err != nil && !connection.IsRecoverable(err) {
			s.log.Error().Err(err).Msg("Tunnel terminated")
			s.bus.Publish(event.Connection(event.StatusError, err.Error()))
			return err
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("Session ended")
		} else {
			s.log.Info().Msg("Session ended, reconnecting")
		}

		s.tracker.ReconnectStarted()
		delay := s.backoff.Delay(s.backoff.Attempt())
		s.bus.Publish(event.Connection(event.StatusReconnecting, delay.String()))
		s.log.Info().
			Uint("attempt", s.backoff.Attempt()+1).
			Dur("delay", delay).
			Msg("Backing off before reconnect")

		if !s.backoff.Backoff(ctx) && !s.backoff.ReachedMaxAttempts() {
			s.bus.Publish(event.Connection(event.StatusDisconnected, "shutdown"))
			return nil
		}
	}
}

func (s *Supervisor) runSession(ctx context.Context) error {
	cfg := s.cfg.Connection
	userCallback := cfg.OnAuthenticated
	// A session only counts once the server accepts it; the attempt
	// counter survives handshakes that never authenticate.
	cfg.OnAuthenticated = func(sessionID string) {
		s.backoff.Reset()
		if userCallback != nil {
			userCallback(sessionID)
		}
	}

	session, err := connection.Dial(ctx, cfg, s.forwarder, s.bus, s.tracker, s.shutdown, s.log)
	if err != nil {
		return err
	}

	pending := s.installSession(session)
	defer s.setSession(nil)

	return session.Serve(ctx, pending)
}

// installSession publishes the session and claims the queue in one
// critical section, so a concurrent Send either lands in the claimed
// queue or goes straight to the new session. Nothing can park in the
// queue for the life of the session.
func (s *Supervisor) installSession(session *connection.Session) []*tunnel.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	pending := s.queue
	s.queue = nil
	return pending
}

// Send hands a frame to the live session, or queues it until the next
// session authenticates. Queued frames reach the wire in FIFO order.
func (s *Supervisor) Send(frame *tunnel.Frame) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session != nil {
		if err := session.Send(frame); err == nil {
			return
		}
	}

	s.mu.Lock()
	s.queue = append(s.queue, frame)
	s.mu.Unlock()
}

// QueueLen reports how many frames wait for the next session.
func (s *Supervisor) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Reconnect drops the live session so the loop dials again. It reports
// whether a session was live to drop.
func (s *Supervisor) Reconnect() bool {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return false
	}
	s.log.Info().Msg("Forcing reconnect")
	session.Close()
	return true
}

func (s *Supervisor) setSession(session *connection.Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}
