// Package connection drives a single WebSocket session against the
// cloud proxy: authentication, frame dispatch and the outbound writer.
package connection

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/porihq/pori/event"
	"github.com/porihq/pori/origin"
	"github.com/porihq/pori/signal"
	"github.com/porihq/pori/tunnel"
	"github.com/porihq/pori/tunnelstate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	writeWait               = 10 * time.Second
	outboundBuffer          = 64
)

// Config describes one session's connection parameters.
type Config struct {
	TunnelID string
	ClientID string
	// URL is the normalized ws/wss server URL, without the token.
	URL   string
	Token string
	// HandshakeTimeout bounds the WebSocket dial. Zero means 30s.
	HandshakeTimeout time.Duration
	// PingInterval spaces transport-level pings. Zero disables them.
	PingInterval time.Duration
	// PongTimeout is the grace period for a pong after a ping. Only
	// effective when PingInterval is set. Zero means 10s.
	PongTimeout time.Duration
	// OnAuthenticated fires once when the server accepts the session.
	OnAuthenticated func(sessionID string)
}

// Session owns one live WebSocket connection. The reader goroutine is
// the caller of Serve; a writer goroutine owns the socket sink; each
// inbound request runs in its own goroutine.
type Session struct {
	cfg       Config
	conn      *websocket.Conn
	forwarder *origin.Forwarder
	bus       *event.Bus
	tracker   *tunnelstate.Tracker
	shutdown  *signal.Signal
	log       *zerolog.Logger

	outbound chan *tunnel.Frame
	done     chan struct{}

	mu        sync.Mutex
	authed    bool
	sessionID string
	writeErr  error
}

// Dial opens the WebSocket handshake with the token attached as a
// query parameter. Failures are recoverable transport errors.
func Dial(ctx context.Context, cfg Config, forwarder *origin.Forwarder, bus *event.Bus, tracker *tunnelstate.Tracker, shutdown *signal.Signal, log *zerolog.Logger) (*Session, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &TransportError{Err: errors.Wrap(err, "invalid server URL")}
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()

	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Err: errors.Wrapf(err, "handshake rejected with status %d", resp.StatusCode)}
		}
		return nil, &TransportError{Err: err}
	}

	log.Info().Str("url", cfg.URL).Msg("WebSocket connected, waiting for authentication")

	return &Session{
		cfg:       cfg,
		conn:      conn,
		forwarder: forwarder,
		bus:       bus,
		tracker:   tracker,
		shutdown:  shutdown,
		log:       log,
		outbound:  make(chan *tunnel.Frame, outboundBuffer),
		done:      make(chan struct{}),
	}, nil
}

// Serve drains pending frames into the writer, then reads until the
// connection ends. The returned error is nil for a server close or
// local shutdown, a *TransportError for socket failures and an
// *AuthError when the server rejects the session.
func (s *Session) Serve(ctx context.Context, pending []*tunnel.Frame) error {
	defer close(s.done)
	defer s.conn.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	if s.cfg.PingInterval > 0 {
		pongTimeout := s.cfg.PongTimeout
		if pongTimeout == 0 {
			pongTimeout = defaultPongTimeout
		}
		readDeadline := s.cfg.PingInterval + pongTimeout
		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		})
		go s.pinger(writerDone)
	}

	// Unblock the blocked read when shutdown fires.
	go func() {
		select {
		case <-s.shutdown.Wait():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"),
				time.Now().Add(writeWait))
			s.conn.Close()
		case <-ctx.Done():
			s.conn.Close()
		case <-s.done:
		}
	}()

	// Queued frames reach the wire before any new traffic.
	for _, frame := range pending {
		select {
		case s.outbound <- frame:
		case <-s.shutdown.Wait():
			return nil
		}
	}

	err := s.readLoop(ctx)

	if s.shutdown.Notified() {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	writeErr := s.writeErr
	s.mu.Unlock()
	if writeErr != nil {
		return &TransportError{Err: writeErr}
	}
	return nil
}

// Send posts a frame to the writer. It fails once the session is done.
func (s *Session) Send(frame *tunnel.Frame) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	case <-s.shutdown.Wait():
		return errors.New("shutting down")
	default:
	}
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return errors.New("session closed")
	case <-s.shutdown.Wait():
		return errors.New("shutting down")
	}
}

// Authenticated reports whether the server accepted this session.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// Done is closed when Serve returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close drops the underlying connection. Serve then returns with a
// recoverable transport error, which makes the supervisor reconnect.
func (s *Session) Close() {
	_ = s.conn.Close()
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info().Msg("Server closed the connection")
				return nil
			}
			return &TransportError{Err: err}
		}
		if err := s.dispatchRaw(ctx, msgType, data); err != nil {
			return err
		}
	}
}

func (s *Session) dispatchRaw(ctx context.Context, msgType int, data []byte) error {
	var frame *tunnel.Frame
	var err error
	if msgType == websocket.BinaryMessage {
		frame, err = tunnel.DecodeBinary(data)
	} else {
		frame, err = tunnel.DecodeText(data)
	}
	if err != nil {
		if msgType != websocket.BinaryMessage {
			if handled, authErr := s.handleLegacyMessage(data); handled {
				return authErr
			}
		}
		s.log.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping undecodable frame")
		return nil
	}
	return s.dispatch(ctx, frame)
}

// legacyMessage is the bare JSON notice older servers send outside the
// framed protocol.
type legacyMessage struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Session) handleLegacyMessage(data []byte) (bool, error) {
	var msg legacyMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		return false, nil
	}
	switch msg.Type {
	case "auth":
		if msg.Status == "authenticated" {
			s.markAuthenticated("")
			return true, nil
		}
		s.log.Warn().Str("status", msg.Status).Msg("Unexpected legacy auth status")
		return true, nil
	case "error":
		return true, &AuthError{Message: msg.Message}
	default:
		s.log.Debug().Str("type", msg.Type).Msg("Ignoring legacy message")
		return true, nil
	}
}

func (s *Session) dispatch(ctx context.Context, frame *tunnel.Frame) error {
	switch p := frame.Message.Payload.(type) {
	case *tunnel.HTTPRequest:
		go s.handleRequest(ctx, p)
		return nil
	case *tunnel.HTTPResponse:
		s.log.Warn().Str("request_id", p.RequestID).Msg("Dropping unexpected HTTP response frame")
		return nil
	case *tunnel.AuthSuccess:
		s.markAuthenticated(p.SessionID)
		return nil
	case *tunnel.AuthFailure:
		return &AuthError{Code: p.ErrorCode, Message: p.ErrorMessage}
	case *tunnel.AuthToken:
		s.log.Debug().Msg("Ignoring token auth frame from server")
		return nil
	case *tunnel.ControlAuthentication:
		if p.Status == "authenticated" {
			s.markAuthenticated("")
			return nil
		}
		return &AuthError{Message: p.Message}
	case *tunnel.ControlPing, *tunnel.ControlPong:
		// Transport-level ping/pong keeps the socket alive; the framed
		// variants need no reply in this deployment.
		s.log.Debug().Msg("Ignoring framed ping/pong")
		return nil
	case *tunnel.ControlStatus:
		s.log.Info().Str("status", p.Status).Str("message", p.Message).Msg("Server status")
		s.bus.Publish(event.ServerStatus(p.Status, p.Message))
		return nil
	case *tunnel.ControlShutdown:
		s.log.Info().Str("reason", p.Reason).Uint64("grace_seconds", p.GracePeriodSeconds).Msg("Server announced shutdown")
		return nil
	case *tunnel.ControlError:
		s.log.Warn().Str("code", p.Code).Str("error", p.Error).Msg("Server control error")
		return nil
	case *tunnel.ErrorPayload:
		s.log.Warn().
			Str("code", p.Code).
			Str("category", string(p.Category)).
			Str("related_id", p.RelatedID).
			Msg("Server error frame")
		if p.RelatedID != "" {
			s.tracker.RemoteFailure()
		}
		s.bus.Publish(event.Error(p.Message))
		return nil
	default:
		s.log.Debug().Str("message_type", frame.MessageType()).Msg("Ignoring frame")
		return nil
	}
}

func (s *Session) markAuthenticated(sessionID string) {
	s.mu.Lock()
	already := s.authed
	s.authed = true
	if sessionID != "" {
		s.sessionID = sessionID
	}
	s.mu.Unlock()
	if already {
		return
	}
	s.log.Info().Str("session_id", sessionID).Msg("Tunnel authenticated")
	s.bus.Publish(event.Connection(event.StatusConnected, ""))
	if s.cfg.OnAuthenticated != nil {
		s.cfg.OnAuthenticated(sessionID)
	}
}

func (s *Session) handleRequest(ctx context.Context, req *tunnel.HTTPRequest) {
	path := origin.DerivePath(req.URL)
	s.tracker.RequestStarted()
	s.bus.Publish(event.RequestForwarded(req.RequestID, req.Method, path))

	start := time.Now()
	resp, err := s.forwarder.Forward(ctx, origin.Request{
		Method:    req.Method,
		URL:       req.URL,
		Headers:   req.Headers,
		Body:      req.Body,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("request_id", req.RequestID).
			Str("method", req.Method).
			Str("path", path).
			Msg("Forward to local origin failed")
		s.bus.Publish(event.Error(err.Error()))
		resp = origin.ErrorResponse(err)
	}
	s.tracker.RequestFinished(err == nil, len(resp.Body), time.Since(start))
	s.bus.Publish(event.ResponseReceived(req.RequestID, resp.Status, len(resp.Body)))

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	msg := tunnel.NewHTTPResponse(resp.Status, resp.StatusText, resp.Headers, resp.Body, req.RequestID)
	if sessionID != "" {
		msg = msg.WithSessionID(sessionID)
	}
	frame := tunnel.NewFrame(s.cfg.TunnelID, s.cfg.ClientID, msg)
	if err := s.Send(frame); err != nil {
		// The session is gone; the response is dropped and the cloud
		// will time the request out.
		s.log.Debug().Str("request_id", req.RequestID).Msg("Session closed before response could be sent")
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case frame := <-s.outbound:
			data, binary, err := tunnel.Encode(frame)
			if err != nil {
				s.log.Error().Err(err).Str("message_type", frame.MessageType()).Msg("Failed to encode frame")
				continue
			}
			msgType := websocket.TextMessage
			if binary {
				msgType = websocket.BinaryMessage
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(msgType, data); err != nil {
				s.mu.Lock()
				s.writeErr = err
				s.mu.Unlock()
				s.conn.Close()
				return
			}
		case <-s.shutdown.Wait():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) pinger(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				s.log.Debug().Err(err).Msg("Failed to send ping")
			}
		case <-stop:
			return
		case <-s.shutdown.Wait():
			return
		}
	}
}
