package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porihq/pori/event"
	"github.com/porihq/pori/origin"
	"github.com/porihq/pori/signal"
	"github.com/porihq/pori/tunnel"
	"github.com/porihq/pori/tunnelstate"
)

type fakeCloud struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	token    chan string
	conns    chan *websocket.Conn
	received chan receivedMessage
}

type receivedMessage struct {
	msgType int
	data    []byte
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{
		t:        t,
		token:    make(chan string, 4),
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan receivedMessage, 64),
	}
	fc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc.token <- r.URL.Query().Get("token")
		conn, err := fc.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fc.conns <- conn
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fc.received <- receivedMessage{msgType, data}
		}
	}))
	t.Cleanup(fc.server.Close)
	return fc
}

func (fc *fakeCloud) url() string {
	return "ws" + strings.TrimPrefix(fc.server.URL, "http")
}

func (fc *fakeCloud) conn() *websocket.Conn {
	select {
	case c := <-fc.conns:
		return c
	case <-time.After(2 * time.Second):
		fc.t.Fatal("no client connected")
		return nil
	}
}

func (fc *fakeCloud) sendFrame(conn *websocket.Conn, msg tunnel.Message) {
	frame := tunnel.NewFrame("server-tunnel", "server", msg)
	data, binary, err := tunnel.Encode(frame)
	require.NoError(fc.t, err)
	msgType := websocket.TextMessage
	if binary {
		msgType = websocket.BinaryMessage
	}
	require.NoError(fc.t, conn.WriteMessage(msgType, data))
}

func (fc *fakeCloud) nextFrame() *tunnel.Frame {
	select {
	case msg := <-fc.received:
		var frame *tunnel.Frame
		var err error
		if msg.msgType == websocket.BinaryMessage {
			frame, err = tunnel.DecodeBinary(msg.data)
		} else {
			frame, err = tunnel.DecodeText(msg.data)
		}
		require.NoError(fc.t, err)
		return frame
	case <-time.After(2 * time.Second):
		fc.t.Fatal("no frame received from client")
		return nil
	}
}

type sessionHarness struct {
	session  *Session
	shutdown *signal.Signal
	bus      *event.Bus
	tracker  *tunnelstate.Tracker
	authed   chan string
	serveErr chan error
}

func startSession(t *testing.T, fc *fakeCloud, originURL string, pending []*tunnel.Frame) *sessionHarness {
	t.Helper()
	log := zerolog.Nop()
	bus := event.NewBus()
	t.Cleanup(bus.Close)
	tracker := tunnelstate.NewTracker(&log)
	shutdown := signal.New()
	authed := make(chan string, 1)

	fwd, err := origin.NewForwarder(origin.Config{
		OriginURL:   originURL,
		Timeout:     2 * time.Second,
		HTTPVersion: origin.HTTPVersionAuto,
	}, &log)
	require.NoError(t, err)

	cfg := Config{
		TunnelID: "tunnel-test",
		ClientID: "client-test",
		URL:      fc.url(),
		Token:    "secret-token",
		OnAuthenticated: func(sessionID string) {
			authed <- sessionID
		},
	}
	session, err := Dial(context.Background(), cfg, fwd, bus, tracker, shutdown, &log)
	require.NoError(t, err)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- session.Serve(context.Background(), pending)
	}()

	return &sessionHarness{session, shutdown, bus, tracker, authed, serveErr}
}

func (h *sessionHarness) waitServe(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.serveErr:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}

func TestDialSendsTokenQueryParam(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	defer h.shutdown.Notify()

	select {
	case token := <-fc.token:
		assert.Equal(t, "secret-token", token)
	case <-time.After(time.Second):
		t.Fatal("handshake never arrived")
	}
}

func TestAuthSuccessPromotesSession(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	defer h.shutdown.Notify()
	conn := fc.conn()

	assert.False(t, h.session.Authenticated())
	fc.sendFrame(conn, tunnel.NewMessage("auth_success", &tunnel.AuthSuccess{SessionID: "sess-7"}))

	select {
	case sessionID := <-h.authed:
		assert.Equal(t, "sess-7", sessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("OnAuthenticated never fired")
	}
	assert.True(t, h.session.Authenticated())
}

func TestLegacyAuthMessagePromotesSession(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	defer h.shutdown.Notify()
	conn := fc.conn()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"auth","status":"authenticated"}`)))

	select {
	case <-h.authed:
	case <-time.After(2 * time.Second):
		t.Fatal("legacy auth not recognized")
	}
}

func TestAuthFailureIsFatal(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	conn := fc.conn()

	fc.sendFrame(conn, tunnel.NewMessage("auth_failure", &tunnel.AuthFailure{
		ErrorCode:    "invalid_token",
		ErrorMessage: "token expired",
	}))

	err := h.waitServe(t)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_token", authErr.Code)
	assert.False(t, IsRecoverable(err))
}

func TestLegacyErrorMessageIsFatal(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	conn := fc.conn()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"error","message":"bad token"}`)))

	err := h.waitServe(t)
	assert.False(t, IsRecoverable(err))
}

func TestRequestForwardedAndAnswered(t *testing.T) {
	var gotPath string
	originServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer originServer.Close()

	fc := newFakeCloud(t)
	h := startSession(t, fc, originServer.URL, nil)
	defer h.shutdown.Notify()
	conn := fc.conn()

	fc.sendFrame(conn, tunnel.NewHTTPRequestWithID("GET", "/ping", nil, nil, "req-77"))

	frame := fc.nextFrame()
	resp, ok := frame.Message.Payload.(*tunnel.HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, "req-77", resp.RequestID)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, tunnel.Body("pong"), resp.Body)
	assert.Equal(t, "/ping", gotPath)
	assert.Equal(t, "tunnel-test", frame.Envelope.TunnelID)
	assert.Equal(t, "client-test", frame.Envelope.ClientID)

	stats := h.tracker.Snapshot()
	assert.Equal(t, uint64(1), stats.RequestsProcessed)
	assert.Equal(t, uint64(1), stats.RequestsSuccessful)
}

func TestRequestToDeadOriginSynthesizes503(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	defer h.shutdown.Notify()
	conn := fc.conn()

	fc.sendFrame(conn, tunnel.NewHTTPRequestWithID("GET", "/down", nil, nil, "req-dead"))

	frame := fc.nextFrame()
	resp, ok := frame.Message.Payload.(*tunnel.HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, 503, resp.Status)
	assert.Equal(t, "req-dead", resp.RequestID)
	assert.Equal(t, "text/html; charset=utf-8", resp.Headers["content-type"])
	assert.Equal(t, "no-cache", resp.Headers["cache-control"])
	assert.Contains(t, string(resp.Body), "503 Service Unavailable")

	stats := h.tracker.Snapshot()
	assert.Equal(t, uint64(1), stats.RequestsFailed)
}

func TestMalformedFrameIsDroppedAndSessionContinues(t *testing.T) {
	originServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer originServer.Close()

	fc := newFakeCloud(t)
	h := startSession(t, fc, originServer.URL, nil)
	defer h.shutdown.Notify()
	conn := fc.conn()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"not a frame`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"envelope":{"tunnel_id":"t","client_id":"c"},"message":{"metadata":{"id":"m","message_type":"x","timestamp":1},"payload":{"kind":"Mystery","data":{}}}}`)))

	fc.sendFrame(conn, tunnel.NewHTTPRequestWithID("GET", "/still-alive", nil, nil, "req-ok"))

	frame := fc.nextFrame()
	resp, ok := frame.Message.Payload.(*tunnel.HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, "req-ok", resp.RequestID)
}

func TestPendingFramesDrainBeforeNewTraffic(t *testing.T) {
	fc := newFakeCloud(t)
	pending := []*tunnel.Frame{
		tunnel.NewFrame("t", "c", tunnel.NewHTTPResponse(200, "OK", nil, nil, "queued-1")),
		tunnel.NewFrame("t", "c", tunnel.NewHTTPResponse(200, "OK", nil, nil, "queued-2")),
	}
	h := startSession(t, fc, "http://localhost:1", pending)
	defer h.shutdown.Notify()
	fc.conn()

	first := fc.nextFrame()
	second := fc.nextFrame()
	assert.Equal(t, "queued-1", first.RequestID())
	assert.Equal(t, "queued-2", second.RequestID())
}

func TestServerCloseEndsSessionRecoverably(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	conn := fc.conn()

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second)))
	_ = conn.Close()

	err := h.waitServe(t)
	assert.True(t, IsRecoverable(err))
}

func TestShutdownEndsSessionCleanly(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	fc.conn()

	h.shutdown.Notify()
	assert.NoError(t, h.waitServe(t))
}

func TestSendAfterDoneFails(t *testing.T) {
	fc := newFakeCloud(t)
	h := startSession(t, fc, "http://localhost:1", nil)
	h.shutdown.Notify()
	require.NoError(t, h.waitServe(t))

	err := h.session.Send(tunnel.NewFrame("t", "c", tunnel.NewPing()))
	assert.Error(t, err)
}
