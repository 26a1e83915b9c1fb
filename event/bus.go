// Package event is the in-memory pub/sub bus connecting the tunnel
// engine to the dashboard, metrics and status tracking.
package event

import (
	"sync"
	"time"
)

// ConnectionStatus is the user-visible tunnel connection state.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
)

// Kind discriminates bus events.
type Kind string

const (
	KindRequestForwarded Kind = "request_forwarded"
	KindResponseReceived Kind = "response_received"
	KindError            Kind = "error"
	KindConnectionStatus Kind = "connection_status"
	KindServerStatus     Kind = "server_status"
)

// Event is one bus notification. Only the fields relevant to its Kind
// are set.
type Event struct {
	Kind      Kind             `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	RequestID string           `json:"request_id,omitempty"`
	Method    string           `json:"method,omitempty"`
	Path      string           `json:"path,omitempty"`
	Status    int              `json:"status,omitempty"`
	BodyLen   int              `json:"body_len,omitempty"`
	Message   string           `json:"message,omitempty"`
	ConnState ConnectionStatus `json:"connection_status,omitempty"`
	Server    string           `json:"server_status,omitempty"`
}

// RequestForwarded reports a request handed to the local origin.
func RequestForwarded(requestID, method, path string) Event {
	return Event{Kind: KindRequestForwarded, Timestamp: time.Now(), RequestID: requestID, Method: method, Path: path}
}

// ResponseReceived reports the origin's answer for a forwarded request.
func ResponseReceived(requestID string, status, bodyLen int) Event {
	return Event{Kind: KindResponseReceived, Timestamp: time.Now(), RequestID: requestID, Status: status, BodyLen: bodyLen}
}

// Error reports a user-visible failure.
func Error(message string) Event {
	return Event{Kind: KindError, Timestamp: time.Now(), Message: message}
}

// ServerStatus reports a status notice received from the cloud server.
func ServerStatus(status, message string) Event {
	return Event{Kind: KindServerStatus, Timestamp: time.Now(), Server: status, Message: message}
}

// Connection reports a connection state transition.
func Connection(status ConnectionStatus, message string) Event {
	return Event{Kind: KindConnectionStatus, Timestamp: time.Now(), ConnState: status, Message: message}
}

// Bus fans events out to subscribers. Publish never blocks: each
// subscriber owns an unbounded queue drained by its own pump goroutine,
// so a slow dashboard cannot stall tunnel I/O.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	out     chan Event
	done    chan struct{}
	stopped bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

// Subscribe registers a consumer. The returned channel receives events
// in publish order; cancel detaches the consumer, drops undelivered
// events and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	b.subs[id] = s
	b.mu.Unlock()

	go s.pump()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
	return s.out, cancel
}

// Close detaches all subscribers and drops further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()

	close(s.done)
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
