package dashboard

import (
	"sync"

	"github.com/porihq/pori/event"
)

// eventRing keeps the most recent bus events for the activity feed.
type eventRing struct {
	mu   sync.Mutex
	buf  []event.Event
	next int
	full bool
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]event.Event, size)}
}

func (r *eventRing) add(ev event.Event) {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns the retained events, oldest first.
func (r *eventRing) snapshot() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]event.Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]event.Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
