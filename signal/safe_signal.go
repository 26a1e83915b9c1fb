// Package signal provides the once-only shutdown signal shared by the
// supervisor, sessions and the dashboard.
package signal

import (
	"sync"
)

// Signal lets goroutines announce a one-time event. Waiters observe it
// through a closed channel, so any number of selects can watch it.
type Signal struct {
	ch   chan struct{}
	once sync.Once
}

// New creates an unfired signal.
func New() *Signal {
	return Wrap(make(chan struct{}))
}

// Wrap turns an existing channel into a signal for a one-time event.
func Wrap(ch chan struct{}) *Signal {
	return &Signal{ch: ch}
}

// Notify fires the signal. Calls after the first are no-ops.
func (s *Signal) Notify() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Wait returns the channel closed by the first Notify.
func (s *Signal) Wait() <-chan struct{} {
	return s.ch
}

// Notified reports whether the signal has fired.
func (s *Signal) Notified() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
