package event

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	events, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		bus.Publish(RequestForwarded(fmt.Sprintf("req-%d", i), "GET", "/"))
	}

	for i := 0; i < 100; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, fmt.Sprintf("req-%d", i), ev.RequestID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishNeverBlocksWithoutConsumer(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Subscriber exists but nobody reads its channel.
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(Error("overflow test"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Publish(Connection(StatusConnected, ""))

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, KindConnectionStatus, ev.Kind)
			assert.Equal(t, StatusConnected, ev.ConnState)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	events, cancel := bus.Subscribe()
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after cancel must not panic or block.
	bus.Publish(Error("late"))
}

func TestCloseDetachesSubscribers(t *testing.T) {
	bus := NewBus()
	events, _ := bus.Subscribe()

	bus.Close()
	bus.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	bus.Publish(Error("after close"))
}

func TestEventConstructors(t *testing.T) {
	ev := ResponseReceived("r1", 200, 512)
	assert.Equal(t, KindResponseReceived, ev.Kind)
	assert.Equal(t, 200, ev.Status)
	assert.Equal(t, 512, ev.BodyLen)
	assert.False(t, ev.Timestamp.IsZero())

	ev = Connection(StatusError, "dial failed")
	assert.Equal(t, StatusError, ev.ConnState)
	assert.Equal(t, "dial failed", ev.Message)
}
