package apply

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/burrow/event"
)

// Barrier carries a notification through every channel. It is enqueued
// into each channel behind the data events already there and fires once
// all channels have reached it, so the notification is delivered only
// after every previously enqueued data event was applied.
type Barrier struct {
	ev        *event.Event
	remaining atomic.Int32
	deliver   func(*event.Event)

	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

// NewBarrier creates a barrier waiting for parties channels.
func NewBarrier(ev *event.Event, parties int, deliver func(*event.Event)) *Barrier {
	b := &Barrier{ev: ev, deliver: deliver, done: make(chan struct{})}
	b.remaining.Store(int32(parties))
	if parties <= 0 {
		b.fire()
	}
	return b
}

// Event returns the notification carried by the barrier.
func (b *Barrier) Event() *event.Event { return b.ev }

// Done is closed when the barrier fired or was cancelled.
func (b *Barrier) Done() <-chan struct{} { return b.done }

// Delivered reports whether the notification was delivered.
func (b *Barrier) Delivered() bool {
	select {
	case <-b.done:
		return !b.cancelled.Load()
	default:
		return false
	}
}

func (b *Barrier) arrive() {
	if b.remaining.Add(-1) == 0 {
		b.fire()
	}
}

func (b *Barrier) fire() {
	b.once.Do(func() {
		if !b.cancelled.Load() && b.deliver != nil {
			b.deliver(b.ev)
		}
		close(b.done)
	})
}

// Cancel abandons the barrier; the notification will not be delivered.
func (b *Barrier) Cancel() {
	b.once.Do(func() {
		b.cancelled.Store(true)
		close(b.done)
	})
}
