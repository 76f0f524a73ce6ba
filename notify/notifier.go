// Package notify fans notification events out to in-process subscribers.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/burrow/event"
	"github.com/maxpert/burrow/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultBuffer is how many notifications a subscriber may fall behind
// before deliveries to it are dropped.
const DefaultBuffer = 16

// kindSet is a bitmask over event.Kind; zero means every kind.
type kindSet uint32

func newKindSet(kinds []event.Kind) kindSet {
	var s kindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

func (s kindSet) has(k event.Kind) bool {
	return s == 0 || s&(1<<k) != 0
}

type subscriber struct {
	id    uint64
	kinds kindSet
	ch    chan *event.Event
	once  sync.Once
}

func (s *subscriber) shut() {
	s.once.Do(func() { close(s.ch) })
}

// Hub delivers each published notification to every subscriber whose kinds
// match. Publish never blocks: a full subscriber loses the delivery.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	ids     atomic.Uint64
	dropped atomic.Int64
}

func NewHub() *Hub {
	return NewHubWithBuffer(DefaultBuffer)
}

func NewHubWithBuffer(size int) *Hub {
	return &Hub{
		buffer: max(size, 1),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish ignores nil and data events.
func (h *Hub) Publish(ev *event.Event) {
	if ev == nil || !ev.Kind().IsNotification() {
		return
	}
	kind := ev.Kind()
	telemetry.NotificationsTotal.With(kind.String()).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.kinds.has(kind) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
			telemetry.NotificationsDroppedTotal.Inc()
			log.Warn().
				Uint64("subscriber", s.id).
				Stringer("kind", kind).
				Msg("Notification dropped, subscriber is behind")
		}
	}
}

// Subscribe registers for the given kinds, or all notification kinds when
// none are given. The returned cancel closes the channel and may be called
// more than once.
func (h *Hub) Subscribe(kinds ...event.Kind) (<-chan *event.Event, func()) {
	s := &subscriber{
		id:    h.ids.Add(1),
		kinds: newKindSet(kinds),
		ch:    make(chan *event.Event, h.buffer),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s.ch, func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.shut()
	}
}

// Dropped counts deliveries lost to full subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later Subscribe calls still work.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.shut()
	}
}
