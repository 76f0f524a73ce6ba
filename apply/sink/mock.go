package sink

import (
	"context"
	"sync"

	"github.com/maxpert/burrow/apply"
	"github.com/maxpert/burrow/cfg"
	"github.com/maxpert/burrow/event"
)

func init() {
	apply.RegisterApplier("mock", func(config cfg.ApplierConfiguration) (apply.Applier, error) {
		return &MockSink{}, nil
	})
}

// MockSink is a mock applier for testing
type MockSink struct {
	// ApplyErr, when set, is returned by every Apply
	ApplyErr error
	// Hook, when set, runs before an event is recorded; its error is returned
	Hook func(ctx context.Context, ev *event.Event) error

	mu     sync.Mutex
	events []*event.Event
	closed bool
}

// Apply records an event for later inspection in tests
func (m *MockSink) Apply(ctx context.Context, ev *event.Event) error {
	if m.Hook != nil {
		if err := m.Hook(ctx, ev); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the applied events in apply order
func (m *MockSink) Events() []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*event.Event(nil), m.events...)
}

// Seqnos returns the seqnos of the applied events in apply order
func (m *MockSink) Seqnos() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Seqno()
	}
	return out
}

// Close marks the sink closed
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears all recorded events
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
