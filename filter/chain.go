package filter

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/maxpert/burrow/event"
	"github.com/maxpert/burrow/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrLifecycle is returned when a chain phase is invoked out of order.
var ErrLifecycle = errors.New("filter chain lifecycle violation")

// ErrNoEvent is the cause of a ProcessingError for a filter that passed
// without an event.
var ErrNoEvent = errors.New("filter passed a nil event")

type chainState int32

const (
	stateNew chainState = iota
	stateConfigured
	statePrepared
	stateReleased
)

func (s chainState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateConfigured:
		return "configured"
	case statePrepared:
		return "prepared"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Chain runs filters in order. Lifecycle methods must be called in order
// new -> configured -> prepared -> released; Process is safe for concurrent
// use once the chain is prepared, provided the filters are.
type Chain struct {
	filters []Filter

	mu    sync.Mutex // serializes lifecycle transitions
	state atomic.Int32
}

// NewChain creates a chain over filters in the given order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Len returns the number of filters.
func (c *Chain) Len() int {
	return len(c.filters)
}

// Names returns filter names in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.filters))
	for i, f := range c.filters {
		names[i] = f.Name()
	}
	return names
}

func (c *Chain) current() chainState {
	return chainState(c.state.Load())
}

func (c *Chain) transition(from, to chainState, phase string, run func(Filter) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.current(); s != from {
		return fmt.Errorf("%w: %s called on %s chain", ErrLifecycle, phase, s)
	}

	for _, f := range c.filters {
		if err := run(f); err != nil {
			log.Error().Err(err).Str("filter", f.Name()).Str("phase", phase).Msg("Filter lifecycle failed")
			return fmt.Errorf("%s filter %s: %w", phase, f.Name(), err)
		}
	}

	c.state.Store(int32(to))
	return nil
}

// Configure runs Configure on each filter once, in order, stopping at the
// first failure. A failure is fatal for pipeline startup.
func (c *Chain) Configure() error {
	return c.transition(stateNew, stateConfigured, "configure", Filter.Configure)
}

// Prepare runs Prepare on each filter once, in order, stopping at the first failure.
func (c *Chain) Prepare() error {
	return c.transition(stateConfigured, statePrepared, "prepare", Filter.Prepare)
}

// Process runs the event through the chain. A drop by any filter skips the
// rest of the chain. Notifications are passed through without consulting
// filters. A filter failure is returned as a *ProcessingError.
func (c *Chain) Process(ev *event.Event) (Decision, error) {
	if s := c.current(); s != statePrepared {
		return Drop(), fmt.Errorf("%w: process called on %s chain", ErrLifecycle, s)
	}

	if ev.Kind().IsNotification() {
		return Pass(ev), nil
	}

	cur := ev
	for _, f := range c.filters {
		d, err := f.Process(cur)
		if err != nil {
			telemetry.FilterEventsTotal.With(f.Name(), "error").Inc()
			var pe *ProcessingError
			if errors.As(err, &pe) {
				return Drop(), err
			}
			return Drop(), &ProcessingError{Filter: f.Name(), Source: cur.Source(), Seqno: cur.Seqno(), Err: err}
		}
		if d.Dropped() {
			telemetry.FilterEventsTotal.With(f.Name(), "drop").Inc()
			return d, nil
		}
		if d.Event() == nil {
			telemetry.FilterEventsTotal.With(f.Name(), "error").Inc()
			return Drop(), &ProcessingError{Filter: f.Name(), Source: cur.Source(), Seqno: cur.Seqno(), Err: ErrNoEvent}
		}
		telemetry.FilterEventsTotal.With(f.Name(), "pass").Inc()
		cur = d.Event()
	}

	return Pass(cur), nil
}

// Release runs Release on every filter exactly once, whatever phase the
// chain reached, and returns the collected failures. Calling it again is a no-op.
func (c *Chain) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current() == stateReleased {
		return nil
	}
	c.state.Store(int32(stateReleased))

	var errs []error
	for _, f := range c.filters {
		if err := f.Release(); err != nil {
			log.Error().Err(err).Str("filter", f.Name()).Msg("Filter release failed")
			errs = append(errs, fmt.Errorf("release filter %s: %w", f.Name(), err))
		}
	}
	return errors.Join(errs...)
}
