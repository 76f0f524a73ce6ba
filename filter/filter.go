// Package filter implements the ordered filter chain events pass through
// between decoding and partitioning.
//
// A filter has a three-phase lifecycle driven by Chain: Configure validates
// parameters, Prepare allocates runtime resources, Release frees them.
// Between Prepare and Release, Process decides for each data event whether
// it passes (possibly transformed) or is dropped.
package filter

import (
	"fmt"
	"sync/atomic"

	"github.com/maxpert/burrow/event"
)

// Filter is one stage of the chain.
type Filter interface {
	Name() string
	Configure() error
	Prepare() error
	Process(ev *event.Event) (Decision, error)
	Release() error
}

// Decision is the explicit outcome of Process. The zero value is neither a
// pass nor a drop, and the chain rejects it.
type Decision struct {
	ev      *event.Event
	dropped bool
}

// Pass keeps the event, or a transformed replacement of it, in the stream.
func Pass(ev *event.Event) Decision {
	return Decision{ev: ev}
}

// Drop removes the event from the stream.
func Drop() Decision {
	return Decision{dropped: true}
}

// Dropped reports whether the event was removed.
func (d Decision) Dropped() bool { return d.dropped }

// Event returns the surviving event; nil when dropped.
func (d Decision) Event() *event.Event { return d.ev }

// ConfigurationError reports invalid filter parameters found by Configure.
type ConfigurationError struct {
	Filter string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("filter %s: invalid configuration: %s", e.Filter, e.Reason)
}

// ProcessingError reports a failure while processing one event. Processing
// of that event is aborted; the pipeline decides whether to continue.
type ProcessingError struct {
	Filter string
	Source string
	Seqno  uint64
	Err    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("filter %s: processing %s seqno %d: %v", e.Filter, e.Source, e.Seqno, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Counters observes a filter from outside. Tests own the instance and hand
// it to the filter under test; production filters share a throwaway one.
type Counters struct {
	Configured atomic.Int64
	Prepared   atomic.Int64
	Released   atomic.Int64
	Processed  atomic.Int64
	Dropped    atomic.Int64
}
