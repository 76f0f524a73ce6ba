package apply

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/burrow/event"
	"github.com/maxpert/burrow/partition"
	"github.com/maxpert/burrow/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default initial retry delay for failed apply operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Default queue capacity per channel
	DefaultQueueSize = 1024
)

// ErrChannelStopped is returned when enqueueing into a stopped or halted channel.
var ErrChannelStopped = errors.New("apply channel stopped")

// RetryPolicy controls exponential backoff around Apply.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxRetries int // retries after the first attempt
}

// FailureHandler is called when an event could not be applied after all
// retries. Returning false halts the channel.
type FailureHandler func(ev *event.Event, err error) bool

// ChannelConfig configures an apply channel
type ChannelConfig struct {
	Partition *partition.Metadata
	QueueSize int
	Applier   Applier
	Retry     RetryPolicy
	OnFailure FailureHandler
}

type item struct {
	ev      *event.Event
	barrier *Barrier
}

// Channel is one apply lane: a bounded FIFO queue consumed by a single
// goroutine that applies events in order.
type Channel struct {
	config ChannelConfig
	name   string

	queue chan item

	enqueueMu sync.RWMutex // held shared while sending, exclusively while closing
	closed    bool

	ctx      context.Context
	cancel   context.CancelFunc
	haltCh   chan struct{}
	haltOnce sync.Once
	doneCh   chan struct{}
	started  atomic.Bool

	lastApplied atomic.Uint64
	hasApplied  atomic.Bool
	applied     atomic.Int64
	failed      atomic.Int64
}

// NewChannel creates a channel. Call Start to begin consuming.
func NewChannel(config ChannelConfig) (*Channel, error) {
	if config.Partition == nil {
		return nil, fmt.Errorf("partition metadata is required")
	}
	if config.Applier == nil {
		return nil, fmt.Errorf("applier is required")
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Retry.Initial <= 0 {
		config.Retry.Initial = DefaultRetryInitial
	}
	if config.Retry.Max <= 0 {
		config.Retry.Max = DefaultRetryMax
	}
	if config.Retry.Multiplier < 1 {
		config.Retry.Multiplier = DefaultRetryMultiplier
	}
	if config.OnFailure == nil {
		config.OnFailure = func(*event.Event, error) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		config: config,
		name:   "channel-" + strconv.Itoa(config.Partition.PartitionNumber()),
		queue:  make(chan item, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		haltCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Partition returns the channel's metadata.
func (c *Channel) Partition() *partition.Metadata {
	return c.config.Partition
}

// Start launches the consumer goroutine.
func (c *Channel) Start() {
	if c.started.Swap(true) {
		return
	}
	log.Debug().Str("channel", c.name).Int("queue_size", c.config.QueueSize).Msg("Starting apply channel")
	go c.consume()
}

// Enqueue appends a data event. The partition size is incremented first,
// so partitioners see the event as pending immediately. Blocks while the
// queue is full, until ctx is done or the channel halts.
func (c *Channel) Enqueue(ctx context.Context, ev *event.Event) error {
	c.config.Partition.Inc()
	if err := c.put(ctx, item{ev: ev}); err != nil {
		c.config.Partition.Dec()
		return err
	}
	return nil
}

// EnqueueBarrier appends a barrier behind the events already queued.
func (c *Channel) EnqueueBarrier(ctx context.Context, b *Barrier) error {
	return c.put(ctx, item{barrier: b})
}

func (c *Channel) put(ctx context.Context, it item) error {
	c.enqueueMu.RLock()
	defer c.enqueueMu.RUnlock()

	if c.closed || c.halted() {
		return ErrChannelStopped
	}

	select {
	case c.queue <- it:
		return nil
	case <-c.haltCh:
		return ErrChannelStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) consume() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.haltCh:
			c.discard()
			return
		case it, ok := <-c.queue:
			if !ok {
				return
			}
			if c.halted() {
				c.drop(it)
				c.discard()
				return
			}
			if it.barrier != nil {
				it.barrier.arrive()
				continue
			}
			if !c.apply(it.ev) {
				c.halt()
				c.discard()
				return
			}
		}
	}
}

// apply delivers one event with retries. It returns false when the channel
// must halt.
func (c *Channel) apply(ev *event.Event) bool {
	defer c.config.Partition.Dec()

	err := c.applyWithRetry(ev)
	if err == nil {
		c.applied.Add(1)
		c.lastApplied.Store(ev.Seqno())
		c.hasApplied.Store(true)
		telemetry.AppliedEventsTotal.With("success").Inc()
		return true
	}

	c.failed.Add(1)
	telemetry.AppliedEventsTotal.With("failed").Inc()
	if c.halted() {
		return false
	}
	return c.config.OnFailure(ev, err)
}

func (c *Channel) applyWithRetry(ev *event.Event) error {
	delay := c.config.Retry.Initial
	attempts := 0

	for {
		start := time.Now()
		err := c.config.Applier.Apply(c.ctx, ev)
		telemetry.ApplyDurationSeconds.Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}

		attempts++
		if attempts > c.config.Retry.MaxRetries {
			return fmt.Errorf("apply %s failed after %d attempts: %w", ev, attempts, err)
		}

		log.Warn().
			Err(err).
			Str("channel", c.name).
			Str("source", ev.Source()).
			Uint64("seqno", ev.Seqno()).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to apply event, retrying")
		telemetry.ApplyRetriesTotal.Inc()

		if !c.sleep(delay) {
			return fmt.Errorf("channel halted during retry: %w", err)
		}

		delay = time.Duration(float64(delay) * c.config.Retry.Multiplier)
		if delay > c.config.Retry.Max {
			delay = c.config.Retry.Max
		}
	}
}

// sleep waits for d; false when the channel halted meanwhile.
func (c *Channel) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.haltCh:
		return false
	case <-timer.C:
		return true
	}
}

// discard drops whatever is still queued after a halt.
func (c *Channel) discard() {
	dropped := 0
	for {
		select {
		case it, ok := <-c.queue:
			if !ok {
				c.logDiscarded(dropped)
				return
			}
			if c.drop(it) {
				dropped++
			}
		default:
			c.logDiscarded(dropped)
			return
		}
	}
}

// drop abandons one queued item; true when it was a data event.
func (c *Channel) drop(it item) bool {
	if it.barrier != nil {
		it.barrier.Cancel()
		return false
	}
	c.config.Partition.Dec()
	return true
}

func (c *Channel) logDiscarded(n int) {
	if n > 0 {
		log.Warn().Str("channel", c.name).Int("events", n).Msg("Discarded queued events on halt")
	}
}

func (c *Channel) closeQueue() {
	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// Stop closes the queue, lets the consumer apply everything already
// queued, and waits for it to exit.
func (c *Channel) Stop() {
	c.closeQueue()
	if c.started.Load() {
		<-c.doneCh
	}
	c.cancel()
	log.Debug().Str("channel", c.name).Msg("Apply channel stopped")
}

// Halt stops the consumer without draining the queue. Queued events are
// discarded and queued barriers are cancelled.
func (c *Channel) Halt() {
	c.halt()
	c.closeQueue()
	if c.started.Load() {
		<-c.doneCh
	} else {
		c.discard()
	}
	log.Debug().Str("channel", c.name).Msg("Apply channel halted")
}

func (c *Channel) halt() {
	c.haltOnce.Do(func() {
		close(c.haltCh)
		c.cancel()
	})
}

func (c *Channel) halted() bool {
	select {
	case <-c.haltCh:
		return true
	default:
		return false
	}
}

// Halted reports whether the channel halted, either through Halt or after
// the failure handler asked it to.
func (c *Channel) Halted() bool {
	return c.halted()
}

// LastApplied returns the seqno of the last successfully applied event.
func (c *Channel) LastApplied() (uint64, bool) {
	return c.lastApplied.Load(), c.hasApplied.Load()
}

// Applied returns the number of events applied successfully.
func (c *Channel) Applied() int64 { return c.applied.Load() }

// Failed returns the number of events that exhausted their retries.
func (c *Channel) Failed() int64 { return c.failed.Load() }
