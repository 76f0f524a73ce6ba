// Package pipeline wires decoding, filtering, partitioning and apply
// channels into one running replication stream.
//
// Raw records flow decoder -> ordering guard -> filter chain -> partitioner
// -> apply channel. Notifications skip the partitioner and travel through
// every channel as barriers, so subscribers see them only after every data
// event enqueued before them was applied.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/burrow/apply"
	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/event"
	"github.com/maxpert/burrow/executor"
	"github.com/maxpert/burrow/filter"
	"github.com/maxpert/burrow/notify"
	"github.com/maxpert/burrow/partition"
	"github.com/maxpert/burrow/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Dropped is returned by Process instead of a partition number when no
// event was enqueued.
const Dropped = -1

const (
	defaultPollInterval    = 100 * time.Millisecond
	executorShutdownWait   = 30 * time.Second
	orderingGuardFilter    = "ordering-guard"
	readErrorBackoffFactor = 10
)

var (
	ErrSeqnoRegression = errors.New("seqno regression")
	ErrNotRunning      = errors.New("pipeline is not running")
	ErrHalted          = errors.New("pipeline halted")
	ErrNoExecutor      = errors.New("pipeline has no executor")
)

// ErrorPolicy decides what happens after a decode, processing or apply failure.
type ErrorPolicy string

const (
	PolicySkip ErrorPolicy = "skip" // report and continue
	PolicyStop ErrorPolicy = "stop" // report and halt
)

// Stage names where a failure happened.
type Stage string

const (
	StageRead    Stage = "read"
	StageDecode  Stage = "decode"
	StageProcess Stage = "process"
	StageApply   Stage = "apply"
)

// ErrorHandler receives every reported failure. ev is nil when the failure
// happened before an event existed.
type ErrorHandler func(stage Stage, ev *event.Event, err error)

// BackupFunc takes a backup and returns its location.
type BackupFunc func(ctx context.Context) (uri string, err error)

// CheckFunc runs a consistency check; a non-nil error is a failed check.
type CheckFunc func(ctx context.Context) error

// Config assembles a pipeline. Decoder, Chain, Partitioner and Applier are
// required.
type Config struct {
	Source       binlog.Source // optional; records can also be pushed through Process
	SourceID     string        // defaults to Source.ID()
	PollInterval time.Duration // wait after the source reports io.EOF

	Decoder     *binlog.Decoder
	Chain       *filter.Chain
	Partitioner partition.Partitioner
	Channels    int
	QueueSize   int
	Applier     apply.Applier
	Retry       apply.RetryPolicy

	Executor    *executor.Executor
	Hub         *notify.Hub
	ErrorPolicy ErrorPolicy
	OnError     ErrorHandler
}

// Pipeline is one replication stream. Start it, feed it, Stop it.
type Pipeline struct {
	config  Config
	ownsHub bool

	partitions []*partition.Metadata
	channels   []*apply.Channel

	// per-source highest seqno seen by the ordering guard
	lastSeqno *xsync.MapOf[string, uint64]

	lifecycleMu sync.Mutex
	running     atomic.Bool
	cancelRead  context.CancelFunc
	readDone    chan struct{}

	halted   atomic.Bool
	haltCh   chan struct{}
	haltOnce sync.Once

	received         atomic.Int64
	decodeErrors     atomic.Int64
	processingErrors atomic.Int64
	dropped          atomic.Int64
	enqueued         atomic.Int64
	applyFailures    atomic.Int64
	notifications    atomic.Int64
}

// New validates config and creates a stopped pipeline.
func New(config Config) (*Pipeline, error) {
	if config.Decoder == nil {
		return nil, fmt.Errorf("pipeline requires a decoder")
	}
	if config.Chain == nil {
		config.Chain = filter.NewChain()
	}
	if config.Partitioner == nil {
		return nil, fmt.Errorf("pipeline requires a partitioner")
	}
	if config.Applier == nil {
		return nil, fmt.Errorf("pipeline requires an applier")
	}
	switch config.ErrorPolicy {
	case "":
		config.ErrorPolicy = PolicySkip
	case PolicySkip, PolicyStop:
	default:
		return nil, fmt.Errorf("unknown error policy: %s", config.ErrorPolicy)
	}
	if config.SourceID == "" && config.Source != nil {
		config.SourceID = config.Source.ID()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}

	p := &Pipeline{
		config:    config,
		lastSeqno: xsync.NewMapOf[string, uint64](),
		haltCh:    make(chan struct{}),
	}
	if p.config.Hub == nil {
		p.config.Hub = notify.NewHub()
		p.ownsHub = true
	}
	return p, nil
}

// Hub returns the hub notifications are published on.
func (p *Pipeline) Hub() *notify.Hub {
	return p.config.Hub
}

// Start prepares the filter chain, sets up the partitions and starts the
// apply channels and, when a source is configured, the read loop. A filter
// failure aborts startup after releasing the chain.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running.Load() {
		return fmt.Errorf("pipeline already running")
	}

	chain := p.config.Chain
	if err := chain.Configure(); err != nil {
		return p.abortStart("configure filters", err)
	}
	if err := chain.Prepare(); err != nil {
		return p.abortStart("prepare filters", err)
	}

	partitions := partition.NewMetadataList(p.config.Channels)
	if err := p.config.Partitioner.Setup(partitions); err != nil {
		return p.abortStart("set up partitioner", err)
	}

	channels := make([]*apply.Channel, len(partitions))
	for i, meta := range partitions {
		ch, err := apply.NewChannel(apply.ChannelConfig{
			Partition: meta,
			QueueSize: p.config.QueueSize,
			Applier:   p.config.Applier,
			Retry:     p.config.Retry,
			OnFailure: p.onApplyFailure,
		})
		if err != nil {
			return p.abortStart("create apply channel", err)
		}
		channels[i] = ch
	}

	p.partitions = partitions
	p.channels = channels
	for _, ch := range channels {
		ch.Start()
	}

	readCtx, cancel := context.WithCancel(ctx)
	p.cancelRead = cancel
	p.readDone = make(chan struct{})
	p.running.Store(true)

	if p.config.Source != nil {
		go p.readLoop(readCtx)
	} else {
		close(p.readDone)
	}

	log.Info().
		Str("source", p.config.SourceID).
		Int("channels", len(channels)).
		Str("partitioner", p.config.Partitioner.Name()).
		Strs("filters", chain.Names()).
		Str("error_policy", string(p.config.ErrorPolicy)).
		Msg("Pipeline started")
	return nil
}

func (p *Pipeline) abortStart(step string, err error) error {
	if relErr := p.config.Chain.Release(); relErr != nil {
		log.Warn().Err(relErr).Msg("Failed to release filters after aborted start")
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (p *Pipeline) readLoop(ctx context.Context) {
	defer close(p.readDone)
	src := p.config.Source

	for {
		if p.halted.Load() {
			return
		}

		raw, err := src.Read(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if !p.wait(ctx, p.config.PollInterval) {
				return
			}
			continue
		case ctx.Err() != nil:
			return
		default:
			p.report(StageRead, nil, err)
			if !p.wait(ctx, p.config.PollInterval*readErrorBackoffFactor) {
				return
			}
			continue
		}

		if _, err := p.Process(ctx, raw); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// wait sleeps for d; false when ctx is done or the pipeline halted.
func (p *Pipeline) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-p.haltCh:
		return false
	case <-timer.C:
		return true
	}
}

// Process decodes one raw record and routes the resulting event. It returns
// the partition the event was enqueued on, or Dropped when the record
// produced no event, was filtered out or failed. Failures are reported to
// the error handler and also returned.
func (p *Pipeline) Process(ctx context.Context, raw []byte) (int, error) {
	if err := p.checkRunning(); err != nil {
		return Dropped, err
	}
	p.received.Add(1)

	start := time.Now()
	ev, err := p.config.Decoder.Decode(p.config.SourceID, raw)
	telemetry.DecodeDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		p.decodeErrors.Add(1)
		telemetry.DecodeErrorsTotal.Inc()
		p.fail(StageDecode, nil, err)
		return Dropped, err
	}
	if h, herr := binlog.ParseHeader(raw); herr == nil {
		telemetry.RecordsDecodedTotal.With(h.Type.String()).Inc()
	}
	if ev == nil {
		return Dropped, nil
	}

	return p.route(ctx, ev)
}

// ProcessEvent routes an already decoded event. Notifications are injected
// as barriers; data events go through the ordering guard and the chain.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev *event.Event) (int, error) {
	if err := p.checkRunning(); err != nil {
		return Dropped, err
	}
	if ev.Kind().IsNotification() {
		_, err := p.InjectNotification(ctx, ev)
		return Dropped, err
	}
	p.received.Add(1)
	return p.route(ctx, ev)
}

func (p *Pipeline) route(ctx context.Context, ev *event.Event) (int, error) {
	if err := p.guard(ev); err != nil {
		p.processingErrors.Add(1)
		p.fail(StageProcess, ev, err)
		return Dropped, err
	}

	d, err := p.config.Chain.Process(ev)
	if err != nil {
		p.processingErrors.Add(1)
		p.fail(StageProcess, ev, err)
		return Dropped, err
	}
	if d.Dropped() {
		p.dropped.Add(1)
		return Dropped, nil
	}
	ev = d.Event()

	n, err := p.config.Partitioner.Partition(ev)
	if err != nil {
		p.processingErrors.Add(1)
		p.fail(StageProcess, ev, err)
		return Dropped, err
	}

	if err := p.channels[n].Enqueue(ctx, ev); err != nil {
		return Dropped, fmt.Errorf("enqueue %s on partition %d: %w", ev, n, err)
	}

	p.enqueued.Add(1)
	telemetry.PartitionAssignmentsTotal.With(strconv.Itoa(n)).Inc()
	return n, nil
}

// guard rejects an event whose seqno is not above the last one seen from
// its source.
func (p *Pipeline) guard(ev *event.Event) error {
	if !ev.HasSeqno() {
		return nil
	}

	var last uint64
	regressed := false
	p.lastSeqno.Compute(ev.Source(), func(old uint64, loaded bool) (uint64, bool) {
		if loaded && ev.Seqno() <= old {
			last = old
			regressed = true
			return old, false
		}
		return ev.Seqno(), false
	})

	if !regressed {
		return nil
	}
	telemetry.SeqnoRegressionsTotal.Inc()
	return &filter.ProcessingError{
		Filter: orderingGuardFilter,
		Source: ev.Source(),
		Seqno:  ev.Seqno(),
		Err:    fmt.Errorf("%w: last seen %d", ErrSeqnoRegression, last),
	}
}

// InjectNotification enqueues a barrier carrying ev into every channel. The
// hub publishes ev once every channel applied what was queued before it.
func (p *Pipeline) InjectNotification(ctx context.Context, ev *event.Event) (*apply.Barrier, error) {
	if !ev.Kind().IsNotification() {
		return nil, fmt.Errorf("%s is not a notification", ev)
	}
	if err := p.checkRunning(); err != nil {
		return nil, err
	}

	d, err := p.config.Chain.Process(ev)
	if err != nil {
		return nil, err
	}
	ev = d.Event()

	b := apply.NewBarrier(ev, len(p.channels), p.deliver)
	for _, ch := range p.channels {
		if err := ch.EnqueueBarrier(ctx, b); err != nil {
			b.Cancel()
			return nil, fmt.Errorf("inject %s: %w", ev, err)
		}
	}
	return b, nil
}

func (p *Pipeline) deliver(ev *event.Event) {
	p.notifications.Add(1)
	log.Info().Str("kind", ev.Kind().String()).Str("uri", ev.URI()).Msg("Delivering notification")
	p.config.Hub.Publish(ev)
}

// Backup runs fn on the executor. On success a BackupCompletion
// notification carrying the returned uri is injected; a failure only
// resolves the handle with the error.
func (p *Pipeline) Backup(ctx context.Context, fn BackupFunc) (*executor.Handle, error) {
	return p.submit(ctx, "backup", func(taskCtx context.Context) error {
		uri, err := fn(taskCtx)
		if err != nil {
			log.Error().Err(err).Msg("Backup failed, no completion notification sent")
			return fmt.Errorf("backup: %w", err)
		}
		_, err = p.InjectNotification(taskCtx, event.NewBackupCompletion(uri))
		return err
	})
}

// CheckConsistency runs fn on the executor and injects a success or
// failure ConsistencyCheck notification. A failed check does not stop the
// pipeline.
func (p *Pipeline) CheckConsistency(ctx context.Context, fn CheckFunc) (*executor.Handle, error) {
	return p.submit(ctx, "consistency check", func(taskCtx context.Context) error {
		note := event.NewConsistencyCheckSuccess()
		if err := fn(taskCtx); err != nil {
			log.Warn().Err(err).Msg("Consistency check failed")
			note = event.NewConsistencyCheckFailure(err.Error())
		}
		_, err := p.InjectNotification(taskCtx, note)
		return err
	})
}

func (p *Pipeline) submit(ctx context.Context, what string, task executor.Task) (*executor.Handle, error) {
	if p.config.Executor == nil {
		return nil, ErrNoExecutor
	}
	if err := p.checkRunning(); err != nil {
		return nil, err
	}

	h, err := p.config.Executor.Submit(func(taskCtx context.Context) error {
		joined, cancel := joinContext(taskCtx, ctx)
		defer cancel()
		if err := joined.Err(); err != nil {
			return err
		}
		return task(joined)
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", what, err)
	}
	return h, nil
}

// joinContext returns a context cancelled when either parent is. A parent
// that is already done cancels the result before it is returned.
func joinContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(a)
	if b.Err() != nil {
		cancel(context.Cause(b))
		return ctx, func() { cancel(context.Canceled) }
	}
	stop := context.AfterFunc(b, func() { cancel(context.Cause(b)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

func (p *Pipeline) onApplyFailure(ev *event.Event, err error) bool {
	p.applyFailures.Add(1)
	p.report(StageApply, ev, err)
	if p.config.ErrorPolicy == PolicyStop {
		p.halt(err)
		return false
	}
	return true
}

// fail reports err and applies the error policy.
func (p *Pipeline) fail(stage Stage, ev *event.Event, err error) {
	p.report(stage, ev, err)
	if p.config.ErrorPolicy == PolicyStop {
		p.halt(err)
	}
}

func (p *Pipeline) report(stage Stage, ev *event.Event, err error) {
	l := log.Error().Err(err).Str("stage", string(stage))
	if ev != nil {
		l = l.Str("source", ev.Source()).Uint64("seqno", ev.Seqno())
	}
	l.Msg("Pipeline error")

	if p.config.OnError != nil {
		p.config.OnError(stage, ev, err)
	}
}

// halt stops intake and halts every channel without draining.
func (p *Pipeline) halt(cause error) {
	p.haltOnce.Do(func() {
		p.halted.Store(true)
		close(p.haltCh)
		log.Error().Err(cause).Msg("Halting pipeline")

		// Channel.Halt waits for the consumer, which may be the caller.
		go func() {
			for _, ch := range p.channels {
				ch.Halt()
			}
		}()
	})
}

// Halted reports whether the error policy halted the pipeline.
func (p *Pipeline) Halted() bool {
	return p.halted.Load()
}

func (p *Pipeline) checkRunning() error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	if p.halted.Load() {
		return ErrHalted
	}
	return nil
}

// Stop ends the read loop, lets the executor finish queued tasks, drains
// the channels, releases the filter chain and closes the applier. Release
// and close failures are returned.
func (p *Pipeline) Stop() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running.Load() {
		return nil
	}

	p.cancelRead()
	<-p.readDone

	// Tasks still running may inject notifications, so channels stay open
	// until the executor is done.
	if ex := p.config.Executor; ex != nil {
		ex.ShutdownGraceful()
		ctx, cancel := context.WithTimeout(context.Background(), executorShutdownWait)
		if err := ex.AwaitTermination(ctx); err != nil {
			dropped := ex.ShutdownImmediate()
			log.Warn().Int("dropped", dropped).Msg("Executor did not drain in time, shut down immediately")
		}
		cancel()
	}

	p.running.Store(false)

	var wg sync.WaitGroup
	for _, ch := range p.channels {
		wg.Add(1)
		go func(ch *apply.Channel) {
			defer wg.Done()
			ch.Stop()
		}(ch)
	}
	wg.Wait()

	var errs []error
	if err := p.config.Chain.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release filters: %w", err))
	}
	if err := p.config.Applier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close applier: %w", err))
	}
	if p.ownsHub {
		p.config.Hub.Close()
	}

	log.Info().Int64("enqueued", p.enqueued.Load()).Int64("dropped", p.dropped.Load()).Msg("Pipeline stopped")
	return errors.Join(errs...)
}
