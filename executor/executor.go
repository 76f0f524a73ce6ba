// Package executor runs auxiliary asynchronous work (backups, consistency
// checks) on a bounded pool of worker goroutines.
//
// Admission is bounded: at most MaxRequests tasks may be outstanding
// (queued or running) at once. A submit beyond that fails immediately with
// ErrCapacityExceeded, which callers treat as backpressure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/burrow/telemetry"
	"github.com/rs/zerolog/log"
)

var (
	ErrCapacityExceeded = errors.New("executor capacity exceeded")
	ErrShutdown         = errors.New("executor is shut down")
	ErrTaskPanic        = errors.New("task panicked")
)

// Task is a unit of work. ctx is cancelled by ShutdownImmediate.
type Task func(ctx context.Context) error

// Config sizes an executor.
type Config struct {
	Name        string        // worker name prefix, diagnostics only
	MaxThreads  int           // worker goroutines, >= 1
	MaxRequests int           // outstanding tasks, >= 1
	KeepAlive   time.Duration // idle time before an extra worker exits
}

// DefaultKeepAlive applies when Config.KeepAlive is zero.
const DefaultKeepAlive = 60 * time.Second

type entry struct {
	task   Task
	handle *Handle
}

// Executor is a bounded worker pool. Workers are started on demand up to
// MaxThreads; the first one stays for the executor's lifetime, the others
// exit after KeepAlive without work.
type Executor struct {
	config Config

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	tasks       chan *entry
	workers     int
	outstanding int
	shutdown    bool

	pending  atomic.Int64
	active   atomic.Int64
	workerID atomic.Int64

	terminated chan struct{}
	termOnce   sync.Once
}

// New creates an executor.
func New(config Config) (*Executor, error) {
	if config.MaxThreads < 1 {
		return nil, fmt.Errorf("executor %s: max threads must be >= 1, got %d", config.Name, config.MaxThreads)
	}
	if config.MaxRequests < 1 {
		return nil, fmt.Errorf("executor %s: max requests must be >= 1, got %d", config.Name, config.MaxRequests)
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = DefaultKeepAlive
	}
	if config.Name == "" {
		config.Name = "executor"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		tasks:      make(chan *entry, config.MaxRequests),
		terminated: make(chan struct{}),
	}, nil
}

// Name returns the configured name.
func (e *Executor) Name() string {
	return e.config.Name
}

// Submit queues a task. It never blocks: it fails with ErrCapacityExceeded
// when MaxRequests tasks are outstanding and with ErrShutdown after either
// shutdown.
func (e *Executor) Submit(task Task) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		telemetry.ExecutorTasksTotal.With("rejected").Inc()
		return nil, ErrShutdown
	}
	if e.outstanding >= e.config.MaxRequests {
		telemetry.ExecutorTasksTotal.With("rejected").Inc()
		return nil, ErrCapacityExceeded
	}

	en := &entry{task: task, handle: newHandle()}
	e.outstanding++
	e.pending.Add(1)
	// Capacity of tasks equals MaxRequests, so this send never blocks.
	e.tasks <- en

	if e.workers < e.config.MaxThreads && e.workers < e.outstanding {
		e.startWorkerLocked()
	}

	return en.handle, nil
}

func (e *Executor) startWorkerLocked() {
	core := e.workers == 0
	e.workers++
	name := fmt.Sprintf("%s-%d", e.config.Name, e.workerID.Add(1))
	go e.work(name, core)
}

func (e *Executor) work(name string, core bool) {
	log.Debug().Str("worker", name).Bool("core", core).Msg("Executor worker started")

	var idle *time.Timer
	var idleC <-chan time.Time
	if !core {
		idle = time.NewTimer(e.config.KeepAlive)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case en, ok := <-e.tasks:
			if !ok {
				e.workerExit(name)
				return
			}
			e.run(en)
			if idle != nil {
				idle.Reset(e.config.KeepAlive)
			}

		case <-idleC:
			e.mu.Lock()
			if len(e.tasks) > 0 {
				e.mu.Unlock()
				idle.Reset(e.config.KeepAlive)
				continue
			}
			e.workers--
			e.mu.Unlock()
			log.Debug().Str("worker", name).Msg("Executor worker idle, exiting")
			return
		}
	}
}

func (e *Executor) workerExit(name string) {
	e.mu.Lock()
	e.workers--
	last := e.workers == 0 && e.shutdown
	e.mu.Unlock()

	log.Debug().Str("worker", name).Msg("Executor worker stopped")
	if last {
		e.terminate()
	}
}

func (e *Executor) terminate() {
	e.termOnce.Do(func() {
		e.cancel()
		close(e.terminated)
	})
}

func (e *Executor) run(en *entry) {
	e.pending.Add(-1)
	e.active.Add(1)

	start := time.Now()
	err := e.safeRun(en.task)
	telemetry.ExecutorTaskDurationSeconds.Observe(time.Since(start).Seconds())

	e.active.Add(-1)
	if err != nil {
		telemetry.ExecutorTasksTotal.With("failed").Inc()
	} else {
		telemetry.ExecutorTasksTotal.With("completed").Inc()
	}

	e.mu.Lock()
	e.outstanding--
	e.mu.Unlock()

	en.handle.resolve(err)
}

func (e *Executor) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("executor", e.config.Name).Msg("Task panicked")
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return task(e.ctx)
}

// PendingCount returns the number of queued tasks not yet started.
func (e *Executor) PendingCount() int {
	return int(e.pending.Load())
}

// ActiveCount returns the number of running tasks.
func (e *Executor) ActiveCount() int {
	return int(e.active.Load())
}

// ShutdownGraceful stops admission. Queued and running tasks finish.
func (e *Executor) ShutdownGraceful() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return
	}
	e.shutdown = true
	close(e.tasks)

	log.Info().Str("executor", e.config.Name).Int("outstanding", e.outstanding).Msg("Executor shutting down")
	if e.workers == 0 {
		e.terminate()
	}
}

// ShutdownImmediate stops admission, drops queued tasks and cancels the
// context of running ones. Dropped handles resolve with ErrShutdown.
// Running tasks may be left partially done. Returns the number dropped.
func (e *Executor) ShutdownImmediate() int {
	e.mu.Lock()

	wasShutdown := e.shutdown
	e.shutdown = true

	var dropped []*entry
drain:
	for {
		select {
		case en, ok := <-e.tasks:
			if !ok {
				break drain
			}
			dropped = append(dropped, en)
		default:
			break drain
		}
	}

	if !wasShutdown {
		close(e.tasks)
	}
	e.outstanding -= len(dropped)
	e.pending.Add(-int64(len(dropped)))
	noWorkers := e.workers == 0
	e.mu.Unlock()

	e.cancel()
	for _, en := range dropped {
		en.handle.resolve(ErrShutdown)
	}
	telemetry.ExecutorTasksTotal.With("dropped").Add(float64(len(dropped)))

	log.Warn().Str("executor", e.config.Name).Int("dropped", len(dropped)).Msg("Executor shut down immediately")
	if noWorkers {
		e.terminate()
	}
	return len(dropped)
}

// AwaitTermination blocks until every worker has exited after a shutdown,
// or ctx is done.
func (e *Executor) AwaitTermination(ctx context.Context) error {
	select {
	case <-e.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether a shutdown was requested.
func (e *Executor) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}
