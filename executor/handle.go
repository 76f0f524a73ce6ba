package executor

import (
	"context"
	"sync"

	"github.com/jizhuozhi/go-future"
)

// Handle tracks one submitted task.
type Handle struct {
	promise *future.Promise[struct{}]
	result  *future.Future[struct{}]
	done    chan struct{}
	once    sync.Once
}

func newHandle() *Handle {
	p := future.NewPromise[struct{}]()
	return &Handle{
		promise: p,
		result:  p.Future(),
		done:    make(chan struct{}),
	}
}

func (h *Handle) resolve(err error) {
	h.once.Do(func() {
		h.promise.Set(struct{}{}, err)
		close(h.done)
	})
}

// Wait blocks until the task finished and returns its error. Tasks dropped
// by ShutdownImmediate resolve with ErrShutdown.
func (h *Handle) Wait() error {
	_, err := h.result.Get()
	return err
}

// WaitContext is Wait bounded by ctx.
func (h *Handle) WaitContext(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Wait()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the task has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
