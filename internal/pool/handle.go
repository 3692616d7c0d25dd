package pool

import (
	"context"
	"sync"
)

// Handle is a future-like view of a submitted unit of work. It resolves
// exactly once, to either a result or a failure.
type Handle struct {
	done chan struct{}
	once sync.Once
	data []byte
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(data []byte, err error) {
	h.once.Do(func() {
		h.data = data
		h.err = err
		close(h.done)
	})
}

// Done returns a channel closed when the work has resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the work resolves or ctx is done, returning the work's
// result or failure. Waiting does not occupy a pool worker.
func (h *Handle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-h.done:
		return h.data, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
