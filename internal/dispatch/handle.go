package dispatch

import (
	"context"
	"sync"

	"github.com/gnoswap-labs/tverify/internal/backend"
)

// Handle is the pending result of a submitted job. It resolves exactly once.
type Handle struct {
	program string
	done    chan struct{}
	once    sync.Once
	result  backend.Result
	err     error
}

func newHandle(program string) *Handle {
	return &Handle{program: program, done: make(chan struct{})}
}

func (h *Handle) resolve(res backend.Result, err error) bool {
	resolved := false
	h.once.Do(func() {
		h.result, h.err = res, err
		close(h.done)
		resolved = true
	})
	return resolved
}

// Program is the name of the submitted program.
func (h *Handle) Program() string { return h.program }

// Done is closed once the handle is resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job is resolved or ctx ends. Giving up on a handle
// does not stop the job; its result is dropped.
func (h *Handle) Wait(ctx context.Context) (backend.Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return backend.Result{}, ctx.Err()
	}
}
