// Package task runs crop work off the caller's goroutine, one job at a time,
// and reports progress back over a channel.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/menta2k/photo-crop/pkg/types"
)

// ErrBusy is returned when a job is started while another is in flight.
var ErrBusy = errors.New("task: a job is already running")

// Report sends a progress update from inside a job.
type Report func(stage types.Stage, message string)

// Func is the body of a job. It should return promptly once ctx is done.
type Func func(ctx context.Context, report Report) error

// Runner runs at most one job at a time.
type Runner struct {
	mu       sync.Mutex
	running  bool
	progress chan types.Progress
}

// NewRunner returns a Runner whose progress channel buffers up to buffer
// updates. Updates that do not fit are dropped rather than blocking the job.
func NewRunner(buffer int) *Runner {
	if buffer < 1 {
		buffer = 1
	}
	return &Runner{progress: make(chan types.Progress, buffer)}
}

// Progress returns the channel progress updates are delivered on.
func (r *Runner) Progress() <-chan types.Progress {
	return r.progress
}

// Busy reports whether a job is in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Handle tracks a started job.
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed when the job has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job returns and yields its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Start launches fn on a new goroutine. It returns ErrBusy if a job is
// already running.
func (r *Runner) Start(ctx context.Context, fn Func) (*Handle, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.running = true
	r.mu.Unlock()

	h := &Handle{done: make(chan struct{})}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				h.err = fmt.Errorf("task: job panicked: %v", p)
			}
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			close(h.done)
		}()
		if err := ctx.Err(); err != nil {
			h.err = err
			return
		}
		h.err = fn(ctx, r.report)
	}()
	return h, nil
}

// Run starts fn and waits for it.
func (r *Runner) Run(ctx context.Context, fn Func) error {
	h, err := r.Start(ctx, fn)
	if err != nil {
		return err
	}
	return h.Wait()
}

func (r *Runner) report(stage types.Stage, message string) {
	select {
	case r.progress <- types.Progress{Stage: stage, Message: message}:
	default:
	}
}
