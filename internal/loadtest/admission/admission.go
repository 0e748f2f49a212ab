// Package admission bounds the number of requests in flight.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Acquire once the controller has been shut down.
var ErrClosed = errors.New("admission controller closed")

// AcquireError wraps the reason a permit could not be obtained.
type AcquireError struct {
	Err error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire permit: %v", e.Err)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// Controller hands out at most N permits at a time.
//
// # Thread Safety
//
// Controller is safe for concurrent use.
type Controller struct {
	size int64
	sem  *semaphore.Weighted

	held atomic.Int64
	peak atomic.Int64

	closeCtx context.Context
	close    context.CancelFunc
}

// New creates a controller with n permits. n below 1 is raised to 1.
func New(n int) *Controller {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		size:     int64(n),
		sem:      semaphore.NewWeighted(int64(n)),
		closeCtx: ctx,
		close:    cancel,
	}
}

// Permit is one acquired slot. Release frees it; further calls are no-ops.
type Permit struct {
	c    *Controller
	once sync.Once
}

// Release returns the slot to the controller.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.c.held.Add(-1)
		p.c.sem.Release(1)
	})
}

// Acquire blocks until a permit is free, ctx is done, or the controller is
// closed. Callers should defer Release on the returned permit.
func (c *Controller) Acquire(ctx context.Context) (*Permit, error) {
	if c.closeCtx.Err() != nil {
		return nil, &AcquireError{Err: ErrClosed}
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.closeCtx, cancel)
	defer stop()

	if err := c.sem.Acquire(actx, 1); err != nil {
		if c.closeCtx.Err() != nil {
			return nil, &AcquireError{Err: ErrClosed}
		}
		return nil, &AcquireError{Err: err}
	}

	held := c.held.Add(1)
	for {
		peak := c.peak.Load()
		if held <= peak || c.peak.CompareAndSwap(peak, held) {
			break
		}
	}

	return &Permit{c: c}, nil
}

// Close shuts the controller down. Pending and future Acquire calls fail with
// ErrClosed; permits already handed out remain valid until released.
func (c *Controller) Close() {
	c.close()
}

// Size returns the configured number of permits.
func (c *Controller) Size() int {
	return int(c.size)
}

// InUse returns the number of permits currently held.
func (c *Controller) InUse() int {
	return int(c.held.Load())
}

// Peak returns the highest number of permits held at once.
func (c *Controller) Peak() int {
	return int(c.peak.Load())
}
