package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MinimumSize(t *testing.T) {
	assert.Equal(t, 1, New(0).Size())
	assert.Equal(t, 1, New(-5).Size())
	assert.Equal(t, 8, New(8).Size())
}

func TestController_NeverExceedsN(t *testing.T) {
	for _, n := range []int{1, 2, 5, 16} {
		n := n
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			c := New(n)

			var inside, maxInside atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < n*20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p, err := c.Acquire(context.Background())
					if err != nil {
						t.Errorf("Acquire() error = %v", err)
						return
					}
					defer p.Release()

					cur := inside.Add(1)
					for {
						m := maxInside.Load()
						if cur <= m || maxInside.CompareAndSwap(m, cur) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					inside.Add(-1)
				}()
			}
			wg.Wait()

			if got := maxInside.Load(); got > int64(n) {
				t.Errorf("max concurrent holders = %d, want <= %d", got, n)
			}
			assert.LessOrEqual(t, c.Peak(), n)
			assert.Equal(t, 0, c.InUse())
		})
	}
}

func TestPermit_ReleaseIdempotent(t *testing.T) {
	c := New(1)

	p, err := c.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()
	p.Release()

	assert.Equal(t, 0, c.InUse())

	// Only one permit exists; a double release must not have created a second.
	p1, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer p1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_CloseFailsPendingAndFuture(t *testing.T) {
	c := New(1)

	p, err := c.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
		var acqErr *AcquireError
		assert.True(t, errors.As(err, &acqErr))
	case <-time.After(time.Second):
		t.Fatal("pending Acquire was not released by Close")
	}

	_, err = c.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// Outstanding permits can still be released after Close.
	p.Release()
	assert.Equal(t, 0, c.InUse())
}
