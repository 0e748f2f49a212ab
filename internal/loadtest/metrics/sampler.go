package metrics

import (
	"context"
	"sync"
	"time"
)

// TickFunc receives the 1-based index of a closed second and its count.
type TickFunc func(second int, count float64)

// Sampler closes one PerSecond window per interval in a background goroutine.
//
// The first tick fires one interval after Start, never at t=0. Stop ends the
// goroutine; a tick that is already due when Stop arrives is still taken so
// the last full second is not lost.
type Sampler struct {
	counter  *PerSecond
	interval time.Duration
	onTick   TickFunc

	ticks int

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSampler creates a sampler over counter. onTick may be nil.
func NewSampler(counter *PerSecond, interval time.Duration, onTick TickFunc) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		counter:  counter,
		interval: interval,
		onTick:   onTick,
	}
}

// Start launches the background ticker. It must be called at most once.
func (s *Sampler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the ticker and waits for the goroutine to exit. It is safe to
// call more than once.
func (s *Sampler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Sampler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			select {
			case <-ticker.C:
				s.tick()
			default:
			}
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sampler) tick() {
	count := s.counter.Tick()
	s.ticks++
	if s.onTick != nil {
		s.onTick(s.ticks, count)
	}
}
