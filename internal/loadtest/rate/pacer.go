// Package rate provides the request pacer used by the dispatcher.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Pacer releases callers at a fixed cadence of 1/rate seconds.
//
// The schedule is anchored at the monotonic instant of the first Wait: the
// k-th slot is anchor + k*interval. Slots are computed from the anchor, not
// from the previous wake-up, so scheduling jitter on one call does not push
// back every later call and sustained throughput stays at the target rate.
// When the caller falls behind, overdue slots are released immediately.
//
// A nil *Pacer is valid and never blocks, which is how an unconfigured rate
// limit is represented.
//
// # Thread Safety
//
// Pacer is safe for concurrent use; each call claims the next free slot.
//
// # Example
//
//	p := NewPacer(100.0) // 100 requests per second
//
//	for {
//	    if err := p.Wait(ctx); err != nil {
//	        break
//	    }
//	    // Dispatch request
//	}
type Pacer struct {
	rate     float64
	interval time.Duration

	mu      sync.Mutex
	anchor  time.Time
	started bool
	slot    int64 // index of the next slot to hand out

	// Metrics
	totalWaits    atomic.Int64
	totalWaitTime atomic.Int64 // nanoseconds
}

// NewPacer creates a pacer for rate events per second.
//
// Returns nil when rate is not positive, meaning "no pacing".
func NewPacer(rate float64) *Pacer {
	if rate <= 0 {
		return nil
	}
	return &Pacer{
		rate:     rate,
		interval: time.Duration(float64(time.Second) / rate),
	}
}

// Next reserves the next slot and returns when it starts.
//
// The first call anchors the schedule and returns the anchor itself, so the
// first dispatched request is also paced.
func (p *Pacer) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.anchor = time.Now()
		p.started = true
	}

	at := p.anchor.Add(time.Duration(p.slot) * p.interval)
	p.slot++
	return at
}

// Wait blocks until the next slot.
//
// Returns:
//   - nil when the slot was reached (or the pacer is nil)
//   - ctx.Err() if the context was cancelled first
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}

	next := p.Next()
	p.totalWaits.Add(1)

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	p.totalWaitTime.Add(int64(wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the configured rate in events per second; zero for a nil pacer.
func (p *Pacer) Rate() float64 {
	if p == nil {
		return 0
	}
	return p.rate
}

// Interval returns the spacing between slots.
func (p *Pacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}

// Reset drops the anchor; the next Wait starts a new schedule.
func (p *Pacer) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started = false
	p.slot = 0
	p.totalWaits.Store(0)
	p.totalWaitTime.Store(0)
}

// Stats returns statistics about the pacer's operation.
func (p *Pacer) Stats() PacerStats {
	if p == nil {
		return PacerStats{}
	}
	return PacerStats{
		Rate:          p.rate,
		Interval:      p.interval,
		TotalWaits:    p.totalWaits.Load(),
		TotalWaitTime: time.Duration(p.totalWaitTime.Load()),
	}
}

// PacerStats contains statistics about the pacer.
type PacerStats struct {
	Rate          float64       `json:"rate"`          // Target events per second
	Interval      time.Duration `json:"interval"`      // Spacing between slots
	TotalWaits    int64         `json:"totalWaits"`    // Slots handed out
	TotalWaitTime time.Duration `json:"totalWaitTime"` // Total time spent sleeping
}
