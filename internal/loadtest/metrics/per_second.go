package metrics

import "sync"

// PerSecond counts requests started in the current second and keeps the
// history of completed seconds.
//
// The live counter and the history share one mutex, so a tick reads, resets
// and appends in a single critical section.
type PerSecond struct {
	mu      sync.Mutex
	current float64
	history []float64
}

// NewPerSecond creates an empty counter.
func NewPerSecond() *PerSecond {
	return &PerSecond{}
}

// Inc counts one started request.
func (p *PerSecond) Inc() {
	p.mu.Lock()
	p.current++
	p.mu.Unlock()
}

// Tick closes the current second: the live count is appended to the history
// and reset to zero. The closed count is returned.
func (p *PerSecond) Tick() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := p.current
	p.history = append(p.history, count)
	p.current = 0
	return count
}

// Current returns the count of the second in progress.
func (p *PerSecond) Current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// History returns a copy of the closed seconds, ordered by tick.
func (p *PerSecond) History() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]float64, len(p.history))
	copy(result, p.history)
	return result
}
