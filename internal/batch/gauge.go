package batch

import "sync"

// Sampler reports how many file events are currently being handled for a user.
type Sampler interface {
	InFlight(userID string) int
}

// Gauge counts in-flight file events per user. The engine calls Begin when a
// file event starts and the returned func when it finishes.
type Gauge struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewGauge constructs an empty gauge.
func NewGauge() *Gauge {
	return &Gauge{counts: make(map[string]int)}
}

// Begin marks one file event for userID as in flight. The returned func is
// safe to call more than once.
func (g *Gauge) Begin(userID string) func() {
	g.mu.Lock()
	g.counts[userID]++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.counts[userID] <= 1 {
				delete(g.counts, userID)
				return
			}
			g.counts[userID]--
		})
	}
}

// InFlight implements Sampler.
func (g *Gauge) InFlight(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[userID]
}
