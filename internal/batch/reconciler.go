// Package batch decides when a group of concurrently delivered uploads has
// finished arriving.
//
// Chat transports deliver a multi-file message as independent events with no
// "last file" marker. Each event handler stages its file, waits a short settle
// delay so siblings that started a moment earlier are counted, then samples
// how many handlers are still in flight for the same user. The window for that
// user keeps the samples of the current batch and the number of files already
// announced; the batch settles once the staged count reaches the highest
// observed concurrency plus the announced count.
//
// This is a heuristic. Heavy unrelated load can delay sampling past the
// settle delay and split one group into several announcements.
package batch

import (
	"context"
	"sync"
	"time"
)

// Decision is the result of observing one staged file.
type Decision struct {
	// Settled reports that the files in [From, To) should be announced.
	Settled bool
	From    int
	To      int
	// Sample and MaxSample are the concurrency readings that led to the decision.
	Sample    int
	MaxSample int
}

type window struct {
	samples []int
	settled int
}

// Reconciler holds one window per user.
type Reconciler struct {
	sampler Sampler
	delay   time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// NewReconciler builds a reconciler that waits delay before sampling.
func NewReconciler(sampler Sampler, delay time.Duration) *Reconciler {
	if delay < 0 {
		delay = 0
	}
	return &Reconciler{sampler: sampler, delay: delay, windows: make(map[string]*window)}
}

// Delay returns the configured settle delay.
func (r *Reconciler) Delay() time.Duration {
	return r.delay
}

// Wait blocks for the settle delay or until ctx is done.
func (r *Reconciler) Wait(ctx context.Context) error {
	if r.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observe records a concurrency sample for userID and decides whether the
// batch has settled. total is the current number of staged files. Callers
// must hold the user's session lock so the staged count and the sample are
// read together.
//
// A sample of one means no sibling is still in flight, so everything not yet
// announced settles even if earlier samples were higher. Nothing settles when
// every staged file has already been announced.
func (r *Reconciler) Observe(userID string, total int) Decision {
	sample := 1
	if r.sampler != nil {
		sample = r.sampler.InFlight(userID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[userID]
	if w == nil {
		w = &window{}
		r.windows[userID] = w
	}
	if total < w.settled {
		// The session was restarted without a Reset; start over.
		w.settled = 0
		w.samples = nil
	}
	w.samples = append(w.samples, sample)
	maxSample := 0
	for _, s := range w.samples {
		maxSample = max(maxSample, s)
	}

	decision := Decision{Sample: sample, MaxSample: maxSample, From: w.settled, To: total}
	if total <= w.settled {
		return decision
	}
	if total == maxSample+w.settled || sample <= 1 {
		decision.Settled = true
		w.settled = total
		w.samples = w.samples[:0]
	}
	return decision
}

// Reset forgets the window for userID. The engine calls it whenever the
// session starts or returns to idle.
func (r *Reconciler) Reset(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, userID)
}

// Settled returns how many files have been announced for userID.
func (r *Reconciler) Settled(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w := r.windows[userID]; w != nil {
		return w.settled
	}
	return 0
}
