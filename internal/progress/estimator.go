// Package progress turns byte-written callbacks into throughput and ETA
// snapshots.
package progress

import (
	"math"
	"sync"
	"time"
)

// DefaultInterval is the minimum time between two published snapshots.
const DefaultInterval = 900 * time.Millisecond

// Snapshot is one published progress figure.
type Snapshot struct {
	// Total is the resource size in bytes, <= 0 if unknown.
	Total int64

	// Completed is the absolute number of bytes present.
	Completed int64

	// Throughput is in bytes per second.
	Throughput float64

	// ETA is the estimated time remaining, valid only if HasETA is set.
	ETA    time.Duration
	HasETA bool
}

// Fraction returns Completed/Total in [0, 1], or 0 if Total is unknown.
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	return math.Min(1, float64(s.Completed)/float64(s.Total))
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithInterval sets the minimum time between snapshots.
func WithInterval(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// Estimator samples (rangeStart, written, total) callbacks and publishes a
// Snapshot to its observer at most once per interval. Samples arriving
// inside the window are discarded; the first sample after the window wins.
type Estimator struct {
	interval time.Duration
	now      func() time.Time
	observer func(Snapshot)

	mu        sync.Mutex
	last      time.Time
	lastBytes int64
	primed    bool
}

// NewEstimator creates an Estimator publishing to observer, which may be nil.
func NewEstimator(observer func(Snapshot), opts ...Option) *Estimator {
	e := &Estimator{
		interval: DefaultInterval,
		now:      time.Now,
		observer: observer,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.last = e.now()
	return e
}

// Observe records a sample for a task whose range starts at rangeStart and
// has written bytes so far. It reports the snapshot and true when one was
// published.
func (e *Estimator) Observe(rangeStart, written, total int64) (Snapshot, bool) {
	e.mu.Lock()
	now := e.now()
	absolute := rangeStart + written
	if !e.primed {
		// Bytes before rangeStart existed before this estimator started.
		e.lastBytes = rangeStart
		e.primed = true
	}
	elapsed := now.Sub(e.last)
	if elapsed < e.interval {
		e.mu.Unlock()
		return Snapshot{}, false
	}

	delta := absolute - e.lastBytes
	if delta < 0 {
		delta = 0
	}
	s := Snapshot{
		Total:      total,
		Completed:  absolute,
		Throughput: float64(delta) / elapsed.Seconds(),
	}
	if s.Throughput > 0 && total > 0 && absolute <= total {
		eta := float64(total-absolute) / s.Throughput
		if !math.IsInf(eta, 0) && !math.IsNaN(eta) {
			s.ETA = time.Duration(eta * float64(time.Second))
			s.HasETA = true
		}
	}
	e.last = now
	e.lastBytes = absolute
	e.mu.Unlock()

	if e.observer != nil {
		e.observer(s)
	}
	return s, true
}

// Reset restarts sampling, e.g. when a stream resumes after a failure.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = e.now()
	e.primed = false
}
