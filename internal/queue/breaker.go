package queue

import (
	"sync"
	"time"
)

// Breaker trips after a run of consecutive service-unreachable failures
// inside a sliding time window. Any success, or any failure of a different
// kind, breaks the run: the breaker watches for a dead service, not for
// flaky chunks.
type Breaker struct {
	threshold int
	window    time.Duration

	failures []time.Time
	tripped  bool

	now func() time.Time
	mu  sync.Mutex
}

// NewBreaker creates a breaker that trips at threshold consecutive
// unreachable failures within window.
func NewBreaker(threshold int, window time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// RecordUnreachable notes one unreachable failure and reports whether the
// breaker is now tripped.
func (b *Breaker) RecordUnreachable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		return true
	}

	now := b.now()
	b.failures = append(b.failures, now)
	b.prune(now)

	if len(b.failures) >= b.threshold {
		b.tripped = true
	}
	return b.tripped
}

// RecordOutcome resets the consecutive-failure run. Call it on any success
// or on any failure that is not an unreachable service.
func (b *Breaker) RecordOutcome() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		b.failures = b.failures[:0]
	}
}

// Tripped reports whether the breaker has fired.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// ConsecutiveFailures returns the current run length within the window.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(b.now())
	return len(b.failures)
}

// prune drops failures that have slid out of the window. Caller holds mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
