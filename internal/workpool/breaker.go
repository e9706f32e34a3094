package workpool

import (
	"sync"
	"time"
)

// breaker is the consecutive-failure circuit breaker guarding a pool's
// admission path. When the failure count reaches the threshold the breaker
// opens for resetTimeout plus a hysteresis margin; the margin prevents
// rapid open/close oscillation when work starts failing again immediately
// after the window closes.
type breaker struct {
	threshold    int
	resetTimeout time.Duration
	hysteresis   time.Duration

	// now is swappable for tests.
	now func() time.Time
	// onOpen is invoked (outside the lock) each time the breaker trips.
	onOpen func()

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, resetTimeout, hysteresis time.Duration, onOpen func()) *breaker {
	return &breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		hysteresis:   hysteresis,
		now:          time.Now,
		onOpen:       onOpen,
	}
}

// allow reports whether new work may be admitted. A zero threshold
// disables the breaker entirely.
func (b *breaker) allow() bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil.IsZero() || !b.now().Before(b.openUntil)
}

// recordFailure counts one task failure and trips the breaker when the
// threshold is reached. The counter restarts from zero after a trip.
func (b *breaker) recordFailure() {
	if b.threshold <= 0 {
		return
	}
	var tripped bool
	b.mu.Lock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.resetTimeout + b.hysteresis)
		b.failures = 0
		tripped = true
	}
	b.mu.Unlock()
	if tripped && b.onOpen != nil {
		b.onOpen()
	}
}

// recordSuccess resets the consecutive-failure counter.
func (b *breaker) recordSuccess() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}
