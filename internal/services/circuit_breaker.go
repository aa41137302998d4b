package services

import (
	"sync"
	"time"
)

type breakerState struct {
	failures int
	openedAt time.Time
	probing  bool
}

// CircuitBreaker tracks consecutive billing failures per org. After the
// threshold is hit the breaker opens for a cooldown window; the first call
// after cooldown runs as a half-open trial and its outcome decides whether
// the breaker closes again.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	states    map[string]*breakerState
}

func NewCircuitBreaker(threshold int, cooldown time.Duration, now func() time.Time) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
		states:    make(map[string]*breakerState),
	}
}

// Allow reports whether a billing attempt for the org may proceed.
func (cb *CircuitBreaker) Allow(orgID string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[orgID]
	if !ok || state.failures < cb.threshold {
		return true
	}

	if cb.now().Sub(state.openedAt) < cb.cooldown {
		return false
	}

	// Cooldown elapsed: let one trial through.
	if state.probing {
		return false
	}
	state.probing = true
	return true
}

// RecordFailure counts a failed attempt. Returns true when this failure
// opened (or re-opened) the breaker.
func (cb *CircuitBreaker) RecordFailure(orgID string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[orgID]
	if !ok {
		state = &breakerState{}
		cb.states[orgID] = state
	}

	if state.probing {
		// Failed half-open trial re-arms the cooldown.
		state.probing = false
		state.openedAt = cb.now()
		return true
	}

	state.failures++
	if state.failures == cb.threshold {
		state.openedAt = cb.now()
		return true
	}
	return false
}

// Reset clears the org's failure count after a successful attempt.
func (cb *CircuitBreaker) Reset(orgID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.states, orgID)
}

// Open reports whether the org's breaker is currently suppressing attempts.
func (cb *CircuitBreaker) Open(orgID string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[orgID]
	if !ok || state.failures < cb.threshold {
		return false
	}
	return cb.now().Sub(state.openedAt) < cb.cooldown
}
