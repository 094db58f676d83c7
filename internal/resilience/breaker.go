package resilience

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Breaker states
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitOpenError is returned without contacting the endpoint while the
// breaker for its key is open.
type CircuitOpenError struct {
	Key     string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Key, e.RetryAt.Format(time.RFC3339))
}

// Breaker is a per-key circuit breaker: CLOSED -> OPEN after a number of
// consecutive failures, OPEN -> HALF_OPEN after the cooldown, where exactly
// one trial call is admitted. State is kept in atomics because breakers are
// the one piece of mutable state shared across concurrent tool jobs; a
// coarse lock here would serialize unrelated jobs.
type Breaker struct {
	key       string
	threshold int32
	cooldown  time.Duration
	now       func() time.Time

	state    atomic.Int32
	failures atomic.Int32
	openedAt atomic.Int64 // unix nanos of the transition to OPEN
}

func NewBreaker(key string, threshold int, cooldown time.Duration) *Breaker {
	return newBreaker(key, threshold, cooldown, time.Now)
}

func newBreaker(key string, threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{key: key, threshold: int32(threshold), cooldown: cooldown, now: now}
}

// Allow reports whether a call may proceed. In the OPEN state the caller
// that wins the CAS into HALF_OPEN is the single trial call; everyone else
// keeps getting CircuitOpenError until the trial resolves.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case StateClosed:
		return nil
	case StateOpen:
		openedAt := time.Unix(0, b.openedAt.Load())
		retryAt := openedAt.Add(b.cooldown)
		if b.now().Before(retryAt) {
			return &CircuitOpenError{Key: b.key, RetryAt: retryAt}
		}
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			return nil // trial call
		}
		return &CircuitOpenError{Key: b.key, RetryAt: retryAt}
	default: // half-open, trial in flight
		retryAt := time.Unix(0, b.openedAt.Load()).Add(b.cooldown)
		return &CircuitOpenError{Key: b.key, RetryAt: retryAt}
	}
}

// RecordSuccess resets the breaker to CLOSED.
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
	b.state.Store(int32(StateClosed))
}

// RecordFailure counts a failure and trips the breaker when the consecutive
// threshold is reached. A failed HALF_OPEN trial reopens immediately and
// restarts the cooldown.
func (b *Breaker) RecordFailure() {
	switch State(b.state.Load()) {
	case StateHalfOpen:
		b.openedAt.Store(b.now().UnixNano())
		b.state.Store(int32(StateOpen))
	case StateClosed:
		if b.failures.Add(1) >= b.threshold {
			b.openedAt.Store(b.now().UnixNano())
			b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen))
		}
	}
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Registry hands out one breaker per (tool, endpoint) key. Process-local by
// design: multiple orchestrator instances each keep independent breakers.
type Registry struct {
	threshold int
	cooldown  time.Duration
	breakers  sync.Map // key -> *Breaker
}

func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	return &Registry{threshold: threshold, cooldown: cooldown}
}

func (r *Registry) Get(key string) *Breaker {
	if b, ok := r.breakers.Load(key); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(key, NewBreaker(key, r.threshold, r.cooldown))
	return b.(*Breaker)
}
