package resilience

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig tunes a breaker. Zero values fall back to defaults in
// NewCircuitBreaker.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	OpenTimeout      time.Duration
	HalfOpenMaxReq   int
}

// CircuitBreaker protects the handler backend from invocation storms while
// it is failing. Closed counts consecutive failures; open rejects until the
// timeout elapses; half-open admits a bounded number of probes.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig

	state       CircuitState
	failures    int
	openedAt    time.Time
	probeInUse  int
	probePassed int
	now         func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	if cfg.HalfOpenMaxReq < 1 {
		cfg.HalfOpenMaxReq = 2
	}

	return &CircuitBreaker{
		cfg:   cfg,
		state: CircuitClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed, reserving a probe slot when the
// breaker is half-open.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
	}

	if b.state == CircuitHalfOpen {
		if b.probeInUse >= b.cfg.HalfOpenMaxReq {
			return ErrCircuitOpen
		}
		b.probeInUse++
	}

	return nil
}

func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		if b.probeInUse > 0 {
			b.probeInUse--
		}
		b.probePassed++
		if b.probePassed >= b.cfg.HalfOpenMaxReq && b.probeInUse == 0 {
			b.transition(CircuitClosed)
		}
	}
}

func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		if b.probeInUse > 0 {
			b.probeInUse--
		}
		b.transition(CircuitOpen)
	case CircuitOpen:
		b.openedAt = b.now()
	}
}

func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		return CircuitHalfOpen
	}

	return b.state
}

func (b *CircuitBreaker) transition(next CircuitState) {
	b.state = next
	b.probeInUse = 0
	b.probePassed = 0
	switch next {
	case CircuitClosed:
		b.failures = 0
		b.openedAt = time.Time{}
	case CircuitOpen:
		b.openedAt = b.now()
	}
}
