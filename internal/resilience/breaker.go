// Package resilience keeps the copilot answering when a model backend
// degrades: a per-backend circuit [Breaker] stops hammering a failing API,
// and a [Chain] fails a turn over to the next configured backend.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is recorded for a backend that was skipped because its
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's position.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe requests through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultMaxFailures = 5
	defaultCooldown    = 30 * time.Second
	defaultProbeLimit  = 3
)

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults: 5
// consecutive failures to trip, a 30s cooldown, 3 half-open probes.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that trips the breaker.
	MaxFailures int
	// Cooldown is how long an open breaker rejects before probing again.
	Cooldown time.Duration
	// ProbeLimit caps the requests admitted while half-open.
	ProbeLimit int
}

// Breaker is a three-state circuit breaker with an admit/record split:
// callers ask [Breaker.Allow] before dispatching and report the outcome
// with [Breaker.RecordSuccess] or [Breaker.RecordFailure]. The split fits
// streaming backends, where the verdict arrives long after dispatch.
//
// Safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time

	now func() time.Time
}

// NewBreaker returns a closed Breaker named for log and error context.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = defaultProbeLimit
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Allow reports whether a request may be dispatched now. An open breaker
// whose cooldown has elapsed moves to half-open and admits up to ProbeLimit
// probes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probes = 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.cfg.ProbeLimit {
			return false
		}
		b.probes++
		return true
	default:
		return false
	}
}

// RecordSuccess reports a request that completed cleanly. A half-open
// breaker closes; a closed breaker forgets accumulated failures.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probes = 0
	}
}

// RecordFailure reports a failed request. A half-open breaker reopens
// immediately; a closed breaker trips once MaxFailures accumulate.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	}
}

// trip opens the breaker. Callers hold b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probes = 0
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
}
