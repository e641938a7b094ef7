// Package resilience isolates failing outbound dependencies. Rating
// sources sit behind a circuit breaker so a provider outage costs one
// fast rejection instead of a timeout per item.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the current mode of a breaker.
type State int

const (
	// StateClosed passes requests through normally.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen lets a few probes through to test recovery.
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

// ErrOpen is returned by callers that surface a rejected request.
var ErrOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes a breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenMaxProbes caps concurrent half-open probes.
	HalfOpenMaxProbes int
}

// DefaultBreakerConfig matches one slow provider blackout: five straight
// failures open the breaker for thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Cooldown:          30 * time.Second,
		HalfOpenMaxProbes: 3,
	}
}

// Breaker is a three-state circuit breaker. Callers ask Allow before an
// outbound call and report the outcome with RecordSuccess or RecordFailure.
type Breaker struct {
	mu          sync.RWMutex
	name        string
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	config      BreakerConfig
	onChange    func(name string, from, to State)
}

// NewBreaker creates a breaker named for the dependency it guards.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = DefaultBreakerConfig().HalfOpenMaxProbes
	}
	return &Breaker{name: name, state: StateClosed, config: cfg}
}

// OnStateChange registers a callback invoked on every transition.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether a request may proceed. In the open state it flips
// to half-open once the cooldown has elapsed and admits the caller as the
// first probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.lastFailure) >= b.config.Cooldown {
			b.transition(StateHalfOpen)
			b.probes = 1
			return true
		}
		return false

	case StateHalfOpen:
		if b.probes < b.config.HalfOpenMaxProbes {
			b.probes++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess notes a completed request. Enough half-open successes
// close the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0

	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure notes a failed request. Consecutive closed-state failures
// open the breaker; any half-open failure reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		b.transition(StateOpen)
		b.successes = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
	b.probes = 0
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onChange != nil {
		go b.onChange(b.name, from, to)
	}
}
