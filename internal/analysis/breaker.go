package analysis

import (
	"sync"
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// breakerState is the circuit breaker state.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards calls to the external analysis service so that
// degraded-mode behavior is decided in one place for every consumer.
// Closed passes calls through; after threshold consecutive failures the
// breaker opens and calls fail fast; after the cooldown a single probe is
// allowed (half-open) and its outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         breakerState
	failures      int
	threshold     int
	cooldown      time.Duration
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time // overridable for tests
}

// NewCircuitBreaker creates a breaker that opens after threshold
// consecutive failures and probes again after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns a fail-fast error carrying the remaining cooldown.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerHalfOpen:
		if b.probeInFlight {
			return core.ErrServiceUnavailable("analysis service probe in flight").
				WithDetail("circuit", b.state.String())
		}
		b.probeInFlight = true
		return nil
	default: // open
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			b.probeInFlight = true
			return nil
		}
		e := core.ErrServiceUnavailable("analysis service circuit open")
		e.Code = core.CodeCircuitOpen
		return e.WithDetail("retry_after", b.cooldown-b.now().Sub(b.openedAt))
	}
}

// OnSuccess records a successful call.
func (b *CircuitBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	b.state = breakerClosed
}

// OnFailure records a failed call.
func (b *CircuitBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = b.now()
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state name (for monitoring).
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
