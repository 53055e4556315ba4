package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/reputul/drip/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns the default per-action-type configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
}

// CircuitBreakerRegistry keeps one breaker per action type, so a failing
// channel (say, the SMS provider) stops being called without affecting email.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
	clock    clockwork.Clock
}

// NewCircuitBreakerRegistry creates a registry. A nil clock uses the wall clock.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, clock clockwork.Clock) *CircuitBreakerRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		clock:    clock,
	}
}

// AllowRequest returns nil when a call to actionType may proceed, or a
// CIRCUIT_OPEN error while the breaker is rejecting calls.
func (r *CircuitBreakerRegistry) AllowRequest(actionType string) error {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		elapsed := r.clock.Since(cb.lastFailureTime)
		if elapsed >= r.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request is the first probe
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for action %q after %d consecutive failures", actionType, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"action":               actionType,
				"consecutive_failures": cb.consecutiveFailures,
				"cooldown_remaining":   (r.config.Cooldown - elapsed).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for action %q: probe in flight", actionType)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess closes the breaker for actionType.
func (r *CircuitBreakerRegistry) RecordSuccess(actionType string) {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure for actionType and returns the new state.
func (r *CircuitBreakerRegistry) RecordFailure(actionType string) CircuitState {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = r.clock.Now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= r.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// GetState returns the current state of the circuit for actionType.
func (r *CircuitBreakerRegistry) GetState(actionType string) CircuitState {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && r.clock.Since(cb.lastFailureTime) >= r.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

// GetStats returns diagnostic information about a breaker.
func (r *CircuitBreakerRegistry) GetStats(actionType string) map[string]any {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"action":               actionType,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    r.config.FailureThreshold,
		"cooldown":             r.config.Cooldown.String(),
	}
}

func (r *CircuitBreakerRegistry) getOrCreate(actionType string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[actionType]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed}
		r.breakers[actionType] = cb
	}
	return cb
}
