package http

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state where requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the state where requests fail fast.
	CircuitOpen
	// CircuitHalfOpen is the testing state where one request is allowed.
	CircuitHalfOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the number of consecutive failures to open the circuit.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is how long the circuit stays open before testing.
	DefaultRecoveryTimeout = 30 * time.Second
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("http: circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures to open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a test request.
	RecoveryTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the default thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

type circuit struct {
	state             CircuitState
	consecutiveErrors int
	lastStateChange   time.Time
	probing           bool
}

// CircuitBreaker tracks consecutive failures per host and fails fast while
// a host's circuit is open. An open circuit admits one probe request after
// RecoveryTimeout; its outcome closes or reopens the circuit.
type CircuitBreaker struct {
	circuits map[string]*circuit
	mu       sync.Mutex
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		circuits: make(map[string]*circuit),
		config:   cfg,
		now:      time.Now,
	}
}

// Allow returns ErrCircuitOpen if requests to host should fail fast.
func (cb *CircuitBreaker) Allow(host string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.lastStateChange) < cb.config.RecoveryTimeout {
			return ErrCircuitOpen
		}
		c.state = CircuitHalfOpen
		c.lastStateChange = cb.now()
		c.probing = true
		return nil
	case CircuitHalfOpen:
		if c.probing {
			return ErrCircuitOpen
		}
		c.probing = true
	}
	return nil
}

// RecordSuccess closes the host's circuit.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	if c.state != CircuitClosed {
		c.lastStateChange = cb.now()
	}
	c.state = CircuitClosed
	c.consecutiveErrors = 0
	c.probing = false
}

// RecordFailure counts a transient failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure(host string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.consecutiveErrors++
	c.probing = false

	switch c.state {
	case CircuitClosed:
		if c.consecutiveErrors >= cb.config.FailureThreshold {
			c.state = CircuitOpen
			c.lastStateChange = cb.now()
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.lastStateChange = cb.now()
	}
}

// State returns the current state of the host's circuit.
func (cb *CircuitBreaker) State(host string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && cb.now().Sub(c.lastStateChange) >= cb.config.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// get returns the host's circuit, creating it. Callers hold cb.mu.
func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{state: CircuitClosed, lastStateChange: cb.now()}
		cb.circuits[host] = c
	}
	return c
}
