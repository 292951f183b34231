// Package resilience provides the call-wrapping primitives the API
// client uses to keep hammering an unreachable remote from turning
// into a hot retry loop: a circuit breaker per logical endpoint, a
// bulkhead enforcing "at most one outstanding acquire", and a token
// bucket throttling the abort-burst on shutdown.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/pkg/errors"
)

// CircuitBreakerState is one of closed/open/half-open.
type CircuitBreakerState int

const (
	Closed CircuitBreakerState = iota
	Open
	HalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var (
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrHalfOpenMaxExceeded = errors.New("max requests exceeded in half-open state")
)

// CircuitBreakerConfig configures trip/reset thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	SuccessThreshold    int
	MaxRequestsHalfOpen int
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.MaxRequestsHalfOpen == 0 {
		c.MaxRequestsHalfOpen = 3
	}
}

// CircuitBreaker trips to fail-fast after a run of failures against
// one logical remote endpoint (acquire, submit, abort, status), and
// recovers through a half-open probe.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu                    sync.Mutex
	state                 CircuitBreakerState
	consecutiveFailures   int
	consecutiveSuccesses  int
	lastFailure           time.Time
	halfOpenInFlight      int32

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a breaker named name (used as a metrics/log label).
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	cb := &CircuitBreaker{name: name, config: config, logger: logger, metrics: metrics}
	cb.recordStateGauge()
	return cb
}

// Execute runs fn under the breaker's protection: it fails fast with
// ErrCircuitOpen without calling fn if the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.canExecute(); err != nil {
		cb.metrics.IncCounter("api_requests_total", map[string]string{"op": cb.name, "status": "rejected"})
		return err
	}

	if cb.currentState() == HalfOpen {
		atomic.AddInt32(&cb.halfOpenInFlight, 1)
		defer atomic.AddInt32(&cb.halfOpenInFlight, -1)
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return nil
	case Open:
		if time.Since(cb.lastFailure) > cb.config.ResetTimeout {
			cb.transitionTo(HalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case HalfOpen:
		if int(atomic.LoadInt32(&cb.halfOpenInFlight)) >= cb.config.MaxRequestsHalfOpen {
			return ErrHalfOpenMaxExceeded
		}
		return nil
	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

func (cb *CircuitBreaker) currentState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses++
	if cb.state == HalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.transitionTo(Closed)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case Closed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(Open)
		}
	case HalfOpen:
		cb.transitionTo(Open)
	}
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(next CircuitBreakerState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	if next == HalfOpen {
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
		atomic.StoreInt32(&cb.halfOpenInFlight, 0)
	}
	cb.logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.name, "from": prev.String(), "to": next.String(),
	})
	cb.recordStateGauge()
}

func (cb *CircuitBreaker) recordStateGauge() {
	cb.metrics.SetGauge("circuit_breaker_state", float64(cb.state), map[string]string{"name": cb.name})
}

// State reports the breaker's current state, for diagnostics/tests.
func (cb *CircuitBreaker) State() CircuitBreakerState { return cb.currentState() }
