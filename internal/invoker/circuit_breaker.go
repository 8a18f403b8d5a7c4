package invoker

import (
	"sync"
	"time"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/model"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every request through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests without reaching the service.
	BreakerOpen
	// BreakerHalfOpen lets probe requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minErrorRateSamples is the number of calls a window needs before its error
// rate is compared with the threshold.
const minErrorRateSamples = 10

// StateChangeFunc is notified after every breaker transition.
type StateChangeFunc func(name string, from, to BreakerState)

// CircuitBreaker guards one remote service. It opens after a run of
// consecutive failures or when the error rate in a tumbling window crosses
// the configured threshold, and closes again after enough successful probes.
// It is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  config.CircuitBreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	now      func() time.Time
	onChange StateChangeFunc
}

// NewCircuitBreaker creates a closed breaker for the named service. Zero
// values in cfg fall back to 5 failures, 2 successes and a 30s open period;
// a zero error rate threshold or window disables rate-based tripping.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, onChange StateChangeFunc) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cb := &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		state:    BreakerClosed,
		now:      time.Now,
		onChange: onChange,
	}
	cb.windowStart = cb.now()
	return cb
}

// Allow reports whether a request may be sent. An open breaker yields a
// BACKEND_UNAVAILABLE error until its open period has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == BreakerOpen {
		return model.NewBackendUnavailableError()
	}
	return nil
}

// RecordSuccess records a request the service answered.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a request that failed at the transport or with a
// server error.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.cfg.FailureThreshold || cb.errorRateExceeded() {
			cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transition(BreakerOpen)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	return cb.state
}

// ErrorRate returns the error rate and call count of the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeResetWindow()
	if cb.windowTotal == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowTotal), cb.windowTotal
}

// Lock must be held by the callers of the helpers below.

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.cfg.Timeout {
		cb.transition(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	switch to {
	case BreakerOpen:
		cb.openedAt = cb.now()
		cb.resetWindow()
	case BreakerClosed:
		cb.failures = 0
		cb.resetWindow()
	}
	if cb.onChange != nil && from != to {
		cb.onChange(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) recordWindowCall(failed bool) {
	if cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	cb.maybeResetWindow()
	cb.windowTotal++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) maybeResetWindow() {
	if cb.cfg.ErrorRateWindow > 0 && cb.now().Sub(cb.windowStart) > cb.cfg.ErrorRateWindow {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.cfg.ErrorRateThreshold <= 0 || cb.cfg.ErrorRateWindow <= 0 {
		return false
	}
	if cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.cfg.ErrorRateThreshold
}
