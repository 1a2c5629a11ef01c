package resilience

import (
	"sync"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// ErrorClassifier decides whether an error should count toward the
// circuit breaker's failure budget. Validation/permission errors
// (caller mistakes) should not trip the breaker.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier only counts infrastructure errors.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsValidation(err) || core.IsNotFound(err) {
		return false
	}
	return true
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name             string
	ErrorThreshold   float64 // fraction of calls that must fail to open, e.g. 0.5
	VolumeThreshold  int     // minimum calls observed before evaluating the threshold
	SleepWindow      time.Duration
	HalfOpenRequests int
	Classifier       ErrorClassifier
}

// DefaultCircuitBreakerConfig matches the LLM Router's selection rule
// in spec.md §4.5: skip a provider once its error rate over the last
// >=10 calls exceeds 0.5.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 1,
		Classifier:       DefaultErrorClassifier,
	}
}

// CircuitBreaker is a simple rolling-window breaker: CanExecute gates
// calls, RecordSuccess/RecordFailure report the outcome.
type CircuitBreaker struct {
	mu     sync.Mutex
	config *CircuitBreakerConfig
	state  CircuitState

	total   int
	fails   int
	openAt  time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if config.Classifier == nil {
		config.Classifier = DefaultErrorClassifier
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// CanExecute reports whether a call is currently permitted.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openAt) >= cb.config.SleepWindow {
			cb.state = StateHalfOpen
			cb.halfOpenInFlight = 0
			return cb.admitHalfOpenLocked()
		}
		return false
	case StateHalfOpen:
		return cb.admitHalfOpenLocked()
	default:
		return true
	}
}

func (cb *CircuitBreaker) admitHalfOpenLocked() bool {
	if cb.halfOpenInFlight >= cb.config.HalfOpenRequests {
		return false
	}
	cb.halfOpenInFlight++
	return true
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.total, cb.fails = 0, 0
		return
	}
	cb.total++
	if cb.total >= cb.config.VolumeThreshold*4 {
		cb.total, cb.fails = cb.total/2, cb.fails/2
	}
	if cb.total >= cb.config.VolumeThreshold && cb.errorRateLocked() > cb.config.ErrorThreshold {
		cb.trip()
	}
}

// RecordFailure reports a failed call, per the configured classifier.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if !cb.config.Classifier(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trip()
		return
	}

	cb.total++
	cb.fails++
	if cb.total >= cb.config.VolumeThreshold && cb.errorRateLocked() > cb.config.ErrorThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openAt = time.Now()
}

func (cb *CircuitBreaker) errorRateLocked() float64 {
	if cb.total == 0 {
		return 0
	}
	return float64(cb.fails) / float64(cb.total)
}

// ErrorRate reports the current rolling error rate, used by the LLM
// Router's provider-selection rule.
func (cb *CircuitBreaker) ErrorRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.errorRateLocked()
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Observations returns the number of calls factored into the current
// error rate, so callers can implement "skip if fewer than N calls
// observed" rules.
func (cb *CircuitBreaker) Observations() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.total
}
