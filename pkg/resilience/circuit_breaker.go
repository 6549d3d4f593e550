package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/halcyonlabs/sentinel/pkg/errors"
	"github.com/halcyonlabs/sentinel/pkg/logging"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// StateClosed - requests pass through normally
	StateClosed CircuitState = iota
	// StateOpen - requests fail immediately without invoking the operation
	StateOpen
	// StateHalfOpen - a limited number of trial requests are allowed
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

// CircuitBreakerConfig holds the trip thresholds for operation keys. The
// breaker-level config applies to every key unless a per-key override is
// installed with Configure. OnStateChange is breaker-wide and ignored on
// per-key overrides.
type CircuitBreakerConfig struct {
	// FailureThreshold is the absolute failure count that trips the breaker
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes required to
	// close from half-open
	SuccessThreshold int
	// VolumeThreshold is the minimum number of requests observed before
	// failure counts and error rate are evaluated
	VolumeThreshold int
	// ErrorThreshold is the fractional error rate (0-1) that trips the breaker
	ErrorThreshold float64
	// ResetTimeout is how long the breaker stays open before a trial request
	// is allowed
	ResetTimeout time.Duration
	// HalfOpenMaxRequests caps concurrent trial requests while half-open
	HalfOpenMaxRequests int
	// OnStateChange is called after every state transition
	OnStateChange func(key string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		VolumeThreshold:     10,
		ErrorThreshold:      0.5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreakerStats is a point-in-time snapshot of one operation key
type CircuitBreakerStats struct {
	Key             string    `json:"key"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	Requests        int       `json:"requests"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastSuccessTime time.Time `json:"last_success_time"`

	state CircuitState
}

// CurrentState returns the typed state backing the snapshot
func (s CircuitBreakerStats) CurrentState() CircuitState {
	return s.state
}

// breakerRecord holds the mutable state of one operation key. Counts are
// absolute since the last close/reset; the record mutex scopes contention
// to its own key.
type breakerRecord struct {
	mu               sync.Mutex
	config           CircuitBreakerConfig
	state            CircuitState
	failures         int
	successes        int
	requests         int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	halfOpenInFlight int
}

// CircuitBreaker maintains fail-fast gating state per named operation key.
// Records are created lazily on first use and never removed automatically;
// each instance owns its map, there is no process-wide registry.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *logging.Logger

	mu        sync.RWMutex
	records   map[string]*breakerRecord
	overrides map[string]CircuitBreakerConfig
}

// normalizeBreakerConfig fills invalid fields with defaults
func normalizeBreakerConfig(config CircuitBreakerConfig) CircuitBreakerConfig {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.VolumeThreshold <= 0 {
		config.VolumeThreshold = 10
	}
	if config.ErrorThreshold <= 0 || config.ErrorThreshold > 1 {
		config.ErrorThreshold = 0.5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	return config
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config:    normalizeBreakerConfig(config),
		logger:    logging.GetLogger(),
		records:   make(map[string]*breakerRecord),
		overrides: make(map[string]CircuitBreakerConfig),
	}
}

// Configure installs per-key trip thresholds. The override applies to the
// key's record whether or not it exists yet; counters and state are kept.
func (cb *CircuitBreaker) Configure(key string, config CircuitBreakerConfig) {
	config = normalizeBreakerConfig(config)
	config.OnStateChange = nil

	cb.mu.Lock()
	cb.overrides[key] = config
	rec := cb.records[key]
	cb.mu.Unlock()

	if rec != nil {
		rec.mu.Lock()
		rec.config = config
		rec.mu.Unlock()
	}
}

// record returns the breaker record for key, creating it closed on first use
func (cb *CircuitBreaker) record(key string) *breakerRecord {
	cb.mu.RLock()
	rec, ok := cb.records[key]
	cb.mu.RUnlock()
	if ok {
		return rec
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if rec, ok = cb.records[key]; ok {
		return rec
	}
	config, ok := cb.overrides[key]
	if !ok {
		config = cb.config
	}
	rec = &breakerRecord{state: StateClosed, config: config}
	cb.records[key] = rec
	return rec
}

// CanExecute reports whether a request for key may proceed. It returns true
// when the breaker is closed, or when an open breaker has cooled down for
// ResetTimeout, in which case the breaker atomically moves to half-open and
// the caller claims a trial slot. While half-open, at most
// HalfOpenMaxRequests callers hold trial slots concurrently.
func (cb *CircuitBreaker) CanExecute(key string) bool {
	rec := cb.record(key)

	rec.mu.Lock()
	var transition *stateChange
	allowed := false

	switch rec.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if time.Since(rec.lastFailureTime) >= rec.config.ResetTimeout {
			transition = cb.transitionLocked(key, rec, StateHalfOpen)
			rec.halfOpenInFlight = 1
			allowed = true
		}
	case StateHalfOpen:
		if rec.halfOpenInFlight < rec.config.HalfOpenMaxRequests {
			rec.halfOpenInFlight++
			allowed = true
		}
	}
	rec.mu.Unlock()

	cb.notify(transition)
	return allowed
}

// RecordSuccess records a successful outcome for key
func (cb *CircuitBreaker) RecordSuccess(key string) {
	rec := cb.record(key)

	rec.mu.Lock()
	var transition *stateChange
	rec.requests++
	rec.successes++
	rec.lastSuccessTime = time.Now()

	if rec.state == StateHalfOpen {
		if rec.halfOpenInFlight > 0 {
			rec.halfOpenInFlight--
		}
		if rec.successes >= rec.config.SuccessThreshold {
			transition = cb.transitionLocked(key, rec, StateClosed)
		}
	}
	rec.mu.Unlock()

	cb.notify(transition)
}

// RecordFailure records a failed outcome for key. In the closed state the
// trip rule is evaluated; any failure while half-open reopens immediately.
func (cb *CircuitBreaker) RecordFailure(key string) {
	rec := cb.record(key)

	rec.mu.Lock()
	var transition *stateChange
	rec.requests++
	rec.failures++
	rec.lastFailureTime = time.Now()

	switch rec.state {
	case StateClosed:
		if rec.shouldTripLocked() {
			transition = cb.transitionLocked(key, rec, StateOpen)
		}
	case StateHalfOpen:
		if rec.halfOpenInFlight > 0 {
			rec.halfOpenInFlight--
		}
		transition = cb.transitionLocked(key, rec, StateOpen)
	}
	rec.mu.Unlock()

	cb.notify(transition)
}

// shouldTripLocked evaluates the trip rule. The thresholds are only
// considered once the request volume is reached, so a handful of cold-start
// failures cannot open the breaker.
func (rec *breakerRecord) shouldTripLocked() bool {
	if rec.requests < rec.config.VolumeThreshold {
		return false
	}
	if rec.failures >= rec.config.FailureThreshold {
		return true
	}
	return float64(rec.failures)/float64(rec.requests) >= rec.config.ErrorThreshold
}

// stateChange captures a transition so notification runs outside the record lock
type stateChange struct {
	key  string
	from CircuitState
	to   CircuitState
}

// transitionLocked moves rec to a new state. Closing resets all counters;
// entering half-open resets only the consecutive success count.
func (cb *CircuitBreaker) transitionLocked(key string, rec *breakerRecord, to CircuitState) *stateChange {
	from := rec.state
	if from == to {
		return nil
	}
	rec.state = to

	switch to {
	case StateClosed:
		rec.failures = 0
		rec.successes = 0
		rec.requests = 0
		rec.halfOpenInFlight = 0
	case StateHalfOpen:
		rec.successes = 0
	case StateOpen:
		rec.halfOpenInFlight = 0
	}

	return &stateChange{key: key, from: from, to: to}
}

// notify reports a transition to the log and the configured callback
func (cb *CircuitBreaker) notify(change *stateChange) {
	if change == nil {
		return
	}

	cb.logger.LogBreakerEvent(context.Background(), change.key, change.from.String(), change.to.String(), nil)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(change.key, change.from, change.to)
	}
}

// State returns the current state of key. Reading the state never starts a
// trial; an open breaker keeps reporting open until a caller attempts
// execution after the cooldown.
func (cb *CircuitBreaker) State(key string) CircuitState {
	rec := cb.record(key)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// Stats returns a snapshot of the record for key
func (cb *CircuitBreaker) Stats(key string) CircuitBreakerStats {
	rec := cb.record(key)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return CircuitBreakerStats{
		Key:             key,
		State:           rec.state.String(),
		Failures:        rec.failures,
		Successes:       rec.successes,
		Requests:        rec.requests,
		LastFailureTime: rec.lastFailureTime,
		LastSuccessTime: rec.lastSuccessTime,
		state:           rec.state,
	}
}

// AllStats returns snapshots for every operation key seen so far
func (cb *CircuitBreaker) AllStats() []CircuitBreakerStats {
	cb.mu.RLock()
	keys := make([]string, 0, len(cb.records))
	for key := range cb.records {
		keys = append(keys, key)
	}
	cb.mu.RUnlock()

	stats := make([]CircuitBreakerStats, 0, len(keys))
	for _, key := range keys {
		stats = append(stats, cb.Stats(key))
	}
	return stats
}

// Reset forces the breaker for key back to closed with zeroed counters
func (cb *CircuitBreaker) Reset(key string) {
	rec := cb.record(key)

	rec.mu.Lock()
	transition := cb.transitionLocked(key, rec, StateClosed)
	if transition == nil {
		// Already closed; still clear the counters
		rec.failures = 0
		rec.successes = 0
		rec.requests = 0
		rec.halfOpenInFlight = 0
	}
	rec.mu.Unlock()

	cb.notify(transition)
}

// Execute wraps an operation with circuit breaker gating for key. Rejected
// calls fail fast with a circuit-open error and never invoke the operation.
// A panic inside the operation is recorded as a failure before propagating.
func (cb *CircuitBreaker) Execute(ctx context.Context, key string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	if !cb.CanExecute(key) {
		return nil, errors.NewCircuitOpenError(key)
	}

	defer func() {
		if r := recover(); r != nil {
			cb.RecordFailure(key)
			panic(r)
		}
	}()

	value, err := operation(ctx)
	if err != nil {
		cb.RecordFailure(key)
		return nil, err
	}

	cb.RecordSuccess(key)
	return value, nil
}
