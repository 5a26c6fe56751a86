// Package circuit implements a per-operation circuit breaker that
// quarantines chronically failing operations.
package circuit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flakeguard/flakeguard/pkg/types"
)

// Default breaker configuration
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenAttempts = 3
	DefaultMonitoringWindow = 10 * time.Minute
)

// Status is the breaker state for one operation
type Status int

const (
	// StatusClosed allows execution and counts failures
	StatusClosed Status = iota

	// StatusHalfOpen allows a limited number of trial executions
	StatusHalfOpen

	// StatusOpen refuses execution until the recovery deadline
	StatusOpen
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config defines breaker behavior
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before trial attempts
	RecoveryTimeout time.Duration

	// HalfOpenAttempts is the trial allowance after the recovery deadline,
	// and the consecutive-success quota required to close again
	HalfOpenAttempts int

	// MonitoringWindow bounds the recent-failure accounting window
	MonitoringWindow time.Duration
}

// DefaultConfig returns the default breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		HalfOpenAttempts: DefaultHalfOpenAttempts,
		MonitoringWindow: DefaultMonitoringWindow,
	}
}

// Snapshot is a point-in-time view of one operation's circuit state
type Snapshot struct {
	OperationID          string
	Status               Status
	IsOpen               bool
	ConsecutiveFailures  int
	TotalFailures        int
	TotalSuccesses       int
	OpenedAt             time.Time
	RecoveryDeadline     time.Time
	HalfOpenAttemptsUsed int

	// FailureRate is TotalFailures over all recorded outcomes
	FailureRate float64

	// WindowFailures counts failures inside the monitoring window only
	WindowFailures int
}

// opState is the mutable per-operation record. Created lazily on first
// event, never deleted during the breaker's lifetime.
type opState struct {
	status              Status
	consecutiveFailures int
	totalFailures       int
	totalSuccesses      int
	openedAt            time.Time
	recoveryDeadline    time.Time
	halfOpenUsed        int
	halfOpenSuccesses   int
	failureTimes        []time.Time
}

// Breaker tracks circuit state per operation id. Safe for concurrent use.
type Breaker struct {
	cfg     Config
	clock   types.Clock
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	states map[string]*opState
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock sets the clock for deadline arithmetic
func WithClock(clock types.Clock) Option {
	return func(b *Breaker) {
		b.clock = clock
	}
}

// WithLogger sets the logger for state transitions
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithMetrics sets the Prometheus metric set
func WithMetrics(m *Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// New creates a breaker. Zero config fields fall back to defaults.
func New(cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenAttempts <= 0 {
		cfg.HalfOpenAttempts = DefaultHalfOpenAttempts
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = DefaultMonitoringWindow
	}

	b := &Breaker{
		cfg:    cfg,
		clock:  types.NewRealClock(),
		logger: zap.NewNop(),
		states: make(map[string]*opState),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Allow reports whether an attempt may run for the operation. While the
// circuit is open and before the recovery deadline it returns false; once
// past the deadline it moves to half-open and permits up to
// HalfOpenAttempts trial attempts.
func (b *Breaker) Allow(operationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state(operationID)
	now := b.clock.Now()

	switch state.status {
	case StatusClosed:
		return true

	case StatusOpen:
		if now.Before(state.recoveryDeadline) {
			b.metrics.recordRejection(operationID)
			return false
		}
		b.transition(operationID, state, StatusHalfOpen)
		state.halfOpenUsed = 1
		state.halfOpenSuccesses = 0
		return true

	default: // StatusHalfOpen
		if state.halfOpenUsed >= b.cfg.HalfOpenAttempts {
			b.metrics.recordRejection(operationID)
			return false
		}
		state.halfOpenUsed++
		return true
	}
}

// RecordFailure registers a failed attempt. A half-open failure reopens
// the circuit with a fresh recovery deadline; a closed circuit opens once
// consecutive failures reach the threshold.
func (b *Breaker) RecordFailure(operationID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state(operationID)
	now := b.clock.Now()

	state.consecutiveFailures++
	state.totalFailures++
	state.failureTimes = append(state.failureTimes, now)
	b.pruneWindow(state, now)
	b.metrics.recordFailure(operationID)

	switch state.status {
	case StatusHalfOpen:
		b.open(operationID, state, now)
		b.logger.Warn("circuit reopened after half-open failure",
			zap.String("operation", operationID),
			zap.Error(err),
			zap.Time("recovery_deadline", state.recoveryDeadline))

	case StatusClosed:
		if state.consecutiveFailures >= b.cfg.FailureThreshold {
			b.open(operationID, state, now)
			b.logger.Warn("circuit opened",
				zap.String("operation", operationID),
				zap.Int("consecutive_failures", state.consecutiveFailures),
				zap.Error(err),
				zap.Time("recovery_deadline", state.recoveryDeadline))
		}
	}
}

// RecordSuccess registers a successful attempt. It resets the consecutive
// failure count; in half-open state the circuit closes once the success
// quota is met.
func (b *Breaker) RecordSuccess(operationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state(operationID)
	state.consecutiveFailures = 0
	state.totalSuccesses++
	b.metrics.recordSuccess(operationID)

	if state.status == StatusHalfOpen {
		state.halfOpenSuccesses++
		if state.halfOpenSuccesses >= b.cfg.HalfOpenAttempts {
			b.transition(operationID, state, StatusClosed)
			state.halfOpenUsed = 0
			state.halfOpenSuccesses = 0
			state.openedAt = time.Time{}
			state.recoveryDeadline = time.Time{}
			b.logger.Info("circuit closed after recovery",
				zap.String("operation", operationID))
		}
	}
}

// State returns a snapshot of one operation's circuit state
func (b *Breaker) State(operationID string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state(operationID)
	now := b.clock.Now()
	b.pruneWindow(state, now)

	snap := Snapshot{
		OperationID:          operationID,
		Status:               state.status,
		IsOpen:               state.status == StatusOpen,
		ConsecutiveFailures:  state.consecutiveFailures,
		TotalFailures:        state.totalFailures,
		TotalSuccesses:       state.totalSuccesses,
		OpenedAt:             state.openedAt,
		RecoveryDeadline:     state.recoveryDeadline,
		HalfOpenAttemptsUsed: state.halfOpenUsed,
		WindowFailures:       len(state.failureTimes),
	}

	if total := state.totalFailures + state.totalSuccesses; total > 0 {
		snap.FailureRate = float64(state.totalFailures) / float64(total)
	}

	return snap
}

// Operations returns the operation ids with circuit state
func (b *Breaker) Operations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ops := make([]string, 0, len(b.states))
	for id := range b.states {
		ops = append(ops, id)
	}
	return ops
}

// state returns the per-operation record, creating it lazily
func (b *Breaker) state(operationID string) *opState {
	s, ok := b.states[operationID]
	if !ok {
		s = &opState{status: StatusClosed}
		b.states[operationID] = s
	}
	return s
}

// open moves an operation to the open state with a fresh deadline
func (b *Breaker) open(operationID string, state *opState, now time.Time) {
	b.transition(operationID, state, StatusOpen)
	state.openedAt = now
	state.recoveryDeadline = now.Add(b.cfg.RecoveryTimeout)
	state.halfOpenUsed = 0
	state.halfOpenSuccesses = 0
}

// transition updates the status and the metrics gauge
func (b *Breaker) transition(operationID string, state *opState, to Status) {
	if state.status == to {
		return
	}
	state.status = to
	b.metrics.recordStateChange(operationID, to)
}

// pruneWindow drops failure timestamps older than the monitoring window
func (b *Breaker) pruneWindow(state *opState, now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	i := 0
	for ; i < len(state.failureTimes); i++ {
		if state.failureTimes[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		state.failureTimes = append(state.failureTimes[:0], state.failureTimes[i:]...)
	}
}
