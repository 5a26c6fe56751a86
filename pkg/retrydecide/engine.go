// Package retrydecide decides whether a failed attempt should be
// retried, combining error classification, circuit breaker state,
// environment conditions, and learned retry outcomes.
package retrydecide

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flakeguard/flakeguard/pkg/backoff"
	"github.com/flakeguard/flakeguard/pkg/types"
)

// Reason codes attached to decisions
const (
	ReasonMaxRetries          = "max-retries-reached"
	ReasonNonRetryable        = "non-retryable-error"
	ReasonCircuitOpen         = "circuit-breaker-open"
	ReasonRetryableError      = "retryable-error"
	ReasonCriticalTest        = "critical-test"
	ReasonFastExecution       = "fast-execution"
	ReasonSlowExecution       = "slow-execution"
	ReasonStableEnvironment   = "stable-environment"
	ReasonUnstableEnvironment = "unstable-environment"
	ReasonHistoricalSuccess   = "historical-success"
	ReasonInsufficientSupport = "insufficient-support"
)

// Default engine configuration
const (
	DefaultSaneExecutionBound  = 30 * time.Second
	DefaultMaxCPUPercent       = 90.0
	DefaultMaxMemPercent       = 95.0
	DefaultMinLearningSamples  = 3
	DefaultHighSuccessRate     = 0.8
	DefaultLearningWindow      = 20
	DefaultMinSupport          = 2
	DefaultRiskDelayFactor     = 1.5
	DefaultSuccessDelayFactor  = 0.5
	DefaultRiskThreshold       = 2
	DefaultLearnedSuccessFloor = 0.5
)

// Config defines decision thresholds
type Config struct {
	// SaneExecutionBound is the execution time above which a retry is
	// considered risky
	SaneExecutionBound time.Duration

	// MaxCPUPercent and MaxMemPercent define an unstable environment
	MaxCPUPercent float64
	MaxMemPercent float64

	// Learning enables the rolling retry-outcome log
	Learning bool

	// MinLearningSamples is the log size required before the learned
	// success rate counts as a supporting condition
	MinLearningSamples int

	// HighSuccessRate shortens the delay when the learned rate exceeds it
	HighSuccessRate float64

	// LearningWindow bounds the per-operation outcome log
	LearningWindow int

	// MinSupport is the number of supporting conditions required to
	// approve a retry; error-type evidence alone never suffices
	MinSupport int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		SaneExecutionBound: DefaultSaneExecutionBound,
		MaxCPUPercent:      DefaultMaxCPUPercent,
		MaxMemPercent:      DefaultMaxMemPercent,
		Learning:           true,
		MinLearningSamples: DefaultMinLearningSamples,
		HighSuccessRate:    DefaultHighSuccessRate,
		LearningWindow:     DefaultLearningWindow,
		MinSupport:         DefaultMinSupport,
	}
}

// Request describes a failed attempt up for a retry decision
type Request struct {
	// OperationID identifies the operation
	OperationID string

	// Err is the failure being considered
	Err error

	// Attempt is the zero-based attempt number that just failed
	Attempt int

	// MaxRetries is the caller's retry ceiling; zero falls back to the
	// backoff strategy's ceiling
	MaxRetries int

	// Critical marks tests whose flakiness is worth extra attempts
	Critical bool

	// ExecutionTime is how long the failed attempt ran
	ExecutionTime time.Duration

	// Env is the resource usage around the failure
	Env types.EnvironmentSnapshot
}

// Decision is the verdict for one failed attempt. Computed fresh per
// attempt; never persisted.
type Decision struct {
	// ShouldRetry reports whether another attempt is approved
	ShouldRetry bool

	// Delay is how long to wait before the next attempt
	Delay time.Duration

	// Reasons is the set of codes supporting or refusing the decision
	Reasons []string

	// Confidence is the engine's confidence in the decision, in [0, 1]
	Confidence float64

	// Terminal distinguishes hard stops: ReasonMaxRetries,
	// ReasonCircuitOpen or ReasonNonRetryable. Empty when retrying.
	Terminal string
}

// CircuitGate is the breaker surface the engine consults. A retry is
// never scheduled against an open circuit.
type CircuitGate interface {
	Allow(operationID string) bool
}

// Engine makes retry decisions. Safe for concurrent use.
type Engine struct {
	cfg     Config
	backoff *backoff.Strategy
	gate    CircuitGate
	logger  *zap.Logger

	mu       sync.Mutex
	outcomes map[string][]bool
}

// Option configures an Engine
type Option func(*Engine)

// WithCircuitGate sets the circuit breaker consulted before approval
func WithCircuitGate(gate CircuitGate) Option {
	return func(e *Engine) {
		e.gate = gate
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates a decision engine around a backoff strategy. Zero config
// fields fall back to defaults.
func New(cfg Config, strategy *backoff.Strategy, opts ...Option) *Engine {
	if cfg.SaneExecutionBound <= 0 {
		cfg.SaneExecutionBound = DefaultSaneExecutionBound
	}
	if cfg.MaxCPUPercent <= 0 {
		cfg.MaxCPUPercent = DefaultMaxCPUPercent
	}
	if cfg.MaxMemPercent <= 0 {
		cfg.MaxMemPercent = DefaultMaxMemPercent
	}
	if cfg.MinLearningSamples <= 0 {
		cfg.MinLearningSamples = DefaultMinLearningSamples
	}
	if cfg.HighSuccessRate <= 0 {
		cfg.HighSuccessRate = DefaultHighSuccessRate
	}
	if cfg.LearningWindow <= 0 {
		cfg.LearningWindow = DefaultLearningWindow
	}
	if cfg.MinSupport <= 0 {
		cfg.MinSupport = DefaultMinSupport
	}
	if strategy == nil {
		strategy = backoff.New(backoff.DefaultConfig())
	}

	e := &Engine{
		cfg:      cfg,
		backoff:  strategy,
		logger:   zap.NewNop(),
		outcomes: make(map[string][]bool),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Decide returns the retry verdict for a failed attempt
func (e *Engine) Decide(req Request) Decision {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.backoff.MaxRetries()
	}

	// hard ceiling, independent of error type
	if req.Attempt >= maxRetries {
		return e.refuse(req, ReasonMaxRetries)
	}

	kind := types.ClassifyError(req.Err)
	if !kind.Retryable() {
		return e.refuse(req, ReasonNonRetryable)
	}

	if e.gate != nil && !e.gate.Allow(req.OperationID) {
		return e.refuse(req, ReasonCircuitOpen)
	}

	reasons := []string{ReasonRetryableError}
	support := 0
	risks := 0

	if req.Critical {
		support++
		reasons = append(reasons, ReasonCriticalTest)
	}

	if req.ExecutionTime < e.cfg.SaneExecutionBound {
		support++
		reasons = append(reasons, ReasonFastExecution)
	} else {
		risks++
		reasons = append(reasons, ReasonSlowExecution)
	}

	if req.Env.CPUPercent < e.cfg.MaxCPUPercent && req.Env.MemPercent < e.cfg.MaxMemPercent {
		support++
		reasons = append(reasons, ReasonStableEnvironment)
	} else {
		risks++
		reasons = append(reasons, ReasonUnstableEnvironment)
	}

	learnedRate, learned := e.learnedSuccessRate(req.OperationID)
	if learned && learnedRate > DefaultLearnedSuccessFloor {
		support++
		reasons = append(reasons, ReasonHistoricalSuccess)
	}

	if support < e.cfg.MinSupport {
		return Decision{
			Reasons:    append(reasons, ReasonInsufficientSupport),
			Confidence: e.confidence(support, risks),
		}
	}

	delay, ok := e.backoff.Schedule(req.Attempt)
	if !ok {
		return e.refuse(req, ReasonMaxRetries)
	}

	// shape the delay: trusted operations retry sooner, risky ones later
	if learned && learnedRate >= e.cfg.HighSuccessRate {
		delay = time.Duration(float64(delay) * DefaultSuccessDelayFactor)
	} else if risks >= DefaultRiskThreshold {
		delay = time.Duration(float64(delay) * DefaultRiskDelayFactor)
	}

	decision := Decision{
		ShouldRetry: true,
		Delay:       delay,
		Reasons:     reasons,
		Confidence:  e.confidence(support, risks),
	}

	e.logger.Debug("retry approved",
		zap.String("operation", req.OperationID),
		zap.Int("attempt", req.Attempt),
		zap.Duration("delay", delay),
		zap.Strings("reasons", reasons))

	return decision
}

// RecordOutcome feeds the learning log with the result of a retried
// attempt
func (e *Engine) RecordOutcome(operationID string, success bool) {
	if !e.cfg.Learning {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.outcomes[operationID]
	if len(log) >= e.cfg.LearningWindow {
		copy(log, log[1:])
		log = log[:len(log)-1]
	}
	e.outcomes[operationID] = append(log, success)
}

// learnedSuccessRate returns the rolling retry success rate and whether
// enough samples exist for it to count
func (e *Engine) learnedSuccessRate(operationID string) (float64, bool) {
	if !e.cfg.Learning {
		return 0, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.outcomes[operationID]
	if len(log) < e.cfg.MinLearningSamples {
		return 0, false
	}

	successes := 0
	for _, ok := range log {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(log)), true
}

// refuse builds a terminal no-retry decision
func (e *Engine) refuse(req Request, reason string) Decision {
	e.logger.Debug("retry refused",
		zap.String("operation", req.OperationID),
		zap.Int("attempt", req.Attempt),
		zap.String("reason", reason))

	return Decision{
		Reasons:    []string{reason},
		Confidence: 1.0,
		Terminal:   reason,
	}
}

// confidence grows with supporting conditions and shrinks with risks
func (e *Engine) confidence(support, risks int) float64 {
	c := 0.25 * float64(support)
	c -= 0.1 * float64(risks)
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}
