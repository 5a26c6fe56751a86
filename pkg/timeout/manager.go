// Package timeout computes effective timeouts for named operations and
// races their execution against the budget. Timeouts can be fixed,
// adapted from historical performance, scaled per retry, or corrected
// for environment conditions, and may be constrained hierarchically by
// an enclosing time budget.
package timeout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flakeguard/flakeguard/pkg/types"
)

// Strategy selects how the effective timeout is computed
type Strategy int

const (
	// StrategyFixed uses the base timeout unmodified
	StrategyFixed Strategy = iota

	// StrategyAdaptive scales the base timeout from historical
	// success rate and duration
	StrategyAdaptive

	// StrategyProgressive grows the base timeout per retry attempt
	StrategyProgressive

	// StrategyContextual applies environment and operation corrections
	StrategyContextual
)

// String returns the strategy name
func (s Strategy) String() string {
	switch s {
	case StrategyAdaptive:
		return "adaptive"
	case StrategyProgressive:
		return "progressive"
	case StrategyContextual:
		return "contextual"
	default:
		return "fixed"
	}
}

// Default manager configuration
const (
	DefaultBaseTimeout       = 5 * time.Second
	DefaultMinSamples        = 5
	DefaultTargetSuccessRate = 0.8
	DefaultMaxMultiplier     = 2.0
	DefaultMinMultiplier     = 0.5
	DefaultSuccessFloor      = 1.2
	DefaultIncrementFactor   = 1.5
	DefaultParentChildRatio  = 0.7
	DefaultMaxDepth          = 5
)

// Environment multipliers for the contextual strategy
const (
	ciMultiplier          = 2.0
	slowNetworkMultiplier = 1.5
	highLoadMultiplier    = 1.3
	debugMultiplier       = 3.0
)

// Config defines manager behavior
type Config struct {
	// BaseTimeout is the default requested timeout
	BaseTimeout time.Duration

	// MinSamples is the history size required before adapting
	MinSamples int

	// TargetSuccessRate is the success rate the adaptive strategy aims for
	TargetSuccessRate float64

	// MaxMultiplier and MinMultiplier bound adaptive scaling
	MaxMultiplier float64
	MinMultiplier float64

	// SuccessFloor floors the adaptive timeout at this multiple of the
	// mean successful duration
	SuccessFloor float64

	// IncrementFactor is the per-retry growth of the progressive strategy
	IncrementFactor float64

	// ParentChildRatio caps a child budget at this share of the parent's
	// remaining time
	ParentChildRatio float64

	// MaxDepth bounds the hierarchical budget stack
	MaxDepth int

	// HistoryWindow bounds per-operation-type history
	HistoryWindow int
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		BaseTimeout:       DefaultBaseTimeout,
		MinSamples:        DefaultMinSamples,
		TargetSuccessRate: DefaultTargetSuccessRate,
		MaxMultiplier:     DefaultMaxMultiplier,
		MinMultiplier:     DefaultMinMultiplier,
		SuccessFloor:      DefaultSuccessFloor,
		IncrementFactor:   DefaultIncrementFactor,
		ParentChildRatio:  DefaultParentChildRatio,
		MaxDepth:          DefaultMaxDepth,
		HistoryWindow:     types.DefaultHistoryWindow,
	}
}

// Conditions describes the execution environment for the contextual
// strategy
type Conditions struct {
	CI          bool
	SlowNetwork bool
	HighLoad    bool
	Debug       bool
}

// RunOptions tune a single Run call
type RunOptions struct {
	// BaseTimeout overrides the manager's base timeout when positive
	BaseTimeout time.Duration

	// Strategy selects the timeout computation
	Strategy Strategy

	// RetryCount feeds the progressive strategy
	RetryCount int

	// Hierarchical caps the timeout by the enclosing budget and pushes
	// a frame for nested calls
	Hierarchical bool

	// Conditions feed the contextual strategy
	Conditions Conditions

	// Correction is an operation-specific multiplier for the contextual
	// strategy, e.g. larger screenshot viewports warrant longer timeouts.
	// Zero means no correction.
	Correction float64
}

// Result is the outcome of a timed execution
type Result[T any] struct {
	// Success reports whether fn completed without error
	Success bool

	// Value is fn's return value when successful
	Value T

	// Err is fn's error or the timeout error
	Err error

	// Timeout is the effective timeout that was enforced
	Timeout time.Duration

	// ActualDuration is how long fn ran
	ActualDuration time.Duration

	// TimedOut reports whether the timer won the race
	TimedOut bool
}

// Manager computes effective timeouts and races operations against them.
// Safe for concurrent use; history is shared across operations of the
// same type.
type Manager struct {
	cfg     Config
	clock   types.Clock
	logger  *zap.Logger
	sampler types.EnvironmentSampler
	history *types.HistoryStore
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the clock used for timers and history timestamps
func WithClock(clock types.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSampler sets the environment sampler stamped onto history records
func WithSampler(sampler types.EnvironmentSampler) Option {
	return func(m *Manager) {
		m.sampler = sampler
	}
}

// WithHistory shares an existing history store
func WithHistory(history *types.HistoryStore) Option {
	return func(m *Manager) {
		m.history = history
	}
}

// NewManager creates a timeout manager. Zero config fields fall back to
// defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = DefaultBaseTimeout
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if cfg.TargetSuccessRate <= 0 || cfg.TargetSuccessRate > 1 {
		cfg.TargetSuccessRate = DefaultTargetSuccessRate
	}
	if cfg.MaxMultiplier <= 1 {
		cfg.MaxMultiplier = DefaultMaxMultiplier
	}
	if cfg.MinMultiplier <= 0 || cfg.MinMultiplier > 1 {
		cfg.MinMultiplier = DefaultMinMultiplier
	}
	if cfg.SuccessFloor <= 1 {
		cfg.SuccessFloor = DefaultSuccessFloor
	}
	if cfg.IncrementFactor <= 1 {
		cfg.IncrementFactor = DefaultIncrementFactor
	}
	if cfg.ParentChildRatio <= 0 || cfg.ParentChildRatio > 1 {
		cfg.ParentChildRatio = DefaultParentChildRatio
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	m := &Manager{
		cfg:    cfg,
		clock:  types.NewRealClock(),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.history == nil {
		m.history = types.NewHistoryStore(cfg.HistoryWindow)
	}

	return m
}

// History returns the manager's per-operation-type history store
func (m *Manager) History() *types.HistoryStore {
	return m.history
}

// EffectiveTimeout computes the timeout Run would enforce for an
// operation type under the given options, without the hierarchical cap.
func (m *Manager) EffectiveTimeout(operationType string, opts RunOptions) time.Duration {
	base := opts.BaseTimeout
	if base <= 0 {
		base = m.cfg.BaseTimeout
	}

	switch opts.Strategy {
	case StrategyAdaptive:
		return m.adaptiveTimeout(operationType, base)
	case StrategyProgressive:
		return m.progressiveTimeout(base, opts.RetryCount)
	case StrategyContextual:
		return m.contextualTimeout(base, opts)
	default:
		return base
	}
}

// Run executes fn under the computed timeout and records the outcome
// into the operation type's history. On timeout the pending result is
// abandoned, not killed: fn's context is cancelled and its eventual
// return is discarded.
func Run[T any](m *Manager, ctx context.Context, operationType string, fn func(context.Context) (T, error), opts RunOptions) Result[T] {
	effective := m.EffectiveTimeout(operationType, opts)

	var parent *Budget
	if opts.Hierarchical {
		parent = BudgetFromContext(ctx)
		if parent != nil {
			if parent.Depth() >= m.cfg.MaxDepth {
				return Result[T]{
					Err:     types.ErrStackDepthExceeded,
					Timeout: effective,
				}
			}
			limit := time.Duration(float64(parent.Remaining()) * m.cfg.ParentChildRatio)
			if effective > limit {
				effective = limit
			}
		}
	}

	frame := &Budget{
		OperationType: operationType,
		Requested:     opts.BaseTimeout,
		Effective:     effective,
		StartedAt:     m.clock.Now(),
		parent:        parent,
		clock:         m.clock,
	}
	if frame.Requested <= 0 {
		frame.Requested = m.cfg.BaseTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Hierarchical {
		runCtx = WithBudget(runCtx, frame)
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	start := m.clock.Now()

	go func() {
		value, err := fn(runCtx)
		done <- outcome{value: value, err: err}
	}()

	timer := m.clock.NewTimer(effective)
	defer timer.Stop()

	select {
	case out := <-done:
		actual := m.clock.Since(start)
		m.record(operationType, out.err == nil, actual, out.err)
		return Result[T]{
			Success:        out.err == nil,
			Value:          out.value,
			Err:            out.err,
			Timeout:        effective,
			ActualDuration: actual,
		}

	case <-timer.C():
		actual := m.clock.Since(start)
		err := &types.TimeoutError{
			OperationType:  operationType,
			Timeout:        effective,
			ActualDuration: actual,
		}
		m.record(operationType, false, actual, err)
		m.logger.Debug("operation timed out",
			zap.String("operation_type", operationType),
			zap.Duration("timeout", effective),
			zap.Stringer("strategy", opts.Strategy))
		return Result[T]{
			Err:            err,
			Timeout:        effective,
			ActualDuration: actual,
			TimedOut:       true,
		}

	case <-ctx.Done():
		actual := m.clock.Since(start)
		return Result[T]{
			Err:            ctx.Err(),
			Timeout:        effective,
			ActualDuration: actual,
		}
	}
}

// adaptiveTimeout scales base by the operation type's historical success
// rate, floored at SuccessFloor times the mean successful duration
func (m *Manager) adaptiveTimeout(operationType string, base time.Duration) time.Duration {
	records := m.history.Records(operationType)
	if len(records) < m.cfg.MinSamples {
		return base
	}

	successes := 0
	var successDuration time.Duration
	for _, rec := range records {
		if rec.Success {
			successes++
			successDuration += rec.Duration
		}
	}
	successRate := float64(successes) / float64(len(records))

	var multiplier float64
	if successRate < m.cfg.TargetSuccessRate {
		multiplier = 1 + (m.cfg.TargetSuccessRate-successRate)*2
		if multiplier > m.cfg.MaxMultiplier {
			multiplier = m.cfg.MaxMultiplier
		}
	} else {
		multiplier = 1 - (successRate-m.cfg.TargetSuccessRate)*0.5
		if multiplier < m.cfg.MinMultiplier {
			multiplier = m.cfg.MinMultiplier
		}
	}

	effective := time.Duration(float64(base) * multiplier)

	if successes > 0 {
		mean := successDuration / time.Duration(successes)
		floor := time.Duration(float64(mean) * m.cfg.SuccessFloor)
		if effective < floor {
			effective = floor
		}
	}

	return effective
}

// progressiveTimeout grows base by IncrementFactor per retry
func (m *Manager) progressiveTimeout(base time.Duration, retryCount int) time.Duration {
	effective := float64(base)
	for i := 0; i < retryCount; i++ {
		effective *= m.cfg.IncrementFactor
	}
	return time.Duration(effective)
}

// contextualTimeout applies environment and operation-specific multipliers
func (m *Manager) contextualTimeout(base time.Duration, opts RunOptions) time.Duration {
	multiplier := 1.0
	if opts.Conditions.CI {
		multiplier *= ciMultiplier
	}
	if opts.Conditions.SlowNetwork {
		multiplier *= slowNetworkMultiplier
	}
	if opts.Conditions.HighLoad {
		multiplier *= highLoadMultiplier
	}
	if opts.Conditions.Debug {
		multiplier *= debugMultiplier
	}
	if opts.Correction > 0 {
		multiplier *= opts.Correction
	}
	return time.Duration(float64(base) * multiplier)
}

// record appends the attempt outcome to the operation type's history
func (m *Manager) record(operationType string, success bool, duration time.Duration, err error) {
	rec := types.ExecutionRecord{
		OperationID: operationType,
		Timestamp:   m.clock.Now(),
		Success:     success,
		Duration:    duration,
	}
	if !success {
		rec.ErrorKind = types.ClassifyError(err)
	}
	if m.sampler != nil {
		if snap, sampleErr := m.sampler.Sample(); sampleErr == nil {
			rec.Env = snap
		}
	}
	m.history.Append(rec)
}
