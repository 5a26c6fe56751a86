package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/flakeguard/flakeguard/pkg/backoff"
	"github.com/flakeguard/flakeguard/pkg/circuit"
	"github.com/flakeguard/flakeguard/pkg/consistency"
	"github.com/flakeguard/flakeguard/pkg/executor"
	"github.com/flakeguard/flakeguard/pkg/flakiness"
	"github.com/flakeguard/flakeguard/pkg/retrydecide"
	"github.com/flakeguard/flakeguard/pkg/timeout"
	"github.com/flakeguard/flakeguard/pkg/types"
)

// Config aggregates the component configurations
type Config struct {
	// HistoryWindow bounds the shared per-operation execution history
	HistoryWindow int

	Backoff     backoff.Config
	Timeout     timeout.Config
	Flakiness   flakiness.Config
	Circuit     circuit.Config
	Decision    retrydecide.Config
	Consistency consistency.Config
	Executor    executor.Config
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		HistoryWindow: types.DefaultHistoryWindow,
		Backoff:       backoff.DefaultConfig(),
		Timeout:       timeout.DefaultConfig(),
		Flakiness:     flakiness.DefaultConfig(),
		Circuit:       circuit.DefaultConfig(),
		Decision:      retrydecide.DefaultConfig(),
		Consistency:   consistency.DefaultConfig(),
		Executor:      executor.DefaultConfig(),
	}
}

// Engine is the reliability facade
type Engine struct {
	cfg     Config
	clock   types.Clock
	logger  *zap.Logger
	sampler types.EnvironmentSampler
	reg     prometheus.Registerer

	history  *types.HistoryStore
	strategy *backoff.Strategy
	timeouts *timeout.Manager
	analyzer *flakiness.Analyzer
	breaker  *circuit.Breaker
	decider  *retrydecide.Engine
	checker  *consistency.Checker
	exec     *executor.Executor
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock shared by every component
func WithClock(clock types.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets the logger shared by every component
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSampler sets the environment sampler; without one, records carry
// no environment snapshot
func WithSampler(sampler types.EnvironmentSampler) Option {
	return func(e *Engine) {
		e.sampler = sampler
	}
}

// WithRegisterer enables Prometheus metrics on the given registerer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.reg = reg
	}
}

// New wires a reliability engine from the configuration
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		clock:  types.NewRealClock(),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.history = types.NewHistoryStore(cfg.HistoryWindow)
	e.strategy = backoff.New(cfg.Backoff)
	e.analyzer = flakiness.New(cfg.Flakiness)
	e.checker = consistency.New(cfg.Consistency)

	circuitOpts := []circuit.Option{
		circuit.WithClock(e.clock),
		circuit.WithLogger(e.logger),
	}
	if e.reg != nil {
		circuitOpts = append(circuitOpts, circuit.WithMetrics(circuit.NewMetrics(e.reg, "")))
	}
	e.breaker = circuit.New(cfg.Circuit, circuitOpts...)

	e.timeouts = timeout.NewManager(cfg.Timeout,
		timeout.WithClock(e.clock),
		timeout.WithLogger(e.logger),
		timeout.WithSampler(e.sampler),
		timeout.WithHistory(e.history))

	e.decider = retrydecide.New(cfg.Decision, e.strategy,
		retrydecide.WithCircuitGate(e.breaker),
		retrydecide.WithLogger(e.logger))

	e.exec = executor.New(cfg.Executor, e.timeouts, e.decider, e.breaker,
		executor.WithClock(e.clock),
		executor.WithLogger(e.logger),
		executor.WithSampler(e.sampler))

	return e
}

// ExecuteAll runs a batch of tasks under the engine's reliability
// policies
func (e *Engine) ExecuteAll(ctx context.Context, tasks []executor.Task) (*executor.BatchResult, error) {
	return e.exec.ExecuteAll(ctx, tasks)
}

// Analyze computes the flakiness report for an operation from the
// engine's recorded history
func (e *Engine) Analyze(operationID string) flakiness.Report {
	return e.analyzer.Analyze(e.history.Records(operationID))
}

// AnalyzeRecords computes a flakiness report over caller-supplied history
func (e *Engine) AnalyzeRecords(records []types.ExecutionRecord) flakiness.Report {
	return e.analyzer.Analyze(records)
}

// Check computes the consistency report over an operation's recorded runs
func (e *Engine) Check(operationID string) consistency.Report {
	return e.checker.Check(e.history.Records(operationID))
}

// CheckRuns computes a consistency report over caller-supplied runs
func (e *Engine) CheckRuns(runs []types.ExecutionRecord) consistency.Report {
	return e.checker.Check(runs)
}

// CircuitState returns the circuit snapshot for an operation
func (e *Engine) CircuitState(operationID string) circuit.Snapshot {
	return e.breaker.State(operationID)
}

// History returns a copy of the recorded execution window for an
// operation, for the reporting layer
func (e *Engine) History(operationID string) []types.ExecutionRecord {
	return e.history.Records(operationID)
}

// Timeouts exposes the timeout manager for direct timed execution via
// timeout.Run
func (e *Engine) Timeouts() *timeout.Manager {
	return e.timeouts
}

// Close stops the engine from accepting new batches
func (e *Engine) Close() {
	e.exec.Close()
}
