package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/flakeguard/flakeguard/pkg/circuit"
	"github.com/flakeguard/flakeguard/pkg/retrydecide"
	"github.com/flakeguard/flakeguard/pkg/timeout"
	"github.com/flakeguard/flakeguard/pkg/types"
)

// Default executor configuration
const (
	DefaultMaxConcurrency = 4
	DefaultMaxRetries     = 3
)

// Terminal states owned by the executor rather than the decision engine
const (
	// TerminalBatchTimeout marks tasks never started because the batch
	// budget ran out
	TerminalBatchTimeout = "batch-timeout"

	// TerminalCancelled marks tasks interrupted by caller cancellation
	TerminalCancelled = "cancelled"
)

// Task is one unit of work supplied by the task source
type Task struct {
	// ID identifies the task within the batch
	ID string

	// OperationID keys circuit, history and learning state; several
	// tasks may share one operation id
	OperationID string

	// Critical marks tests whose flakiness is worth extra attempts
	Critical bool

	// Timeout overrides the manager's base timeout when positive
	Timeout time.Duration

	// Strategy selects the timeout computation for this task
	Strategy timeout.Strategy

	// Conditions feed the contextual timeout strategy
	Conditions timeout.Conditions

	// Fn is the work itself, typically supplied by the browser
	// automation driver
	Fn func(ctx context.Context) (any, error)
}

// TaskResult is the terminal outcome of one task
type TaskResult struct {
	TaskID      string
	OperationID string
	Success     bool
	Value       any
	Err         error

	// Attempts counts executions including the first
	Attempts int

	// Duration is the total wall time spent on the task
	Duration time.Duration

	// TimedOut reports whether the final attempt hit its timeout
	TimedOut bool

	// Terminal distinguishes hard stops: retrydecide.ReasonMaxRetries,
	// retrydecide.ReasonCircuitOpen, retrydecide.ReasonNonRetryable or
	// TerminalBatchTimeout. Empty on success.
	Terminal string
}

// BatchResult summarizes one ExecuteAll call
type BatchResult struct {
	BatchID string

	// Results holds one entry per task, in input order
	Results []TaskResult

	Successes int
	Failures  int

	// Conflicts lists tasks that raised unexpected, unclassified errors
	Conflicts []string

	// AverageDuration is the mean per-task duration
	AverageDuration time.Duration

	// Elapsed is the batch wall time
	Elapsed time.Duration

	// StoppedEarly reports that the batch timeout cut off task starts
	StoppedEarly bool
}

// Config defines executor behavior
type Config struct {
	// MaxConcurrency bounds concurrently running tasks
	MaxConcurrency int

	// MaxRetries is the per-task retry ceiling
	MaxRetries int

	// BatchTimeout stops accepting new task starts once exhausted;
	// already-dispatched tasks drain. Zero disables the budget.
	BatchTimeout time.Duration
}

// DefaultConfig returns the default executor configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: DefaultMaxConcurrency,
		MaxRetries:     DefaultMaxRetries,
	}
}

// Executor schedules task batches. Safe for concurrent use.
type Executor struct {
	cfg     Config
	tm      *timeout.Manager
	decider *retrydecide.Engine
	breaker *circuit.Breaker
	sampler types.EnvironmentSampler
	clock   types.Clock
	logger  *zap.Logger

	onTaskDone func(TaskResult)
	closed     atomic.Bool
}

// Option configures an Executor
type Option func(*Executor)

// WithClock sets the clock for delays and batch budgets
func WithClock(clock types.Clock) Option {
	return func(e *Executor) {
		e.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSampler sets the environment sampler consulted per attempt
func WithSampler(sampler types.EnvironmentSampler) Option {
	return func(e *Executor) {
		e.sampler = sampler
	}
}

// WithTaskCallback registers a callback invoked as each task finishes
func WithTaskCallback(fn func(TaskResult)) Option {
	return func(e *Executor) {
		e.onTaskDone = fn
	}
}

// New creates an executor around a timeout manager, decision engine and
// circuit breaker. Zero config fields fall back to defaults.
func New(cfg Config, tm *timeout.Manager, decider *retrydecide.Engine, breaker *circuit.Breaker, opts ...Option) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	e := &Executor{
		cfg:     cfg,
		tm:      tm,
		decider: decider,
		breaker: breaker,
		clock:   types.NewRealClock(),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Close stops the executor from accepting new batches
func (e *Executor) Close() {
	e.closed.Store(true)
}

// attemptEvent carries one attempt outcome from a worker to the
// coordinator. The worker blocks on ack so per-operation updates are
// applied before its next decision.
type attemptEvent struct {
	operationID string
	success     bool
	retried     bool
	err         error
	ack         chan struct{}
}

// ExecuteAll runs the batch under the concurrency ceiling and returns
// the aggregated result. The error is non-nil only when the executor
// refuses the batch outright.
func (e *Executor) ExecuteAll(ctx context.Context, tasks []Task) (*BatchResult, error) {
	if e.closed.Load() {
		return nil, types.ErrExecutorClosed
	}

	batch := &BatchResult{
		BatchID: uuid.NewString(),
		Results: make([]TaskResult, len(tasks)),
	}
	start := e.clock.Now()

	e.logger.Info("batch started",
		zap.String("batch", batch.BatchID),
		zap.Int("tasks", len(tasks)),
		zap.Int("max_concurrency", e.cfg.MaxConcurrency))

	// dispatchCtx only gates new task starts; running tasks keep the
	// caller's context so an exhausted batch budget lets them drain
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	if e.cfg.BatchTimeout > 0 {
		timer := e.clock.NewTimer(e.cfg.BatchTimeout)
		defer timer.Stop()
		go func() {
			select {
			case <-timer.C():
				cancelDispatch()
			case <-dispatchCtx.Done():
			}
		}()
	}

	events := make(chan attemptEvent)
	coordinatorDone := make(chan struct{})
	go e.coordinate(events, coordinatorDone)

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := sem.Acquire(dispatchCtx, 1); err != nil {
			// budget exhausted or caller cancelled: remaining tasks
			// never start
			batch.StoppedEarly = true
			terminal, taskErr := TerminalBatchTimeout, error(types.ErrTimeout)
			if ctx.Err() != nil {
				terminal, taskErr = TerminalCancelled, ctx.Err()
			}
			for j := i; j < len(tasks); j++ {
				batch.Results[j] = TaskResult{
					TaskID:      tasks[j].ID,
					OperationID: tasks[j].OperationID,
					Err:         taskErr,
					Terminal:    terminal,
				}
			}
			break
		}

		wg.Add(1)
		go func(idx int, task Task) {
			defer wg.Done()
			defer sem.Release(1)

			result := e.runTask(ctx, task, events)
			batch.Results[idx] = result
			if e.onTaskDone != nil {
				e.onTaskDone(result)
			}
		}(i, task)
	}

	wg.Wait()
	close(events)
	<-coordinatorDone

	batch.Elapsed = e.clock.Since(start)
	e.aggregate(batch)

	e.logger.Info("batch finished",
		zap.String("batch", batch.BatchID),
		zap.Int("successes", batch.Successes),
		zap.Int("failures", batch.Failures),
		zap.Bool("stopped_early", batch.StoppedEarly),
		zap.Duration("elapsed", batch.Elapsed))

	return batch, nil
}

// coordinate applies attempt outcomes to the circuit breaker and the
// learning log in the order executions complete
func (e *Executor) coordinate(events <-chan attemptEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		if ev.success {
			e.breaker.RecordSuccess(ev.operationID)
		} else {
			e.breaker.RecordFailure(ev.operationID, ev.err)
		}
		if ev.retried {
			e.decider.RecordOutcome(ev.operationID, ev.success)
		}
		close(ev.ack)
	}
}

// runTask drives one task through attempts until success or a terminal
// decision
func (e *Executor) runTask(ctx context.Context, task Task, events chan<- attemptEvent) TaskResult {
	result := TaskResult{TaskID: task.ID, OperationID: task.OperationID}
	taskStart := e.clock.Now()
	attempt := 0

	for {
		if !e.breaker.Allow(task.OperationID) {
			result.Err = types.ErrCircuitOpen
			result.Terminal = retrydecide.ReasonCircuitOpen
			break
		}

		attempt++
		result.Attempts = attempt

		res := timeout.Run(e.tm, ctx, task.OperationID, task.Fn, timeout.RunOptions{
			BaseTimeout: task.Timeout,
			Strategy:    task.Strategy,
			RetryCount:  attempt - 1,
			Conditions:  task.Conditions,
		})

		ack := make(chan struct{})
		events <- attemptEvent{
			operationID: task.OperationID,
			success:     res.Success,
			retried:     attempt > 1,
			err:         res.Err,
			ack:         ack,
		}
		<-ack

		if res.Success {
			result.Success = true
			result.Value = res.Value
			result.TimedOut = false
			break
		}

		result.Err = res.Err
		result.TimedOut = res.TimedOut

		var env types.EnvironmentSnapshot
		if e.sampler != nil {
			if snap, err := e.sampler.Sample(); err == nil {
				env = snap
			}
		}

		decision := e.decider.Decide(retrydecide.Request{
			OperationID:   task.OperationID,
			Err:           res.Err,
			Attempt:       attempt - 1,
			MaxRetries:    e.cfg.MaxRetries,
			Critical:      task.Critical,
			ExecutionTime: res.ActualDuration,
			Env:           env,
		})

		if !decision.ShouldRetry {
			result.Terminal = decision.Terminal
			if result.Terminal == "" {
				result.Terminal = retrydecide.ReasonInsufficientSupport
			}
			break
		}

		e.logger.Debug("retrying task",
			zap.String("task", task.ID),
			zap.String("operation", task.OperationID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay))

		if decision.Delay > 0 {
			select {
			case <-ctx.Done():
				result.Err = ctx.Err()
				result.Terminal = TerminalCancelled
				return finish(result, e.clock, taskStart)
			case <-e.clock.After(decision.Delay):
			}
		}
	}

	return finish(result, e.clock, taskStart)
}

func finish(result TaskResult, clock types.Clock, start time.Time) TaskResult {
	result.Duration = clock.Since(start)
	return result
}

// aggregate fills the batch summary from per-task results
func (e *Executor) aggregate(batch *BatchResult) {
	var total time.Duration
	for _, r := range batch.Results {
		if r.Success {
			batch.Successes++
		} else {
			batch.Failures++
			if r.Terminal != TerminalBatchTimeout &&
				r.Terminal != TerminalCancelled &&
				types.ClassifyError(r.Err) == types.KindUnknown &&
				r.Err != nil {
				batch.Conflicts = append(batch.Conflicts, r.TaskID)
			}
		}
		total += r.Duration
	}
	if len(batch.Results) > 0 {
		batch.AverageDuration = total / time.Duration(len(batch.Results))
	}
}
