// Package executor runs batches of test tasks concurrently while
// keeping retry decisions, circuit state and timeout learning
// consistent across workers.
//
// Key properties:
//
// 1. Bounded concurrency:
//   - A weighted semaphore caps concurrently running tasks
//   - Task starts cut off by the batch timeout; running tasks drain
//
// 2. Ordered state updates:
//   - Workers report every attempt to a single coordinator goroutine
//   - Circuit breaker and learning state mutate in completion order
//   - A worker does not proceed until its attempt is acknowledged
//
// 3. Per-task retry loop:
//   - Each attempt runs under the timeout manager's computed timeout
//   - The decision engine approves or refuses every retry
//   - Refusals carry a terminal reason on the task result
//
// Basic usage:
//
//	tm := timeout.NewManager(timeout.DefaultConfig())
//	breaker := circuit.New(circuit.DefaultConfig())
//	decider := retrydecide.New(retrydecide.DefaultConfig(),
//		backoff.New(backoff.DefaultConfig()),
//		retrydecide.WithCircuitGate(breaker))
//
//	exec := executor.New(executor.DefaultConfig(), tm, decider, breaker)
//	defer exec.Close()
//
//	batch, err := exec.ExecuteAll(ctx, []executor.Task{
//		{ID: "login-1", OperationID: "login", Fn: runLoginTest},
//	})
//
// Results come back in input order regardless of completion order.
// Tasks that never started because the batch timed out are marked with
// TerminalBatchTimeout; unexpected unclassified failures are listed in
// BatchResult.Conflicts.
//
// Thread safety: an Executor may be shared; ExecuteAll is safe to call
// from multiple goroutines.
package executor
