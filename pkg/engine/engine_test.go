package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/internal/testutils"
	"github.com/flakeguard/flakeguard/pkg/backoff"
	"github.com/flakeguard/flakeguard/pkg/circuit"
	"github.com/flakeguard/flakeguard/pkg/executor"
	"github.com/flakeguard/flakeguard/pkg/timeout"
	"github.com/flakeguard/flakeguard/pkg/types"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = backoff.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		MaxRetries:   10,
	}
	return cfg
}

func stableSampler() types.EnvironmentSampler {
	return &types.StaticSampler{
		Snapshot: types.EnvironmentSnapshot{CPUPercent: 25, MemPercent: 35},
	}
}

func TestEngineBatchFeedsAnalysis(t *testing.T) {
	e := New(fastConfig(), WithSampler(stableSampler()))

	transient := types.NewClassifiedError("op.flaky", types.KindNetwork, errors.New("reset"))
	fn, _ := testutils.FlakyFunc(2, transient)

	batch, err := e.ExecuteAll(context.Background(), []executor.Task{{
		ID:          "t1",
		OperationID: "op.flaky",
		Timeout:     time.Second,
		Fn:          fn,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Successes)

	// 2 failures + 1 success recorded through the shared history
	records := e.History("op.flaky")
	require.Len(t, records, 3)

	report := e.Analyze("op.flaky")
	assert.Equal(t, "op.flaky", report.OperationID)
	assert.Equal(t, 3, report.TotalRuns)
	assert.NotEmpty(t, report.Reason, "3 runs is below the analysis minimum")

	snap := e.CircuitState("op.flaky")
	assert.Equal(t, 2, snap.TotalFailures)
	assert.Equal(t, 1, snap.TotalSuccesses)
	assert.Equal(t, circuit.StatusClosed, snap.Status)
}

func TestEngineHistoryRoundTrip(t *testing.T) {
	e := New(fastConfig(), WithSampler(stableSampler()))

	// 3 successes then 2 non-retryable failures for the same operation
	ctx := context.Background()
	succeed := func(ctx context.Context) (any, error) { return nil, nil }
	fail := func(ctx context.Context) (any, error) {
		return nil, types.NewClassifiedError("op.mixed", types.KindAssertion, errors.New("mismatch"))
	}

	tasks := []executor.Task{
		{ID: "t1", OperationID: "op.mixed", Timeout: time.Second, Fn: succeed},
		{ID: "t2", OperationID: "op.mixed", Timeout: time.Second, Fn: succeed},
		{ID: "t3", OperationID: "op.mixed", Timeout: time.Second, Fn: succeed},
		{ID: "t4", OperationID: "op.mixed", Timeout: time.Second, Fn: fail},
		{ID: "t5", OperationID: "op.mixed", Timeout: time.Second, Fn: fail},
	}
	_, err := e.ExecuteAll(ctx, tasks)
	require.NoError(t, err)

	records := e.History("op.mixed")
	require.Len(t, records, 5, "assertion failures are not retried, one record each")

	report := e.AnalyzeRecords(records)
	assert.InDelta(t, 0.4, report.Score, 1e-9, "2 failures out of 5")
	assert.True(t, report.IsFlaky)

	// reproducible on the same window
	again := e.AnalyzeRecords(records)
	assert.Equal(t, report.Score, again.Score)
	assert.Equal(t, report.Confidence, again.Confidence)
}

func TestEngineCheckOverRecordedRuns(t *testing.T) {
	e := New(fastConfig(), WithSampler(stableSampler()))

	succeed := func(ctx context.Context) (any, error) { return nil, nil }
	tasks := make([]executor.Task, 5)
	for i := range tasks {
		tasks[i] = executor.Task{
			ID:          string(rune('a' + i)),
			OperationID: "op.same",
			Timeout:     time.Second,
			Fn:          succeed,
		}
	}
	_, err := e.ExecuteAll(context.Background(), tasks)
	require.NoError(t, err)

	report := e.Check("op.same")
	assert.Equal(t, 5, report.Runs)
	assert.Empty(t, report.ResultOutliers)
}

func TestEngineIsolation(t *testing.T) {
	a := New(fastConfig())
	b := New(fastConfig())

	for i := 0; i < circuit.DefaultFailureThreshold; i++ {
		a.breaker.RecordFailure("op", errors.New("boom"))
	}

	assert.True(t, a.CircuitState("op").IsOpen)
	assert.False(t, b.CircuitState("op").IsOpen, "engines must not share state")
}

func TestEngineTimeoutsAccessor(t *testing.T) {
	e := New(fastConfig())

	result := timeout.Run(e.Timeouts(), context.Background(), "direct",
		func(ctx context.Context) (int, error) { return 7, nil },
		timeout.RunOptions{BaseTimeout: time.Second})

	require.True(t, result.Success)
	assert.Equal(t, 7, result.Value)
	assert.Len(t, e.History("direct"), 1, "direct runs share the engine history")
}

func TestEngineMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(fastConfig(), WithRegisterer(reg))

	for i := 0; i < circuit.DefaultFailureThreshold; i++ {
		e.breaker.RecordFailure("op", errors.New("boom"))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestEngineClose(t *testing.T) {
	e := New(fastConfig())
	e.Close()

	_, err := e.ExecuteAll(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrExecutorClosed)
}
