package retrydecide

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/pkg/backoff"
	"github.com/flakeguard/flakeguard/pkg/types"
)

var errNet = types.NewClassifiedError("op", types.KindNetwork, errors.New("refused"))

func quietStrategy(maxRetries int) *backoff.Strategy {
	return backoff.New(backoff.Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       false,
		MaxRetries:   maxRetries,
	})
}

// stableRequest has two supporting conditions: fast execution and a
// stable environment.
func stableRequest(attempt, maxRetries int) Request {
	return Request{
		OperationID:   "op",
		Err:           errNet,
		Attempt:       attempt,
		MaxRetries:    maxRetries,
		ExecutionTime: time.Second,
		Env:           types.EnvironmentSnapshot{CPUPercent: 30, MemPercent: 40},
	}
}

type closedGate struct{}

func (closedGate) Allow(string) bool { return false }

func TestDecideMaxRetriesBoundary(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(10))

	kinds := []types.Kind{
		types.KindTimeout, types.KindNetwork, types.KindConnection,
		types.KindResourceContention, types.KindRaceCondition,
		types.KindProtocol, types.KindTemporary,
	}

	for _, kind := range kinds {
		req := stableRequest(3, 3)
		req.Err = types.NewClassifiedError("op", kind, errors.New("x"))

		decision := e.Decide(req)
		assert.False(t, decision.ShouldRetry,
			"attempt == maxRetries must refuse for kind %s", kind)
		assert.Equal(t, ReasonMaxRetries, decision.Terminal)
	}
}

func TestDecideNonRetryableError(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(5))

	tests := []struct {
		name string
		err  error
	}{
		{"assertion", types.NewClassifiedError("op", types.KindAssertion, errors.New("expected 2, got 3"))},
		{"unclassified", errors.New("something odd")},
	}

	for _, tt := range tests {
		req := stableRequest(0, 5)
		req.Err = tt.err

		decision := e.Decide(req)
		assert.False(t, decision.ShouldRetry, "%s must not be retried", tt.name)
		assert.Equal(t, ReasonNonRetryable, decision.Terminal)
	}
}

func TestDecideRefusesAgainstOpenCircuit(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(5), WithCircuitGate(closedGate{}))

	decision := e.Decide(stableRequest(0, 5))
	assert.False(t, decision.ShouldRetry)
	assert.Equal(t, ReasonCircuitOpen, decision.Terminal)
}

func TestDecideApprovesWithTwoSupportingConditions(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(5))

	decision := e.Decide(stableRequest(0, 5))
	require.True(t, decision.ShouldRetry)
	assert.Equal(t, 100*time.Millisecond, decision.Delay)
	assert.Contains(t, decision.Reasons, ReasonFastExecution)
	assert.Contains(t, decision.Reasons, ReasonStableEnvironment)
	assert.Empty(t, decision.Terminal)
	assert.Greater(t, decision.Confidence, 0.0)
}

func TestDecideRefusesOnErrorEvidenceAlone(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(5))

	// slow execution and overloaded environment: no supporting conditions
	req := Request{
		OperationID:   "op",
		Err:           errNet,
		Attempt:       0,
		MaxRetries:    5,
		ExecutionTime: time.Minute,
		Env:           types.EnvironmentSnapshot{CPUPercent: 95, MemPercent: 97},
	}

	decision := e.Decide(req)
	assert.False(t, decision.ShouldRetry)
	assert.Contains(t, decision.Reasons, ReasonInsufficientSupport)
	assert.Empty(t, decision.Terminal, "insufficient support is not a hard stop")
}

func TestDecideCriticalFlagCountsAsSupport(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(5))

	// unstable environment but critical and fast: two conditions
	req := stableRequest(0, 5)
	req.Critical = true
	req.Env = types.EnvironmentSnapshot{CPUPercent: 95, MemPercent: 50}

	decision := e.Decide(req)
	assert.True(t, decision.ShouldRetry)
	assert.Contains(t, decision.Reasons, ReasonCriticalTest)
}

func TestDecideDelayShortenedByHistoricalSuccess(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(5))

	for i := 0; i < 5; i++ {
		e.RecordOutcome("op", true)
	}

	decision := e.Decide(stableRequest(0, 5))
	require.True(t, decision.ShouldRetry)
	assert.Contains(t, decision.Reasons, ReasonHistoricalSuccess)
	assert.Equal(t, 50*time.Millisecond, decision.Delay, "high learned success halves the delay")
}

func TestDecideDelayLengthenedUnderRisk(t *testing.T) {
	e := New(DefaultConfig(), quietStrategy(5))

	// critical + learned success keep support up while both risk
	// conditions (slow execution, unstable environment) are present
	for i := 0; i < 5; i++ {
		e.RecordOutcome("op", i%2 == 0)
	}
	req := Request{
		OperationID:   "op",
		Err:           errNet,
		Attempt:       0,
		MaxRetries:    5,
		Critical:      true,
		ExecutionTime: time.Minute,
		Env:           types.EnvironmentSnapshot{CPUPercent: 95, MemPercent: 97},
	}

	decision := e.Decide(req)
	require.True(t, decision.ShouldRetry)
	assert.Equal(t, 150*time.Millisecond, decision.Delay, "two risk conditions lengthen the delay")
}

func TestLearningWindowBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LearningWindow = 4
	e := New(cfg, quietStrategy(5))

	// old failures roll out of the window
	for i := 0; i < 4; i++ {
		e.RecordOutcome("op", false)
	}
	for i := 0; i < 4; i++ {
		e.RecordOutcome("op", true)
	}

	rate, ok := e.learnedSuccessRate("op")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)
}

func TestDecideBackoffCeilingRespected(t *testing.T) {
	// the strategy's own ceiling is lower than the request's
	e := New(DefaultConfig(), quietStrategy(2))

	decision := e.Decide(stableRequest(2, 10))
	assert.False(t, decision.ShouldRetry)
	assert.Equal(t, ReasonMaxRetries, decision.Terminal)
}
