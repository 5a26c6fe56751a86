package flakiness

import (
	"testing"
	"time"

	"github.com/flakeguard/flakeguard/pkg/types"
)

func makeHistory(opID string, outcomes []bool) []types.ExecutionRecord {
	records := make([]types.ExecutionRecord, 0, len(outcomes))
	for i, ok := range outcomes {
		rec := types.ExecutionRecord{
			OperationID: opID,
			Timestamp:   time.Unix(int64(i), 0),
			Success:     ok,
			Duration:    100 * time.Millisecond,
		}
		if !ok {
			rec.ErrorKind = types.KindNetwork
		}
		records = append(records, rec)
	}
	return records
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := New(DefaultConfig())

	report := a.Analyze(makeHistory("op", []bool{true, false, true}))
	if report.IsFlaky {
		t.Error("short history must not be flagged flaky")
	}
	if report.Reason == "" {
		t.Error("short history should carry a reason")
	}
}

func TestAnalyzeFlakyAboveThreshold(t *testing.T) {
	a := New(DefaultConfig())

	// 4 failures in 10 runs: failure rate 0.4 > 0.2
	outcomes := []bool{true, false, true, false, true, false, true, false, true, true}
	report := a.Analyze(makeHistory("op", outcomes))

	if !report.IsFlaky {
		t.Error("failure rate 0.4 should be flaky")
	}
	if report.Score != 0.4 {
		t.Errorf("Score = %v, want 0.4", report.Score)
	}
	if report.Confidence < 0 || report.Confidence >= 1 {
		t.Errorf("Confidence = %v outside [0, 1)", report.Confidence)
	}
	if len(report.Recommendations) == 0 {
		t.Error("flaky operation should get recommendations")
	}
}

func TestAnalyzeStableBelowThreshold(t *testing.T) {
	a := New(DefaultConfig())

	// 1 failure in 10 runs: failure rate 0.1 <= 0.2
	outcomes := []bool{true, true, true, false, true, true, true, true, true, true}
	report := a.Analyze(makeHistory("op", outcomes))

	if report.IsFlaky {
		t.Error("failure rate 0.1 should not be flaky")
	}
}

func TestAnalyzeMixedSequenceScore(t *testing.T) {
	a := New(DefaultConfig())

	// exactly at MinExecutions: 3 successes, 2 failures
	report := a.Analyze(makeHistory("op", []bool{true, false, true, false, true}))

	if report.Score != 0.4 {
		t.Errorf("Score = %v, want 0.4", report.Score)
	}
	if !report.IsFlaky {
		t.Error("score 0.4 exceeds threshold 0.2")
	}

	// deterministic: the same history yields the same report
	again := a.Analyze(makeHistory("op", []bool{true, false, true, false, true}))
	if again.Score != report.Score || again.Confidence != report.Confidence {
		t.Error("analysis must be reproducible for identical history")
	}
}

func TestAnalyzeIntermittentTimeouts(t *testing.T) {
	a := New(DefaultConfig())

	records := makeHistory("op", []bool{true, true, true, true, true, true, true, true})
	// two timeout failures out of ten attempts: 20% > 10% limit
	for i := 0; i < 2; i++ {
		records = append(records, types.ExecutionRecord{
			OperationID: "op",
			Success:     false,
			ErrorKind:   types.KindTimeout,
		})
	}

	report := a.Analyze(records)
	if !report.IntermittentTimeouts {
		t.Error("20% timeout failures should flag intermittent timeouts")
	}

	found := false
	for _, rec := range report.Recommendations {
		if rec == ActionAddWaits {
			found = true
		}
	}
	if !found {
		t.Errorf("Recommendations = %v, want %s", report.Recommendations, ActionAddWaits)
	}
}

func TestAnalyzeEnvironmentDependency(t *testing.T) {
	a := New(DefaultConfig())

	records := makeHistory("op", []bool{true, true, true, true, true, true})
	// three failures, all under high CPU
	for i := 0; i < 3; i++ {
		records = append(records, types.ExecutionRecord{
			OperationID: "op",
			Success:     false,
			ErrorKind:   types.KindResourceContention,
			Env:         types.EnvironmentSnapshot{CPUPercent: 95, MemPercent: 40},
		})
	}

	report := a.Analyze(records)
	if !report.EnvironmentDependent {
		t.Error("failures clustered under high CPU should flag environment dependency")
	}

	found := false
	for _, rec := range report.Recommendations {
		if rec == ActionStabilizeEnvironment {
			found = true
		}
	}
	if !found {
		t.Errorf("Recommendations = %v, want %s", report.Recommendations, ActionStabilizeEnvironment)
	}
}

func TestConfidenceGrowsWithDeviation(t *testing.T) {
	a := New(DefaultConfig())

	mild := a.Analyze(makeHistory("op", []bool{true, true, true, true, false, true, true, true, true, true}))
	severe := a.Analyze(makeHistory("op", []bool{false, false, false, false, false, true, true, true, true, true}))

	if severe.Confidence <= mild.Confidence {
		t.Errorf("confidence should grow with deviation: mild=%v severe=%v",
			mild.Confidence, severe.Confidence)
	}
}
