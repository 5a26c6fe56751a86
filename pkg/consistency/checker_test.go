package consistency

import (
	"testing"
	"time"

	"github.com/flakeguard/flakeguard/pkg/types"
)

func runsWithDurations(ms []int64) []types.ExecutionRecord {
	runs := make([]types.ExecutionRecord, len(ms))
	for i, m := range ms {
		runs[i] = types.ExecutionRecord{
			OperationID: "op",
			Success:     true,
			Duration:    time.Duration(m) * time.Millisecond,
			Env:         types.EnvironmentSnapshot{MemPercent: 50},
		}
	}
	return runs
}

func metricByName(t *testing.T, report Report, name string) MetricReport {
	t.Helper()
	for _, m := range report.Metrics {
		if m.Metric == name {
			return m
		}
	}
	t.Fatalf("metric %q not in report", name)
	return MetricReport{}
}

func TestCheckConsistentDurations(t *testing.T) {
	c := New(DefaultConfig())

	report := c.Check(runsWithDurations([]int64{100, 102, 98, 101, 99}))

	if !report.IsConsistent {
		t.Fatalf("CV ~0.015 should be consistent, report: %+v", report)
	}
	duration := metricByName(t, report, MetricDuration)
	if duration.CV > 0.02 {
		t.Errorf("duration CV = %v, want ~0.015", duration.CV)
	}
	if len(duration.Outliers) != 0 {
		t.Errorf("consistent metric should list no outliers, got %v", duration.Outliers)
	}
}

func TestCheckFlagsDurationOutlier(t *testing.T) {
	c := New(DefaultConfig())

	report := c.Check(runsWithDurations([]int64{100, 500, 100, 100, 100}))

	if report.IsConsistent {
		t.Fatal("run at 500ms should break consistency")
	}
	duration := metricByName(t, report, MetricDuration)
	if duration.Consistent {
		t.Error("duration metric should be inconsistent")
	}

	if len(duration.Outliers) != 1 {
		t.Fatalf("outliers = %+v, want exactly the 500ms run", duration.Outliers)
	}
	out := duration.Outliers[0]
	if out.Run != 1 || out.Value != 500 {
		t.Errorf("outlier = %+v, want run 1 value 500", out)
	}
	if out.Expected != 180 {
		t.Errorf("Expected = %v, want mean 180", out.Expected)
	}
}

func TestCheckInsufficientRuns(t *testing.T) {
	c := New(DefaultConfig())

	report := c.Check(runsWithDurations([]int64{100, 100}))

	if report.IsConsistent {
		t.Error("too few runs must report not consistent")
	}
	if report.Reason == "" {
		t.Error("too few runs must carry an explicit reason")
	}
}

func TestCheckResultOutliers(t *testing.T) {
	c := New(DefaultConfig())

	runs := runsWithDurations([]int64{100, 100, 100, 100, 100})
	runs[3].Success = false
	runs[3].ErrorKind = types.KindTimeout

	report := c.Check(runs)

	if report.IsConsistent {
		t.Error("a diverging outcome must break consistency")
	}
	if len(report.ResultOutliers) != 1 || report.ResultOutliers[0] != 3 {
		t.Errorf("ResultOutliers = %v, want [3]", report.ResultOutliers)
	}
	result := metricByName(t, report, MetricResult)
	if result.Consistent {
		t.Error("result metric should be inconsistent")
	}
}

func TestCheckErrorKindDifferenceIsOutlier(t *testing.T) {
	c := New(DefaultConfig())

	runs := runsWithDurations([]int64{100, 100, 100, 100, 100})
	for i := range runs {
		runs[i].Success = false
		runs[i].ErrorKind = types.KindNetwork
	}
	runs[2].ErrorKind = types.KindTimeout

	report := c.Check(runs)

	if len(report.ResultOutliers) != 1 || report.ResultOutliers[0] != 2 {
		t.Errorf("ResultOutliers = %v, want [2]", report.ResultOutliers)
	}
}

func TestCheckMemoryVariance(t *testing.T) {
	c := New(DefaultConfig())

	runs := runsWithDurations([]int64{100, 100, 100, 100, 100})
	for i := range runs {
		runs[i].Env.MemPercent = 50
	}
	runs[4].Env.MemPercent = 95

	report := c.Check(runs)

	memory := metricByName(t, report, MetricMemory)
	if memory.Consistent {
		t.Error("memory spike should be inconsistent")
	}
	if report.IsConsistent {
		t.Error("memory inconsistency must fail the overall verdict")
	}
}
