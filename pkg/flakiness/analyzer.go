// Package flakiness analyzes execution history to detect unstable
// operations and recommend mitigations.
package flakiness

import (
	"math"

	"github.com/flakeguard/flakeguard/pkg/types"
)

// Default analyzer thresholds
const (
	DefaultMinExecutions       = 5
	DefaultFlakinessThreshold  = 0.2
	DefaultExpectedSuccessRate = 0.95
	DefaultTimeoutRateLimit    = 0.1
	DefaultHighCPUPercent      = 80.0
	DefaultHighMemPercent      = 85.0
	DefaultEnvFailureRatio     = 0.5
)

// Recommended mitigation actions. Advisory metadata only; nothing in the
// engine applies them automatically.
const (
	ActionIncreaseRetries      = "increase-retries"
	ActionAddWaits             = "add-explicit-waits"
	ActionStabilizeEnvironment = "stabilize-environment"
)

// Config defines the analyzer thresholds
type Config struct {
	// MinExecutions is the minimum history length for a verdict
	MinExecutions int

	// FlakinessThreshold is the failure-rate bound above which an
	// operation is flaky
	FlakinessThreshold float64

	// ExpectedSuccessRate is the baseline success rate the confidence
	// calculation compares against
	ExpectedSuccessRate float64

	// TimeoutRateLimit flags intermittent timeouts once timeout failures
	// exceed this share of all attempts
	TimeoutRateLimit float64

	// HighCPUPercent and HighMemPercent define a high-load sample
	HighCPUPercent float64
	HighMemPercent float64

	// EnvFailureRatio flags environment dependency once this share of
	// failed runs happened under high load
	EnvFailureRatio float64
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{
		MinExecutions:       DefaultMinExecutions,
		FlakinessThreshold:  DefaultFlakinessThreshold,
		ExpectedSuccessRate: DefaultExpectedSuccessRate,
		TimeoutRateLimit:    DefaultTimeoutRateLimit,
		HighCPUPercent:      DefaultHighCPUPercent,
		HighMemPercent:      DefaultHighMemPercent,
		EnvFailureRatio:     DefaultEnvFailureRatio,
	}
}

// Report is the analyzer verdict for one operation
type Report struct {
	// OperationID is taken from the first record
	OperationID string

	// IsFlaky reports whether the failure rate exceeds the threshold
	IsFlaky bool

	// Score is the observed failure rate in [0, 1]
	Score float64

	// Confidence is the statistical confidence of the verdict in [0, 1)
	Confidence float64

	// TotalRuns and Failures are the sample counts behind the verdict
	TotalRuns int
	Failures  int

	// IntermittentTimeouts reports timeout failures above TimeoutRateLimit
	IntermittentTimeouts bool

	// EnvironmentDependent reports failures clustering under high load
	EnvironmentDependent bool

	// Recommendations lists advisory mitigation actions
	Recommendations []string

	// Reason explains a non-verdict, e.g. insufficient data
	Reason string
}

// Analyzer computes flakiness reports from execution history
type Analyzer struct {
	cfg Config
}

// New creates an analyzer. Zero config fields fall back to defaults.
func New(cfg Config) *Analyzer {
	if cfg.MinExecutions <= 0 {
		cfg.MinExecutions = DefaultMinExecutions
	}
	if cfg.FlakinessThreshold <= 0 {
		cfg.FlakinessThreshold = DefaultFlakinessThreshold
	}
	if cfg.ExpectedSuccessRate <= 0 || cfg.ExpectedSuccessRate >= 1 {
		cfg.ExpectedSuccessRate = DefaultExpectedSuccessRate
	}
	if cfg.TimeoutRateLimit <= 0 {
		cfg.TimeoutRateLimit = DefaultTimeoutRateLimit
	}
	if cfg.HighCPUPercent <= 0 {
		cfg.HighCPUPercent = DefaultHighCPUPercent
	}
	if cfg.HighMemPercent <= 0 {
		cfg.HighMemPercent = DefaultHighMemPercent
	}
	if cfg.EnvFailureRatio <= 0 {
		cfg.EnvFailureRatio = DefaultEnvFailureRatio
	}
	return &Analyzer{cfg: cfg}
}

// Analyze computes a flakiness report over an operation's history.
// Histories shorter than MinExecutions yield a non-flaky verdict with an
// explanatory reason rather than an error.
func (a *Analyzer) Analyze(history []types.ExecutionRecord) Report {
	report := Report{}
	if len(history) > 0 {
		report.OperationID = history[0].OperationID
	}
	report.TotalRuns = len(history)

	if len(history) < a.cfg.MinExecutions {
		report.Reason = "insufficient execution history"
		return report
	}

	failures := 0
	timeouts := 0
	highLoadFailures := 0
	for _, rec := range history {
		if rec.Success {
			continue
		}
		failures++
		if rec.ErrorKind == types.KindTimeout {
			timeouts++
		}
		if rec.Env.CPUPercent > a.cfg.HighCPUPercent || rec.Env.MemPercent > a.cfg.HighMemPercent {
			highLoadFailures++
		}
	}

	total := len(history)
	report.Failures = failures
	report.Score = float64(failures) / float64(total)
	report.IsFlaky = report.Score > a.cfg.FlakinessThreshold
	report.Confidence = a.confidence(total, failures)

	report.IntermittentTimeouts = float64(timeouts)/float64(total) > a.cfg.TimeoutRateLimit
	if failures > 0 {
		report.EnvironmentDependent = float64(highLoadFailures)/float64(failures) > a.cfg.EnvFailureRatio
	}

	if report.IsFlaky {
		report.Recommendations = append(report.Recommendations, ActionIncreaseRetries)
	}
	if report.IntermittentTimeouts {
		report.Recommendations = append(report.Recommendations, ActionAddWaits)
	}
	if report.EnvironmentDependent {
		report.Recommendations = append(report.Recommendations, ActionStabilizeEnvironment)
	}

	return report
}

// confidence maps a normalized z-score of the observed success rate
// against the expected baseline into [0, 1) through a sigmoid. The
// formula is kept from the original engine for score compatibility; a
// textbook binomial interval would be an acceptable substitute but would
// shift recorded baselines.
func (a *Analyzer) confidence(total, failures int) float64 {
	p0 := a.cfg.ExpectedSuccessRate
	observed := float64(total-failures) / float64(total)

	stderr := math.Sqrt(p0 * (1 - p0) / float64(total))
	if stderr == 0 {
		return 0
	}

	z := math.Abs(observed-p0) / stderr
	sigmoid := 1 / (1 + math.Exp(-z))

	// sigmoid(|z|) lies in [0.5, 1); rescale to [0, 1)
	return 2*sigmoid - 1
}
