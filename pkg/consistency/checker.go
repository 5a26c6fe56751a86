// Package consistency analyzes repeated runs of the same operation for
// result instability, independently of retry logic.
package consistency

import (
	"fmt"
	"math"

	"github.com/flakeguard/flakeguard/pkg/types"
)

// Default checker configuration
const (
	DefaultRequiredRuns    = 5
	DefaultAllowedVariance = 0.1
)

// Metric names reported by the checker
const (
	MetricDuration = "duration"
	MetricMemory   = "memory"
	MetricResult   = "result"
)

// Config defines checker thresholds
type Config struct {
	// RequiredRuns is the minimum sample count for a verdict
	RequiredRuns int

	// AllowedVariance is the coefficient-of-variation bound per metric
	AllowedVariance float64
}

// DefaultConfig returns the default checker configuration
func DefaultConfig() Config {
	return Config{
		RequiredRuns:    DefaultRequiredRuns,
		AllowedVariance: DefaultAllowedVariance,
	}
}

// Outlier is a run deviating from the metric mean
type Outlier struct {
	// Run is the zero-based index of the deviating run
	Run int

	// Value is the observed metric value
	Value float64

	// Expected is the metric mean across all runs
	Expected float64

	// Deviation is the absolute distance from the mean
	Deviation float64
}

// MetricReport is the variability verdict for one metric
type MetricReport struct {
	Metric string
	Mean   float64
	StdDev float64

	// CV is the coefficient of variation, stddev over mean
	CV float64

	// Consistent reports CV within the allowed variance
	Consistent bool

	Outliers []Outlier
}

// Report is the overall consistency verdict across repeated runs
type Report struct {
	// IsConsistent is true only if every metric and the result check pass
	IsConsistent bool

	// Reason explains a non-verdict, e.g. too few runs
	Reason string

	Runs    int
	Metrics []MetricReport

	// ResultOutliers lists runs whose outcome differs from the first run
	ResultOutliers []int
}

// Checker analyzes repeated runs for instability
type Checker struct {
	cfg Config
}

// New creates a checker. Zero config fields fall back to defaults.
func New(cfg Config) *Checker {
	if cfg.RequiredRuns <= 0 {
		cfg.RequiredRuns = DefaultRequiredRuns
	}
	if cfg.AllowedVariance <= 0 {
		cfg.AllowedVariance = DefaultAllowedVariance
	}
	return &Checker{cfg: cfg}
}

// Check computes the consistency report over a set of repeated runs.
// Fewer than RequiredRuns samples yield a not-consistent verdict with an
// explicit reason.
func (c *Checker) Check(runs []types.ExecutionRecord) Report {
	report := Report{Runs: len(runs)}

	if len(runs) < c.cfg.RequiredRuns {
		report.Reason = fmt.Sprintf("need %d runs, got %d", c.cfg.RequiredRuns, len(runs))
		return report
	}

	durations := make([]float64, len(runs))
	memory := make([]float64, len(runs))
	for i, run := range runs {
		durations[i] = float64(run.Duration.Milliseconds())
		memory[i] = run.Env.MemPercent
	}

	report.Metrics = []MetricReport{
		c.checkMetric(MetricDuration, durations),
		c.checkMetric(MetricMemory, memory),
	}

	// result outcomes compare structurally: success flag and error kind
	first := runs[0]
	for i, run := range runs[1:] {
		if run.Success != first.Success || run.ErrorKind != first.ErrorKind {
			report.ResultOutliers = append(report.ResultOutliers, i+1)
		}
	}

	resultReport := MetricReport{
		Metric:     MetricResult,
		Consistent: len(report.ResultOutliers) == 0,
	}
	report.Metrics = append(report.Metrics, resultReport)

	report.IsConsistent = true
	for _, m := range report.Metrics {
		if !m.Consistent {
			report.IsConsistent = false
		}
	}

	return report
}

// checkMetric computes the coefficient of variation for one metric and,
// when it exceeds the allowed variance, lists the deviating runs
func (c *Checker) checkMetric(name string, values []float64) MetricReport {
	mean := meanOf(values)
	stddev := stddevOf(values, mean)

	report := MetricReport{
		Metric: name,
		Mean:   mean,
		StdDev: stddev,
	}

	if mean != 0 {
		report.CV = stddev / mean
	}
	report.Consistent = report.CV <= c.cfg.AllowedVariance
	if report.Consistent {
		return report
	}

	threshold := stddev * (1 + c.cfg.AllowedVariance)
	for i, v := range values {
		deviation := math.Abs(v - mean)
		if deviation > threshold {
			report.Outliers = append(report.Outliers, Outlier{
				Run:       i,
				Value:     v,
				Expected:  mean,
				Deviation: deviation,
			})
		}
	}

	return report
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
