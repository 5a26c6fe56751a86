// Package config loads engine configuration from YAML files and
// environment variables. All keys default to the engine's built-in
// values; a missing file is not an error unless a path was given
// explicitly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flakeguard/flakeguard/pkg/engine"
)

// EnvPrefix is the environment variable prefix, e.g.
// FLAKEGUARD_CIRCUIT_FAILURE_THRESHOLD overrides circuit.failure_threshold.
const EnvPrefix = "FLAKEGUARD"

// Load reads configuration from path and the environment. An empty path
// loads defaults plus environment overrides only.
func Load(path string) (engine.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return engine.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()

	v.SetDefault("history_window", def.HistoryWindow)

	v.SetDefault("backoff.initial_delay", def.Backoff.InitialDelay)
	v.SetDefault("backoff.max_delay", def.Backoff.MaxDelay)
	v.SetDefault("backoff.multiplier", def.Backoff.Multiplier)
	v.SetDefault("backoff.jitter", def.Backoff.Jitter)
	v.SetDefault("backoff.max_retries", def.Backoff.MaxRetries)

	v.SetDefault("timeout.base", def.Timeout.BaseTimeout)
	v.SetDefault("timeout.min_samples", def.Timeout.MinSamples)
	v.SetDefault("timeout.target_success_rate", def.Timeout.TargetSuccessRate)
	v.SetDefault("timeout.max_multiplier", def.Timeout.MaxMultiplier)
	v.SetDefault("timeout.min_multiplier", def.Timeout.MinMultiplier)
	v.SetDefault("timeout.success_floor", def.Timeout.SuccessFloor)
	v.SetDefault("timeout.increment_factor", def.Timeout.IncrementFactor)
	v.SetDefault("timeout.parent_child_ratio", def.Timeout.ParentChildRatio)
	v.SetDefault("timeout.max_depth", def.Timeout.MaxDepth)

	v.SetDefault("flakiness.min_executions", def.Flakiness.MinExecutions)
	v.SetDefault("flakiness.threshold", def.Flakiness.FlakinessThreshold)
	v.SetDefault("flakiness.expected_success_rate", def.Flakiness.ExpectedSuccessRate)
	v.SetDefault("flakiness.timeout_rate_limit", def.Flakiness.TimeoutRateLimit)
	v.SetDefault("flakiness.high_cpu_percent", def.Flakiness.HighCPUPercent)
	v.SetDefault("flakiness.high_mem_percent", def.Flakiness.HighMemPercent)
	v.SetDefault("flakiness.env_failure_ratio", def.Flakiness.EnvFailureRatio)

	v.SetDefault("circuit.failure_threshold", def.Circuit.FailureThreshold)
	v.SetDefault("circuit.recovery_timeout", def.Circuit.RecoveryTimeout)
	v.SetDefault("circuit.half_open_attempts", def.Circuit.HalfOpenAttempts)
	v.SetDefault("circuit.monitoring_window", def.Circuit.MonitoringWindow)

	v.SetDefault("decision.sane_execution_bound", def.Decision.SaneExecutionBound)
	v.SetDefault("decision.max_cpu_percent", def.Decision.MaxCPUPercent)
	v.SetDefault("decision.max_mem_percent", def.Decision.MaxMemPercent)
	v.SetDefault("decision.learning", def.Decision.Learning)
	v.SetDefault("decision.min_learning_samples", def.Decision.MinLearningSamples)
	v.SetDefault("decision.high_success_rate", def.Decision.HighSuccessRate)
	v.SetDefault("decision.learning_window", def.Decision.LearningWindow)
	v.SetDefault("decision.min_support", def.Decision.MinSupport)

	v.SetDefault("consistency.required_runs", def.Consistency.RequiredRuns)
	v.SetDefault("consistency.allowed_variance", def.Consistency.AllowedVariance)

	v.SetDefault("executor.max_concurrency", def.Executor.MaxConcurrency)
	v.SetDefault("executor.max_retries", def.Executor.MaxRetries)
	v.SetDefault("executor.batch_timeout", time.Duration(0))
}

func fromViper(v *viper.Viper) engine.Config {
	cfg := engine.DefaultConfig()

	cfg.HistoryWindow = v.GetInt("history_window")

	cfg.Backoff.InitialDelay = v.GetDuration("backoff.initial_delay")
	cfg.Backoff.MaxDelay = v.GetDuration("backoff.max_delay")
	cfg.Backoff.Multiplier = v.GetFloat64("backoff.multiplier")
	cfg.Backoff.Jitter = v.GetBool("backoff.jitter")
	cfg.Backoff.MaxRetries = v.GetInt("backoff.max_retries")

	cfg.Timeout.BaseTimeout = v.GetDuration("timeout.base")
	cfg.Timeout.MinSamples = v.GetInt("timeout.min_samples")
	cfg.Timeout.TargetSuccessRate = v.GetFloat64("timeout.target_success_rate")
	cfg.Timeout.MaxMultiplier = v.GetFloat64("timeout.max_multiplier")
	cfg.Timeout.MinMultiplier = v.GetFloat64("timeout.min_multiplier")
	cfg.Timeout.SuccessFloor = v.GetFloat64("timeout.success_floor")
	cfg.Timeout.IncrementFactor = v.GetFloat64("timeout.increment_factor")
	cfg.Timeout.ParentChildRatio = v.GetFloat64("timeout.parent_child_ratio")
	cfg.Timeout.MaxDepth = v.GetInt("timeout.max_depth")
	cfg.Timeout.HistoryWindow = cfg.HistoryWindow

	cfg.Flakiness.MinExecutions = v.GetInt("flakiness.min_executions")
	cfg.Flakiness.FlakinessThreshold = v.GetFloat64("flakiness.threshold")
	cfg.Flakiness.ExpectedSuccessRate = v.GetFloat64("flakiness.expected_success_rate")
	cfg.Flakiness.TimeoutRateLimit = v.GetFloat64("flakiness.timeout_rate_limit")
	cfg.Flakiness.HighCPUPercent = v.GetFloat64("flakiness.high_cpu_percent")
	cfg.Flakiness.HighMemPercent = v.GetFloat64("flakiness.high_mem_percent")
	cfg.Flakiness.EnvFailureRatio = v.GetFloat64("flakiness.env_failure_ratio")

	cfg.Circuit.FailureThreshold = v.GetInt("circuit.failure_threshold")
	cfg.Circuit.RecoveryTimeout = v.GetDuration("circuit.recovery_timeout")
	cfg.Circuit.HalfOpenAttempts = v.GetInt("circuit.half_open_attempts")
	cfg.Circuit.MonitoringWindow = v.GetDuration("circuit.monitoring_window")

	cfg.Decision.SaneExecutionBound = v.GetDuration("decision.sane_execution_bound")
	cfg.Decision.MaxCPUPercent = v.GetFloat64("decision.max_cpu_percent")
	cfg.Decision.MaxMemPercent = v.GetFloat64("decision.max_mem_percent")
	cfg.Decision.Learning = v.GetBool("decision.learning")
	cfg.Decision.MinLearningSamples = v.GetInt("decision.min_learning_samples")
	cfg.Decision.HighSuccessRate = v.GetFloat64("decision.high_success_rate")
	cfg.Decision.LearningWindow = v.GetInt("decision.learning_window")
	cfg.Decision.MinSupport = v.GetInt("decision.min_support")

	cfg.Consistency.RequiredRuns = v.GetInt("consistency.required_runs")
	cfg.Consistency.AllowedVariance = v.GetFloat64("consistency.allowed_variance")

	cfg.Executor.MaxConcurrency = v.GetInt("executor.max_concurrency")
	cfg.Executor.MaxRetries = v.GetInt("executor.max_retries")
	cfg.Executor.BatchTimeout = v.GetDuration("executor.batch_timeout")

	return cfg
}
