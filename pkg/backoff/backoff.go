// Package backoff provides the exponential backoff schedule used by the
// retry decision engine.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Default configuration values
const (
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxRetries   = 3

	// jitterFactor is the symmetric jitter range applied to the base delay
	jitterFactor = 0.1
)

// Config defines the backoff schedule parameters
type Config struct {
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the computed delay
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor
	Multiplier float64

	// Jitter enables a symmetric random perturbation of the delay
	Jitter bool

	// MaxRetries is the hard retry ceiling
	MaxRetries int
}

// DefaultConfig returns the default backoff configuration
func DefaultConfig() Config {
	return Config{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		Jitter:       true,
		MaxRetries:   DefaultMaxRetries,
	}
}

// Strategy computes retry delays. It is safe for concurrent use.
type Strategy struct {
	cfg Config

	mu   sync.Mutex
	rand *rand.Rand
}

// Option configures a Strategy
type Option func(*Strategy)

// WithRandSource sets the jitter randomness source, making schedules
// deterministic in tests
func WithRandSource(src rand.Source) Option {
	return func(s *Strategy) {
		s.rand = rand.New(src)
	}
}

// New creates a backoff strategy. Zero config fields fall back to defaults.
func New(cfg Config, opts ...Option) *Strategy {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Multiplier <= 1.0 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	s := &Strategy{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule returns the delay before retrying attempt (zero-based) and
// whether a retry is permitted at all. Once attempt reaches MaxRetries
// the second return is false regardless of anything else; callers must
// treat this as a hard ceiling.
func (s *Strategy) Schedule(attempt int) (time.Duration, bool) {
	if attempt >= s.cfg.MaxRetries {
		return 0, false
	}
	if attempt < 0 {
		attempt = 0
	}

	base := float64(s.cfg.InitialDelay) * math.Pow(s.cfg.Multiplier, float64(attempt))
	if base > float64(s.cfg.MaxDelay) {
		base = float64(s.cfg.MaxDelay)
	}

	delay := time.Duration(base)
	if s.cfg.Jitter {
		delay = s.applyJitter(delay)
	}

	return delay, true
}

// BaseDelay returns the delay for attempt before jitter, which is
// non-decreasing in the attempt number
func (s *Strategy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(s.cfg.InitialDelay) * math.Pow(s.cfg.Multiplier, float64(attempt))
	if base > float64(s.cfg.MaxDelay) {
		base = float64(s.cfg.MaxDelay)
	}
	return time.Duration(base)
}

// MaxRetries returns the hard retry ceiling
func (s *Strategy) MaxRetries() int {
	return s.cfg.MaxRetries
}

// applyJitter perturbs delay by up to ±10% of its value, floored at zero
func (s *Strategy) applyJitter(delay time.Duration) time.Duration {
	s.mu.Lock()
	u := s.rand.Float64()
	s.mu.Unlock()

	jitterRange := float64(delay) * jitterFactor
	jitterAmount := (u - 0.5) * 2 * jitterRange

	result := delay + time.Duration(jitterAmount)
	if result < 0 {
		result = 0
	}
	return result
}
