// Package envmon samples OS resource usage for flakiness and retry
// decisions. It is the production implementation of
// types.EnvironmentSampler; tests use types.StaticSampler instead.
package envmon

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/flakeguard/flakeguard/pkg/types"
)

// DefaultCacheInterval bounds how often the OS is queried. Attempts
// complete far more often than load changes meaningfully.
const DefaultCacheInterval = time.Second

// Sampler reads CPU and memory utilization from the OS, caching readings
// for a short interval. Safe for concurrent use.
type Sampler struct {
	clock    types.Clock
	interval time.Duration

	mu        sync.Mutex
	last      types.EnvironmentSnapshot
	sampledAt time.Time
}

// Option configures a Sampler
type Option func(*Sampler)

// WithClock sets the clock used for cache expiry
func WithClock(clock types.Clock) Option {
	return func(s *Sampler) {
		s.clock = clock
	}
}

// WithCacheInterval sets how long a reading stays fresh
func WithCacheInterval(d time.Duration) Option {
	return func(s *Sampler) {
		s.interval = d
	}
}

// New creates an OS-backed sampler
func New(opts ...Option) *Sampler {
	s := &Sampler{
		clock:    types.NewRealClock(),
		interval: DefaultCacheInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample returns current CPU and memory utilization. Readings within the
// cache interval are reused.
func (s *Sampler) Sample() (types.EnvironmentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.sampledAt.IsZero() && now.Sub(s.sampledAt) < s.interval {
		return s.last, nil
	}

	// interval 0 returns utilization since the previous call instead of
	// blocking for a measurement window
	cpuPcts, err := cpu.Percent(0, false)
	if err != nil {
		return types.EnvironmentSnapshot{}, err
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return types.EnvironmentSnapshot{}, err
	}

	snap := types.EnvironmentSnapshot{MemPercent: vm.UsedPercent}
	if len(cpuPcts) > 0 {
		snap.CPUPercent = cpuPcts[0]
	}

	s.last = snap
	s.sampledAt = now
	return snap, nil
}
