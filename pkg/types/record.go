package types

import (
	"sync"
	"time"
)

// DefaultHistoryWindow is the default per-operation sliding window size
const DefaultHistoryWindow = 50

// EnvironmentSnapshot captures resource usage at the time of an attempt
type EnvironmentSnapshot struct {
	// CPUPercent is system CPU utilization in [0, 100]
	CPUPercent float64

	// MemPercent is system memory utilization in [0, 100]
	MemPercent float64
}

// EnvironmentSampler supplies environment snapshots. Production code uses
// an OS-backed sampler; tests inject deterministic fakes.
type EnvironmentSampler interface {
	// Sample returns the current resource usage
	Sample() (EnvironmentSnapshot, error)
}

// StaticSampler is an EnvironmentSampler returning fixed values
type StaticSampler struct {
	Snapshot EnvironmentSnapshot
}

// Sample returns the configured snapshot
func (s *StaticSampler) Sample() (EnvironmentSnapshot, error) {
	return s.Snapshot, nil
}

// ExecutionRecord is the immutable outcome of a single attempt
type ExecutionRecord struct {
	// OperationID identifies the operation the attempt belongs to
	OperationID string

	// Timestamp is when the attempt completed
	Timestamp time.Time

	// Success reports whether the attempt succeeded
	Success bool

	// Duration is how long the attempt ran
	Duration time.Duration

	// ErrorKind classifies the failure; KindUnknown on success
	ErrorKind Kind

	// Env is the resource usage sampled around the attempt
	Env EnvironmentSnapshot
}

// HistoryStore keeps a bounded sliding window of execution records per
// operation id. Appends past the window size evict the oldest record.
type HistoryStore struct {
	window  int
	mu      sync.RWMutex
	records map[string][]ExecutionRecord
}

// NewHistoryStore creates a history store with the given window size.
// Non-positive sizes fall back to DefaultHistoryWindow.
func NewHistoryStore(window int) *HistoryStore {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &HistoryStore{
		window:  window,
		records: make(map[string][]ExecutionRecord),
	}
}

// Append records an attempt outcome, evicting the oldest entry once the
// window is full
func (h *HistoryStore) Append(rec ExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := h.records[rec.OperationID]
	if len(window) >= h.window {
		copy(window, window[1:])
		window = window[:len(window)-1]
	}
	h.records[rec.OperationID] = append(window, rec)
}

// Records returns a copy of the window for an operation id, oldest first
func (h *HistoryStore) Records(operationID string) []ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	window := h.records[operationID]
	out := make([]ExecutionRecord, len(window))
	copy(out, window)
	return out
}

// Len returns the number of records held for an operation id
func (h *HistoryStore) Len(operationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records[operationID])
}

// Operations returns the operation ids with at least one record
func (h *HistoryStore) Operations() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ops := make([]string, 0, len(h.records))
	for id := range h.records {
		ops = append(ops, id)
	}
	return ops
}
