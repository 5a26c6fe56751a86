package types

import (
	"errors"
	"fmt"
	"time"
)

// Predefined errors
var (
	// ErrTimeout indicates an operation exceeded its effective timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrCircuitOpen indicates the operation is quarantined by its circuit breaker
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetries indicates the retry ceiling was reached
	ErrMaxRetries = errors.New("max retries reached")

	// ErrInsufficientData indicates not enough history exists for analysis
	ErrInsufficientData = errors.New("insufficient execution history")

	// ErrStackDepthExceeded indicates the timeout context stack is full
	ErrStackDepthExceeded = errors.New("timeout context stack depth exceeded")

	// ErrExecutorClosed indicates the executor no longer accepts tasks
	ErrExecutorClosed = errors.New("executor is closed")
)

// Kind classifies an error for retry decisions. Kinds are assigned at the
// point an error is raised or wrapped; classification never inspects
// error messages.
type Kind int

const (
	// KindUnknown is an unclassified error; never retried
	KindUnknown Kind = iota

	// KindTimeout is an operation timeout
	KindTimeout

	// KindNetwork is a network-level failure
	KindNetwork

	// KindConnection is a connection establishment or reset failure
	KindConnection

	// KindResourceContention is a failure under resource pressure
	KindResourceContention

	// KindRaceCondition is an ordering/interleaving failure
	KindRaceCondition

	// KindProtocol is a protocol-level transient failure
	KindProtocol

	// KindTemporary is an explicitly temporary failure
	KindTemporary

	// KindAssertion is a test assertion failure; never retried
	KindAssertion
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindConnection:
		return "connection"
	case KindResourceContention:
		return "resource-contention"
	case KindRaceCondition:
		return "race-condition"
	case KindProtocol:
		return "protocol"
	case KindTemporary:
		return "temporary"
	case KindAssertion:
		return "assertion"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this kind may be retried.
// Unclassified and assertion failures are hard stops: silent infinite
// retry on unknown errors is explicitly avoided.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindConnection,
		KindResourceContention, KindRaceCondition,
		KindProtocol, KindTemporary:
		return true
	default:
		return false
	}
}

// ClassifiedError tags an underlying error with an operation and a Kind
type ClassifiedError struct {
	// Operation is the operation id the error occurred in
	Operation string

	// Kind is the error classification
	Kind Kind

	// Cause is the underlying error
	Cause error
}

// NewClassifiedError creates a classified error
func NewClassifiedError(operation string, kind Kind, cause error) *ClassifiedError {
	return &ClassifiedError{
		Operation: operation,
		Kind:      kind,
		Cause:     cause,
	}
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s error in operation %s: %v", e.Kind, e.Operation, e.Cause)
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *ClassifiedError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// TimeoutError is raised when an operation exceeds its effective timeout
type TimeoutError struct {
	// OperationType is the timed operation type
	OperationType string

	// Timeout is the effective timeout that was exceeded
	Timeout time.Duration

	// ActualDuration is how long the operation ran before timing out
	ActualDuration time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %v (limit %v)",
		e.OperationType, e.ActualDuration, e.Timeout)
}

// Unwrap returns ErrTimeout so errors.Is(err, ErrTimeout) holds
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// ClassifyError returns the Kind tagged on err. Classified and timeout
// errors carry their kind; ErrTimeout maps to KindTimeout; everything
// else is KindUnknown.
func ClassifyError(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	if errors.Is(err, ErrTimeout) {
		return KindTimeout
	}

	return KindUnknown
}

// IsRetryableError reports whether err carries a retryable kind
func IsRetryableError(err error) bool {
	return ClassifyError(err).Retryable()
}
