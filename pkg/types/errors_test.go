package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTimeout, true},
		{KindNetwork, true},
		{KindConnection, true},
		{KindResourceContention, true},
		{KindRaceCondition, true},
		{KindProtocol, true},
		{KindTemporary, true},
		{KindAssertion, false},
		{KindUnknown, false},
	}

	for _, tt := range tests {
		if got := tt.kind.Retryable(); got != tt.want {
			t.Errorf("Kind(%s).Retryable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", base, KindUnknown},
		{"classified", NewClassifiedError("op", KindNetwork, base), KindNetwork},
		{"wrapped classified", fmt.Errorf("outer: %w", NewClassifiedError("op", KindProtocol, base)), KindProtocol},
		{"timeout sentinel", ErrTimeout, KindTimeout},
		{"timeout error", &TimeoutError{OperationType: "click", Timeout: time.Second}, KindTimeout},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("%s: ClassifyError() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := errors.New("connection reset")
	err := NewClassifiedError("login", KindConnection, base)

	if !errors.Is(err, base) {
		t.Error("classified error should match its cause with errors.Is")
	}

	var ce *ClassifiedError
	if !errors.As(fmt.Errorf("wrap: %w", err), &ce) {
		t.Fatal("errors.As should find ClassifiedError through wrapping")
	}
	if ce.Kind != KindConnection {
		t.Errorf("Kind = %v, want %v", ce.Kind, KindConnection)
	}
}

func TestTimeoutErrorIsErrTimeout(t *testing.T) {
	err := &TimeoutError{OperationType: "screenshot", Timeout: 2 * time.Second, ActualDuration: 3 * time.Second}
	if !errors.Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if !IsRetryableError(err) {
		t.Error("timeouts are retryable")
	}
}
