package logging

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

func TestNewOperationErrorKeepsNil(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorMessage(t *testing.T) {
	err := NewOperationError("usecase.validate", "req-1", errors.New("boom"))
	if got, want := err.Error(), "usecase.validate (request_id=req-1): boom"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	err = NewOperationError("usecase.validate", "", errors.New("boom"))
	if got, want := err.Error(), "usecase.validate: boom"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestOperationOfReturnsInnermost(t *testing.T) {
	inner := NewOperationError("recognition.detect_faces", "req", errors.New("throttled"))
	outer := fmt.Errorf("validate: %w", NewOperationError("usecase.validate", "req", inner))

	if got := OperationOf(outer); got != "recognition.detect_faces" {
		t.Fatalf("unexpected operation: %s", got)
	}
	if got := OperationOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty operation, got %s", got)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"timeout", timeoutError{}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("expected %t, got %t", tc.want, got)
			}
		})
	}
}
