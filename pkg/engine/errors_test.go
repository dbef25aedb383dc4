package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeClassification(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
		name  string
	}{
		{NewValidationError("bad input"), IsValidation, "validation"},
		{NewNotFoundError("server", "web1"), IsNotFound, "not found"},
		{NewPreconditionError("no dns"), IsPreconditionFailed, "precondition"},
		{NewError(ErrCodeResourceBusy, "busy", nil), IsResourceBusy, "busy"},
		{NewError(ErrCodeCircularDependency, "cycle", nil), IsCircularDependency, "cycle"},
		{NewError(ErrCodeDependentsPresent, "dependents", nil), IsDependentsPresent, "dependents"},
		{NewExecutionError("exec", nil), func(err error) bool { return CodeOf(err) == ErrCodeExecution }, "execution"},
		{NewTimeoutError("slow", nil), IsTimeout, "timeout"},
		{NewCancelledError("stop"), IsCancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("%v did not classify as %s", tt.err, tt.name)
			}
		})
	}
}

func TestErrorClassificationSurvivesWrapping(t *testing.T) {
	inner := NewNotFoundError("server", "web1")
	wrapped := fmt.Errorf("failed to look up: %w", inner)

	if !IsNotFound(wrapped) {
		t.Fatal("wrapped not-found error lost its classification")
	}
	if IsValidation(wrapped) {
		t.Fatal("wrapped error matched the wrong code")
	}
	if CodeOf(wrapped) != ErrCodeNotFound {
		t.Fatalf("CodeOf(wrapped) = %s", CodeOf(wrapped))
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewExecutionError("provisioning failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is failed to find the cause")
	}
}

func TestErrorBuilders(t *testing.T) {
	err := NewValidationError("missing zone").
		WithTarget("web1").
		WithOperation("setup_server").
		WithDetail("field", "zone")

	if err.Target != "web1" {
		t.Errorf("Target = %q", err.Target)
	}
	if err.Operation != "setup_server" {
		t.Errorf("Operation = %q", err.Operation)
	}
	if err.Details["field"] != "zone" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestCodeOfUnknownError(t *testing.T) {
	if code := CodeOf(errors.New("plain")); code != ErrCodeExecution {
		t.Fatalf("unclassified errors default to execution, got %s", code)
	}
}
