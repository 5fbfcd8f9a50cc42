package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKvlatError_Error(t *testing.T) {
	err := New(ErrCategoryReport, CodeEmptySampleSet, "no samples")
	expected := "[REPORT:EMPTY_SAMPLE_SET] no samples"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestKvlatError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCategoryBackend, CodePutFailed, "put failed", cause)
	expected := "[BACKEND:PUT_FAILED] put failed: disk full"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestKvlatError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryBackend, CodeGetFailed, "get failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestKvlatError_Is(t *testing.T) {
	err1 := New(ErrCategoryBackend, CodePutFailed, "first")
	err2 := New(ErrCategoryBackend, CodePutFailed, "second")
	err3 := New(ErrCategoryBackend, CodeGetFailed, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{NewConfigError("iterations must be positive, got %d", 0), ErrInvalidConfiguration},
		{NewValidationError(CodeInvalidLength, "length -1"), ErrInvalidLength},
		{NewReportError(CodeEmptySampleSet, "zero samples"), ErrEmptySampleSet},
		{NewBackendError(CodeKeyNotFound, "missing", nil), ErrKeyNotFound},
		{NewRunError(CodeInvalidState, "already ran", nil), ErrInvalidState},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("context: %w", tt.err)
		if !errors.Is(wrapped, tt.sentinel) {
			t.Errorf("%v should match sentinel %v", tt.err, tt.sentinel)
		}
	}

	if errors.Is(NewConfigError("bad"), ErrEmptySampleSet) {
		t.Error("different sentinels must not match")
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryBackend, CodeGetFailed, "io error")
	if GetCategory(err) != ErrCategoryBackend {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryBackend)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-KvlatError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategoryBackend, CodeGetFailed, "io error")
	if GetCode(fmt.Errorf("wrapped: %w", err)) != CodeGetFailed {
		t.Errorf("got %q, want %q", GetCode(err), CodeGetFailed)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-KvlatError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryBackend, CodePutFailed, "put failed")
	detailed := err.WithDetails(map[string]interface{}{"phase": "write"})
	detailed = detailed.WithDetails(map[string]interface{}{"iteration": 49})

	if detailed.Details["phase"] != "write" || detailed.Details["iteration"] != 49 {
		t.Errorf("WithDetails should merge details, got %v", detailed.Details)
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
	if GetDetails(fmt.Errorf("x: %w", detailed))["phase"] != "write" {
		t.Error("GetDetails should walk the chain")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	b := NewBackendError(CodePutFailed, "put", cause)
	if b.Category != ErrCategoryBackend || !errors.Is(b, cause) {
		t.Error("NewBackendError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
