// Package errors provides structured error types for kvlat.
// All errors include a category, code and message so the CLI can report
// exactly which phase, operation and iteration a run died in.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryReport     ErrorCategory = "REPORT"
	ErrCategoryBackend    ErrorCategory = "BACKEND"
	ErrCategoryRun        ErrorCategory = "RUN"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeInvalidLength        = "INVALID_LENGTH"
	CodeInvalidPercentile    = "INVALID_PERCENTILE"

	// Report codes
	CodeEmptySampleSet = "EMPTY_SAMPLE_SET"

	// Backend codes
	CodePutFailed             = "PUT_FAILED"
	CodeGetFailed             = "GET_FAILED"
	CodeKeyNotFound           = "KEY_NOT_FOUND"
	CodeOpenFailed            = "OPEN_FAILED"
	CodeCloseFailed           = "CLOSE_FAILED"
	CodeDurabilityUnsupported = "DURABILITY_UNSUPPORTED"
	CodeUnknownBackend        = "UNKNOWN_BACKEND"
	CodeBackendClosed         = "BACKEND_CLOSED"

	// Run codes
	CodeInvalidState = "INVALID_STATE"
	CodeAborted      = "ABORTED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeObjectExists   = "OBJECT_EXISTS"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is checks. They match any KvlatError with the same
// category and code, regardless of message or cause.
var (
	ErrInvalidConfiguration  = New(ErrCategoryValidation, CodeInvalidConfiguration, "invalid configuration")
	ErrInvalidLength         = New(ErrCategoryValidation, CodeInvalidLength, "invalid length")
	ErrInvalidPercentile     = New(ErrCategoryValidation, CodeInvalidPercentile, "invalid percentile")
	ErrEmptySampleSet        = New(ErrCategoryReport, CodeEmptySampleSet, "empty sample set")
	ErrKeyNotFound           = New(ErrCategoryBackend, CodeKeyNotFound, "key not found")
	ErrDurabilityUnsupported = New(ErrCategoryBackend, CodeDurabilityUnsupported, "durability unsupported")
	ErrBackendClosed         = New(ErrCategoryBackend, CodeBackendClosed, "backend closed")
	ErrInvalidState          = New(ErrCategoryRun, CodeInvalidState, "invalid driver state")
)

// KvlatError is the structured error type used throughout the system.
type KvlatError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *KvlatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *KvlatError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *KvlatError) Is(target error) bool {
	var t *KvlatError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new KvlatError.
func New(category ErrorCategory, code, message string) *KvlatError {
	return &KvlatError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new KvlatError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *KvlatError {
	return &KvlatError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details merged
// over any existing ones.
func (e *KvlatError) WithDetails(details map[string]interface{}) *KvlatError {
	cp := *e
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp.Details = merged
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a KvlatError.
func GetCategory(err error) ErrorCategory {
	var ke *KvlatError
	if errors.As(err, &ke) {
		return ke.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a KvlatError.
func GetCode(err error) string {
	var ke *KvlatError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// GetDetails extracts the details of the outermost KvlatError in the chain.
func GetDetails(err error) map[string]interface{} {
	var ke *KvlatError
	if errors.As(err, &ke) {
		return ke.Details
	}
	return nil
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *KvlatError {
	return New(ErrCategoryValidation, code, message)
}

func NewConfigError(format string, args ...interface{}) *KvlatError {
	return New(ErrCategoryValidation, CodeInvalidConfiguration, fmt.Sprintf(format, args...))
}

func NewReportError(code, message string) *KvlatError {
	return New(ErrCategoryReport, code, message)
}

func NewBackendError(code, message string, cause error) *KvlatError {
	return Wrap(ErrCategoryBackend, code, message, cause)
}

func NewRunError(code, message string, cause error) *KvlatError {
	return Wrap(ErrCategoryRun, code, message, cause)
}

func NewStorageError(code, message string, cause error) *KvlatError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *KvlatError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
