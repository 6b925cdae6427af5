// Package errors provides a structured error system for stream caching with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for stream caching operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeInvalidCipher ErrorCode = "INVALID_CIPHER"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Source errors
	ErrCodeSourceRead ErrorCode = "SOURCE_READ"
	ErrCodeSourceOpen ErrorCode = "SOURCE_OPEN"

	// Spool errors
	ErrCodeSpoolWrite           ErrorCode = "SPOOL_WRITE"
	ErrCodeSpoolRead            ErrorCode = "SPOOL_READ"
	ErrCodeDirectoryUnavailable ErrorCode = "DIRECTORY_UNAVAILABLE"

	// State management errors
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"
	ErrCodeUseAfterRelease  ErrorCode = "USE_AFTER_RELEASE"

	// Operation errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySource        ErrorCategory = "source"
	CategorySpool         ErrorCategory = "spool"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CachingError represents a structured error with context and metadata.
type CachingError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Retryable is a hint for the surrounding pipeline; nothing in this module retries.
	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *CachingError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CachingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CachingError with the same code.
func (e *CachingError) Is(target error) bool {
	if other, ok := target.(*CachingError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CachingError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CachingError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CachingError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new caching error with default values.
func NewError(code ErrorCode, message string) *CachingError {
	return &CachingError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new caching error with the given cause.
func Wrap(code ErrorCode, message string, cause error) *CachingError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeInvalidCipher, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeSourceRead, ErrCodeSourceOpen:
		return CategorySource
	case ErrCodeSpoolWrite, ErrCodeSpoolRead, ErrCodeDirectoryUnavailable:
		return CategorySpool
	case ErrCodeAlreadyStarted, ErrCodeInvalidState, ErrCodeComponentStopped, ErrCodeUseAfterRelease:
		return CategoryState
	case ErrCodeOperationCanceled, ErrCodeOperationTimeout:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeSourceRead, ErrCodeSourceOpen, ErrCodeSpoolWrite, ErrCodeOperationTimeout:
		return true
	default:
		return false
	}
}

// GetCode returns the code of the first CachingError in err's chain, or
// ErrCodeUnknownError when there is none.
func GetCode(err error) ErrorCode {
	var ce *CachingError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeUnknownError
}

// HasCode reports whether err's chain contains a CachingError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &CachingError{Code: code})
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *CachingError) WithContext(key, value string) *CachingError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *CachingError) WithDetail(key string, value interface{}) *CachingError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CachingError) WithComponent(component string) *CachingError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CachingError) WithOperation(operation string) *CachingError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CachingError) WithCause(cause error) *CachingError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *CachingError) WithStack() *CachingError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns a short hint for fixing the error.
func (e *CachingError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeInvalidConfig: "Check stream_caching settings: buffer_size must be positive " +
			"and spool_threshold must be -1 or greater.",
		ErrCodeInvalidCipher: "Use one of the supported spool ciphers (AES/CTR, ChaCha20) " +
			"or leave spool_cipher empty.",
		ErrCodeDirectoryUnavailable: "Verify the spool directory exists or can be created " +
			"and is writable by the process.",
		ErrCodeSpoolWrite: "Check free disk space and permissions of the spool directory.",
		ErrCodeAlreadyStarted: "Stream caching settings can only be changed " +
			"before the strategy is started.",
		ErrCodeUseAfterRelease: "The cache was released; cache the body again " +
			"or keep a Copy before releasing.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}
	return "Please check the error message for details."
}
