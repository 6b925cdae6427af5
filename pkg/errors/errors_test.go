package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details/Context maps not initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeSourceRead, "read failed").Retryable {
			t.Error("SourceRead should be retryable by default")
		}
		if NewError(ErrCodeInvalidCipher, "bad cipher").Retryable {
			t.Error("InvalidCipher should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeInvalidCipher, CategoryConfiguration},
		{ErrCodeSourceRead, CategorySource},
		{ErrCodeSpoolWrite, CategorySpool},
		{ErrCodeDirectoryUnavailable, CategorySpool},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeUseAfterRelease, CategoryState},
		{ErrCodeOperationCanceled, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestCachingError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *CachingError
		want string
	}{
		{
			name: "bare",
			err:  NewError(ErrCodeSpoolWrite, "disk full"),
			want: "SPOOL_WRITE: disk full",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeSpoolWrite, "disk full").WithComponent("spool"),
			want: "[spool] SPOOL_WRITE: disk full",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeSpoolWrite, "disk full").WithComponent("spool").WithOperation("allocate"),
			want: "[spool:allocate] SPOOL_WRITE: disk full",
		},
		{
			name: "with cause",
			err:  Wrap(ErrCodeSourceRead, "read failed", io.ErrUnexpectedEOF),
			want: "SOURCE_READ: read failed: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorsIsAndUnwrap(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("caching body: %w", Wrap(ErrCodeOperationCanceled, "canceled", context.Canceled))

	if !errors.Is(err, NewError(ErrCodeOperationCanceled, "")) {
		t.Error("errors.Is should match by code through wrapping")
	}
	if errors.Is(err, NewError(ErrCodeSourceRead, "")) {
		t.Error("errors.Is should not match a different code")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("errors.Is should reach the cause")
	}
	if !HasCode(err, ErrCodeOperationCanceled) {
		t.Error("HasCode should find the code")
	}
	if got := GetCode(err); got != ErrCodeOperationCanceled {
		t.Errorf("GetCode = %s, want %s", got, ErrCodeOperationCanceled)
	}
	if got := GetCode(io.EOF); got != ErrCodeUnknownError {
		t.Errorf("GetCode(plain) = %s, want %s", got, ErrCodeUnknownError)
	}
}

func TestCachingError_StringAndJSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeDirectoryUnavailable, "cannot create").
		WithComponent("spool").
		WithDetail("path", "/nope").
		WithContext("phase", "start").
		WithCause(errors.New("permission denied"))

	s := err.String()
	for _, want := range []string{"Code=DIRECTORY_UNAVAILABLE", "Component=spool", `Details={"path":"/nope"}`, "permission denied"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() not valid json: %v", jerr)
	}
	if decoded["code"] != "DIRECTORY_UNAVAILABLE" {
		t.Errorf("json code = %v", decoded["code"])
	}
	if _, ok := decoded["cause"]; ok {
		t.Error("cause must not be serialized")
	}
}

func TestWithStack(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeInternalError, "boom").WithStack()
	if err.Stack == "" {
		t.Error("expected stack to be captured")
	}
}

func TestGetRecommendation(t *testing.T) {
	t.Parallel()

	if rec := NewError(ErrCodeInvalidCipher, "x").GetRecommendation(); !strings.Contains(rec, "ChaCha20") {
		t.Errorf("unexpected recommendation %q", rec)
	}
	if rec := NewError(ErrCodeInternalError, "x").GetRecommendation(); rec == "" {
		t.Error("expected fallback recommendation")
	}
}
