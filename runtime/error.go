// Package runtime executes one bound action of a compiled tool: credential
// resolution, permission and rate-limit enforcement, capability invocation,
// state reduction, and memory/log persistence.
package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// Stable machine-readable error codes. Codes marked recoverable describe
// conditions the caller can retry after acting on the remediation.
const (
	CodeActionNotFound        = "ACTION_NOT_FOUND"
	CodeCapabilityNotFound    = "CAPABILITY_NOT_FOUND"
	CodeApprovalRequired      = "APPROVAL_REQUIRED"
	CodeCredentialUnavailable = "CREDENTIAL_UNAVAILABLE"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeReducerNotFound       = "REDUCER_NOT_FOUND"
	CodeExecutionTimeout      = "EXECUTION_TIMEOUT"
	CodeInvariantViolation    = "INVARIANT_VIOLATION"
	CodeInvocationFailed      = "INVOCATION_FAILED"
	CodeStatePersistFailed    = "STATE_PERSIST_FAILED"
)

// Error is a structured runtime failure that flows across the runtime, the
// orchestration engine, and API layers without losing retryability or its
// machine-readable code. User-visible failures surface as the
// reason/remediation pair, not a bare message.
type Error struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Retryable   bool           `json:"retryable"`
	Remediation string         `json:"remediation,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Cause       error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return CodeInvocationFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(code, message string, retryable bool, cause error) *Error {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = CodeInvocationFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &Error{
		Code:      cleanCode,
		Message:   cleanMsg,
		Retryable: retryable,
		Cause:     cause,
	}
}

func (e *Error) withRemediation(remediation string) *Error {
	e.Remediation = remediation
	return e
}

func (e *Error) withDetails(details map[string]any) *Error {
	if len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// ErrorFrom extracts a structured Error from err, reporting success.
func ErrorFrom(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var rtErr *Error
	if errors.As(err, &rtErr) {
		return rtErr, true
	}
	return nil, false
}

// ErrorCode returns the structured code for err, or "" for plain errors.
func ErrorCode(err error) string {
	if rtErr, ok := ErrorFrom(err); ok && rtErr != nil {
		return rtErr.Code
	}
	return ""
}

// IsRetryable reports whether err is a recoverable runtime error.
func IsRetryable(err error) bool {
	rtErr, ok := ErrorFrom(err)
	return ok && rtErr.Retryable
}

// FatalInvariant builds an invariant-violation error. These assert
// structurally-impossible states loudly rather than letting corruption
// propagate silently; they are never retryable.
func FatalInvariant(format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvariantViolation,
		Message: fmt.Sprintf(format, args...),
	}
}
