package posclient

import (
	"errors"
	"fmt"
)

// Error is the error type surfaced by all orchestrator and transport
// operations. Code is a stable machine-readable identifier; Message is
// human-readable and derived from the backend's structured error body when
// one is available.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeSessionExpired     = "session_expired"
	ErrCodeNetworkUnreachable = "network_unreachable"
	ErrCodeValidationFailed   = "validation_failed"
	ErrCodeBusy               = "busy"
	ErrCodeMissingStore       = "missing_store"
	ErrCodeEmptyCart          = "empty_cart"
	ErrCodeCheckoutFailed     = "checkout_failed"
	ErrCodeNotFound           = "not_found"
	ErrCodeBackend            = "backend_error"
)

// NewError creates a new client error
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the error code carried by err, or "" if err is not an *Error.
// The chain is unwrapped, so codes survive wrapping by url.Error and fmt.Errorf.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBusy reports whether err is a lock-contention rejection. Contended
// operations are rejected immediately rather than queued; the UI is expected
// to treat this as a dropped intent, not a failure.
func IsBusy(err error) bool { return CodeOf(err) == ErrCodeBusy }

// IsValidation reports whether err is a client-side validation failure raised
// before any network call was made.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidationFailed }

// IsNetworkUnreachable reports whether err means no response was received at
// all, as opposed to a response with an error status.
func IsNetworkUnreachable(err error) bool { return CodeOf(err) == ErrCodeNetworkUnreachable }

// IsSessionExpired reports whether err is an unrecoverable auth failure that
// requires the user to log in again.
func IsSessionExpired(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeSessionExpired || code == ErrCodeUnauthorized
}
