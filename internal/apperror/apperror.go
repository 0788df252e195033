// Package apperror defines the error taxonomy shared by the services and HTTP handlers.
package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuth
	KindForbidden
	KindRateLimited
	KindStorage
)

// Machine-readable error codes returned to clients.
const (
	CodeValidation            = "ValidationError"
	CodeInvalidOtp            = "InvalidOtp"
	CodeOtpExpired            = "OtpExpired"
	CodeOtpCooldown           = "OtpCooldown"
	CodeMobileNotVerified     = "MobileNotVerified"
	CodeDuplicateField        = "DuplicateField"
	CodeUserNotFound          = "UserNotFound"
	CodeInvalidPassword       = "InvalidPassword"
	CodeUnauthenticated       = "Unauthenticated"
	CodeForbidden             = "Forbidden"
	CodeNotFound              = "NotFound"
	CodeAllocationConflict    = "AllocationConflict"
	CodeUserCapacityExhausted = "UserCapacityExhausted"
	CodeStorageUnavailable    = "StorageUnavailable"
	CodeInternal              = "Internal"
)

// Error is a classified application error. Message is safe to show to clients;
// Err holds the internal cause and is only ever logged.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Field == "" || t.Field == e.Field)
}

// Status maps the error kind onto an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidOtp            = &Error{Kind: KindValidation, Code: CodeInvalidOtp, Message: "invalid otp"}
	ErrOtpExpired            = &Error{Kind: KindValidation, Code: CodeOtpExpired, Message: "otp expired"}
	ErrOtpCooldown           = &Error{Kind: KindRateLimited, Code: CodeOtpCooldown, Message: "otp recently sent, try again later"}
	ErrMobileNotVerified     = &Error{Kind: KindValidation, Code: CodeMobileNotVerified, Message: "mobile number not verified"}
	ErrUserNotFound          = &Error{Kind: KindNotFound, Code: CodeUserNotFound, Message: "user not found"}
	ErrInvalidPassword       = &Error{Kind: KindAuth, Code: CodeInvalidPassword, Message: "invalid password"}
	ErrUnauthenticated       = &Error{Kind: KindAuth, Code: CodeUnauthenticated, Message: "authentication required"}
	ErrForbidden             = &Error{Kind: KindForbidden, Code: CodeForbidden, Message: "access denied"}
	ErrNotFound              = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "resource not found"}
	ErrAllocationConflict    = &Error{Kind: KindConflict, Code: CodeAllocationConflict, Message: "could not allocate identifier, retry later"}
	ErrUserCapacityExhausted = &Error{Kind: KindConflict, Code: CodeUserCapacityExhausted, Message: "tenant has no user ids left"}
)

// Validation reports missing or malformed input for field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Field: field, Message: message}
}

// DuplicateField reports that a unique business field is already taken.
func DuplicateField(field string) *Error {
	return &Error{Kind: KindConflict, Code: CodeDuplicateField, Field: field, Message: field + " already registered"}
}

// Storage wraps a backing-store failure.
func Storage(op string, err error) *Error {
	return &Error{
		Kind:    KindStorage,
		Code:    CodeStorageUnavailable,
		Message: "service temporarily unavailable",
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: "internal error",
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

// With returns a copy of a sentinel carrying cause.
func With(sentinel *Error, cause error) *Error {
	cp := *sentinel
	cp.Err = cause
	return &cp
}

// As extracts an *Error from err. Unclassified errors become internal errors,
// except context timeouts which count as storage unavailability.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Storage("request", err)
	}
	return Internal("unclassified", err)
}
