// Package domainerrors defines the typed, recoverable error taxonomy shared by
// the exchange engine and its HTTP transport. Every expected failure is a
// DomainError with a stable code; callers translate codes into client-facing
// responses and never surface raw internals.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code identifies a class of expected failure.
type Code string

const (
	CodeInvalidInput        Code = "invalid_input"
	CodeInvalidCoordinates  Code = "invalid_coordinates"
	CodeInstanceNotFound    Code = "instance_not_found"
	CodeInstanceFinalized   Code = "instance_finalized"
	CodeOutOfWindow         Code = "out_of_window"
	CodeTokenExpired        Code = "token_expired"
	CodeTokenAlreadyUsed    Code = "token_already_used"
	CodeDisputeWindowClosed Code = "dispute_window_closed"
	CodeConflict            Code = "conflict"
	CodeUnauthorized        Code = "unauthorized"
	CodeInternal            Code = "internal_error"
)

// DomainError carries a stable code plus a human-readable description.
type DomainError struct {
	Code        Code
	Description string
}

func (e DomainError) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Description
}

// New constructs a DomainError with the given code and description.
func New(code Code, description string) DomainError {
	return DomainError{Code: code, Description: description}
}

// HasCode reports whether err is (or wraps) a DomainError with the given code.
func HasCode(err error, code Code) bool {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// unclassified errors so nothing leaks past the transport boundary untyped.
func CodeOf(err error) Code {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps an error code onto its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeInvalidCoordinates, CodeOutOfWindow:
		return http.StatusBadRequest
	case CodeInstanceNotFound:
		return http.StatusNotFound
	case CodeInstanceFinalized, CodeTokenAlreadyUsed, CodeDisputeWindowClosed, CodeConflict:
		return http.StatusConflict
	case CodeTokenExpired:
		return http.StatusGone
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
