// Package apierr carries an HTTP status and a stable code alongside an error
// so handlers can map failures without string matching.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in API error bodies.
const (
	CodeInvalidInput       = "invalid_input"
	CodeBackendUnavailable = "backend_unavailable"
	CodePersistence        = "persistence_failure"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal"
)

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrBackendUnavailable = errors.New("后端未部署")
	ErrPersistence        = errors.New("persistence failure")
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Invalid reports a caller mistake such as a bad limit or unknown user type.
func Invalid(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeInvalidInput,
		fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...)))
}

// Unavailable reports that the analysis backend is not running.
func Unavailable() *Error {
	return New(http.StatusServiceUnavailable, CodeBackendUnavailable, ErrBackendUnavailable)
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) *Error {
	return New(http.StatusInternalServerError, CodePersistence,
		fmt.Errorf("%w: %s: %w", ErrPersistence, op, err))
}

// StatusOf returns the HTTP status carried by err, 500 if none.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the code carried by err, CodeInternal if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}
