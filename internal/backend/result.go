// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Extra keys callers branch on.
const (
	ExtraCached   = "cached"
	ExtraHTTPCode = "http_code"
	ExtraMessage  = "message"

	// ExtraFields holds field -> message for rejected payloads.
	ExtraFields = "fields"
)

var (
	// ErrUnsupportedType is returned for item or library types a backend cannot handle.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrNotFound is returned when the backend does not know an id.
	ErrNotFound = errors.New("not found")

	// ErrNoLibraries is returned when a backend lists no libraries at all.
	ErrNoLibraries = errors.New("no libraries found")
)

// Level is the severity of an Error.
type Level string

// Error levels.
const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Error describes why an action failed.
type Error struct {
	Message    string         `json:"message"`
	Backend    string         `json:"backend,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Level      Level          `json:"level"`
	Context    map[string]any `json:"context,omitempty"`
	Previous   error          `json:"-"`
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Backend != "" {
		b.WriteString(e.Backend)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Previous
}

// NewError creates an error-level Error.
func NewError(backend, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Backend: backend, Level: LevelError}
}

// UpstreamError describes a non-2xx or unusable upstream response.
func UpstreamError(backend string, status int, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Backend: backend, StatusCode: status, Level: LevelError}
}

// Wrap turns err into an Error, keeping it as Previous. An *Error in the
// chain is returned unchanged.
func Wrap(backend string, err error, format string, args ...any) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Error{Message: msg, Backend: backend, Level: LevelError, Previous: err}
}

// NoLibraries is the failure for an empty library list.
func NoLibraries(backend string) *Error {
	return &Error{Message: ErrNoLibraries.Error(), Backend: backend, Level: LevelError, Previous: ErrNoLibraries}
}

// Result is the envelope every action returns.
type Result[T any] struct {
	Success bool           `json:"success"`
	Value   T              `json:"value"`
	Error   *Error         `json:"error,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// OK returns a successful Result.
func OK[T any](v T) Result[T] {
	return Result[T]{Success: true, Value: v}
}

// Fail returns a failed Result. A nil err gets a generic message.
func Fail[T any](err *Error) Result[T] {
	if err == nil {
		err = &Error{Message: "unknown failure", Level: LevelError}
	}
	return Result[T]{Success: false, Error: err}
}

// Ignored returns a failed Result for input that is accepted but not acted
// upon; callers answer it with http_code (200 by default).
func Ignored[T any](backend string, httpCode int, format string, args ...any) Result[T] {
	r := Fail[T](&Error{Message: fmt.Sprintf(format, args...), Backend: backend, Level: LevelInfo})
	return r.With(ExtraHTTPCode, httpCode)
}

// With returns r with one extra key set.
func (r Result[T]) With(key string, value any) Result[T] {
	extra := make(map[string]any, len(r.Extra)+1)
	for k, v := range r.Extra {
		extra[k] = v
	}
	extra[key] = value
	r.Extra = extra
	return r
}

// HTTPCode returns extra.http_code, or def when absent.
func (r Result[T]) HTTPCode(def int) int {
	if v, ok := r.Extra[ExtraHTTPCode].(int); ok {
		return v
	}
	return def
}

// Cached reports extra.cached.
func (r Result[T]) Cached() bool {
	v, _ := r.Extra[ExtraCached].(bool)
	return v
}

// Err returns the failure as a Go error, or nil on success.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return r.Error
}

// Convert re-types a failed Result.
func Convert[T, U any](r Result[T]) Result[U] {
	return Result[U]{Success: false, Error: r.Error, Extra: r.Extra}
}
