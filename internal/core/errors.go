// Package core provides the shared value types and the error taxonomy of promptgate.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an error into one of the closed set of kinds the HTTP
// surface knows how to map to a status code.
type ErrorKind string

const (
	// KindValidation indicates malformed or missing request fields (400)
	KindValidation ErrorKind = "validation_error"
	// KindNotFound indicates a missing settings row, request row or model (404)
	KindNotFound ErrorKind = "not_found_error"
	// KindUpstream indicates the completion provider reported a failure (500)
	KindUpstream ErrorKind = "upstream_error"
	// KindInternal indicates an unclassified failure (500)
	KindInternal ErrorKind = "internal_error"
	// KindPersistence indicates a store-layer write failure (500)
	KindPersistence ErrorKind = "persistence_error"
)

// InternalMessage is the only text an InternalError ever exposes to clients.
const InternalMessage = "Internal Server Error"

// FieldIssue describes a single validation failure of a request field.
type FieldIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Error is the base error type for all promptgate errors.
type Error struct {
	Kind    ErrorKind
	Message string
	// Issues is set for validation errors only
	Issues []FieldIssue
	// Original error for debugging (not exposed to clients)
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status code for this error kind
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the client-facing payload of the {"detail": ...} body.
// Validation errors carry the itemized field issues, everything else a string.
func (e *Error) Detail() interface{} {
	switch e.Kind {
	case KindValidation:
		if len(e.Issues) > 0 {
			return e.Issues
		}
		return e.Message
	case KindInternal:
		return InternalMessage
	default:
		return e.Message
	}
}

// NewValidationError creates a validation error (400) from field issues
func NewValidationError(issues ...FieldIssue) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "request validation failed",
		Issues:  issues,
	}
}

// NewNotFoundError creates a not found error (404)
func NewNotFoundError(message string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: message,
	}
}

// NewUpstreamError creates an upstream provider error (500) whose message is
// derived from the provider.
func NewUpstreamError(message string, err error) *Error {
	return &Error{
		Kind:    KindUpstream,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates an opaque internal error (500). The original error is
// kept for logging only.
func NewInternalError(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: InternalMessage,
		Err:     err,
	}
}

// NewPersistenceError creates a store-layer write error (500)
func NewPersistenceError(message string, err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of err, or KindInternal when err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
