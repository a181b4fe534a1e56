// Package errors defines the error taxonomy of the ingestion pipeline.
//
// Every per-document failure is one of three kinds: an invalid request (caller
// bug or policy violation), a duplicate document (idempotency rejection), or an
// internal error (dependency failure, timeout, panic). AppError carries the
// API error code and HTTP status alongside the sentinel so handlers and the
// batch response assembler never have to guess.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrDuplicateDocument = errors.New("duplicate document")
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("operation timed out")
	ErrInternal          = errors.New("internal error")
)

// API error codes surfaced in per-item results and error responses.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeDuplicateDocument = "DUPLICATE_DOCUMENT"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeNotFound          = "NOT_FOUND"
)

// AppError wraps a sentinel with a human-readable message and, for duplicate
// rejections, the identifier of the document it collided with.
type AppError struct {
	Err           error
	Message       string
	ExistingDocID string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError wrapping the given sentinel.
func New(sentinel error, message string) *AppError {
	return &AppError{Err: sentinel, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

// Duplicate creates a DUPLICATE_DOCUMENT AppError carrying the id of the
// already-persisted document, if known.
func Duplicate(reason, existingDocID string) *AppError {
	return &AppError{Err: ErrDuplicateDocument, Message: reason, ExistingDocID: existingDocID}
}

// Code maps an error to its API error code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrDuplicateDocument):
		return CodeDuplicateDocument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

// Message returns the AppError message if err carries one, otherwise
// err.Error().
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// ExistingDocID returns the colliding document id for duplicate rejections,
// or "" when the error carries none.
func ExistingDocID(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExistingDocID
	}
	return ""
}

// HTTPStatusCode maps an error to the HTTP status used for request-level
// (non-batch) error responses.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
