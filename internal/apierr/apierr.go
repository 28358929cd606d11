// Package apierr defines the error taxonomy of spec.md §7 and its mapping
// to HTTP status codes.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind is one of the closed set of error kinds a caller can act on.
type Kind string

const (
	InvalidInput       Kind = "InvalidInput"
	NoData             Kind = "NoData"
	BrokerUnavailable  Kind = "BrokerUnavailable"
	PublishFailed      Kind = "PublishFailed"
	RetrievalUnavailable Kind = "RetrievalUnavailable"
	IndexBuildFailed   Kind = "IndexBuildFailed"
	LLMUnavailable     Kind = "LLMUnavailable"
	InternalError      Kind = "InternalError"
)

// Error is the structured, user-visible error shape of spec.md §7:
// {error: {kind, message, detail?}}, with an optional retry hint.
type Error struct {
	Kind         Kind   `json:"kind"`
	Message      string `json:"message"`
	Detail       string `json:"detail,omitempty"`
	RetryAfterMs int    `json:"retry_after_ms,omitempty"`
	cause        error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind carrying cause's message as
// Detail, so the original error is preserved for logs without leaking
// internals verbatim to the API response unless the caller wants it.
func Wrap(kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message, cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// WithRetryAfter sets the retry hint in milliseconds on a transient error.
func (e *Error) WithRetryAfter(ms int) *Error {
	e.RetryAfterMs = ms
	return e
}

// HTTPStatus maps a Kind to the status code of spec.md §7.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case NoData:
		return http.StatusNotFound
	case BrokerUnavailable, PublishFailed, LLMUnavailable:
		return http.StatusServiceUnavailable
	case InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
