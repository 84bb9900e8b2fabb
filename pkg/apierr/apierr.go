// Package apierr defines the error taxonomy shared by the orchestrator,
// the shards and their clients. Every operation returns either a success
// payload or one of these typed errors; transport failures are converted
// into this taxonomy before they reach a caller, so no HTTP-level error
// ever crosses a component boundary unwrapped.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for both programmatic handling and HTTP mapping.
type Kind string

const (
	// KindNotFound indicates a missing record or a group-scope mismatch.
	KindNotFound Kind = "not_found"

	// KindUnauthorized indicates an identity or role failure, including
	// an identity-spoofing mismatch between asserted and looked-up caller.
	KindUnauthorized Kind = "unauthorized"

	// KindBadRequest indicates a malformed or unserviceable request
	// (missing code artifact, unknown caller shard, bad chunk index).
	KindBadRequest Kind = "bad_request"

	// KindAtCapacity indicates a write was rejected locally because the
	// shard is full. The write may still have landed on a sibling shard;
	// callers must re-resolve the available shard rather than retry.
	KindAtCapacity Kind = "at_capacity"

	// KindValidation indicates a field-level bounds failure.
	KindValidation Kind = "validation"
)

// Validate checks if the Kind is a known enum value.
func (k Kind) Validate() error {
	switch k {
	case KindNotFound, KindUnauthorized, KindBadRequest, KindAtCapacity, KindValidation:
		return nil
	default:
		return fmt.Errorf("unknown error kind: %q", k)
	}
}

// Error is the typed error carried across process boundaries. Tag is a
// stable machine-readable code; Source and Method identify the reporting
// process and operation for operators reading logs.
type Error struct {
	Kind    Kind   `json:"kind"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Method  string `json:"method,omitempty"`
}

func (e *Error) Error() string {
	if e.Source != "" && e.Method != "" {
		return fmt.Sprintf("%s: %s: %s (%s/%s)", e.Kind, e.Tag, e.Message, e.Source, e.Method)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Tag, e.Message)
}

// New creates a typed error.
func New(kind Kind, tag, message string) *Error {
	return &Error{Kind: kind, Tag: tag, Message: message}
}

// NotFound creates a KindNotFound error.
func NotFound(tag, message string) *Error {
	return New(KindNotFound, tag, message)
}

// Unauthorized creates a KindUnauthorized error.
func Unauthorized(tag, message string) *Error {
	return New(KindUnauthorized, tag, message)
}

// BadRequest creates a KindBadRequest error.
func BadRequest(tag, message string) *Error {
	return New(KindBadRequest, tag, message)
}

// AtCapacity creates a KindAtCapacity error.
func AtCapacity(tag, message string) *Error {
	return New(KindAtCapacity, tag, message)
}

// Validation creates a KindValidation error.
func Validation(tag, message string) *Error {
	return New(KindValidation, tag, message)
}

// At annotates the error with the reporting process and operation.
// Returns the receiver for chaining.
func (e *Error) At(source, method string) *Error {
	e.Source = source
	e.Method = method
	return e
}

// KindOf extracts the Kind from any error in the chain.
// Returns KindBadRequest for errors outside the taxonomy.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindBadRequest
}

// Is reports whether any error in the chain is a taxonomy error of the
// given kind.
func Is(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Convert wraps an arbitrary error into the taxonomy. Errors that already
// carry a Kind pass through unchanged; anything else (transport failures,
// serialization failures) becomes a BadRequest so the taxonomy is the only
// error shape that crosses a component boundary.
func Convert(err error, tag, source, method string) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return BadRequest(tag, err.Error()).At(source, method)
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindAtCapacity:
		return http.StatusInsufficientStorage
	default:
		return http.StatusBadRequest
	}
}

// FromHTTPStatus maps a status code back to a Kind. Used when decoding a
// response body fails and only the status line is available.
func FromHTTPStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusInsufficientStorage:
		return KindAtCapacity
	default:
		return KindBadRequest
	}
}

// Decode reconstructs a typed error from an HTTP error response body.
// Falls back to a status-derived error when the body is not taxonomy JSON.
func Decode(status int, body []byte) *Error {
	var apiErr Error
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Kind.Validate() == nil {
		return &apiErr
	}
	return New(FromHTTPStatus(status), "REMOTE_ERROR", string(body))
}
