// Package apperror defines the structured failures surfaced by the analytics engine.
// Every error carries a Kind so callers (HTTP handlers, report exporters) can map it
// to a response without string matching.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// InvalidParameter: missing required recipe field, out-of-range page/limit, unknown scope.
	InvalidParameter Kind = "INVALID_PARAMETER"
	// ReferenceNotFound: an exact-match lookup target (e.g. a named teacher) does not exist.
	ReferenceNotFound Kind = "REFERENCE_NOT_FOUND"
	// AggregationError: division by zero, non-numeric operand or a violated join cardinality.
	AggregationError Kind = "AGGREGATION_ERROR"
	// StoreUnavailable: the document store cannot produce a requested collection.
	StoreUnavailable Kind = "STORE_UNAVAILABLE"
	// Internal: malformed pipeline definitions and other programming errors.
	Internal Kind = "INTERNAL_ERROR"
)

var statusByKind = map[Kind]int{
	InvalidParameter:  http.StatusBadRequest,
	ReferenceNotFound: http.StatusNotFound,
	AggregationError:  http.StatusUnprocessableEntity,
	StoreUnavailable:  http.StatusServiceUnavailable,
	Internal:          http.StatusInternalServerError,
}

// Error is the unified engine error type.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Stage   *int           `json:"stage,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Stage != nil {
		msg = fmt.Sprintf("%s: stage %d: %s", e.Kind, *e.Stage, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (cause: %v)", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the recommended HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidParam(format string, args ...any) *Error {
	return New(InvalidParameter, format, args...)
}

func NotFound(resource, key string) *Error {
	return New(ReferenceNotFound, "%s %q does not exist", resource, key).WithDetail("resource", resource)
}

func Aggregation(format string, args ...any) *Error {
	return New(AggregationError, format, args...)
}

func Unavailable(collection string, cause error) *Error {
	return New(StoreUnavailable, "collection %q is unavailable", collection).WithCause(cause)
}

// AtStage returns a copy of err annotated with the failing stage index. Errors that are
// not *Error are classified as Internal.
func AtStage(index int, stageName string, err error) *Error {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = New(Internal, "%v", err).WithCause(err)
	}
	out := *ae
	if ae.Details != nil {
		out.Details = make(map[string]any, len(ae.Details))
		for k, v := range ae.Details {
			out.Details[k] = v
		}
	}
	idx := index
	out.Stage = &idx
	if stageName != "" {
		out.Message = stageName + ": " + ae.Message
	}
	return &out
}

// KindOf returns the Kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
