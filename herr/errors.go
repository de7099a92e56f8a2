// Package herr defines the Hatrac error taxonomy shared by every layer of
// the service. Handlers and storage backends return these errors directly;
// only the rest package translates a Kind into an HTTP status code.
package herr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the taxonomy members from the core specification.
// ObjectVersionMissing is internal: storage backends return it for a version
// whose bytes they do not hold, and catalog translates or absorbs it, so it
// never reaches an HTTP client.
type Kind int

const (
	Internal Kind = iota
	BadRequest
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	LengthRequired
	PreconditionFailed
	PayloadTooLarge
	BadRange
	NotImplemented
	ObjectVersionMissing
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad-request"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not-found"
	case Conflict:
		return "conflict"
	case LengthRequired:
		return "length-required"
	case PreconditionFailed:
		return "precondition-failed"
	case PayloadTooLarge:
		return "payload-too-large"
	case BadRange:
		return "bad-range"
	case NotImplemented:
		return "not-implemented"
	case ObjectVersionMissing:
		return "object-version-missing"
	default:
		return "internal"
	}
}

// HTTPStatus maps a Kind to the status code named in the core specification's
// error-handling table. ObjectVersionMissing has no HTTP status: it is a
// programming error for it to reach this far.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest:
		return 400
	case Unauthenticated:
		return 401
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case LengthRequired:
		return 411
	case PreconditionFailed:
		return 412
	case PayloadTooLarge:
		return 413
	case BadRange:
		return 416
	case NotImplemented:
		return 501
	default:
		return 500
	}
}

// Error is the concrete error type returned throughout catalog and storage.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to a wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an underlying cause, preserving a
// stack trace via github.com/pkg/errors so logs retain the original site.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var herrv *Error
	if errors.As(err, &herrv) {
		return herrv.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Internal for plain errors.
func KindOf(err error) Kind {
	var herrv *Error
	if errors.As(err, &herrv) {
		return herrv.Kind
	}
	return Internal
}

func BadRequestf(format string, args ...interface{}) *Error  { return New(BadRequest, format, args...) }
func Forbiddenf(format string, args ...interface{}) *Error   { return New(Forbidden, format, args...) }
func NotFoundf(format string, args ...interface{}) *Error    { return New(NotFound, format, args...) }
func Conflictf(format string, args ...interface{}) *Error    { return New(Conflict, format, args...) }
func Unauthenticatedf(format string, args ...interface{}) *Error {
	return New(Unauthenticated, format, args...)
}
