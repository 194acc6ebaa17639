package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for both internal callers and the HTTP layer.
type Kind int

const (
	// Internal is anything that has no better classification.
	Internal Kind = iota
	// BadRequest means malformed input: bad GUID, wrong type, missing
	// required argument.
	BadRequest
	// Unauthorized means there is no known principal where one is required.
	Unauthorized
	// Forbidden means the principal is known but lacks the required
	// access bit.
	Forbidden
	// NotFound means a document or property does not exist, or is
	// logically deleted.
	NotFound
	// CommandNotFound means no command matched (scope, method, cmd,
	// document).
	CommandNotFound
	// NotModified is a conditional GET hit.
	NotModified
	// Redirect means a BLOB is reachable by URL rather than a local path.
	Redirect
	// DiskFull means a packet writer exceeded its byte budget; it never
	// leaves the sync engine.
	DiskFull
)

// Error is a kinded error. Use New/Newf to build one and KindOf to
// classify an arbitrary error chain.
type Error struct {
	Kind     Kind
	Msg      string
	Location string // Redirect target
	wrapped  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return statusText(e.Kind)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind && (other.Msg == "" || other.Msg == e.Msg)
}

// New returns a kinded error with the given message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	err := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	err.wrapped = errors.Unwrap(fmt.Errorf(format, args...))
	return err
}

// NewRedirect returns a Redirect error pointing at location.
func NewRedirect(location string) error {
	return &Error{Kind: Redirect, Location: location}
}

// KindOf walks the error chain and returns the kind of the first kinded
// error, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RedirectLocation returns the Location of a Redirect error, if any.
func RedirectLocation(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == Redirect {
		return e.Location
	}
	return ""
}

// HTTPStatus maps an error to the HTTP reply code the frontend should use.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound, CommandNotFound:
		return http.StatusNotFound
	case NotModified:
		return http.StatusNotModified
	case Redirect:
		return http.StatusSeeOther
	default:
		return http.StatusInternalServerError
	}
}

func statusText(kind Kind) string {
	switch kind {
	case BadRequest:
		return "bad request"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not found"
	case CommandNotFound:
		return "command not found"
	case NotModified:
		return "not modified"
	case Redirect:
		return "see other"
	case DiskFull:
		return "packet size limit reached"
	default:
		return "internal error"
	}
}
