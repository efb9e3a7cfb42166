package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable entity")
	ErrLocked        = errors.New("locked")
	ErrInternal      = errors.New("internal error")
)

// Error is a classified failure with a stable code and optional per-item details.
type Error struct {
	Kind    error
	Code    string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind sentinel of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Status maps the error kind onto an HTTP status code.
func (e *Error) Status() int {
	return StatusOf(e.Kind)
}

func newError(kind error, code string, details []string) *Error {
	return &Error{Kind: kind, Code: code, Details: details}
}

func BadRequest(code string, details ...string) *Error {
	return newError(ErrBadRequest, code, details)
}

func Unauthorized(code string, details ...string) *Error {
	return newError(ErrUnauthorized, code, details)
}

func Forbidden(code string, details ...string) *Error {
	return newError(ErrForbidden, code, details)
}

func NotFound(code string, details ...string) *Error {
	return newError(ErrNotFound, code, details)
}

func Conflict(code string, details ...string) *Error {
	return newError(ErrConflict, code, details)
}

func Unprocessable(code string, details ...string) *Error {
	return newError(ErrUnprocessable, code, details)
}

func Locked(code string, details ...string) *Error {
	return newError(ErrLocked, code, details)
}

// Internal wraps err as an internal failure. The cause is never rendered to clients.
func Internal(code string, err error) *Error {
	return &Error{Kind: ErrInternal, Code: code, Err: err}
}

// Wrap attaches a cause to an existing classification.
func Wrap(err error, kind error, code string) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// As extracts the classified error from err's chain. Unclassified errors become Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(CodeInternal, err)
}

// StatusOf maps a kind sentinel onto an HTTP status code.
func StatusOf(kind error) int {
	switch kind {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// EntryNotFound builds one detail per missing id.
func EntryNotFound[T any](ids []T) []string {
	details := make([]string, 0, len(ids))
	for _, id := range ids {
		details = append(details, fmt.Sprintf("%v", id))
	}
	return details
}
