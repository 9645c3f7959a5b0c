// Package apperr defines the domain error type shared by services and the
// mapping from domain errors to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// Error is a domain error carrying the HTTP status it maps to and a stable
// machine-readable code.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinel errors compare equal to errors built from them.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrNotFound     = &Error{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrConflict     = &Error{Status: http.StatusConflict, Code: "conflict", Message: "resource already exists"}
	ErrUnauthorized = &Error{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "authentication required"}
	ErrForbidden    = &Error{Status: http.StatusForbidden, Code: "forbidden", Message: "forbidden"}
)

func Validation(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "validation_failed", Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "not_found", Message: what + " not found"}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Status: http.StatusConflict, Code: "conflict", Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a request that is well-formed but not allowed in the
// resource's current state.
func InvalidState(format string, args ...any) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Code: "invalid_state", Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(code, message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Status: http.StatusForbidden, Code: code, Message: message}
}

// FromDB translates driver errors into domain errors. what names the entity
// for not-found messages. Unknown errors are wrapped unchanged.
func FromDB(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &Error{Status: http.StatusConflict, Code: "conflict", Message: what + " already exists", Err: err}
		case "23503":
			return &Error{Status: http.StatusConflict, Code: "conflict", Message: what + " is referenced by other records", Err: err}
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally restricted to one constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// HTTP converts any error into an *echo.HTTPError. Domain errors keep their
// status; everything else becomes a 500 with a generic message.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var de *Error
	if errors.As(err, &de) {
		return &echo.HTTPError{Code: de.Status, Message: Body{Code: de.Code, Message: de.Message}, Internal: err}
	}
	return &echo.HTTPError{
		Code:     http.StatusInternalServerError,
		Message:  Body{Code: "internal", Message: "internal server error"},
		Internal: err,
	}
}

// Body is the JSON error payload.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler renders every handler error as {"error": {code, message}}.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, ok := HTTP(err).(*echo.HTTPError)
	if !ok {
		he = &echo.HTTPError{Code: http.StatusInternalServerError}
	}
	var body Body
	switch m := he.Message.(type) {
	case Body:
		body = m
	case string:
		body = Body{Code: codeForStatus(he.Code), Message: m}
	default:
		body = Body{Code: codeForStatus(he.Code), Message: http.StatusText(he.Code)}
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(he.Code)
		return
	}
	_ = c.JSON(he.Code, map[string]Body{"error": body})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusUnprocessableEntity:
		return "invalid_state"
	default:
		if status >= 500 {
			return "internal"
		}
		return "error"
	}
}
