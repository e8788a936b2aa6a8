// Package query implements the colon-delimited graph query language.
package query

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks across the error codes.
var (
	// ErrNotFound is the base of all absence errors.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuery is the base of all grammar errors, raised before
	// any graph access.
	ErrInvalidQuery = errors.New("invalid query")
)

// ErrorCode is the machine-readable classification of a query error.
type ErrorCode string

const (
	CodeProjectNotFound ErrorCode = "project_not_found"
	CodeClassNotFound   ErrorCode = "class_not_found"
	CodeMethodNotFound  ErrorCode = "method_not_found"
	CodeInvalidQuery    ErrorCode = "invalid_query"
)

// Error is a typed query error carrying its code.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the code onto the matching sentinel.
func (e *Error) Unwrap() error {
	if e.Code == CodeInvalidQuery {
		return ErrInvalidQuery
	}
	return ErrNotFound
}

func invalidf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidQuery, Message: fmt.Sprintf(format, args...)}
}

func notFound(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
