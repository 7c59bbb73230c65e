package apperrors

import (
	"errors"
	"net/http"
)

// Error kinds. Every *Error wraps exactly one of these.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("duplicate")
	ErrConflict   = errors.New("conflict")
)

// Error is a business-rule failure with a stable machine code and a message
// that is safe to return to the caller verbatim.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func NotFound(code, message string) error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func Validation(code, message string) error {
	return &Error{Kind: ErrValidation, Code: code, Message: message}
}

func Duplicate(code, message string) error {
	return &Error{Kind: ErrDuplicate, Code: code, Message: message}
}

func Conflict(code, message string) error {
	return &Error{Kind: ErrConflict, Code: code, Message: message}
}

// As returns the *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Code returns the machine code of err, "unexpected" for anything that is
// not an *Error.
func Code(err error) string {
	if e := As(err); e != nil {
		return e.Code
	}
	return "unexpected"
}

// HTTPStatus maps an error kind to its response status. Duplicate
// vaccinations are a client error (400); scheduling conflicts are 409.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicate):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// IsExpected reports whether err is a business-rule failure rather than an
// infrastructure error.
func IsExpected(err error) bool {
	return As(err) != nil
}
