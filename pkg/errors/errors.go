package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeIdempotency       Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeDependency        Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code surfaces over HTTP. EchoMessage lets the error's own
// message replace PublicMessage; DetailsAllowed does the same for details.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	EchoMessage    bool
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", EchoMessage: true, DetailsAllowed: true},
	CodeNotFound:          {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", EchoMessage: true},
	CodeConflict:          {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", EchoMessage: true},
	CodeInvalidTransition: {HTTPStatus: http.StatusConflict, PublicMessage: "visitor is not in a state that allows this action", DetailsAllowed: true},
	CodeIdempotency:       {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", EchoMessage: true, DetailsAllowed: true},
	CodeInternal:          {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:        {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "record store unavailable, please retry", DetailsAllowed: true},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded failure. The cause stays reachable through Unwrap but is
// never shown to API clients.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether a client may repeat the failed call unchanged.
// Untyped errors count as internal and therefore retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(As(err).Code()).Retryable
}
