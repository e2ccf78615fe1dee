package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeInvalidArgument means a request field is missing or malformed.
	CodeInvalidArgument Code = "invalid_argument"
	// CodeUnknownRoute means no endpoint is registered for the requested path.
	CodeUnknownRoute Code = "unknown_route"
	// CodeBackendUnreachable means the selected endpoint could not be contacted.
	CodeBackendUnreachable Code = "backend_unreachable"
	// CodeBackendTimeout means the selected endpoint did not answer in time.
	CodeBackendTimeout Code = "backend_timeout"
	// CodeBackendError means the endpoint answered with a non-2xx status.
	CodeBackendError Code = "backend_error"
	// CodeRateLimited means the caller exceeded the configured request rate.
	CodeRateLimited Code = "rate_limited"
	// CodeInternal means an invariant was broken inside the proxy.
	CodeInternal Code = "internal"
)

var statusByCode = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeUnknownRoute:       http.StatusBadRequest,
	CodeBackendUnreachable: http.StatusInternalServerError,
	CodeBackendTimeout:     http.StatusInternalServerError,
	CodeBackendError:       http.StatusInternalServerError,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a failure with a code, a client-facing message and an optional cause.
type Error struct {
	Code    Code
	Message string
	// Inner is logged but only its text reaches the client, through Error().
	Inner error
}

func New(code Code, message string, inner error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Inner:   inner,
	}
}

func Newf(code Code, inner error, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), inner)
}

func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message, nil)
}

func UnknownRoute(path string) *Error {
	return Newf(CodeUnknownRoute, nil, "path %s is not registered", path)
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Inner)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// StatusCode returns the HTTP status for the error's code.
func (e *Error) StatusCode() int {
	return StatusCode(e.Code)
}

// StatusCode maps a code to its HTTP status. Unknown codes are server errors.
func StatusCode(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// As returns the *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return nil
}

// From returns the *Error in err's chain, wrapping anything else as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e := As(err); e != nil {
		return e
	}

	return New(CodeInternal, "internal error", err)
}

// CodeOf returns the code of err, or "" if err carries none.
func CodeOf(err error) Code {
	if e := As(err); e != nil {
		return e.Code
	}

	return ""
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

func IsInvalidArgument(err error) bool {
	return Is(err, CodeInvalidArgument)
}

func IsUnknownRoute(err error) bool {
	return Is(err, CodeUnknownRoute)
}

func IsBackendFailure(err error) bool {
	switch CodeOf(err) {
	case CodeBackendUnreachable, CodeBackendTimeout, CodeBackendError:
		return true
	default:
		return false
	}
}
