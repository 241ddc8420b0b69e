package mux

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/panther-now/panther/kit/matcher"
	"github.com/panther-now/panther/kit/validate"
)

// HTTPError is implemented by errors that know how they should be
// presented to a client. Handlers may return their own implementations.
type HTTPError interface {
	error
	StatusCode() int
	Kind() string
}

// Errors may also implement these to control the response body and
// headers.
type (
	detailer interface{ Detail() any }
	headerer interface{ Headers() http.Header }
)

type InvalidPatternError = matcher.InvalidPatternError

/////////////////////////////////////////////////////////////////////
/////// REGISTRATION
/////////////////////////////////////////////////////////////////////

type RouteConflictError struct {
	Method   string
	Pattern  string
	Existing string
}

func (e *RouteConflictError) Error() string {
	if e.Existing != "" && e.Existing != e.Pattern {
		return fmt.Sprintf("route %s %s conflicts with %s %s", e.Method, e.Pattern, e.Method, e.Existing)
	}
	return fmt.Sprintf("route %s %s is already registered", e.Method, e.Pattern)
}

type RouterSealedError struct {
	Method  string
	Pattern string
}

func (e *RouterSealedError) Error() string {
	return fmt.Sprintf("cannot register %s %s: router is sealed", e.Method, e.Pattern)
}

type InvalidMethodError struct {
	Method string
}

func (e *InvalidMethodError) Error() string {
	return fmt.Sprintf("invalid HTTP method %q", e.Method)
}

/////////////////////////////////////////////////////////////////////
/////// RESOLUTION
/////////////////////////////////////////////////////////////////////

type NotFoundError struct {
	Method string
	Path   string
}

func (e *NotFoundError) Error() string   { return "no route for " + e.Method + " " + e.Path }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }
func (e *NotFoundError) Kind() string    { return "not_found" }
func (e *NotFoundError) Detail() any     { return http.StatusText(http.StatusNotFound) }

type MethodNotAllowedError struct {
	Method  string
	Path    string
	Allowed []string // sorted
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed for %s (allowed: %s)", e.Method, e.Path, strings.Join(e.Allowed, ", "))
}
func (e *MethodNotAllowedError) StatusCode() int { return http.StatusMethodNotAllowed }
func (e *MethodNotAllowedError) Kind() string    { return "method_not_allowed" }
func (e *MethodNotAllowedError) Detail() any {
	return fmt.Sprintf("Method %q not allowed", e.Method)
}
func (e *MethodNotAllowedError) Headers() http.Header {
	return http.Header{"Allow": {strings.Join(e.Allowed, ", ")}}
}

// RedirectError is returned by Resolve when the path only matches with
// its trailing slash toggled and the router redirects in that case.
type RedirectError struct {
	Status   int
	Location string
}

func (e *RedirectError) Error() string   { return fmt.Sprintf("redirect (%d) to %s", e.Status, e.Location) }
func (e *RedirectError) StatusCode() int { return e.Status }
func (e *RedirectError) Kind() string    { return "redirect" }

type ParamCoercionError struct {
	Err *matcher.CoercionError
}

func (e *ParamCoercionError) Error() string   { return e.Err.Error() }
func (e *ParamCoercionError) Unwrap() error   { return e.Err }
func (e *ParamCoercionError) StatusCode() int { return http.StatusBadRequest }
func (e *ParamCoercionError) Kind() string    { return "invalid_parameter" }

/////////////////////////////////////////////////////////////////////
/////// REQUEST BODY
/////////////////////////////////////////////////////////////////////

type UnsupportedMediaTypeError struct {
	ContentType string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return fmt.Sprintf("unsupported content type %q", e.ContentType)
}
func (e *UnsupportedMediaTypeError) StatusCode() int { return http.StatusUnsupportedMediaType }
func (e *UnsupportedMediaTypeError) Kind() string    { return "unsupported_media_type" }

// BodyParseError wraps a body or query that could not be decoded, or
// that decoded but failed validation.
type BodyParseError struct {
	Err error
}

func (e *BodyParseError) Error() string { return e.Err.Error() }
func (e *BodyParseError) Unwrap() error { return e.Err }
func (e *BodyParseError) StatusCode() int {
	if validate.IsValidationError(e.Err) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}
func (e *BodyParseError) Kind() string {
	if validate.IsValidationError(e.Err) {
		return "validation_error"
	}
	return "bad_request"
}
func (e *BodyParseError) Detail() any {
	var ve *validate.ValidationError
	if errors.As(e.Err, &ve) && len(ve.Fields) > 0 {
		return ve.Fields
	}
	return e.Err.Error()
}

type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}
func (e *BodyTooLargeError) StatusCode() int { return http.StatusRequestEntityTooLarge }
func (e *BodyTooLargeError) Kind() string    { return "payload_too_large" }

/////////////////////////////////////////////////////////////////////
/////// HANDLERS
/////////////////////////////////////////////////////////////////////

// APIError is the error handlers return to send a specific status and
// detail to the client. Detail may be any JSON-encodable value.
type APIError struct {
	Status int
	Detail any
	Header http.Header
}

func NewAPIError(status int, detail any) *APIError {
	return &APIError{Status: status, Detail: detail}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %v", e.status(), e.detail())
}
func (e *APIError) StatusCode() int      { return e.status() }
func (e *APIError) Kind() string         { return "api_error" }
func (e *APIError) Headers() http.Header { return e.Header }

func (e *APIError) status() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

func (e *APIError) detail() any {
	if e.Detail == nil {
		return http.StatusText(e.status())
	}
	return e.Detail
}

// HandlerFailure wraps an error no other type claims, or a recovered
// panic. Its detail reaches the client only in debug mode.
type HandlerFailure struct {
	Err   error
	Panic any
	Stack []byte
}

func (e *HandlerFailure) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("panic: %v", e.Panic)
	}
	return e.Err.Error()
}
func (e *HandlerFailure) Unwrap() error   { return e.Err }
func (e *HandlerFailure) StatusCode() int { return http.StatusInternalServerError }
func (e *HandlerFailure) Kind() string    { return "internal_error" }

type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string   { return fmt.Sprintf("request timed out after %s", e.Timeout) }
func (e *TimeoutError) StatusCode() int { return http.StatusGatewayTimeout }
func (e *TimeoutError) Kind() string    { return "timeout" }

type OverloadedError struct{}

func (e *OverloadedError) Error() string   { return "server is handling too many requests" }
func (e *OverloadedError) StatusCode() int { return http.StatusServiceUnavailable }
func (e *OverloadedError) Kind() string    { return "overloaded" }
func (e *OverloadedError) Headers() http.Header {
	return http.Header{"Retry-After": {"1"}}
}

// StatusClientClosedRequest is sent when the client goes away before a
// response is ready. Nobody is left to read it; it exists for logs.
const StatusClientClosedRequest = 499

type ClientGoneError struct {
	Err error
}

func (e *ClientGoneError) Error() string   { return "client closed request: " + e.Err.Error() }
func (e *ClientGoneError) Unwrap() error   { return e.Err }
func (e *ClientGoneError) StatusCode() int { return StatusClientClosedRequest }
func (e *ClientGoneError) Kind() string    { return "client_closed_request" }

/////////////////////////////////////////////////////////////////////
/////// CLASSIFICATION
/////////////////////////////////////////////////////////////////////

// AsHTTPError finds the HTTPError in err's chain. Errors that carry no
// HTTPError are wrapped in a HandlerFailure.
func AsHTTPError(err error) HTTPError {
	var he HTTPError
	if errors.As(err, &he) {
		return he
	}
	return &HandlerFailure{Err: err}
}

func errorDetail(he HTTPError, debug bool) any {
	if hf, ok := he.(*HandlerFailure); ok {
		if debug {
			return hf.Error()
		}
		return http.StatusText(http.StatusInternalServerError)
	}
	if ae, ok := he.(*APIError); ok {
		return ae.detail()
	}
	if d, ok := he.(detailer); ok {
		return d.Detail()
	}
	return he.Error()
}
