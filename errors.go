package http1

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrIncomplete is returned by the parsers when the buffer ends before the
// message does. It is not a failure: feed more bytes and call again.
var ErrIncomplete = errors.New("http1: incomplete message")

var (
	ErrServerClosed = errors.New("http1: server closed")
	ErrRouterFrozen = errors.New("http1: router is read-only once serving")
	ErrTooManyConns = errors.New("http1: connection limit reached")
	errConnClosed   = errors.New("http1: connection closed before message completed")
	errHandlerPanic = errors.New("http1: handler panic")
	errNilResponse  = errors.New("http1: handler returned neither response nor error")
)

// ParseErrorKind classifies grammar and framing failures.
type ParseErrorKind int

const (
	ParseMalformed ParseErrorKind = iota + 1
	ParseFraming
	ParseURITooLong
	ParseHeaderTooLarge
	ParseLengthRequired
	ParseBodyTooLarge
	ParseVersionNotSupported
	ParseNotImplemented
)

var parseKindStatus = map[ParseErrorKind]StatusCode{
	ParseMalformed:           StatusBadRequest,
	ParseFraming:             StatusBadRequest,
	ParseURITooLong:          StatusRequestURITooLong,
	ParseHeaderTooLarge:      StatusRequestHeaderFieldsTooLarge,
	ParseLengthRequired:      StatusLengthRequired,
	ParseBodyTooLarge:        StatusRequestEntityTooLarge,
	ParseVersionNotSupported: StatusHTTPVersionNotSupported,
	ParseNotImplemented:      StatusNotImplemented,
}

// Status returns the response status a failure of this kind maps to.
func (k ParseErrorKind) Status() StatusCode {
	if s, ok := parseKindStatus[k]; ok {
		return s
	}
	return StatusBadRequest
}

// ParseError is a grammar or framing failure. The connection that produced
// it cannot be resynchronised and must close after the error response.
type ParseError struct {
	Kind   ParseErrorKind
	Reason string
	Cause  error
}

func newParseError(kind ParseErrorKind, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapParseError(kind ParseErrorKind, cause error) *ParseError {
	return &ParseError{Kind: kind, Reason: cause.Error(), Cause: cause}
}

func (e *ParseError) Error() string {
	return "http1: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) Status() StatusCode { return e.Kind.Status() }

// ValidationError is returned by a Validator whose precondition does not hold.
type ValidationError struct {
	Code   StatusCode
	Reason string
}

// Invalid builds a ValidationError. Reason is sent to the client.
func Invalid(code StatusCode, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("http1: validation failed (%d): %s", e.Code, e.Reason)
}

// StatusError is an error a handler returns on purpose to answer with a
// specific status. Message becomes the response body.
type StatusError struct {
	Code    StatusCode
	Message string
	Header  Header
}

// NewStatusError builds a StatusError.
func NewStatusError(code StatusCode, format string, args ...interface{}) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http1: %d %s", e.Code, e.Message)
}

// FailureKind is the closed set of conditions the mapper turns into
// responses.
type FailureKind int

const (
	FailureParse FailureKind = iota + 1
	FailureValidation
	FailureRouteNotFound
	FailureMethodNotAllowed
	FailureHandler
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureParse:
		return "parse"
	case FailureValidation:
		return "validation"
	case FailureRouteNotFound:
		return "route-not-found"
	case FailureMethodNotAllowed:
		return "method-not-allowed"
	case FailureHandler:
		return "handler"
	case FailureTimeout:
		return "timeout"
	}
	return "unknown"
}

// Failure is a classified error together with the status it maps to.
type Failure struct {
	Kind   FailureKind
	Status StatusCode
	// Allow lists the methods of the matched path for FailureMethodNotAllowed.
	Allow []Method
	// Location is set for trailing-slash redirects.
	Location string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("http1: %s failure (%d): %v", f.Kind, f.Status, f.Err)
	}
	return fmt.Sprintf("http1: %s failure (%d)", f.Kind, f.Status)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify converts any error into a Failure. Errors that are not one of the
// package's typed errors are handler failures mapped to 500.
func Classify(err error) *Failure {
	var (
		f  *Failure
		pe *ParseError
		ve *ValidationError
		se *StatusError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &f):
		return f
	case errors.As(err, &pe):
		return &Failure{Kind: FailureParse, Status: pe.Status(), Err: err}
	case errors.As(err, &ve):
		return &Failure{Kind: FailureValidation, Status: ve.Code, Err: err}
	case errors.As(err, &se):
		return &Failure{Kind: FailureHandler, Status: se.Code, Err: err}
	}
	return &Failure{Kind: FailureHandler, Status: StatusInternalServerError, Err: err}
}
