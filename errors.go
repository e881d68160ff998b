package denyproxy

import (
	"fmt"
	"net/http"
	"strconv"
)

// ErrorKind classifies a terminal failure of the request pipeline.
type ErrorKind string

// Error kinds surfaced to clients.
const (
	KindForbiddenHost     ErrorKind = "forbidden_host"
	KindBadConnectTarget  ErrorKind = "bad_connect_target"
	KindBadRequestURI     ErrorKind = "bad_request_uri"
	KindUpstreamTransport ErrorKind = "upstream_transport"
	KindUpstreamStatus    ErrorKind = "upstream_status"
	KindInvalidJSON       ErrorKind = "invalid_json"
	KindContentRejected   ErrorKind = "content_rejected"
	KindPolicyUnavailable ErrorKind = "policy_unavailable"
	KindHijackFailed      ErrorKind = "hijack_failed"
)

// RequestError is a terminal outcome that is reported to the client with
// Status and Body. Err holds the underlying cause, if any.
type RequestError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func errForbiddenHost(host string) *RequestError {
	return &RequestError{
		Kind:   KindForbiddenHost,
		Status: http.StatusForbidden,
		Body:   fmt.Sprintf("Forbidden host %q", host),
	}
}

func errBadConnectTarget() *RequestError {
	return &RequestError{
		Kind:   KindBadConnectTarget,
		Status: http.StatusBadRequest,
		Body:   "CONNECT must be to a socket address",
	}
}

func errBadRequestURI(err error) *RequestError {
	return &RequestError{
		Kind:   KindBadRequestURI,
		Status: http.StatusBadRequest,
		Err:    err,
	}
}

func errUpstreamTransport(err error) *RequestError {
	return &RequestError{
		Kind:   KindUpstreamTransport,
		Status: http.StatusInternalServerError,
		Body:   err.Error(),
		Err:    err,
	}
}

func errUpstreamStatus(code int, uri string) *RequestError {
	return &RequestError{
		Kind:   KindUpstreamStatus,
		Status: code,
		Body:   fmt.Sprintf("Error! Got response code %s from %s", statusLine(code), uri),
	}
}

func errInvalidJSON(err error) *RequestError {
	return &RequestError{
		Kind:   KindInvalidJSON,
		Status: http.StatusBadRequest,
		Body:   err.Error(),
		Err:    err,
	}
}

func errContentRejected(uri string) *RequestError {
	return &RequestError{
		Kind:   KindContentRejected,
		Status: http.StatusBadRequest,
		Body:   fmt.Sprintf("Content from %s not allowed", uri),
	}
}

func errPolicyUnavailable() *RequestError {
	return &RequestError{
		Kind:   KindPolicyUnavailable,
		Status: http.StatusServiceUnavailable,
		Body:   "policy not loaded",
		Err:    ErrPolicyNotLoaded,
	}
}

func errHijackFailed(err error) *RequestError {
	return &RequestError{
		Kind:   KindHijackFailed,
		Status: http.StatusInternalServerError,
		Body:   "connection does not support tunneling",
		Err:    err,
	}
}

// statusLine renders a status as "<code> <reason>", or just the code when
// the reason phrase is unknown.
func statusLine(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code) + " " + text
}
