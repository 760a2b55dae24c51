package rpc

import (
	"errors"
	"fmt"
)

// Sentinel kinds for endpoint manager errors.
var (
	ErrNoEndpoints       = errors.New("no rpc endpoints configured")
	ErrNullResult        = errors.New("null result")
	ErrMalformedResponse = errors.New("malformed json-rpc response")
	ErrDial              = errors.New("endpoint cannot be dialed")
)

// Error is returned when every endpoint failed a call. It carries the last
// endpoint tried and its failure.
type Error struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s: all endpoints failed, last %s: %v", e.Method, Redact(e.Endpoint), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Retryable reports whether the status is worth retrying on the same endpoint.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}
