// Package transport defines the single outbound primitive used by exchange
// callers: send a request, get back a raw response or a transport error.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Request is a vendor-agnostic REST request relative to a sender's base URL.
type Request struct {
	Method string
	Path   string
	// RawQuery is sent verbatim ahead of Query, for signed query strings
	// whose parameter order must not change.
	RawQuery string
	Query    url.Values
	Header   http.Header
	Body     []byte
}

// Response is the raw vendor response. Any HTTP status is a Response; only
// failures to complete the exchange are errors.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	ReceivedAt time.Time
}

// Sender performs one blocking request.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req *Request) (*Response, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// NetworkError is returned when the request never produced a response
// (connection refused, DNS failure, timeout, reset).
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "network error"
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RequestError is returned when a request could not be built or is malformed.
// Sending it again will not help.
type RequestError struct {
	Reason string
	Err    error
}

func (e *RequestError) Error() string {
	if e == nil {
		return "invalid request"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid request: %s: %v", e.Reason, e.Err)
	}
	return "invalid request: " + e.Reason
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusError wraps a non-2xx response so it can travel through error returns.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	if e == nil || e.Response == nil {
		return "unexpected response status"
	}
	return fmt.Sprintf("unexpected response status %d", e.Response.StatusCode)
}
