package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/exchangelink/exchangelink/internal/transport"
)

// Outcome is everything known about one finished invocation.
type Outcome struct {
	Vendor     string
	Err        error
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OutcomeOf builds an Outcome from a transport result.
func OutcomeOf(vendor string, resp *transport.Response, err error) Outcome {
	out := Outcome{Vendor: vendor, Err: err}
	if resp == nil {
		var serr *transport.StatusError
		if errors.As(err, &serr) && serr != nil {
			resp = serr.Response
		}
	}
	if resp != nil {
		out.StatusCode = resp.StatusCode
		out.Header = resp.Header
		out.Body = resp.Body
	}
	return out
}

// CodeExtractor decodes a vendor error envelope.
type CodeExtractor func(body []byte) (code, message string, ok bool)

// UnmappedSink receives errors whose vendor code has no mapping yet.
type UnmappedSink interface {
	ReportUnmapped(e *Error)
}

// UnmappedSinkFunc adapts a function to UnmappedSink.
type UnmappedSinkFunc func(e *Error)

// ReportUnmapped calls f.
func (f UnmappedSinkFunc) ReportUnmapped(e *Error) { f(e) }

// Classifier maps transport outcomes to canonical errors for one vendor.
type Classifier struct {
	Vendor    string
	Codes     map[string]Kind
	SkewCodes map[string]bool
	Extract   CodeExtractor
	Sink      UnmappedSink
	Clock     func() time.Time
}

// Classify returns nil for a successful outcome.
func (c *Classifier) Classify(outcome Outcome) *Error {
	vendor := outcome.Vendor
	if vendor == "" && c != nil {
		vendor = c.Vendor
	}

	if outcome.Err != nil && outcome.StatusCode == 0 {
		e := classifyTransportErr(outcome.Err)
		e.Vendor = vendor
		return e
	}
	if outcome.Err == nil && outcome.StatusCode >= 200 && outcome.StatusCode < 300 {
		return nil
	}

	e := &Error{
		Vendor:     vendor,
		StatusCode: outcome.StatusCode,
		Payload:    outcome.Body,
		Err:        outcome.Err,
	}

	var code, msg string
	var hasCode bool
	if c != nil && c.Extract != nil && len(outcome.Body) > 0 {
		code, msg, hasCode = c.Extract(outcome.Body)
		code = strings.TrimSpace(code)
		hasCode = hasCode && code != ""
	}
	e.Code = code
	e.Message = strings.TrimSpace(msg)
	if e.Message == "" {
		e.Message = http.StatusText(outcome.StatusCode)
	}

	status := outcome.StatusCode
	mapped := false
	if hasCode {
		if kind, ok := c.Codes[code]; ok {
			e.Kind = kind
			mapped = true
		}
		e.ClockSkew = c.SkewCodes[code]
	}

	if !mapped {
		switch {
		case status == http.StatusTooManyRequests || status == http.StatusTeapot:
			e.Kind = KindRateLimited
		case status >= 500:
			e.Kind = KindTransientNetwork
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			e.Kind = KindAuthenticationFailed
		case hasCode:
			e.Kind = KindUnknown
		case status >= 400:
			e.Kind = KindInvalidRequest
		default:
			e.Kind = KindUnknown
		}
	}

	if e.Kind == KindRateLimited {
		e.RetryAfter = parseRetryAfter(outcome.Header, c.now())
	}
	if e.Kind == KindUnknown && c != nil && c.Sink != nil {
		c.Sink.ReportUnmapped(e)
	}
	return e
}

func (c *Classifier) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func classifyTransportErr(err error) *Error {
	if ce, ok := AsError(err); ok {
		return ce.clone()
	}

	var reqErr *transport.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: KindInvalidRequest, Code: "request", Message: reqErr.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransientNetwork, Code: "canceled", Message: "call canceled", Err: err}
	}

	var netErr *transport.NetworkError
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransientNetwork, Code: "timeout", Message: err.Error(), Err: err}
	case errors.As(err, &nerr):
		code := "network"
		if nerr.Timeout() {
			code = "timeout"
		}
		return &Error{Kind: KindTransientNetwork, Code: code, Message: err.Error(), Err: err}
	case errors.As(err, &netErr):
		return &Error{Kind: KindTransientNetwork, Code: "network", Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// parseRetryAfter reads Retry-After as delay seconds or an HTTP-date.
func parseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
