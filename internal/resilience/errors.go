package resilience

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the canonical classification of a failed remote call.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindTransientNetwork
	KindAuthenticationFailed
	KindInvalidRequest
	KindOrderRejected
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindRateLimited:          "rate_limited",
	KindTransientNetwork:     "transient_network",
	KindAuthenticationFailed: "authentication_failed",
	KindInvalidRequest:       "invalid_request",
	KindOrderRejected:        "order_rejected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind name as written in vendor profiles.
func ParseKind(value string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for kind, name := range kindNames {
		if name == normalized || strings.ReplaceAll(name, "_", "") == normalized {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown error kind %q", value)
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrRateLimited          = &Error{Kind: KindRateLimited, sentinel: true}
	ErrTransientNetwork     = &Error{Kind: KindTransientNetwork, sentinel: true}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed, sentinel: true}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest, sentinel: true}
	ErrOrderRejected        = &Error{Kind: KindOrderRejected, sentinel: true}
	ErrUnknown              = &Error{Kind: KindUnknown, sentinel: true}
)

// Error is the canonical error surfaced by every resilient call.
type Error struct {
	Kind       Kind
	Vendor     string
	Code       string
	Message    string
	StatusCode int
	Payload    []byte
	RetryAfter time.Duration
	// ClockSkew marks a timestamp rejection by the remote party.
	ClockSkew bool
	Attempts  int
	Err       error

	sentinel bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Vendor != "" {
		b.WriteString(e.Vendor)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok || !t.sentinel {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the kind can ever be retried by a policy.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindTransientNetwork || e.Kind == KindRateLimited
}

// clone returns a shallow copy that a single caller may annotate. Errors
// shared through singleflight reach many callers at once.
func (e *Error) clone() *Error {
	c := *e
	return &c
}

// AsError extracts a canonical error from err.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce, true
	}
	return nil, false
}

// KindOf returns the canonical kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if ce, ok := AsError(err); ok {
		return ce.Kind
	}
	return KindUnknown
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}
