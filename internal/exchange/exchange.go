// Package exchange composes the resilience building blocks into one client
// per exchange. Vendor packages supply a profile, a request signer and an
// error envelope decoder; everything else is shared.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"

	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/transport"
)

// RequestFunc builds the request for one attempt. It runs again on every
// retry so timestamps and signatures are always fresh.
type RequestFunc func(ctx context.Context) (*transport.Request, error)

// ResilientCaller is the capability every exchange client offers.
type ResilientCaller interface {
	Name() string
	Execute(ctx context.Context, call resilience.Call, build RequestFunc) (*transport.Response, error)
	CurrentDelta(ctx context.Context) (time.Duration, error)
}

// ServerTimeFunc probes the exchange clock through the client itself.
type ServerTimeFunc func(ctx context.Context, c *Client) (time.Time, error)

// Options are the collaborators a Client is built from.
type Options struct {
	Sender     transport.Sender
	Extract    resilience.CodeExtractor
	ServerTime ServerTimeFunc
	Sink       resilience.UnmappedSink
	Observer   resilience.Observer
	Logger     *logging.Logger
	Clock      func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

// ClockState is the admin view of the cached clock delta.
type ClockState struct {
	Exchange    string        `json:"exchange"`
	Sampled     bool          `json:"sampled"`
	Invalidated bool          `json:"invalidated"`
	Offset      time.Duration `json:"offset"`
	OffsetMS    int64         `json:"offset_ms"`
	SampledAt   *time.Time    `json:"sampled_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// Client is the shared exchange client. Its limiter budgets and clock cache
// live exactly as long as the client.
type Client struct {
	settings  Settings
	sender    transport.Sender
	limiter   *resilience.Limiter
	policies  *resilience.Policies
	clock     *resilience.ClockSync
	decorator *resilience.Decorator
	logger    *logging.Logger
}

var _ ResilientCaller = (*Client)(nil)

// NewClient builds a client from merged settings.
func NewClient(settings *Settings, opts Options) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		rs, err := transport.NewRestySender(settings.BaseURL, settings.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", settings.Name, err)
		}
		sender = rs
	}

	maxWait := settings.MaxAcquireWait
	if maxWait == 0 {
		maxWait = resilience.DefaultMaxAcquireWait
	}
	limiter, err := resilience.NewLimiter(resilience.LimiterConfig{
		Limits:         settings.Resources,
		MaxAcquireWait: maxWait,
		Margin:         settings.Margin,
		Clock:          opts.Clock,
		Sleep:          opts.Sleep,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", settings.Name, err)
	}

	policies, err := resilience.NewPolicies(settings.Policies)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", settings.Name, err)
	}
	if !settings.RetryEnabled {
		policies = policies.SingleAttempt()
	}
	if !settings.RateLimiterEnabled {
		limiter = nil
	}

	codes, err := settings.CodeTable()
	if err != nil {
		return nil, err
	}
	classifier := &resilience.Classifier{
		Vendor:    settings.Name,
		Codes:     codes,
		SkewCodes: settings.SkewCodeSet(),
		Extract:   opts.Extract,
		Sink:      opts.Sink,
		Clock:     opts.Clock,
	}

	c := &Client{
		settings: *settings,
		sender:   sender,
		limiter:  limiter,
		policies: policies,
		logger:   opts.Logger,
	}

	if opts.ServerTime != nil {
		grace := settings.ClockGrace
		if grace == 0 {
			grace = resilience.DefaultClockGrace
		}
		var onRefresh func(resilience.ClockDelta, error)
		if obs, ok := opts.Observer.(ClockObserver); ok {
			name := settings.Name
			onRefresh = func(d resilience.ClockDelta, err error) { obs.ObserveClock(name, d, err) }
		}
		c.clock, err = resilience.NewClockSync(resilience.ClockConfig{
			Probe:     func(ctx context.Context) (time.Time, error) { return opts.ServerTime(ctx, c) },
			TTL:       settings.ClockTTL,
			Grace:     grace,
			Clock:     opts.Clock,
			OnRefresh: onRefresh,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", settings.Name, err)
		}
	}

	c.decorator = &resilience.Decorator{
		Vendor:     settings.Name,
		Limiter:    limiter,
		Policies:   policies,
		Classifier: classifier,
		Clock:      c.clock,
		Observer:   opts.Observer,
		Logger:     opts.Logger,
		Sleep:      opts.Sleep,
	}
	return c, nil
}

// ClockObserver is implemented by observers that also track clock probes.
type ClockObserver interface {
	ObserveClock(exchange string, delta resilience.ClockDelta, err error)
}

// Name returns the exchange name.
func (c *Client) Name() string { return c.settings.Name }

// Settings returns a copy of the merged settings.
func (c *Client) Settings() Settings { return c.settings }

// Execute runs one resilient call. Every attempt rebuilds the request.
func (c *Client) Execute(ctx context.Context, call resilience.Call, build RequestFunc) (*transport.Response, error) {
	if build == nil {
		return nil, &resilience.Error{Kind: resilience.KindInvalidRequest, Vendor: c.Name(), Code: "request", Message: "request builder is required"}
	}
	return c.decorator.Execute(ctx, call, func(ctx context.Context) (*transport.Response, error) {
		req, err := build(ctx)
		if err != nil {
			if _, ok := resilience.AsError(err); ok {
				return nil, err
			}
			return nil, &transport.RequestError{Reason: "build request", Err: err}
		}
		return c.sender.Send(ctx, req)
	})
}

// CurrentDelta returns the exchange clock offset. Clients without a server
// time probe report zero.
func (c *Client) CurrentDelta(ctx context.Context) (time.Duration, error) {
	if c.clock == nil {
		return 0, nil
	}
	return c.clock.CurrentDelta(ctx)
}

// TimestampMillis returns local time corrected by the exchange clock offset.
func (c *Client) TimestampMillis(ctx context.Context) (int64, error) {
	if c.clock == nil {
		return time.Now().UnixMilli(), nil
	}
	return c.clock.TimestampMillis(ctx)
}

// Limits returns the current budget snapshot.
func (c *Client) Limits() []resilience.BudgetSnapshot {
	return c.limiter.Snapshot()
}

// ResetLimits restores budgets to full capacity.
func (c *Client) ResetLimits(resources ...string) (int, error) {
	return c.limiter.Reset(resources...)
}

// Policies returns the policy registry.
func (c *Client) Policies() *resilience.Policies { return c.policies }

// ClockState reports the cached clock delta without probing.
func (c *Client) ClockState() ClockState {
	state := ClockState{Exchange: c.Name()}
	if c.clock == nil {
		return state
	}
	delta, sampled, invalidated := c.clock.Snapshot()
	state.Sampled = sampled
	state.Invalidated = invalidated
	if sampled {
		state.Offset = delta.Offset
		state.OffsetMS = delta.Offset.Milliseconds()
		sampledAt, expiresAt := delta.SampledAt, delta.ExpiresAt
		state.SampledAt = &sampledAt
		state.ExpiresAt = &expiresAt
	}
	return state
}

// InvalidateClock forces the next signed request to re-probe server time.
func (c *Client) InvalidateClock() {
	c.clock.Invalidate()
}

// Logger returns the injected logger, which may be nil.
func (c *Client) Logger() *logging.Logger { return c.logger }

// DecodeJSON unmarshals a successful response body.
func DecodeJSON(vendor string, resp *transport.Response, v any) error {
	if resp == nil {
		return &resilience.Error{Kind: resilience.KindUnknown, Vendor: vendor, Code: "decode", Message: "empty response"}
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &resilience.Error{
			Kind:       resilience.KindUnknown,
			Vendor:     vendor,
			Code:       "decode",
			Message:    "failed to decode response",
			StatusCode: resp.StatusCode,
			Payload:    resp.Body,
			Err:        err,
		}
	}
	return nil
}

// ErrNotConfigured is returned when a signed call lacks credentials.
var ErrNotConfigured = errors.New("api credentials are not configured")

// RequireCredentials fails with AuthenticationFailed when keys are missing.
func (c *Client) RequireCredentials() error {
	if strings.TrimSpace(c.settings.APIKey) == "" || strings.TrimSpace(c.settings.SecretKey) == "" {
		return &resilience.Error{
			Kind:    resilience.KindAuthenticationFailed,
			Vendor:  c.Name(),
			Code:    "credentials",
			Message: ErrNotConfigured.Error(),
			Err:     ErrNotConfigured,
		}
	}
	return nil
}
