package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/transport"
)

// Call names the budget and policy one remote invocation runs under.
type Call struct {
	Name     string
	Resource string
	Weight   int
	// Extra charges other resources in the same admission.
	Extra  []Charge
	Policy string
}

// Charges returns every charge of the call.
func (c Call) Charges() []Charge {
	out := make([]Charge, 0, 1+len(c.Extra))
	if c.Resource != "" {
		out = append(out, Charge{Resource: c.Resource, Weight: c.Weight})
	}
	return append(out, c.Extra...)
}

// Operation is the underlying transport invocation.
type Operation func(ctx context.Context) (*transport.Response, error)

// Attempt describes one finished invocation for observers.
type Attempt struct {
	Vendor   string
	Call     string
	Resource string
	Policy   string
	Number   int
	Waited   time.Duration
	Elapsed  time.Duration
	Err      *Error
	Decision Decision
}

// Observer receives per-attempt events.
type Observer interface {
	ObserveAttempt(a Attempt)
}

// Decorator wraps remote calls with rate limiting, retry, clock-skew
// handling and error classification.
type Decorator struct {
	Vendor     string
	Limiter    *Limiter
	Policies   *Policies
	Classifier *Classifier
	Clock      *ClockSync
	Observer   Observer
	Logger     *logging.Logger
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Execute runs op under call. Non-2xx responses are failures; a successful
// response is returned unmodified.
func (d *Decorator) Execute(ctx context.Context, call Call, op Operation) (*transport.Response, error) {
	var out *transport.Response
	err := d.run(ctx, call, func(ctx context.Context) *Error {
		resp, err := op(ctx)
		if err == nil && resp.OK() {
			out = resp
			return nil
		}
		if err == nil && resp == nil {
			err = errors.New("empty response")
		}
		return d.classify(OutcomeOf(d.Vendor, resp, err))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Do runs a typed adapter call under the decorator.
func Do[T any](ctx context.Context, d *Decorator, call Call, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := d.run(ctx, call, func(ctx context.Context) *Error {
		v, err := fn(ctx)
		if err != nil {
			return d.classify(OutcomeOf(d.Vendor, nil, err))
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (d *Decorator) classify(outcome Outcome) *Error {
	if d.Classifier == nil {
		return (&Classifier{Vendor: d.Vendor}).Classify(outcome)
	}
	return d.Classifier.Classify(outcome)
}

func (d *Decorator) run(ctx context.Context, call Call, invoke func(ctx context.Context) *Error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policy, found := d.Policies.Lookup(call.Policy)
	if !found {
		d.warn("unknown retry policy, using mutate",
			zap.String("vendor", d.Vendor),
			zap.String("call", call.Name),
			zap.String("policy", call.Policy))
	}

	callID := uuid.NewString()
	state := RetryState{}
	charges := call.Charges()

	for {
		permit, err := d.Limiter.Acquire(ctx, charges...)
		if err != nil {
			if ctx.Err() != nil {
				return canceled(ctx, state)
			}
			cerr, ok := AsError(err)
			if ok {
				cerr = cerr.clone()
			} else {
				cerr = &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
			}
			if cerr.Vendor == "" {
				cerr.Vendor = d.Vendor
			}
			cerr.Attempts = state.Attempt
			d.observe(call, policy, state.Attempt, 0, 0, cerr, GiveUp("rate limit not acquired"))
			return cerr
		}

		state.Attempt++
		started := time.Now()
		cerr := invoke(ctx)
		elapsed := time.Since(started)

		if cerr == nil {
			d.observe(call, policy, state.Attempt, permit.Waited, elapsed, nil, Decision{})
			return nil
		}
		cerr.Attempts = state.Attempt
		state.LastErr = cerr

		if ctx.Err() != nil {
			d.observe(call, policy, state.Attempt, permit.Waited, elapsed, cerr, GiveUp("canceled"))
			return canceled(ctx, state)
		}

		if cerr.ClockSkew {
			d.Clock.Invalidate()
			d.warn("remote rejected request timestamp, clock delta invalidated",
				zap.String("vendor", d.Vendor),
				zap.String("call", call.Name),
				zap.String("code", cerr.Code))
		}
		if cerr.Kind == KindRateLimited && cerr.RetryAfter > 0 && cerr.StatusCode > 0 {
			for _, ch := range charges {
				_ = d.Limiter.BackoffFor(ch.Resource, cerr.RetryAfter)
			}
		}

		decision := policy.Decide(state, cerr)
		d.observe(call, policy, state.Attempt, permit.Waited, elapsed, cerr, decision)
		if !decision.Retry {
			d.debug("call failed",
				zap.String("call_id", callID),
				zap.String("vendor", d.Vendor),
				zap.String("call", call.Name),
				zap.String("policy", policy.Name),
				zap.Int("attempt", state.Attempt),
				zap.String("kind", cerr.Kind.String()),
				zap.String("reason", decision.Reason))
			return cerr
		}

		state.NextDelay = decision.After
		d.debug("retrying call",
			zap.String("call_id", callID),
			zap.String("vendor", d.Vendor),
			zap.String("call", call.Name),
			zap.String("policy", policy.Name),
			zap.Int("attempt", state.Attempt),
			zap.String("kind", cerr.Kind.String()),
			zap.Duration("after", decision.After))

		if err := d.sleep(ctx, decision.After); err != nil {
			return canceled(ctx, state)
		}
	}
}

func canceled(ctx context.Context, state RetryState) *Error {
	e := &Error{
		Kind:     KindTransientNetwork,
		Code:     "canceled",
		Message:  "call canceled",
		Attempts: state.Attempt,
		Err:      ctx.Err(),
	}
	if state.LastErr != nil {
		e.Vendor = state.LastErr.Vendor
		e.Err = errors.Join(ctx.Err(), state.LastErr)
	}
	return e
}

func (d *Decorator) sleep(ctx context.Context, delay time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, delay)
	}
	return sleepContext(ctx, delay)
}

func (d *Decorator) observe(call Call, policy Policy, attempt int, waited, elapsed time.Duration, err *Error, decision Decision) {
	if d.Observer == nil {
		return
	}
	d.Observer.ObserveAttempt(Attempt{
		Vendor:   d.Vendor,
		Call:     call.Name,
		Resource: call.Resource,
		Policy:   policy.Name,
		Number:   attempt,
		Waited:   waited,
		Elapsed:  elapsed,
		Err:      err,
		Decision: decision,
	})
}

func (d *Decorator) warn(msg string, fields ...zap.Field) {
	if d.Logger != nil {
		d.Logger.Warn(msg, fields...)
	}
}

func (d *Decorator) debug(msg string, fields ...zap.Field) {
	if d.Logger != nil {
		d.Logger.Debug(msg, fields...)
	}
}
