package resilience

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
)

// Built-in policy names.
const (
	PolicyRead         = "read"
	PolicyReadCritical = "read-critical"
	PolicyMutate       = "mutate"
	PolicyCancel       = "cancel"
)

// Policy decides whether a failed call is attempted again and when.
type Policy struct {
	Name string `mapstructure:"-" yaml:"-" json:"name"`
	// MaxAttempts counts invocations, the first one included. Zero and one
	// both mean a single invocation.
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base" yaml:"backoff_base" json:"backoff_base"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling" yaml:"backoff_ceiling" json:"backoff_ceiling"`
	Multiplier     float64       `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
	// Jitter is a fraction in [0,1] of the computed delay added at random.
	Jitter     float64 `mapstructure:"jitter" yaml:"jitter" json:"jitter"`
	Idempotent bool    `mapstructure:"idempotent" yaml:"idempotent" json:"idempotent"`
	// RateLimitedMaxAttempts caps attempts when the failure is RateLimited.
	// Only idempotent policies retry RateLimited failures.
	RateLimitedMaxAttempts int `mapstructure:"rate_limited_max_attempts" yaml:"rate_limited_max_attempts" json:"rate_limited_max_attempts"`

	random func() float64
}

// RetryState is the per-call progress the policy decides on.
type RetryState struct {
	Attempt   int
	LastErr   *Error
	NextDelay time.Duration
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Retry  bool
	After  time.Duration
	Reason string
}

// GiveUp is a terminal decision.
func GiveUp(reason string) Decision {
	return Decision{Reason: reason}
}

// RetryAfter is a decision to try again after d.
func RetryAfter(d time.Duration) Decision {
	return Decision{Retry: true, After: d}
}

// DefaultPolicies returns the built-in policies keyed by name.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyRead: {
			Name:                   PolicyRead,
			MaxAttempts:            3,
			BackoffBase:            200 * time.Millisecond,
			BackoffCeiling:         5 * time.Second,
			Multiplier:             2,
			Jitter:                 0.2,
			Idempotent:             true,
			RateLimitedMaxAttempts: 2,
		},
		PolicyReadCritical: {
			Name:                   PolicyReadCritical,
			MaxAttempts:            5,
			BackoffBase:            250 * time.Millisecond,
			BackoffCeiling:         10 * time.Second,
			Multiplier:             2,
			Jitter:                 0.2,
			Idempotent:             true,
			RateLimitedMaxAttempts: 3,
		},
		PolicyMutate: {
			Name:        PolicyMutate,
			MaxAttempts: 1,
		},
		PolicyCancel: {
			Name:        PolicyCancel,
			MaxAttempts: 1,
		},
	}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("policy %s: max_attempts must be >= 0", p.Name)
	}
	if p.BackoffBase < 0 || p.BackoffCeiling < 0 {
		return fmt.Errorf("policy %s: backoff durations must be >= 0", p.Name)
	}
	if p.BackoffCeiling > 0 && p.BackoffBase > p.BackoffCeiling {
		return fmt.Errorf("policy %s: backoff_base exceeds backoff_ceiling", p.Name)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("policy %s: multiplier must be >= 1", p.Name)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("policy %s: jitter must be within [0,1]", p.Name)
	}
	if p.RateLimitedMaxAttempts < 0 {
		return fmt.Errorf("policy %s: rate_limited_max_attempts must be >= 0", p.Name)
	}
	if p.RateLimitedMaxAttempts > 0 && p.RateLimitedMaxAttempts >= p.attempts() {
		return fmt.Errorf("policy %s: rate_limited_max_attempts must be < max_attempts", p.Name)
	}
	return nil
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Decide returns Retry or GiveUp for the failure recorded in state.
// state.Attempt is the number of invocations already made.
func (p Policy) Decide(state RetryState, err *Error) Decision {
	if err == nil {
		return GiveUp("no error")
	}

	limit := p.attempts()
	switch err.Kind {
	case KindTransientNetwork:
	case KindRateLimited:
		if !p.Idempotent {
			return GiveUp("rate limited on non-idempotent call")
		}
		if p.RateLimitedMaxAttempts < limit {
			limit = p.RateLimitedMaxAttempts
		}
	default:
		return GiveUp(err.Kind.String() + " is not retryable")
	}

	if state.Attempt >= limit {
		return GiveUp(fmt.Sprintf("attempts exhausted (%d/%d)", state.Attempt, limit))
	}

	delay := p.Backoff(state.Attempt, state.NextDelay)
	if err.RetryAfter > delay {
		if p.BackoffCeiling > 0 && err.RetryAfter > p.BackoffCeiling {
			return GiveUp(fmt.Sprintf("retry-after %s exceeds ceiling %s", err.RetryAfter, p.BackoffCeiling))
		}
		delay = err.RetryAfter
	}
	return RetryAfter(delay)
}

// Backoff computes the delay after the given attempt. The result is never
// below previous and never above the ceiling.
func (p Policy) Backoff(attempt int, previous time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	delay := float64(p.BackoffBase) * math.Pow(mult, float64(attempt-1))
	if p.Jitter > 0 {
		delay += delay * p.Jitter * p.rand()
	}

	ceiling := float64(p.BackoffCeiling)
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	out := time.Duration(delay)
	if out < previous {
		out = previous
	}
	if p.BackoffCeiling > 0 && out > p.BackoffCeiling {
		out = p.BackoffCeiling
	}
	return out
}

func (p Policy) rand() float64 {
	if p.random != nil {
		return p.random()
	}
	return rand.Float64()
}

// Policies is a registry of named policies.
type Policies struct {
	byName   map[string]Policy
	fallback string
}

// NewPolicies validates and registers policies. Built-ins are present unless
// overridden by name.
func NewPolicies(overrides map[string]Policy) (*Policies, error) {
	byName := DefaultPolicies()
	for name, p := range overrides {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("policy name is required")
		}
		p.Name = name
		byName[name] = p
	}
	for _, p := range byName {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return &Policies{byName: byName, fallback: PolicyMutate}, nil
}

// Lookup returns the named policy. Unknown names resolve to the mutate
// policy and report found=false.
func (ps *Policies) Lookup(name string) (Policy, bool) {
	if ps == nil {
		return DefaultPolicies()[PolicyMutate], false
	}
	if p, ok := ps.byName[strings.TrimSpace(name)]; ok {
		return p, true
	}
	return ps.byName[ps.fallback], false
}

// Names lists registered policies in sorted order.
func (ps *Policies) Names() []string {
	if ps == nil {
		return nil
	}
	names := make([]string, 0, len(ps.byName))
	for name := range ps.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SingleAttempt returns a copy where every policy invokes exactly once.
func (ps *Policies) SingleAttempt() *Policies {
	if ps == nil {
		return nil
	}
	byName := make(map[string]Policy, len(ps.byName))
	for name, p := range ps.byName {
		p.MaxAttempts = 1
		p.RateLimitedMaxAttempts = 0
		byName[name] = p
	}
	return &Policies{byName: byName, fallback: ps.fallback}
}
