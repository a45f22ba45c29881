package resilience

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultMaxAcquireWait bounds how long Acquire waits for budget.
const DefaultMaxAcquireWait = 30 * time.Second

// maxFixpointRounds bounds the search for a common admission instant.
const maxFixpointRounds = 16

// Charge is the weight one call costs against one resource. A zero weight
// charges nothing; a negative one is rejected.
type Charge struct {
	Resource string `json:"resource"`
	Weight   int    `json:"weight"`
}

// Permit records an admitted acquisition.
type Permit struct {
	Charges    []Charge
	AdmittedAt time.Time
	Waited     time.Duration
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	Limits map[string]Limit
	// MaxAcquireWait of zero admits only calls that fit without waiting.
	MaxAcquireWait time.Duration
	// Margin shrinks every capacity by a ratio in (0,1].
	Margin float64
	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Limiter enforces weighted per-resource budgets for one exchange client.
type Limiter struct {
	budgets map[string]budget
	names   []string
	maxWait time.Duration
	clock   func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewLimiter validates the limits and creates one budget per resource.
func NewLimiter(cfg LimiterConfig) (*Limiter, error) {
	l := &Limiter{
		budgets: make(map[string]budget, len(cfg.Limits)),
		maxWait: cfg.MaxAcquireWait,
		clock:   cfg.Clock,
		sleep:   cfg.Sleep,
	}
	if l.maxWait < 0 {
		return nil, fmt.Errorf("max acquire wait must be >= 0")
	}
	if l.sleep == nil {
		l.sleep = sleepContext
	}

	now := l.now()
	for name, lim := range cfg.Limits {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("resource name is required")
		}
		if lim.Capacity <= 0 {
			return nil, fmt.Errorf("resource %s: capacity must be > 0", name)
		}
		if lim.Window <= 0 {
			return nil, fmt.Errorf("resource %s: window must be > 0", name)
		}
		refill, ok := ParseRefill(string(lim.Refill))
		if !ok {
			return nil, fmt.Errorf("resource %s: unknown refill mode %q", name, lim.Refill)
		}
		lim.Refill = refill
		lim = applyMargin(lim, cfg.Margin)

		switch refill {
		case RefillContinuous:
			l.budgets[name] = newTokenBudget(name, lim, now)
		default:
			l.budgets[name] = newFixedBudget(name, lim, now)
		}
		l.names = append(l.names, name)
	}
	sort.Strings(l.names)
	return l, nil
}

// AcquireOne charges weight against a single resource.
func (l *Limiter) AcquireOne(ctx context.Context, resource string, weight int) (*Permit, error) {
	return l.Acquire(ctx, Charge{Resource: resource, Weight: weight})
}

// Acquire admits all charges at one common instant, waiting if needed.
// Budgets are locked in resource-name order; a failure leaves every budget
// untouched, and cancellation during the wait refunds every reservation.
func (l *Limiter) Acquire(ctx context.Context, charges ...Charge) (*Permit, error) {
	if l == nil {
		return &Permit{Charges: charges, AdmittedAt: time.Now().UTC()}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	merged, err := l.normalize(charges)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return &Permit{AdmittedAt: l.now()}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	held := make([]budget, len(merged))
	for i, ch := range merged {
		held[i] = l.budgets[ch.Resource]
		held[i].lock()
	}

	now := l.now()
	at, blocking := l.fixpoint(now, held, merged)
	wait := at.Sub(now)
	if wait > l.maxWait {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].unlock()
		}
		return nil, &Error{
			Kind:       KindRateLimited,
			Code:       "acquire_wait_exceeded",
			Message:    fmt.Sprintf("resource %s needs %s, max wait is %s", blocking, wait.Round(time.Millisecond), l.maxWait),
			RetryAfter: wait,
		}
	}

	reserved := make([]reservation, len(held))
	for i, b := range held {
		reserved[i] = b.commit(now, at, merged[i].Weight)
		if reserved[i].actAt.After(at) {
			at = reserved[i].actAt
		}
	}
	for i := len(held) - 1; i >= 0; i-- {
		held[i].unlock()
	}

	wait = at.Sub(now)
	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			l.refund(reserved)
			return nil, err
		}
	}

	return &Permit{Charges: merged, AdmittedAt: at, Waited: max(wait, 0)}, nil
}

// fixpoint finds the earliest instant every held budget admits its charge.
func (l *Limiter) fixpoint(now time.Time, held []budget, charges []Charge) (time.Time, string) {
	at := now
	blocking := ""
	for round := 0; round < maxFixpointRounds; round++ {
		moved := false
		for i, b := range held {
			next := b.admitAt(now, at, charges[i].Weight)
			if next.After(at) {
				at = next
				blocking = b.name()
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return at, blocking
}

func (l *Limiter) refund(reserved []reservation) {
	now := l.now()
	for _, res := range reserved {
		res.budget.lock()
		res.budget.refund(now, res)
		res.budget.unlock()
	}
}

func (l *Limiter) normalize(charges []Charge) ([]Charge, error) {
	totals := make(map[string]int, len(charges))
	for _, ch := range charges {
		name := strings.TrimSpace(ch.Resource)
		b, ok := l.budgets[name]
		if !ok {
			return nil, newError(KindInvalidRequest, "unknown_resource",
				fmt.Sprintf("rate limit resource %q is not configured", ch.Resource))
		}
		if ch.Weight < 0 {
			return nil, newError(KindInvalidRequest, "invalid_weight",
				fmt.Sprintf("resource %s: weight %d is negative", name, ch.Weight))
		}
		totals[name] += ch.Weight
		if totals[name] > b.limit().Capacity {
			return nil, newError(KindInvalidRequest, "weight_exceeds_capacity",
				fmt.Sprintf("resource %s: weight %d exceeds capacity %d", name, totals[name], b.limit().Capacity))
		}
	}

	merged := make([]Charge, 0, len(totals))
	for name, weight := range totals {
		if weight == 0 {
			continue
		}
		merged = append(merged, Charge{Resource: name, Weight: weight})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Resource < merged[j].Resource })
	return merged, nil
}

// Backoff refuses admissions on resource until the given instant.
func (l *Limiter) Backoff(resource string, until time.Time) error {
	if l == nil {
		return nil
	}
	b, ok := l.budgets[strings.TrimSpace(resource)]
	if !ok {
		return newError(KindInvalidRequest, "unknown_resource",
			fmt.Sprintf("rate limit resource %q is not configured", resource))
	}
	b.lock()
	b.setBackoff(until)
	b.unlock()
	return nil
}

// BackoffFor refuses admissions on resource for d from now.
func (l *Limiter) BackoffFor(resource string, d time.Duration) error {
	if l == nil || d <= 0 {
		return nil
	}
	return l.Backoff(resource, l.now().Add(d))
}

// Resources returns the configured resource names in sorted order.
func (l *Limiter) Resources() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.names...)
}

// Snapshot returns every budget, sorted by resource name.
func (l *Limiter) Snapshot() []BudgetSnapshot {
	if l == nil {
		return nil
	}
	now := l.now()
	out := make([]BudgetSnapshot, 0, len(l.names))
	for _, name := range l.names {
		b := l.budgets[name]
		b.lock()
		out = append(out, b.snapshot(now))
		b.unlock()
	}
	return out
}

// Reset restores the named budgets (all when none given) to full capacity
// and clears any backoff.
func (l *Limiter) Reset(resources ...string) (int, error) {
	if l == nil {
		return 0, nil
	}
	names := resources
	if len(names) == 0 {
		names = l.names
	}
	targets := make([]budget, 0, len(names))
	for _, name := range names {
		b, ok := l.budgets[strings.TrimSpace(name)]
		if !ok {
			return 0, newError(KindInvalidRequest, "unknown_resource",
				fmt.Sprintf("rate limit resource %q is not configured", name))
		}
		targets = append(targets, b)
	}
	now := l.now()
	for _, b := range targets {
		b.lock()
		b.reset(now)
		b.unlock()
	}
	return len(targets), nil
}

func (l *Limiter) now() time.Time {
	if l != nil && l.clock != nil {
		return l.clock()
	}
	return time.Now().UTC()
}

func applyMargin(lim Limit, margin float64) Limit {
	if margin <= 0 || margin > 1 {
		return lim
	}
	adjusted := int(math.Floor(float64(lim.Capacity) * margin))
	if adjusted < 1 {
		adjusted = 1
	}
	lim.Capacity = adjusted
	return lim
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
