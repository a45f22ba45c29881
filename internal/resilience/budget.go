package resilience

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Refill selects how a budget regains weight.
type Refill string

const (
	// RefillFixed restores the full capacity at each window boundary.
	RefillFixed Refill = "fixed"
	// RefillContinuous adds weight back steadily (token bucket).
	RefillContinuous Refill = "continuous"
)

// ParseRefill normalizes a refill mode; empty means fixed.
func ParseRefill(value string) (Refill, bool) {
	switch Refill(value) {
	case "", RefillFixed:
		return RefillFixed, true
	case RefillContinuous:
		return RefillContinuous, true
	default:
		return "", false
	}
}

// Limit describes one vendor quota.
type Limit struct {
	Capacity int           `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	Window   time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	Refill   Refill        `mapstructure:"refill" yaml:"refill" json:"refill"`
}

// BudgetSnapshot is a point-in-time view of one budget.
type BudgetSnapshot struct {
	Resource     string        `json:"resource"`
	Capacity     int           `json:"capacity"`
	Window       time.Duration `json:"window"`
	Refill       Refill        `json:"refill"`
	Available    int           `json:"available"`
	BackoffUntil *time.Time    `json:"backoff_until,omitempty"`
}

// budget is the per-resource accounting. Callers hold mu around every method
// except name and limit.
type budget interface {
	name() string
	limit() Limit
	lock()
	unlock()
	// admitAt returns the earliest instant >= notBefore at which weight fits.
	admitAt(now, notBefore time.Time, weight int) time.Time
	// commit reserves weight for admission at the given instant.
	commit(now, at time.Time, weight int) reservation
	refund(now time.Time, res reservation)
	setBackoff(until time.Time)
	snapshot(now time.Time) BudgetSnapshot
	reset(now time.Time)
}

type reservation struct {
	budget budget
	weight int
	cycle  int64
	token  *rate.Reservation
	actAt  time.Time
}

// fixedBudget implements window-reset accounting. used holds the weight
// committed to the current cycle and to every later cycle a waiter has
// reserved, so a reservation never borrows from the window it skipped.
type fixedBudget struct {
	mu       sync.Mutex
	resource string
	lim      Limit
	origin   time.Time

	cycle        int64
	used         map[int64]int64
	backoffUntil time.Time
}

func newFixedBudget(resource string, lim Limit, now time.Time) *fixedBudget {
	b := &fixedBudget{
		resource: resource,
		lim:      lim,
		origin:   now.Truncate(lim.Window),
	}
	b.reset(now)
	return b
}

func (b *fixedBudget) name() string { return b.resource }
func (b *fixedBudget) limit() Limit { return b.lim }
func (b *fixedBudget) lock()        { b.mu.Lock() }
func (b *fixedBudget) unlock()      { b.mu.Unlock() }

func (b *fixedBudget) cycleOf(t time.Time) int64 {
	d := t.Sub(b.origin)
	if d < 0 {
		return 0
	}
	return int64(d / b.lim.Window)
}

func (b *fixedBudget) cycleStart(c int64) time.Time {
	return b.origin.Add(time.Duration(c) * b.lim.Window)
}

// refresh forgets cycles that have ended.
func (b *fixedBudget) refresh(now time.Time) {
	c := b.cycleOf(now)
	if c <= b.cycle {
		return
	}
	for cycle := range b.used {
		if cycle < c {
			delete(b.used, cycle)
		}
	}
	b.cycle = c
}

func (b *fixedBudget) availableIn(c int64) int64 {
	return int64(b.lim.Capacity) - b.used[c]
}

func (b *fixedBudget) admitAt(now, notBefore time.Time, weight int) time.Time {
	b.refresh(now)
	t := notBefore
	if t.Before(b.backoffUntil) {
		t = b.backoffUntil
	}
	c := max(b.cycleOf(t), b.cycle)
	if b.availableIn(c) >= int64(weight) {
		return t
	}
	// Only cycles holding reservations can be short, so this terminates.
	c++
	for b.availableIn(c) < int64(weight) {
		c++
	}
	return b.cycleStart(c)
}

func (b *fixedBudget) commit(now, at time.Time, weight int) reservation {
	b.refresh(now)
	c := max(b.cycleOf(at), b.cycle)
	b.used[c] += int64(weight)
	return reservation{budget: b, weight: weight, cycle: c, actAt: at}
}

func (b *fixedBudget) refund(now time.Time, res reservation) {
	b.refresh(now)
	if res.cycle < b.cycle {
		return
	}
	left := b.used[res.cycle] - int64(res.weight)
	if left <= 0 {
		delete(b.used, res.cycle)
		return
	}
	b.used[res.cycle] = left
}

func (b *fixedBudget) setBackoff(until time.Time) {
	if until.After(b.backoffUntil) {
		b.backoffUntil = until
	}
}

func (b *fixedBudget) snapshot(now time.Time) BudgetSnapshot {
	b.refresh(now)
	return BudgetSnapshot{
		Resource:     b.resource,
		Capacity:     b.lim.Capacity,
		Window:       b.lim.Window,
		Refill:       RefillFixed,
		Available:    int(b.availableIn(b.cycle)),
		BackoffUntil: backoffPtr(now, b.backoffUntil),
	}
}

func (b *fixedBudget) reset(now time.Time) {
	b.cycle = b.cycleOf(now)
	b.used = make(map[int64]int64)
	b.backoffUntil = time.Time{}
}

// tokenBudget refills continuously at capacity/window with burst capacity.
type tokenBudget struct {
	mu       sync.Mutex
	resource string
	lim      Limit
	bucket   *rate.Limiter

	backoffUntil time.Time
}

func newTokenBudget(resource string, lim Limit, now time.Time) *tokenBudget {
	b := &tokenBudget{resource: resource, lim: lim}
	b.reset(now)
	return b
}

func (b *tokenBudget) name() string { return b.resource }
func (b *tokenBudget) limit() Limit { return b.lim }
func (b *tokenBudget) lock()        { b.mu.Lock() }
func (b *tokenBudget) unlock()      { b.mu.Unlock() }

func (b *tokenBudget) ratePerSecond() float64 {
	return float64(b.lim.Capacity) / b.lim.Window.Seconds()
}

func (b *tokenBudget) admitAt(now, notBefore time.Time, weight int) time.Time {
	t := notBefore
	if t.Before(b.backoffUntil) {
		t = b.backoffUntil
	}
	if t.Before(now) {
		t = now
	}
	tokens := b.bucket.TokensAt(t)
	if tokens >= float64(weight) {
		return t
	}
	seconds := (float64(weight) - tokens) / b.ratePerSecond()
	return t.Add(time.Duration(math.Ceil(seconds * float64(time.Second))))
}

func (b *tokenBudget) commit(now, at time.Time, weight int) reservation {
	r := b.bucket.ReserveN(now, weight)
	actAt := now.Add(r.DelayFrom(now))
	if actAt.Before(at) {
		actAt = at
	}
	return reservation{budget: b, weight: weight, token: r, actAt: actAt}
}

func (b *tokenBudget) refund(now time.Time, res reservation) {
	if res.token != nil {
		res.token.CancelAt(now)
	}
}

func (b *tokenBudget) setBackoff(until time.Time) {
	if until.After(b.backoffUntil) {
		b.backoffUntil = until
	}
}

func (b *tokenBudget) snapshot(now time.Time) BudgetSnapshot {
	return BudgetSnapshot{
		Resource:     b.resource,
		Capacity:     b.lim.Capacity,
		Window:       b.lim.Window,
		Refill:       RefillContinuous,
		Available:    int(math.Floor(b.bucket.TokensAt(now))),
		BackoffUntil: backoffPtr(now, b.backoffUntil),
	}
}

func (b *tokenBudget) reset(now time.Time) {
	b.bucket = rate.NewLimiter(rate.Limit(b.ratePerSecond()), b.lim.Capacity)
	b.bucket.SetBurstAt(now, b.lim.Capacity)
	b.backoffUntil = time.Time{}
}

func backoffPtr(now, until time.Time) *time.Time {
	if until.IsZero() || !until.After(now) {
		return nil
	}
	u := until
	return &u
}
