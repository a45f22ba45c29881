package resilience

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestLimiter(t *testing.T, clock *fakeClock, maxWait time.Duration, limits map[string]Limit) *Limiter {
	t.Helper()
	limiter, err := NewLimiter(LimiterConfig{
		Limits:         limits,
		MaxAcquireWait: maxWait,
		Clock:          clock.Now,
		Sleep:          clock.Sleep,
	})
	require.NoError(t, err)
	return limiter
}

func TestLimiterWithinCapacityNeverWaits(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		clock := newFakeClock()
		limiter := newTestLimiter(t, clock, 0, map[string]Limit{
			"weight": {Capacity: 20, Window: time.Minute},
		})

		remaining := 20
		for remaining > 0 {
			w := 1 + rng.IntN(remaining)
			permit, err := limiter.AcquireOne(context.Background(), "weight", w)
			require.NoError(t, err)
			require.Zero(t, permit.Waited)
			remaining -= w
		}
		require.Empty(t, clock.Sleeps())
	}
}

func TestLimiterSixthCallWaitsForNextWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, 5*time.Second, map[string]Limit{
		"orders": {Capacity: 5, Window: time.Second},
	})

	for i := 0; i < 5; i++ {
		permit, err := limiter.AcquireOne(context.Background(), "orders", 1)
		require.NoError(t, err)
		require.Zero(t, permit.Waited)
	}

	permit, err := limiter.AcquireOne(context.Background(), "orders", 1)
	require.NoError(t, err)
	require.Equal(t, time.Second, permit.Waited)
	require.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
	require.Equal(t, epoch.Add(time.Second), permit.AdmittedAt)
}

func TestLimiterFailsFastBeyondMaxWait(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, 500*time.Millisecond, map[string]Limit{
		"orders": {Capacity: 5, Window: time.Second},
	})

	for i := 0; i < 5; i++ {
		_, err := limiter.AcquireOne(context.Background(), "orders", 1)
		require.NoError(t, err)
	}

	_, err := limiter.AcquireOne(context.Background(), "orders", 1)
	require.ErrorIs(t, err, ErrRateLimited)
	cerr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, time.Second, cerr.RetryAfter)
	require.Empty(t, clock.Sleeps())

	snap := limiter.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 0, snap[0].Available)

	clock.Advance(time.Second)
	permit, err := limiter.AcquireOne(context.Background(), "orders", 1)
	require.NoError(t, err)
	require.Zero(t, permit.Waited)
}

func TestLimiterNoOverAdmission(t *testing.T) {
	const capacity = 10
	clock := newFakeClock()
	limiter, err := NewLimiter(LimiterConfig{
		Limits:         map[string]Limit{"weight": {Capacity: capacity, Window: time.Second}},
		MaxAcquireWait: 5 * time.Second,
		Clock:          clock.Now,
		Sleep:          func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		perCycle = map[int64]int{}
		limited  int
	)

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		weight := 1 + rand.IntN(4)
		g.Go(func() error {
			permit, err := limiter.AcquireOne(context.Background(), "weight", weight)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if KindOf(err) == KindRateLimited {
					limited++
					return nil
				}
				return err
			}
			cycle := int64(permit.AdmittedAt.Sub(epoch) / time.Second)
			perCycle[cycle] += weight
			return nil
		})
	}
	require.NoError(t, g.Wait())

	total := 0
	for cycle, admitted := range perCycle {
		require.LessOrEqualf(t, admitted, capacity, "cycle %d over-admitted", cycle)
		total += admitted
	}
	require.LessOrEqual(t, total, capacity*6)
}

func TestLimiterNoOverAdmissionWithoutWaiting(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, 0, map[string]Limit{
		"weight": {Capacity: 25, Window: time.Minute},
	})

	var (
		mu       sync.Mutex
		admitted int
	)
	var g errgroup.Group
	for i := 0; i < 100; i++ {
		weight := 1 + i%3
		g.Go(func() error {
			_, err := limiter.AcquireOne(context.Background(), "weight", weight)
			if err != nil {
				return nil
			}
			mu.Lock()
			admitted += weight
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.LessOrEqual(t, admitted, 25)
	require.GreaterOrEqual(t, admitted, 23)
}

func TestLimiterMultiResourceFailureLeavesBudgetsUntouched(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, 0, map[string]Limit{
		"weight": {Capacity: 5, Window: time.Minute},
		"orders": {Capacity: 1, Window: time.Second},
	})

	_, err := limiter.AcquireOne(context.Background(), "orders", 1)
	require.NoError(t, err)

	_, err = limiter.Acquire(context.Background(),
		Charge{Resource: "weight", Weight: 2},
		Charge{Resource: "orders", Weight: 1},
	)
	require.ErrorIs(t, err, ErrRateLimited)

	snap := limiter.Snapshot()
	require.Equal(t, "orders", snap[0].Resource)
	require.Equal(t, 0, snap[0].Available)
	require.Equal(t, "weight", snap[1].Resource)
	require.Equal(t, 5, snap[1].Available)
}

func TestLimiterMultiResourceWaitsForSlowestBudget(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, time.Minute, map[string]Limit{
		"weight": {Capacity: 10, Window: time.Minute},
		"orders": {Capacity: 1, Window: 10 * time.Second},
	})

	_, err := limiter.AcquireOne(context.Background(), "orders", 1)
	require.NoError(t, err)

	permit, err := limiter.Acquire(context.Background(),
		Charge{Resource: "weight", Weight: 1},
		Charge{Resource: "orders", Weight: 1},
	)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, permit.Waited)
	require.Equal(t, []Charge{{Resource: "orders", Weight: 1}, {Resource: "weight", Weight: 1}}, permit.Charges)
}

func TestLimiterReservationAcrossBoundaryKeepsCurrentWindow(t *testing.T) {
	clock := newFakeClock()
	var cancelWait context.CancelFunc
	limiter, err := NewLimiter(LimiterConfig{
		Limits: map[string]Limit{
			"weight": {Capacity: 1200, Window: time.Minute},
			"orders": {Capacity: 1, Window: time.Second},
		},
		MaxAcquireWait: 5 * time.Second,
		Clock:          clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if cancelWait != nil {
				cancelWait()
			}
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	available := func(resource string) int {
		for _, snap := range limiter.Snapshot() {
			if snap.Resource == resource {
				return snap.Available
			}
		}
		t.Fatalf("resource %s not found", resource)
		return 0
	}

	clock.Advance(59*time.Second + 500*time.Millisecond)
	_, err = limiter.AcquireOne(context.Background(), "orders", 1)
	require.NoError(t, err)

	// orders is exhausted until 60s, so weight lands in the next minute.
	permit, err := limiter.Acquire(context.Background(),
		Charge{Resource: "weight", Weight: 1},
		Charge{Resource: "orders", Weight: 1},
	)
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, permit.Waited)
	require.Equal(t, 1200, available("weight"))

	read, err := limiter.AcquireOne(context.Background(), "weight", 1)
	require.NoError(t, err)
	require.Zero(t, read.Waited)
	require.Equal(t, 1199, available("weight"))

	ctx, cancel := context.WithCancel(context.Background())
	cancelWait = cancel
	_, err = limiter.Acquire(ctx,
		Charge{Resource: "weight", Weight: 5},
		Charge{Resource: "orders", Weight: 1},
	)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1199, available("weight"))

	// Only the admitted charges carry into the next minute.
	clock.Advance(500 * time.Millisecond)
	require.Equal(t, 1199, available("weight"))
	require.Equal(t, 0, available("orders"))
}

func TestLimiterCancelRefundsReservation(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter, err := NewLimiter(LimiterConfig{
		Limits:         map[string]Limit{"orders": {Capacity: 5, Window: time.Second}},
		MaxAcquireWait: 5 * time.Second,
		Clock:          clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := limiter.AcquireOne(ctx, "orders", 1)
		require.NoError(t, err)
	}

	_, err = limiter.AcquireOne(ctx, "orders", 1)
	require.ErrorIs(t, err, context.Canceled)

	clock.Advance(time.Second)
	snap := limiter.Snapshot()
	require.Equal(t, 5, snap[0].Available)
}

func TestLimiterRejectsMisconfiguredCharges(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, time.Second, map[string]Limit{
		"orders": {Capacity: 5, Window: time.Second},
	})

	_, err := limiter.AcquireOne(context.Background(), "missing", 1)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = limiter.AcquireOne(context.Background(), "orders", 6)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = limiter.AcquireOne(context.Background(), "orders", -1)
	require.ErrorIs(t, err, ErrInvalidRequest)

	permit, err := limiter.AcquireOne(context.Background(), "orders", 0)
	require.NoError(t, err)
	require.Empty(t, permit.Charges)
	require.Equal(t, 5, limiter.Snapshot()[0].Available)
}

func TestLimiterBackoffDelaysAdmission(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, 5*time.Second, map[string]Limit{
		"weight": {Capacity: 100, Window: time.Minute},
	})

	require.NoError(t, limiter.BackoffFor("weight", 2*time.Second))
	snap := limiter.Snapshot()
	require.NotNil(t, snap[0].BackoffUntil)

	permit, err := limiter.AcquireOne(context.Background(), "weight", 1)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, permit.Waited)

	require.NoError(t, limiter.BackoffFor("weight", time.Minute))
	_, err = limiter.AcquireOne(context.Background(), "weight", 1)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestLimiterContinuousRefill(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock, time.Second, map[string]Limit{
		"stream": {Capacity: 10, Window: time.Second, Refill: RefillContinuous},
	})

	for i := 0; i < 10; i++ {
		permit, err := limiter.AcquireOne(context.Background(), "stream", 1)
		require.NoError(t, err)
		require.Zero(t, permit.Waited)
	}

	permit, err := limiter.AcquireOne(context.Background(), "stream", 1)
	require.NoError(t, err)
	require.InDelta(t, float64(100*time.Millisecond), float64(permit.Waited), float64(time.Millisecond))
}

func TestLimiterMarginAndReset(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewLimiter(LimiterConfig{
		Limits: map[string]Limit{
			"weight": {Capacity: 10, Window: time.Minute},
			"orders": {Capacity: 1, Window: time.Second},
		},
		Margin: 0.5,
		Clock:  clock.Now,
		Sleep:  clock.Sleep,
	})
	require.NoError(t, err)

	snap := limiter.Snapshot()
	require.Equal(t, 1, snap[0].Capacity)
	require.Equal(t, 5, snap[1].Capacity)

	_, err = limiter.AcquireOne(context.Background(), "weight", 5)
	require.NoError(t, err)
	require.NoError(t, limiter.BackoffFor("weight", time.Hour))

	n, err := limiter.Reset("weight")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	snap = limiter.Snapshot()
	require.Equal(t, 5, snap[1].Available)
	require.Nil(t, snap[1].BackoffUntil)

	_, err = limiter.Reset("missing")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNewLimiterValidatesLimits(t *testing.T) {
	cases := []struct {
		name  string
		limit Limit
	}{
		{"zero capacity", Limit{Capacity: 0, Window: time.Second}},
		{"zero window", Limit{Capacity: 1}},
		{"bad refill", Limit{Capacity: 1, Window: time.Second, Refill: "sliding"}},
	}

	for _, tc := range cases {
		_, err := NewLimiter(LimiterConfig{Limits: map[string]Limit{"r": tc.limit}})
		require.Error(t, err, tc.name)
	}
}
