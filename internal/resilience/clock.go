package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultClockTTL is how long a sampled delta stays fresh.
	DefaultClockTTL = 10 * time.Minute
	// DefaultClockGrace is how long an expired delta may still be served
	// while a refresh runs.
	DefaultClockGrace = 5 * time.Second
)

// ServerTimeFunc probes the remote authoritative time.
type ServerTimeFunc func(ctx context.Context) (time.Time, error)

// ClockDelta is a sampled offset between remote and local time.
type ClockDelta struct {
	Offset    time.Duration `json:"offset"`
	SampledAt time.Time     `json:"sampled_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ClockConfig configures a ClockSync.
type ClockConfig struct {
	Probe ServerTimeFunc
	TTL   time.Duration
	Grace time.Duration
	Clock func() time.Time
	// OnRefresh observes every probe result.
	OnRefresh func(delta ClockDelta, err error)
}

// ClockSync caches the remote clock offset and refreshes it at most once
// at a time.
type ClockSync struct {
	probe     ServerTimeFunc
	ttl       time.Duration
	grace     time.Duration
	clock     func() time.Time
	onRefresh func(ClockDelta, error)

	mu          sync.RWMutex
	delta       ClockDelta
	sampled     bool
	invalidated bool

	group singleflight.Group
}

// NewClockSync returns a ClockSync with defaults applied.
func NewClockSync(cfg ClockConfig) (*ClockSync, error) {
	if cfg.Probe == nil {
		return nil, errors.New("server time probe is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultClockTTL
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	return &ClockSync{
		probe:     cfg.Probe,
		ttl:       cfg.TTL,
		grace:     cfg.Grace,
		clock:     cfg.Clock,
		onRefresh: cfg.OnRefresh,
	}, nil
}

// CurrentDelta returns remote minus local time, probing when the cached
// value has expired or was invalidated.
func (s *ClockSync) CurrentDelta(ctx context.Context) (time.Duration, error) {
	if s == nil {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	s.mu.RLock()
	delta, sampled, invalidated := s.delta, s.sampled, s.invalidated
	s.mu.RUnlock()

	if sampled && !invalidated {
		if now.Before(delta.ExpiresAt) {
			return delta.Offset, nil
		}
		if now.Before(delta.ExpiresAt.Add(s.grace)) {
			s.group.DoChan("delta", s.refreshFunc(ctx))
			return delta.Offset, nil
		}
	}

	ch := s.group.DoChan("delta", s.refreshFunc(ctx))
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(ClockDelta).Offset, nil
	}
}

func (s *ClockSync) refreshFunc(ctx context.Context) func() (any, error) {
	probeCtx := context.WithoutCancel(ctx)
	return func() (any, error) {
		now := s.now()
		s.mu.RLock()
		delta, sampled, invalidated := s.delta, s.sampled, s.invalidated
		s.mu.RUnlock()
		if sampled && !invalidated && now.Before(delta.ExpiresAt) {
			return delta, nil
		}

		server, err := s.probe(probeCtx)
		if err != nil {
			cerr, ok := AsError(err)
			if !ok {
				cerr = &Error{Kind: KindTransientNetwork, Code: "clock_probe", Message: err.Error(), Err: err}
			}
			if s.onRefresh != nil {
				s.onRefresh(ClockDelta{}, cerr)
			}
			return nil, cerr
		}

		received := s.now()
		fresh := ClockDelta{
			Offset:    server.Sub(received),
			SampledAt: received,
			ExpiresAt: received.Add(s.ttl),
		}
		s.mu.Lock()
		s.delta = fresh
		s.sampled = true
		s.invalidated = false
		s.mu.Unlock()

		if s.onRefresh != nil {
			s.onRefresh(fresh, nil)
		}
		return fresh, nil
	}
}

// Invalidate forces the next read to probe. The stale value is not served
// during the grace period after an invalidation.
func (s *ClockSync) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.invalidated = true
	s.mu.Unlock()
}

// Now returns local time corrected by the current delta.
func (s *ClockSync) Now(ctx context.Context) (time.Time, error) {
	delta, err := s.CurrentDelta(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return s.now().Add(delta), nil
}

// TimestampMillis returns the corrected time in Unix milliseconds.
func (s *ClockSync) TimestampMillis(ctx context.Context) (int64, error) {
	now, err := s.Now(ctx)
	if err != nil {
		return 0, err
	}
	return now.UnixMilli(), nil
}

// Snapshot returns the cached delta without probing.
func (s *ClockSync) Snapshot() (delta ClockDelta, sampled bool, invalidated bool) {
	if s == nil {
		return ClockDelta{}, false, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delta, s.sampled, s.invalidated
}

func (s *ClockSync) now() time.Time {
	if s != nil && s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}
