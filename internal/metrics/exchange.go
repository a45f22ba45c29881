// Package metrics records exchange call, retry, rate-limit and clock metrics
// through the gofulmen telemetry system.
package metrics

import (
	"time"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/resilience"
)

// Exchange metric names
const (
	CallsTotal         = "exchange_calls_total"
	RetriesTotal       = "exchange_retries_total"
	RateLimitWait      = "exchange_rate_limit_wait_ms"
	RateLimitedTotal   = "exchange_rate_limited_total"
	CallDuration       = "exchange_call_duration_ms"
	ClockRefreshTotal  = "exchange_clock_refresh_total"
	ClockDeltaMS       = "exchange_clock_delta_ms"
	ServerStartTime    = "app_server_start_time_seconds"
	outcomeSuccess     = "success"
	outcomeRetry       = "retry"
	outcomeFailure     = "failure"
	clockStatusOK      = "ok"
	clockStatusFailure = "failure"
)

// Observer records every attempt and clock probe. The zero value is ready.
type Observer struct{}

var (
	_ resilience.Observer    = Observer{}
	_ exchange.ClockObserver = Observer{}
)

// ObserveAttempt implements resilience.Observer.
func (Observer) ObserveAttempt(a resilience.Attempt) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	outcome := outcomeSuccess
	switch {
	case a.Err != nil && a.Decision.Retry:
		outcome = outcomeRetry
	case a.Err != nil:
		outcome = outcomeFailure
	}
	_ = sys.Counter(CallsTotal, 1, map[string]string{
		"exchange": a.Vendor,
		"resource": a.Resource,
		"outcome":  outcome,
	})
	_ = sys.Histogram(CallDuration, a.Elapsed, map[string]string{
		"exchange": a.Vendor,
		"call":     a.Call,
	})
	if a.Waited > 0 {
		_ = sys.Histogram(RateLimitWait, a.Waited, map[string]string{
			"exchange": a.Vendor,
			"resource": a.Resource,
		})
	}
	if a.Err == nil {
		return
	}
	if a.Err.Kind == resilience.KindRateLimited {
		_ = sys.Counter(RateLimitedTotal, 1, map[string]string{
			"exchange": a.Vendor,
			"resource": a.Resource,
			"code":     a.Err.Code,
		})
	}
	if a.Decision.Retry {
		_ = sys.Counter(RetriesTotal, 1, map[string]string{
			"exchange": a.Vendor,
			"policy":   a.Policy,
			"kind":     a.Err.Kind.String(),
		})
	}
}

// ObserveClock implements exchange.ClockObserver.
func (Observer) ObserveClock(name string, delta resilience.ClockDelta, err error) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	status := clockStatusOK
	if err != nil {
		status = clockStatusFailure
	}
	_ = sys.Counter(ClockRefreshTotal, 1, map[string]string{
		"exchange": name,
		"status":   status,
	})
	if err == nil {
		_ = sys.Gauge(ClockDeltaMS, float64(delta.Offset.Milliseconds()), map[string]string{
			"exchange": name,
		})
	}
}

// SetServerStartTime records the server start time (Unix seconds)
func SetServerStartTime(t time.Time) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(t.Unix()), nil)
	}
}
