package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/resilience"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestObserveAttempt(t *testing.T) {
	collector := setupTelemetry(t)
	obs := Observer{}

	obs.ObserveAttempt(resilience.Attempt{
		Vendor: "binance", Call: "account", Resource: "REQUEST_WEIGHT", Policy: "read",
		Number: 1, Waited: 250 * time.Millisecond, Elapsed: 40 * time.Millisecond,
		Err:      &resilience.Error{Kind: resilience.KindRateLimited, Code: "429"},
		Decision: resilience.RetryAfter(time.Second),
	})
	obs.ObserveAttempt(resilience.Attempt{
		Vendor: "binance", Call: "account", Resource: "REQUEST_WEIGHT", Policy: "read",
		Number: 2, Elapsed: 30 * time.Millisecond,
	})

	assert.Greater(t, collector.CountMetricsByName(CallsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(CallDuration), 0)
	assert.Greater(t, collector.CountMetricsByName(RateLimitWait), 0)
	assert.Greater(t, collector.CountMetricsByName(RateLimitedTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(RetriesTotal), 0)
}

func TestObserveClock(t *testing.T) {
	collector := setupTelemetry(t)
	obs := Observer{}

	obs.ObserveClock("binance", resilience.ClockDelta{Offset: 1500 * time.Millisecond}, nil)
	obs.ObserveClock("binance", resilience.ClockDelta{}, errors.New("probe failed"))

	assert.Greater(t, collector.CountMetricsByName(ClockRefreshTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(ClockDeltaMS), 0)
}

func TestRecordersNoopWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	Observer{}.ObserveAttempt(resilience.Attempt{Vendor: "binance"})
	Observer{}.ObserveClock("binance", resilience.ClockDelta{}, nil)
	RecordError("RATE_LIMITED", 429)
	RecordPanic()
	SetServerStartTime(time.Now())
}
