package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/exchange/market"
	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/store"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatTable, "TABLE": FormatTable, "json": FormatJSON, "md": FormatMarkdown}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestTableFormatterLimits(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	budgets := []resilience.BudgetSnapshot{
		{Resource: "REQUEST_WEIGHT", Capacity: 1200, Window: time.Minute, Refill: resilience.RefillFixed, Available: 1190},
		{Resource: "ORDERS", Capacity: 10, Window: time.Second, Refill: resilience.RefillFixed, Available: 0, BackoffUntil: &until},
	}

	out, err := NewFormatter(FormatTable).FormatLimits("binance", budgets)
	require.NoError(t, err)
	assert.Contains(t, out, "REQUEST_WEIGHT")
	assert.Contains(t, out, "1190")
	assert.Contains(t, out, "2026-01-01T00:00:30Z")

	md, err := NewFormatter(FormatMarkdown).FormatLimits("binance", budgets)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "## binance rate limits"))
	assert.Contains(t, md, "| REQUEST_WEIGHT |")
}

func TestFormatMarketsListsSkips(t *testing.T) {
	result := market.Result{
		Markets: []market.Market{{
			Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", PriceScale: 2, AmountScale: 5,
			MinAmount: decimal.RequireFromString("0.00001"), AmountStep: decimal.RequireFromString("0.00001"),
			MinNotional: decimal.NewFromInt(10),
		}},
		Skipped: []market.Skip{{Symbol: "OLDUSDT", Reason: "status BREAK"}},
	}

	out, err := NewFormatter(FormatTable).FormatMarkets("binance", result)
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "OLDUSDT")
	assert.Contains(t, out, "status BREAK")

	js, err := NewFormatter(FormatJSON).FormatMarkets("binance", result)
	require.NoError(t, err)
	var decoded struct {
		Exchange string        `json:"exchange"`
		Skipped  []market.Skip `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Equal(t, "binance", decoded.Exchange)
	assert.Len(t, decoded.Skipped, 1)
}

func TestFormatClockAndUnmapped(t *testing.T) {
	sampled := time.Now().UTC()
	expires := sampled.Add(10 * time.Minute)
	states := []exchange.ClockState{
		{Exchange: "binance", Sampled: true, OffsetMS: 1520, SampledAt: &sampled, ExpiresAt: &expires},
		{Exchange: "latoken"},
	}
	out, err := NewFormatter(FormatTable).FormatClock(states)
	require.NoError(t, err)
	assert.Contains(t, out, "+1520ms")
	assert.Contains(t, out, "fresh")
	assert.Contains(t, out, "unsampled")

	entries := []store.UnmappedEntry{{
		Vendor: "binance", Code: "-2015", StatusCode: 401, Occurrences: 3,
		Message: strings.Repeat("x", 100), LastSeen: sampled,
	}}
	out, err = NewFormatter(FormatTable).FormatUnmapped(entries)
	require.NoError(t, err)
	assert.Contains(t, out, "-2015")
	assert.Contains(t, out, "…")
}

func TestFormatUnmappedEmpty(t *testing.T) {
	out, err := NewFormatter(FormatTable).FormatUnmapped(nil)
	require.NoError(t, err)
	assert.Contains(t, out, "no unmapped vendor errors recorded")

	out, err = NewFormatter(FormatJSON).FormatUnmapped(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}
