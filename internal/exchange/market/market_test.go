package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	cases := []struct {
		value string
		want  int32
	}{
		{"0.01000000", 2},
		{"0.00000100", 6},
		{"1.00000000", 0},
		{"10", 0},
		{"0", 0},
		{"0.5", 1},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, Scale(decimal.RequireFromString(tc.value)), tc.value)
	}
}

func TestDeriveMarkets(t *testing.T) {
	symbols := []Symbol{
		{
			Symbol:     "ETHBTC",
			Status:     "TRADING",
			BaseAsset:  "ETH",
			QuoteAsset: "BTC",
			Filters: []Filter{
				{Type: FilterPrice, MinPrice: "0.00000100", MaxPrice: "922327.00000000", TickSize: "0.00000100"},
				{Type: FilterLotSize, MinQty: "0.00010000", MaxQty: "100000.00000000", StepSize: "0.00010000"},
				{Type: FilterMinNotional, MinNotional: "0.00010000"},
			},
		},
		{
			Symbol: "OLDUSDT",
			Status: "BREAK",
		},
		{
			Symbol: "BADUSDT",
			Status: "TRADING",
			Filters: []Filter{
				{Type: FilterPrice, TickSize: "abc"},
				{Type: FilterLotSize, StepSize: "1"},
			},
		},
		{
			Symbol:  "NOLOT",
			Status:  "TRADING",
			Filters: []Filter{{Type: FilterPrice, TickSize: "0.01"}},
		},
	}

	result := Derive(symbols, nil)
	require.Len(t, result.Markets, 1)
	m := result.Markets[0]
	require.Equal(t, "ETHBTC", m.Symbol)
	require.Equal(t, int32(6), m.PriceScale)
	require.Equal(t, int32(4), m.AmountScale)
	require.True(t, m.MinNotional.Equal(decimal.RequireFromString("0.0001")))
	require.True(t, m.MaxAmount.Equal(decimal.NewFromInt(100000)))

	require.Equal(t, []Skip{
		{Symbol: "BADUSDT", Reason: `PRICE_FILTER.tickSize "abc" is not a decimal`},
		{Symbol: "NOLOT", Reason: "missing LOT_SIZE"},
		{Symbol: "OLDUSDT", Reason: "status BREAK"},
	}, result.Skipped)
}
