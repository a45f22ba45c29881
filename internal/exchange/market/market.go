// Package market derives trading precision and order size bounds from
// exchange filter metadata.
package market

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Filter types understood by Derive.
const (
	FilterPrice       = "PRICE_FILTER"
	FilterLotSize     = "LOT_SIZE"
	FilterMinNotional = "MIN_NOTIONAL"
	FilterNotional    = "NOTIONAL"
)

// StatusBreak marks a symbol that is not trading.
const StatusBreak = "BREAK"

// Filter is one vendor filter entry, values kept as decimal strings.
type Filter struct {
	Type        string
	MinPrice    string
	MaxPrice    string
	TickSize    string
	MinQty      string
	MaxQty      string
	StepSize    string
	MinNotional string
}

// Symbol is vendor symbol metadata.
type Symbol struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string
	Filters    []Filter
}

// Market is the derived trading metadata of one symbol.
type Market struct {
	Symbol      string          `json:"symbol"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	PriceScale  int32           `json:"price_scale"`
	AmountScale int32           `json:"amount_scale"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`
	PriceStep   decimal.Decimal `json:"price_step"`
	MinAmount   decimal.Decimal `json:"min_amount"`
	MaxAmount   decimal.Decimal `json:"max_amount"`
	AmountStep  decimal.Decimal `json:"amount_step"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// Skip records a symbol left out of the result and why.
type Skip struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Result holds derived markets and explicit skips, both sorted by symbol.
type Result struct {
	Markets []Market `json:"markets"`
	Skipped []Skip   `json:"skipped"`
}

// Derive converts symbol metadata to markets. Symbols that are not trading
// or carry unparseable filters are skipped and logged at warn level.
func Derive(symbols []Symbol, logger *logging.Logger) Result {
	result := Result{Markets: []Market{}, Skipped: []Skip{}}
	for _, sym := range symbols {
		m, err := derive(sym)
		if err != nil {
			skip := Skip{Symbol: sym.Symbol, Reason: err.Error()}
			result.Skipped = append(result.Skipped, skip)
			if logger != nil {
				logger.Warn("Skipping market",
					zap.String("symbol", skip.Symbol),
					zap.String("reason", skip.Reason))
			}
			continue
		}
		result.Markets = append(result.Markets, m)
	}
	sort.Slice(result.Markets, func(i, j int) bool { return result.Markets[i].Symbol < result.Markets[j].Symbol })
	sort.Slice(result.Skipped, func(i, j int) bool { return result.Skipped[i].Symbol < result.Skipped[j].Symbol })
	return result
}

func derive(sym Symbol) (Market, error) {
	if strings.TrimSpace(sym.Symbol) == "" {
		return Market{}, fmt.Errorf("symbol name is empty")
	}
	if strings.EqualFold(sym.Status, StatusBreak) {
		return Market{}, fmt.Errorf("status %s", StatusBreak)
	}

	m := Market{
		Symbol: sym.Symbol,
		Base:   sym.BaseAsset,
		Quote:  sym.QuoteAsset,
	}
	var sawPrice, sawLot bool
	for _, f := range sym.Filters {
		var err error
		switch strings.ToUpper(f.Type) {
		case FilterPrice:
			sawPrice = true
			if m.MinPrice, err = parse(FilterPrice, "minPrice", f.MinPrice); err != nil {
				return Market{}, err
			}
			if m.MaxPrice, err = parse(FilterPrice, "maxPrice", f.MaxPrice); err != nil {
				return Market{}, err
			}
			if m.PriceStep, err = parse(FilterPrice, "tickSize", f.TickSize); err != nil {
				return Market{}, err
			}
			m.PriceScale = Scale(m.PriceStep)
		case FilterLotSize:
			sawLot = true
			if m.MinAmount, err = parse(FilterLotSize, "minQty", f.MinQty); err != nil {
				return Market{}, err
			}
			if m.MaxAmount, err = parse(FilterLotSize, "maxQty", f.MaxQty); err != nil {
				return Market{}, err
			}
			if m.AmountStep, err = parse(FilterLotSize, "stepSize", f.StepSize); err != nil {
				return Market{}, err
			}
			m.AmountScale = Scale(m.AmountStep)
		case FilterMinNotional, FilterNotional:
			if m.MinNotional, err = parse(f.Type, "minNotional", f.MinNotional); err != nil {
				return Market{}, err
			}
		}
	}
	if !sawPrice {
		return Market{}, fmt.Errorf("missing %s", FilterPrice)
	}
	if !sawLot {
		return Market{}, fmt.Errorf("missing %s", FilterLotSize)
	}
	return m, nil
}

func parse(filter, field, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s.%s %q is not a decimal", filter, field, value)
	}
	return d, nil
}

// Scale returns the number of significant fractional digits of d, ignoring
// trailing zeros. Whole steps such as 10 have scale 0.
func Scale(d decimal.Decimal) int32 {
	s := d.String()
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(s) - idx - 1)
}
