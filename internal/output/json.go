package output

import (
	"encoding/json"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/exchange/market"
	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/store"
)

// JSONFormatter renders views as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatLimits(exchangeName string, budgets []resilience.BudgetSnapshot) (string, error) {
	return f.marshal(map[string]any{"exchange": exchangeName, "budgets": budgets})
}

func (f *JSONFormatter) FormatClock(states []exchange.ClockState) (string, error) {
	return f.marshal(states)
}

func (f *JSONFormatter) FormatMarkets(exchangeName string, result market.Result) (string, error) {
	return f.marshal(map[string]any{"exchange": exchangeName, "markets": result.Markets, "skipped": result.Skipped})
}

func (f *JSONFormatter) FormatUnmapped(entries []store.UnmappedEntry) (string, error) {
	if entries == nil {
		entries = []store.UnmappedEntry{}
	}
	return f.marshal(entries)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
