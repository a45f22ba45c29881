// Package output renders admin views (budgets, clock state, markets and the
// unmapped error ledger) as tables, markdown or JSON.
package output

import (
	"fmt"
	"strings"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/exchange/market"
	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders admin views.
type Formatter interface {
	FormatLimits(exchangeName string, budgets []resilience.BudgetSnapshot) (string, error)
	FormatClock(states []exchange.ClockState) (string, error)
	FormatMarkets(exchangeName string, result market.Result) (string, error)
	FormatUnmapped(entries []store.UnmappedEntry) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}
