package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/exchange/market"
	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/store"
)

// TableFormatter renders views as rounded ASCII tables, or as markdown
// tables when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

func (f *TableFormatter) newWriter(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if title != "" && !f.Markdown {
		t.SetTitle(title)
	}
	return t
}

func (f *TableFormatter) render(title string, t table.Writer) string {
	if !f.Markdown {
		return t.Render()
	}
	out := t.RenderMarkdown()
	if title != "" {
		out = "## " + title + "\n\n" + out
	}
	return out
}

// FormatLimits renders one exchange's budgets.
func (f *TableFormatter) FormatLimits(exchangeName string, budgets []resilience.BudgetSnapshot) (string, error) {
	title := exchangeName + " rate limits"
	t := f.newWriter(title)
	t.AppendHeader(table.Row{"Resource", "Capacity", "Window", "Refill", "Available", "Backoff Until"})
	for _, b := range budgets {
		t.AppendRow(table.Row{
			b.Resource,
			b.Capacity,
			b.Window.String(),
			string(b.Refill),
			b.Available,
			formatTime(b.BackoffUntil),
		})
	}
	return f.render(title, t), nil
}

// FormatClock renders clock state per exchange.
func (f *TableFormatter) FormatClock(states []exchange.ClockState) (string, error) {
	t := f.newWriter("")
	t.AppendHeader(table.Row{"Exchange", "Offset", "Sampled At", "Expires At", "Status"})
	for _, s := range states {
		offset := "-"
		if s.Sampled {
			offset = fmt.Sprintf("%+dms", s.OffsetMS)
		}
		t.AppendRow(table.Row{s.Exchange, offset, formatTime(s.SampledAt), formatTime(s.ExpiresAt), clockStatus(s)})
	}
	return f.render("Clock offsets", t), nil
}

// FormatMarkets renders derived markets followed by skipped symbols.
func (f *TableFormatter) FormatMarkets(exchangeName string, result market.Result) (string, error) {
	title := exchangeName + " markets"
	t := f.newWriter(title)
	t.AppendHeader(table.Row{"Symbol", "Base", "Quote", "Price Scale", "Amount Scale", "Min Amount", "Amount Step", "Min Notional"})
	for _, m := range result.Markets {
		t.AppendRow(table.Row{
			m.Symbol, m.Base, m.Quote, m.PriceScale, m.AmountScale,
			m.MinAmount.String(), m.AmountStep.String(), m.MinNotional.String(),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "markets", strconv.Itoa(len(result.Markets))})
	out := f.render(title, t)

	if len(result.Skipped) == 0 {
		return out, nil
	}
	skipTitle := "Skipped symbols"
	s := f.newWriter(skipTitle)
	s.AppendHeader(table.Row{"Symbol", "Reason"})
	for _, skip := range result.Skipped {
		s.AppendRow(table.Row{skip.Symbol, skip.Reason})
	}
	return out + "\n\n" + f.render(skipTitle, s), nil
}

// FormatUnmapped renders the unmapped vendor error ledger.
func (f *TableFormatter) FormatUnmapped(entries []store.UnmappedEntry) (string, error) {
	title := "Unmapped vendor errors"
	if len(entries) == 0 && !f.Markdown {
		return ascii.DrawBox(title+"\n\n(no unmapped vendor errors recorded)", 0), nil
	}
	t := f.newWriter(title)
	t.AppendHeader(table.Row{"Vendor", "Code", "Status", "Seen", "Last Seen", "Message"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Vendor, e.Code, e.StatusCode, e.Occurrences,
			e.LastSeen.Format(time.RFC3339), truncate(e.Message, 60),
		})
	}
	return f.render(title, t), nil
}

func clockStatus(s exchange.ClockState) string {
	switch {
	case s.Invalidated:
		return "invalidated"
	case !s.Sampled:
		return "unsampled"
	case s.ExpiresAt != nil && time.Now().After(*s.ExpiresAt):
		return "expired"
	default:
		return "fresh"
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
