// Package render formats bot replies and broadcasts as Telegram MarkdownV2 text.
// Every dynamic value passes through Escape; only markup tokens are emitted raw.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/shopspring/decimal"
)

// Usage lists the command surface.
const Usage = `Commands:
/start - subscribe to summaries
/stop - unsubscribe
/add SYMBOL QTY - add to a position at the current price
/remove SYMBOL - remove a position
/portfolio - list positions
/live - value positions at current prices
/alert SYMBOL PRICE - alert when SYMBOL reaches PRICE
/remove_alert SYMBOL - remove alerts for SYMBOL
/alert_list - list alerts
Any other text is looked up as a ticker.`

// Escape escapes special characters for Telegram MarkdownV2
func Escape(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

func bold(text string) string {
	return "*" + Escape(text) + "*"
}

// Money formats a price with thousands separators and two decimals. Amounts below
// one keep up to six decimals so sub-cent prices stay readable.
func Money(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if v == 0 || v >= 1 {
		return sign + humanize.FormatFloat("#,###.##", v)
	}
	out := strings.TrimRight(humanize.FormatFloat("#,###.######", v), "0")
	if i := strings.IndexByte(out, '.'); i >= 0 && len(out)-i-1 < 2 {
		out += strings.Repeat("0", 2-(len(out)-i-1))
	}
	if out == "0.00" {
		return out
	}
	return sign + out
}

// MoneyDec formats a decimal amount like Money.
func MoneyDec(v decimal.Decimal) string {
	f, _ := v.Float64()
	return Money(f)
}

// Pct formats a signed percentage.
func Pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func direction(pct float64) string {
	switch {
	case pct > 0:
		return "🟢"
	case pct < 0:
		return "🔴"
	default:
		return "⚪️"
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

// Plain escapes a whole message with no markup.
func Plain(text string) string {
	return Escape(text)
}

// Welcome is the /start reply.
func Welcome() string {
	return bold("Welcome!") + "\n" + Escape("You will receive market summaries. Send /stop to opt out.") + "\n\n" + Escape(Usage)
}

// Help is the /help reply and the answer to unknown commands.
func Help() string {
	return Escape(Usage)
}

// Stopped is the /stop reply.
func Stopped() string {
	return Escape("You will no longer receive summaries. Send /start to subscribe again.")
}

// FormatError answers a malformed command with its usage.
func FormatError(usage string) string {
	return Escape("Invalid format. Usage: " + usage)
}

// NotFound reports an unknown ticker.
func NotFound(symbol string) string {
	return Escape(fmt.Sprintf("%s not found.", symbol))
}

// FundWithoutQuote reports a listed fund the price provider does not cover.
func FundWithoutQuote(symbol string) string {
	return Escape(fmt.Sprintf("%s is a listed fund code, but no quote is available from the data provider.", symbol))
}

// Unavailable reports a ticker without a fresh price.
func Unavailable(symbol string) string {
	return Escape(fmt.Sprintf("Data unavailable for %s, try again later.", symbol))
}

// InternalError answers a command whose handler failed.
func InternalError() string {
	return Escape("Something went wrong while handling your message.")
}

// PositionUpdated confirms an /add. A non-positive fillPrice marks a reduction,
// which has no fill price to show.
func PositionUpdated(pos models.Position, closed bool, fillPrice float64) string {
	if closed {
		return Escape(fmt.Sprintf("%s position closed.", pos.Instrument))
	}
	body := fmt.Sprintf("Quantity: %s\nAverage cost: %s", pos.Quantity.String(), MoneyDec(pos.AverageCost))
	if fillPrice > 0 {
		body += "\nPrice used: " + Money(fillPrice)
	}
	return bold(pos.Instrument) + "\n" + Escape(body)
}

// PositionRemoved confirms /remove, or reports that there was nothing to remove.
func PositionRemoved(symbol string, found bool) string {
	if !found {
		return Escape(fmt.Sprintf("No position for %s.", symbol))
	}
	return Escape(fmt.Sprintf("%s removed from your portfolio.", symbol))
}

// Portfolio lists positions without pricing them.
func Portfolio(positions []models.Position) string {
	if len(positions) == 0 {
		return Escape("Your portfolio is empty. Use /add SYMBOL QTY.")
	}
	var b strings.Builder
	b.WriteString(bold("Portfolio"))
	b.WriteString("\n\n")
	for _, p := range positions {
		b.WriteString(Escape(fmt.Sprintf("%s: %s @ %s\n", p.Instrument, p.Quantity.String(), MoneyDec(p.AverageCost))))
	}
	return b.String()
}

// AlertSet confirms /alert with the current price for reference.
func AlertSet(a models.Alert, current models.Price) string {
	return Escape(fmt.Sprintf("Alert set: %s at %s (now %s).", a.Instrument, Money(a.TargetPrice), Money(current.Value)))
}

// AlertsRemoved confirms /remove_alert.
func AlertsRemoved(symbol string, n int) string {
	if n == 0 {
		return Escape(fmt.Sprintf("No alerts for %s.", symbol))
	}
	return Escape(fmt.Sprintf("%d alert(s) for %s removed.", n, symbol))
}

// AlertList answers /alert_list.
func AlertList(alerts []models.Alert) string {
	if len(alerts) == 0 {
		return Escape("You have no active alerts.")
	}
	var b strings.Builder
	b.WriteString(bold("Alerts"))
	b.WriteString("\n\n")
	for _, a := range alerts {
		b.WriteString(Escape(fmt.Sprintf("%s → %s\n", a.Instrument, Money(a.TargetPrice))))
	}
	return b.String()
}

// AlertTriggered notifies a recipient that an alert fired.
func AlertTriggered(a models.Alert, price float64) string {
	return "🔔 " + bold(a.Instrument) + " " + Escape(fmt.Sprintf("reached %s (target %s).", Money(price), Money(a.TargetPrice)))
}

// quoteLine is "<price> (<marker> <change>)" or "Data unavailable".
func quoteLine(q models.Quote, now time.Time) string {
	if !q.Usable() {
		return "Data unavailable"
	}
	line := Money(q.Value)
	if q.HasChange {
		line += fmt.Sprintf(" (%s %s)", direction(q.ChangePct), Pct(q.ChangePct))
	} else {
		line += " (⚪️ no data)"
	}
	if q.Freshness == models.Stale {
		line += fmt.Sprintf(" [stale, %s old]", formatDuration(now.Sub(q.AsOf)))
	}
	return line
}

// Quote replies to a free-text ticker.
func Quote(q models.Quote) string {
	return bold(q.Instrument) + ": " + Escape(quoteLine(q, time.Now()))
}

// Summary renders the scheduled market overview.
func Summary(s models.Summary) string {
	var b strings.Builder
	b.WriteString(bold(fmt.Sprintf("📊 Market Summary - %s", s.GeneratedAt.Format("02.01.2006 15:04"))))
	b.WriteString("\n\n")
	for _, line := range s.Lines {
		b.WriteString(Escape(fmt.Sprintf("%s: %s\n", line.Name, quoteLine(line.Quote, s.GeneratedAt))))
	}
	return b.String()
}

// Valuation renders /live.
func Valuation(v models.Valuation) string {
	if len(v.Lines) == 0 {
		return Escape("Your portfolio is empty. Use /add SYMBOL QTY.")
	}
	var b strings.Builder
	b.WriteString(bold("Live Portfolio"))
	b.WriteString("\n\n")
	for _, l := range v.Lines {
		p := l.Position
		if !l.Priced {
			b.WriteString(Escape(fmt.Sprintf("%s: %s @ %s, data unavailable\n", p.Instrument, p.Quantity.String(), MoneyDec(p.AverageCost))))
			continue
		}
		day := "no data"
		if l.Quote.HasChange {
			day = Pct(l.Quote.ChangePct)
		}
		b.WriteString(bold(p.Instrument))
		b.WriteString("\n")
		b.WriteString(Escape(fmt.Sprintf(
			"%s × %s = %s\nCost %s, P&L %s %s (%s), day %s\n",
			p.Quantity.String(), Money(l.Quote.Value), MoneyDec(l.Value),
			MoneyDec(l.Cost), direction(l.PnLPct), MoneyDec(l.PnL), Pct(l.PnLPct), day,
		)))
	}
	b.WriteString("\n")
	b.WriteString(bold(fmt.Sprintf("Total %s, cost %s, P&L %s (%s)",
		MoneyDec(v.TotalValue), MoneyDec(v.TotalCost), MoneyDec(v.TotalPnL), Pct(v.PnLPct))))
	return b.String()
}

// Rating renders an analyst consensus.
func Rating(r models.Rating) string {
	return bold(r.Instrument+" analysts") + "\n" + Escape(fmt.Sprintf(
		"Consensus: %s\nMean target: %s (%s)\nAnalysts: %d",
		r.Recommendation, Money(r.TargetMean), Pct(r.UpsidePct), r.NumAnalysts,
	))
}
