package bot

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Command is the parsed form of one inbound message. The concrete types below are
// the only implementations.
type Command interface {
	command()
}

type (
	// Start opts the sender in.
	Start struct{}
	// Stop opts the sender out.
	Stop struct{}
	// Help shows the command list.
	Help struct{}
	// Portfolio lists positions.
	Portfolio struct{}
	// Live values positions at current prices.
	Live struct{}
	// AlertList lists alerts.
	AlertList struct{}
	// Add merges Quantity (negative to reduce) into the Symbol position.
	Add struct {
		Symbol   string
		Quantity decimal.Decimal
	}
	// Remove deletes the Symbol position.
	Remove struct{ Symbol string }
	// Alert watches Symbol for Price.
	Alert struct {
		Symbol string
		Price  float64
	}
	// RemoveAlert deletes every alert on Symbol.
	RemoveAlert struct{ Symbol string }
	// Quote looks up a free-text symbol.
	Quote struct{ Symbol string }
	// Malformed is a known command with bad arguments.
	Malformed struct{ Usage string }
)

func (Start) command()       {}
func (Stop) command()        {}
func (Help) command()        {}
func (Portfolio) command()   {}
func (Live) command()        {}
func (AlertList) command()   {}
func (Add) command()         {}
func (Remove) command()      {}
func (Alert) command()       {}
func (RemoveAlert) command() {}
func (Quote) command()       {}
func (Malformed) command()   {}

// Usage strings for format-error replies.
const (
	UsageAdd         = "/add SYMBOL QTY"
	UsageRemove      = "/remove SYMBOL"
	UsageAlert       = "/alert SYMBOL PRICE"
	UsageRemoveAlert = "/remove_alert SYMBOL"
)

// Parse classifies message text. The command token is case-insensitive and may carry
// a @botname suffix. Empty text means /live, text without a leading slash is a symbol
// lookup, and an unknown slash command is answered with help.
func Parse(text string) Command {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Live{}
	}

	head := fields[0]
	if !strings.HasPrefix(head, "/") {
		return Quote{Symbol: strings.ToUpper(head)}
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	args := fields[1:]

	switch strings.ToLower(head) {
	case "/start":
		return Start{}
	case "/stop":
		return Stop{}
	case "/help":
		return Help{}
	case "/portfolio":
		return Portfolio{}
	case "/live":
		return Live{}
	case "/alert_list":
		return AlertList{}
	case "/add":
		return parseAdd(args)
	case "/remove":
		if len(args) != 1 {
			return Malformed{Usage: UsageRemove}
		}
		return Remove{Symbol: strings.ToUpper(args[0])}
	case "/alert":
		return parseAlert(args)
	case "/remove_alert":
		if len(args) != 1 {
			return Malformed{Usage: UsageRemoveAlert}
		}
		return RemoveAlert{Symbol: strings.ToUpper(args[0])}
	default:
		return Help{}
	}
}

func parseAdd(args []string) Command {
	if len(args) != 2 {
		return Malformed{Usage: UsageAdd}
	}
	qty, err := decimal.NewFromString(normalizeNumber(args[1]))
	if err != nil || qty.IsZero() {
		return Malformed{Usage: UsageAdd}
	}
	return Add{Symbol: strings.ToUpper(args[0]), Quantity: qty}
}

func parseAlert(args []string) Command {
	if len(args) != 2 {
		return Malformed{Usage: UsageAlert}
	}
	price, err := strconv.ParseFloat(normalizeNumber(args[1]), 64)
	if err != nil || price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return Malformed{Usage: UsageAlert}
	}
	return Alert{Symbol: strings.ToUpper(args[0]), Price: price}
}

// normalizeNumber accepts a decimal comma ("12,5") when no dot is present.
func normalizeNumber(s string) string {
	if !strings.Contains(s, ".") {
		return strings.Replace(s, ",", ".", 1)
	}
	return s
}
