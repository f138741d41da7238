// Package bot turns inbound updates into commands and answers them.
//
// The Dispatcher owns the poll cursor. The cursor only moves forward and is advanced
// past each update before the update is handled, so a handler failure can never cause
// the same update to be handled twice and a replayed batch is a no-op.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rewired-gh/marketpulse/internal/insight"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/market"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/render"
	"github.com/rewired-gh/marketpulse/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/panics"
)

// Transport is the inbound side of the messaging backend.
type Transport interface {
	GetUpdates(ctx context.Context, offset int) ([]models.Update, error)
	LatestUpdateID(ctx context.Context) (int, bool, error)
}

// Store is the subscriber, portfolio and alert store.
type Store interface {
	EnsureRecipient(id int64) (bool, error)
	ActivateRecipient(id int64) error
	DeactivateRecipient(id int64) (bool, error)
	ApplyToPosition(recipientID int64, instrument string, qty, price decimal.Decimal) (models.Position, bool, error)
	DeletePosition(recipientID int64, instrument string) (bool, error)
	ListPositions(recipientID int64) ([]models.Position, error)
	AddAlert(alert *models.Alert) error
	RemoveAlerts(recipientID int64, instrument string) (int, error)
	ListAlerts(recipientID int64) ([]models.Alert, error)
}

// Resolver maps user tickers to instruments.
type Resolver interface {
	Resolve(ctx context.Context, raw string) market.Resolution
}

// Quotes completes a price with change figures.
type Quotes interface {
	QuoteFor(ctx context.Context, price models.Price) models.Quote
}

// Sender delivers replies.
type Sender interface {
	Text(ctx context.Context, recipientID int64, text string) error
	Artifact(ctx context.Context, recipientID int64, a models.Artifact) error
}

// Valuer marks positions to market.
type Valuer interface {
	Value(ctx context.Context, positions []models.Position) models.Valuation
}

// Enricher produces best-effort artifacts after a quote reply.
type Enricher interface {
	Enrich(ctx context.Context, instrument string) []insight.Result
}

// CodeSet is the reference dataset lookup.
type CodeSet interface {
	Contains(code string) bool
}

// Config holds dispatcher options.
type Config struct {
	HomeSuffix string
	Separator  string
}

// Deps groups the dispatcher collaborators. Enricher and Codes may be nil.
type Deps struct {
	Transport Transport
	Store     Store
	Resolver  Resolver
	Quotes    Quotes
	Sender    Sender
	Valuer    Valuer
	Enricher  Enricher
	Codes     CodeSet
}

// Dispatcher polls for updates and handles commands
type Dispatcher struct {
	Deps
	cfg    Config
	cursor atomic.Int64
}

// NewDispatcher creates a Dispatcher with a zero cursor; call Init before polling.
func NewDispatcher(deps Deps, cfg Config) *Dispatcher {
	if cfg.Separator == "" {
		cfg.Separator = "."
	}
	cfg.HomeSuffix = strings.ToUpper(cfg.HomeSuffix)
	return &Dispatcher{Deps: deps, cfg: cfg}
}

// Cursor is the next expected update id.
func (d *Dispatcher) Cursor() int {
	return int(d.cursor.Load())
}

// Init derives the cursor from the backend's latest update so anything that
// arrived while the process was down is skipped.
func (d *Dispatcher) Init(ctx context.Context) error {
	latest, ok, err := d.Transport.LatestUpdateID(ctx)
	if err != nil {
		return fmt.Errorf("failed to derive poll cursor: %w", err)
	}
	if ok {
		d.advance(latest + 1)
	}
	logger.Info("Poll cursor initialized at %d", d.Cursor())
	return nil
}

func (d *Dispatcher) advance(next int) {
	for {
		cur := d.cursor.Load()
		if int64(next) <= cur || d.cursor.CompareAndSwap(cur, int64(next)) {
			return
		}
	}
}

// Poll fetches updates at the cursor and handles each in sequence order. It returns
// the number of updates handled. Only a failed fetch is returned as an error.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	updates, err := d.Transport.GetUpdates(ctx, d.Cursor())
	if err != nil {
		return 0, err
	}
	sort.SliceStable(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })

	handled := 0
	for _, u := range updates {
		if u.ID < d.Cursor() {
			continue
		}
		d.advance(u.ID + 1)
		if u.SenderID == 0 {
			continue
		}
		d.handle(ctx, u)
		handled++
	}
	return handled, nil
}

// handle runs one update, containing errors and panics.
func (d *Dispatcher) handle(ctx context.Context, u models.Update) {
	var err error
	recovered := panics.Try(func() {
		err = d.Dispatch(ctx, u.SenderID, Parse(u.Text))
	})
	if recovered != nil {
		err = recovered.AsError()
	}
	if err == nil {
		return
	}

	logger.Error("Failed to handle update %d from %d: %v", u.ID, u.SenderID, err)
	if errors.Is(err, models.ErrRecipientUnreachable) {
		return
	}
	if serr := d.Sender.Text(ctx, u.SenderID, render.InternalError()); serr != nil {
		logger.Warn("Failed to send error reply to %d: %v", u.SenderID, serr)
	}
}

// Dispatch routes a parsed command to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, from int64, cmd Command) error {
	if _, err := d.Store.EnsureRecipient(from); err != nil {
		logger.Warn("Failed to record recipient %d: %v", from, err)
	}

	switch c := cmd.(type) {
	case Start:
		return d.start(ctx, from)
	case Stop:
		return d.stop(ctx, from)
	case Help:
		return d.Sender.Text(ctx, from, render.Help())
	case Malformed:
		return d.Sender.Text(ctx, from, render.FormatError(c.Usage))
	case Add:
		return d.add(ctx, from, c)
	case Remove:
		return d.remove(ctx, from, c)
	case Portfolio:
		return d.portfolio(ctx, from)
	case Live:
		return d.live(ctx, from)
	case Alert:
		return d.alert(ctx, from, c)
	case RemoveAlert:
		return d.removeAlert(ctx, from, c)
	case AlertList:
		return d.alertList(ctx, from)
	case Quote:
		return d.quote(ctx, from, c)
	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
}

func (d *Dispatcher) start(ctx context.Context, from int64) error {
	if err := d.Store.ActivateRecipient(from); err != nil {
		return err
	}
	logger.Info("Recipient %d subscribed", from)
	return d.Sender.Text(ctx, from, render.Welcome())
}

func (d *Dispatcher) stop(ctx context.Context, from int64) error {
	if _, err := d.Store.DeactivateRecipient(from); err != nil {
		return err
	}
	logger.Info("Recipient %d unsubscribed", from)
	return d.Sender.Text(ctx, from, render.Stopped())
}

func (d *Dispatcher) add(ctx context.Context, from int64, c Add) error {
	if c.Quantity.IsNegative() {
		return d.reduce(ctx, from, c)
	}
	res := d.Resolver.Resolve(ctx, c.Symbol)
	if !res.Found {
		return d.Sender.Text(ctx, from, render.NotFound(res.Instrument))
	}
	if res.Price.Freshness != models.Fresh {
		return d.Sender.Text(ctx, from, render.Unavailable(res.Instrument))
	}

	pos, closed, err := d.Store.ApplyToPosition(from, res.Instrument, c.Quantity, decimal.NewFromFloat(res.Price.Value))
	if errors.Is(err, storage.ErrNotFound) {
		return d.Sender.Text(ctx, from, render.PositionRemoved(res.Instrument, false))
	}
	if err != nil {
		return err
	}
	logger.Debug("Position %d/%s now %s @ %s", from, pos.Instrument, pos.Quantity, pos.AverageCost)
	return d.Sender.Text(ctx, from, render.PositionUpdated(pos, closed, res.Price.Value))
}

// reduce applies a negative /add to a stored position. The price is not consulted,
// so a reduction works while quotes are stale or unavailable.
func (d *Dispatcher) reduce(ctx context.Context, from int64, c Add) error {
	for _, inst := range d.candidates(c.Symbol) {
		pos, closed, err := d.Store.ApplyToPosition(from, inst, c.Quantity, decimal.Zero)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		logger.Debug("Position %d/%s reduced to %s", from, pos.Instrument, pos.Quantity)
		return d.Sender.Text(ctx, from, render.PositionUpdated(pos, closed, 0))
	}
	return d.Sender.Text(ctx, from, render.PositionRemoved(market.Normalize(c.Symbol), false))
}

// candidates lists the stored instrument names a user ticker may refer to,
// home-market listing first.
func (d *Dispatcher) candidates(symbol string) []string {
	symbol = market.Normalize(symbol)
	if d.cfg.HomeSuffix != "" && !strings.Contains(symbol, d.cfg.Separator) {
		return []string{symbol + d.cfg.HomeSuffix, symbol}
	}
	return []string{symbol}
}

func (d *Dispatcher) remove(ctx context.Context, from int64, c Remove) error {
	for _, inst := range d.candidates(c.Symbol) {
		found, err := d.Store.DeletePosition(from, inst)
		if err != nil {
			return err
		}
		if found {
			return d.Sender.Text(ctx, from, render.PositionRemoved(inst, true))
		}
	}
	return d.Sender.Text(ctx, from, render.PositionRemoved(market.Normalize(c.Symbol), false))
}

func (d *Dispatcher) portfolio(ctx context.Context, from int64) error {
	positions, err := d.Store.ListPositions(from)
	if err != nil {
		return err
	}
	return d.Sender.Text(ctx, from, render.Portfolio(positions))
}

func (d *Dispatcher) live(ctx context.Context, from int64) error {
	positions, err := d.Store.ListPositions(from)
	if err != nil {
		return err
	}
	return d.Sender.Text(ctx, from, render.Valuation(d.Valuer.Value(ctx, positions)))
}

func (d *Dispatcher) alert(ctx context.Context, from int64, c Alert) error {
	res := d.Resolver.Resolve(ctx, c.Symbol)
	if !res.Found {
		return d.Sender.Text(ctx, from, render.NotFound(res.Instrument))
	}

	a := &models.Alert{RecipientID: from, Instrument: res.Instrument, TargetPrice: c.Price}
	if err := d.Store.AddAlert(a); err != nil {
		return err
	}
	logger.Info("Alert %s set by %d: %s at %.4f", a.ID, from, a.Instrument, a.TargetPrice)
	return d.Sender.Text(ctx, from, render.AlertSet(*a, res.Price))
}

func (d *Dispatcher) removeAlert(ctx context.Context, from int64, c RemoveAlert) error {
	for _, inst := range d.candidates(c.Symbol) {
		n, err := d.Store.RemoveAlerts(from, inst)
		if err != nil {
			return err
		}
		if n > 0 {
			return d.Sender.Text(ctx, from, render.AlertsRemoved(inst, n))
		}
	}
	return d.Sender.Text(ctx, from, render.AlertsRemoved(market.Normalize(c.Symbol), 0))
}

func (d *Dispatcher) alertList(ctx context.Context, from int64) error {
	alerts, err := d.Store.ListAlerts(from)
	if err != nil {
		return err
	}
	return d.Sender.Text(ctx, from, render.AlertList(alerts))
}

func (d *Dispatcher) quote(ctx context.Context, from int64, c Quote) error {
	res := d.Resolver.Resolve(ctx, c.Symbol)
	if !res.Found {
		if d.Codes != nil && d.Codes.Contains(res.Instrument) {
			return d.Sender.Text(ctx, from, render.FundWithoutQuote(res.Instrument))
		}
		return d.Sender.Text(ctx, from, render.NotFound(res.Instrument))
	}

	q := d.Quotes.QuoteFor(ctx, res.Price)
	if err := d.Sender.Text(ctx, from, render.Quote(q)); err != nil {
		return err
	}
	d.enrich(ctx, from, res.Instrument)
	return nil
}

// enrich sends whatever enrichment artifacts succeed. Failures are only logged.
func (d *Dispatcher) enrich(ctx context.Context, from int64, instrument string) {
	if d.Enricher == nil {
		return
	}
	for _, r := range d.Enricher.Enrich(ctx, instrument) {
		if !r.OK() {
			logger.Info("Enrichment %s for %s skipped: %v", r.Name, instrument, r.Err)
			continue
		}
		if err := d.Sender.Artifact(ctx, from, *r.Artifact); err != nil {
			logger.Warn("Failed to send %s for %s to %d: %v", r.Name, instrument, from, err)
			if errors.Is(err, models.ErrRecipientUnreachable) {
				return
			}
		}
	}
}
