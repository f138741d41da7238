package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/marketpulse/internal/bot"
	"github.com/rewired-gh/marketpulse/internal/market"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedResolver struct{ price float64 }

func (r fixedResolver) Resolve(_ context.Context, raw string) market.Resolution {
	inst := market.Normalize(raw)
	return market.Resolution{
		Input:      raw,
		Instrument: inst,
		Price:      models.Price{Instrument: inst, Value: r.price, Freshness: models.Fresh},
		Found:      true,
	}
}

type passQuotes struct{}

func (passQuotes) QuoteFor(_ context.Context, p models.Price) models.Quote {
	return models.Quote{Price: p}
}

type discardSender struct{ texts int }

func (s *discardSender) Text(context.Context, int64, string) error { s.texts++; return nil }

func (s *discardSender) Artifact(context.Context, int64, models.Artifact) error { return nil }

type emptyValuer struct{}

func (emptyValuer) Value(context.Context, []models.Position) models.Valuation {
	return models.Valuation{}
}

func TestEditedAddIsNotAppliedAgain(t *testing.T) {
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	chat := &tgbotapi.Chat{ID: 42}
	fb := &fakeBot{updates: []tgbotapi.Update{
		{UpdateID: 1, Message: &tgbotapi.Message{MessageID: 77, Text: "/add ABCD 100", Chat: chat}},
		{UpdateID: 2, EditedMessage: &tgbotapi.Message{MessageID: 77, Text: "/add ABCD 10", Chat: chat}},
	}}
	client, _ := newTestClient(fb)
	sender := &discardSender{}

	d := bot.NewDispatcher(bot.Deps{
		Transport: client,
		Store:     store,
		Resolver:  fixedResolver{price: 5},
		Quotes:    passQuotes{},
		Sender:    sender,
		Valuer:    emptyValuer{},
	}, bot.Config{Separator: "."})

	handled, err := d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, 3, d.Cursor(), "the edit is skipped but still acknowledged")
	assert.Equal(t, 1, sender.texts)

	pos, err := store.GetPosition(42, "ABCD")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)), "quantity %s", pos.Quantity)
}
