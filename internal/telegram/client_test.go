package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	sendErrs []error
	sent     []tgbotapi.Chattable
	updates  []tgbotapi.Update
	configs  []tgbotapi.UpdateConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.configs = append(f.configs, cfg)
	var out []tgbotapi.Update
	for _, u := range f.updates {
		if cfg.Offset < 0 || u.UpdateID >= cfg.Offset {
			out = append(out, u)
		}
	}
	if cfg.Offset < 0 && len(out) > 0 {
		out = out[len(out)-1:]
	}
	return out, nil
}

func newTestClient(bot *fakeBot) (*Client, *[]time.Duration) {
	c := newClient(bot, ClientConfig{MaxRetries: 3, RetryDelayBase: time.Second, SendRate: 1000})
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func apiError(code int, msg string, retryAfter int) error {
	return &tgbotapi.Error{Code: code, Message: msg, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: retryAfter}}
}

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		retry       bool
		unreachable bool
		delay       time.Duration
	}{
		{"network", errors.New("connection reset"), true, false, 0},
		{"blocked", apiError(403, "Forbidden: bot was blocked by the user", 0), false, true, 0},
		{"chat not found", apiError(400, "Bad Request: chat not found", 0), false, true, 0},
		{"bad markup", apiError(400, "Bad Request: can't parse entities", 0), false, false, 0},
		{"flood", apiError(429, "Too Many Requests: retry after 7", 7), true, false, 7 * time.Second},
		{"server", apiError(502, "Bad Gateway", 0), true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, retry := classifySendError(tt.err)
			assert.Equal(t, tt.retry, retry)
			assert.Equal(t, tt.unreachable, errors.Is(f.err, models.ErrRecipientUnreachable))
			assert.Equal(t, tt.delay, f.delay)
		})
	}
}

func TestSendTextRetriesLinearly(t *testing.T) {
	bot := &fakeBot{sendErrs: []error{errors.New("timeout"), errors.New("timeout"), nil}}
	c, slept := newTestClient(bot)

	require.NoError(t, c.SendText(context.Background(), 42, "hello"))
	assert.Len(t, bot.sent, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)

	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
}

func TestSendTextUnreachableIsNotRetried(t *testing.T) {
	bot := &fakeBot{sendErrs: []error{apiError(403, "Forbidden: bot was blocked by the user", 0)}}
	c, slept := newTestClient(bot)

	err := c.SendText(context.Background(), 42, "hello")
	assert.ErrorIs(t, err, models.ErrRecipientUnreachable)
	assert.Len(t, bot.sent, 1)
	assert.Empty(t, *slept)
}

func TestSendTextHonorsRetryAfter(t *testing.T) {
	bot := &fakeBot{sendErrs: []error{apiError(429, "Too Many Requests", 3), nil}}
	c, slept := newTestClient(bot)

	require.NoError(t, c.SendText(context.Background(), 1, "x"))
	assert.Equal(t, []time.Duration{3 * time.Second}, *slept)
}

func TestSendTextGivesUp(t *testing.T) {
	bot := &fakeBot{sendErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	c, slept := newTestClient(bot)

	err := c.SendText(context.Background(), 1, "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrRecipientUnreachable)
	assert.Len(t, bot.sent, 3)
	assert.Len(t, *slept, 2)
}

func TestSendArtifactKinds(t *testing.T) {
	bot := &fakeBot{}
	c, _ := newTestClient(bot)
	ctx := context.Background()

	require.NoError(t, c.SendArtifact(ctx, 7, models.Artifact{Kind: models.ArtifactText, Text: "digest"}))
	require.NoError(t, c.SendArtifact(ctx, 7, models.Artifact{Kind: models.ArtifactDocument, Name: "h.csv", Data: []byte("a,b"), Caption: "history"}))
	require.NoError(t, c.SendArtifact(ctx, 7, models.Artifact{Kind: models.ArtifactPhoto, Name: "c.png", Data: []byte{1}}))
	assert.Error(t, c.SendArtifact(ctx, 7, models.Artifact{Kind: models.ArtifactKind(99)}))

	require.Len(t, bot.sent, 3)
	_, isMsg := bot.sent[0].(tgbotapi.MessageConfig)
	assert.True(t, isMsg)
	doc, isDoc := bot.sent[1].(tgbotapi.DocumentConfig)
	require.True(t, isDoc)
	assert.Equal(t, "history", doc.Caption)
	_, isPhoto := bot.sent[2].(tgbotapi.PhotoConfig)
	assert.True(t, isPhoto)
}

func TestGetUpdatesConvertsMessages(t *testing.T) {
	bot := &fakeBot{updates: []tgbotapi.Update{
		{UpdateID: 10, Message: &tgbotapi.Message{Text: "/start", Chat: &tgbotapi.Chat{ID: 42}}},
		{UpdateID: 11},
		{UpdateID: 12, EditedMessage: &tgbotapi.Message{Text: "THYAO", Chat: &tgbotapi.Chat{ID: 43}}},
	}}
	c, _ := newTestClient(bot)

	got, err := c.GetUpdates(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []models.Update{
		{ID: 10, SenderID: 42, Text: "/start"},
		{ID: 11},
		{ID: 12},
	}, got)
	assert.Equal(t, 100, bot.configs[0].Limit)

	got, err = c.GetUpdates(context.Background(), 12)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLatestUpdateID(t *testing.T) {
	bot := &fakeBot{}
	c, _ := newTestClient(bot)

	_, ok, err := c.LatestUpdateID(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	bot.updates = []tgbotapi.Update{{UpdateID: 5}, {UpdateID: 9}}
	id, ok, err := c.LatestUpdateID(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, id)
	assert.Equal(t, -1, bot.configs[len(bot.configs)-1].Offset)
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
