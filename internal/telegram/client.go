// Package telegram is the messaging transport: it polls the Bot API for updates and
// delivers MarkdownV2 text and file artifacts to chats.
//
// Sends are paced by a token-bucket limiter and retried with a linear backoff. A chat
// that blocked the bot or no longer exists is reported as models.ErrRecipientUnreachable
// and is never retried.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"golang.org/x/time/rate"
)

// botAPI is the subset of tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// ClientConfig holds transport options.
type ClientConfig struct {
	Token          string
	APIEndpoint    string // optional, e.g. a local Bot API server
	MaxRetries     int
	RetryDelayBase time.Duration
	SendRate       float64 // messages per second across all chats
	UpdateLimit    int
	Debug          bool
}

// Client handles Telegram polling and delivery
type Client struct {
	bot            botAPI
	limiter        *rate.Limiter
	maxRetries     int
	retryDelayBase time.Duration
	updateLimit    int
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new Telegram client
func NewClient(cfg ClientConfig) (*Client, error) {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	logger.Info("Authorized on Telegram as @%s", bot.Self.UserName)

	return newClient(bot, cfg), nil
}

func newClient(bot botAPI, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 25
	}
	if cfg.UpdateLimit <= 0 {
		cfg.UpdateLimit = 100
	}
	return &Client{
		bot:            bot,
		limiter:        rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		updateLimit:    cfg.UpdateLimit,
		sleep:          sleepContext,
	}
}

// GetUpdates returns updates with id >= offset in sequence order. Updates that carry
// no new message, edits included, are returned with SenderID 0 so the caller can still
// advance past them without acting on them.
func (c *Client) GetUpdates(ctx context.Context, offset int) ([]models.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Limit = c.updateLimit
	raw, err := c.bot.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}

	updates := make([]models.Update, 0, len(raw))
	for _, u := range raw {
		updates = append(updates, convertUpdate(u))
	}
	return updates, nil
}

// LatestUpdateID returns the id of the most recent pending update, if any.
func (c *Client) LatestUpdateID(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	cfg := tgbotapi.NewUpdate(-1)
	cfg.Limit = 1
	raw, err := c.bot.GetUpdates(cfg)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get latest update: %w", err)
	}
	if len(raw) == 0 {
		return 0, false, nil
	}
	return raw[len(raw)-1].UpdateID, true, nil
}

func convertUpdate(u tgbotapi.Update) models.Update {
	out := models.Update{ID: u.UpdateID}
	// An edit repeats a command that was already handled.
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return out
	}
	out.SenderID = msg.Chat.ID
	out.Text = msg.Text
	return out
}

// SendText sends a MarkdownV2 message to a chat.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	return c.send(ctx, chatID, msg)
}

// SendArtifact delivers a rendered artifact as text, photo or document.
func (c *Client) SendArtifact(ctx context.Context, chatID int64, a models.Artifact) error {
	switch a.Kind {
	case models.ArtifactText:
		return c.SendText(ctx, chatID, a.Text)
	case models.ArtifactPhoto:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: a.Name, Bytes: a.Data})
		photo.Caption = a.Caption
		photo.ParseMode = tgbotapi.ModeMarkdownV2
		return c.send(ctx, chatID, photo)
	case models.ArtifactDocument:
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: a.Name, Bytes: a.Data})
		doc.Caption = a.Caption
		doc.ParseMode = tgbotapi.ModeMarkdownV2
		return c.send(ctx, chatID, doc)
	default:
		return fmt.Errorf("unknown artifact kind %d", a.Kind)
	}
}

func (c *Client) send(ctx context.Context, chatID int64, msg tgbotapi.Chattable) error {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		wait, retry := classifySendError(err)
		if !retry {
			if errors.Is(wait.err, models.ErrRecipientUnreachable) {
				logger.Warn("Chat %d is unreachable: %v", chatID, err)
			}
			return wait.err
		}
		if i == c.maxRetries-1 {
			break
		}
		delay := wait.delay
		if delay == 0 {
			delay = c.retryDelayBase * time.Duration(i+1)
		}
		logger.Debug("Send to chat %d failed (attempt %d/%d), retrying in %v: %v", chatID, i+1, c.maxRetries, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

type sendFailure struct {
	err   error
	delay time.Duration
}

// classifySendError decides whether a failed send is worth retrying. Blocked or
// missing chats map to ErrRecipientUnreachable; flood control carries its own delay.
func classifySendError(err error) (sendFailure, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return sendFailure{err: err}, true
	}

	desc := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 403:
		return sendFailure{err: fmt.Errorf("%w: %s", models.ErrRecipientUnreachable, apiErr.Message)}, false
	case apiErr.Code == 400 && (strings.Contains(desc, "chat not found") || strings.Contains(desc, "user is deactivated")):
		return sendFailure{err: fmt.Errorf("%w: %s", models.ErrRecipientUnreachable, apiErr.Message)}, false
	case apiErr.Code == 429:
		return sendFailure{err: err, delay: time.Duration(apiErr.RetryAfter) * time.Second}, true
	case apiErr.Code >= 400 && apiErr.Code < 500:
		return sendFailure{err: fmt.Errorf("telegram rejected message: %w", err)}, false
	default:
		return sendFailure{err: err}, true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
