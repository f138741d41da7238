// Package notifier delivers messages and artifacts to recipients and demotes a
// recipient to inactive when the transport reports it unreachable.
package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
)

// Transport sends to a single chat.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendArtifact(ctx context.Context, chatID int64, a models.Artifact) error
}

// Recipients is the part of the subscriber store the notifier needs.
type Recipients interface {
	DeactivateRecipient(id int64) (bool, error)
	ActiveRecipients() ([]models.Recipient, error)
}

// Notifier wraps a Transport with recipient bookkeeping.
type Notifier struct {
	transport  Transport
	recipients Recipients
}

// New creates a Notifier.
func New(transport Transport, recipients Recipients) *Notifier {
	return &Notifier{transport: transport, recipients: recipients}
}

// Text sends text to one recipient.
func (n *Notifier) Text(ctx context.Context, recipientID int64, text string) error {
	return n.deliver(recipientID, n.transport.SendText(ctx, recipientID, text))
}

// Artifact sends a rendered artifact to one recipient.
func (n *Notifier) Artifact(ctx context.Context, recipientID int64, a models.Artifact) error {
	return n.deliver(recipientID, n.transport.SendArtifact(ctx, recipientID, a))
}

func (n *Notifier) deliver(recipientID int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrRecipientUnreachable) {
		if _, derr := n.recipients.DeactivateRecipient(recipientID); derr != nil {
			logger.Error("Failed to deactivate unreachable recipient %d: %v", recipientID, derr)
		} else {
			logger.Info("Recipient %d deactivated: unreachable", recipientID)
		}
	}
	return err
}

// BroadcastResult counts the outcome of a broadcast.
type BroadcastResult struct {
	Sent        int
	Failed      int
	Deactivated int
}

// Broadcast sends text to every active recipient in turn. A failure for one
// recipient never stops delivery to the others.
func (n *Notifier) Broadcast(ctx context.Context, text string) (BroadcastResult, error) {
	var res BroadcastResult

	recipients, err := n.recipients.ActiveRecipients()
	if err != nil {
		return res, fmt.Errorf("failed to list active recipients: %w", err)
	}

	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := n.Text(ctx, r.ID, text)
		switch {
		case err == nil:
			res.Sent++
		case errors.Is(err, models.ErrRecipientUnreachable):
			res.Deactivated++
		default:
			res.Failed++
			logger.Warn("Broadcast to %d failed: %v", r.ID, err)
		}
	}

	logger.Info("Broadcast delivered to %d/%d recipients (%d deactivated, %d failed)",
		res.Sent, len(recipients), res.Deactivated, res.Failed)
	return res, nil
}
