package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wricardo/verifygate/gate/logging"
	"github.com/wricardo/verifygate/gate/service"
)

// DefaultQueueSize bounds the events waiting to be sent
const DefaultQueueSize = 128

var (
	ErrQueueFull = errors.New("telegram queue is full")
	ErrNoChat    = errors.New("telegram chat id is required")
)

// Sender is the part of the bot API used by the notifier
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier forwards failed, timed out and revoked verifications to an admin
// chat. Publish only enqueues; a single worker started by Run does the
// network calls.
type Notifier struct {
	sender Sender
	chatID int64
	queue  chan service.Event
	logger *slog.Logger
}

var _ service.EventSink = (*Notifier)(nil)

// Dial authenticates against the bot API and returns a notifier for chatID
func Dial(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	if chatID == 0 {
		return nil, ErrNoChat
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	return NewNotifier(bot, chatID, DefaultQueueSize, logger), nil
}

// NewNotifier creates a notifier that sends through sender
func NewNotifier(sender Sender, chatID int64, queueSize int, logger *slog.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Notifier{
		sender: sender,
		chatID: chatID,
		queue:  make(chan service.Event, queueSize),
		logger: logging.OrDiscard(logger).With("component", "telegram"),
	}
}

// Publish implements service.EventSink. Events that admins do not care about
// are ignored and a full queue drops the event.
func (n *Notifier) Publish(ctx context.Context, event service.Event) error {
	if !Relevant(event.Type) {
		return nil
	}
	select {
	case n.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run sends queued events until ctx is done
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			if _, err := n.sender.Send(tgbotapi.NewMessage(n.chatID, Format(event))); err != nil {
				n.logger.Warn("telegram send failed", "user_id", event.UserID, "event", event.Type, "error", err)
			}
		}
	}
}

// Relevant reports whether an event type is forwarded
func Relevant(t service.EventType) bool {
	switch t {
	case service.EventFailed, service.EventTimedOut, service.EventRevoked:
		return true
	default:
		return false
	}
}

// Format renders an event as a chat message
func Format(event service.Event) string {
	var what string
	switch event.Type {
	case service.EventFailed:
		what = "failed verification"
	case service.EventTimedOut:
		what = "did not verify in time"
	case service.EventRevoked:
		what = "was removed by an administrator"
	default:
		what = string(event.Type)
	}

	msg := fmt.Sprintf("User %s %s (attempts: %d, at %s)", event.UserID, what, event.Attempts, event.At.UTC().Format("2006-01-02 15:04:05 MST"))
	if event.Reason != "" && event.Type == service.EventRevoked {
		msg += "\nReason: " + event.Reason
	}
	return msg
}
