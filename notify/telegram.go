package notify

import (
	"context"

	"github.com/mymmrac/telego"

	"github.com/robertclapp/accessai-sub004/errors"
)

// MessageSender is the part of the Telegram bot API the notifier needs.
// *telego.Bot satisfies it; tests substitute a fake.
type MessageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramNotifier posts notifications to one or more Telegram chats
type TelegramNotifier struct {
	sender  MessageSender
	chatIDs []int64
}

// NewTelegramNotifier creates a notifier backed by a telego bot
func NewTelegramNotifier(token string, chatIDs []int64) (*TelegramNotifier, error) {
	if len(chatIDs) == 0 {
		return nil, errors.NewInvalidRequestError("telegram notifier needs at least one chat id")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}
	return NewTelegramNotifierWithSender(bot, chatIDs), nil
}

// NewTelegramNotifierWithSender creates a notifier with an explicit sender
func NewTelegramNotifierWithSender(sender MessageSender, chatIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatIDs: chatIDs}
}

// Notify sends the message to every chat. A failing chat does not stop the others.
func (t *TelegramNotifier) Notify(ctx context.Context, n Notification) error {
	text := n.Message()

	var combined error
	for _, chatID := range t.chatIDs {
		_, err := t.sender.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: chatID},
			Text:   text,
		})
		if err != nil {
			combined = errors.CombineErrors(combined, errors.Wrapf(err, "telegram chat %d", chatID))
		}
	}
	return combined
}
