package telegram

import (
	"context"
	"fmt"
	"strconv"

	"gopkg.in/telebot.v3"
)

// Sender is the part of *telebot.Bot the backend needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Backend delivers outgoing messages to Telegram chats. Connection
// identities on this backend are chat ids.
type Backend struct {
	bot Sender
}

func NewBackend(b Sender) *Backend {
	return &Backend{bot: b}
}

func (tb *Backend) Name() string { return BackendName }

// Send sends text to the chat and returns the Telegram message id.
func (tb *Backend) Send(ctx context.Context, identity, text string) (string, error) {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", identity, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m, err := tb.bot.Send(&telebot.Chat{ID: chatID}, text, &telebot.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(m.ID), nil
}
