package telegram

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"wetmill_sms/internal/app"
)

// RegisterTextHandlers answers any other text with the applicable help message.
func RegisterTextHandlers(ctx context.Context, b *telebot.Bot, inbound *app.InboundService, baseLogger *logrus.Entry) {
	b.Handle(telebot.OnText, func(c telebot.Context) error {
		text := strings.TrimSpace(c.Text())
		if strings.HasPrefix(text, "/") {
			// Unknown commands get the same help as free text.
			text = strings.Fields(text)[0]
		}

		_, err := inbound.Handle(ctx, BackendName, chatIdentity(c), text, languageOf(c.Sender()))
		if err != nil {
			baseLogger.WithError(err).WithField("sender_id", c.Sender().ID).Error("Failed to answer text message")
		}
		return nil
	})
}
