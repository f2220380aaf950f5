package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"wetmill_sms/internal/app"
)

// BackendName is the connection backend for Telegram chats.
const BackendName = "telegram"

const adminHelp = "Admin commands:\n\n" +
	"`/reports`\n - List scheduled reports and whether each has a handler.\n\n" +
	"`/check_reports`\n - Run the scheduled report check now.\n\n" +
	"`/approve`\n - Approve submissions whose correction window has closed.\n\n" +
	"`/season_end <broadcast> <wetmill> <season>`\n - Send a season-end broadcast to one wetmill.\n\n" +
	"`/send_broadcasts`\n - Send the scheduled broadcasts that are due.\n\n" +
	"`/help`\n - Show this message."

const noHelpText = "Hello! This bot delivers wetmill reports. Ask your administrator to register this chat."

// RegisterBotCommands wires /start and /help to the inbound help reply.
func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	inbound *app.InboundService,
	admins *app.AdminService,
	baseLogger *logrus.Entry,
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	reply := func(c telebot.Context, command string) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", command).WithField("sender_id", senderID)
		logCtx.Info("Processing command")

		if command == "/help" && admins.IsAdmin(senderID) {
			return c.Send(adminHelp, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		msg, err := inbound.Handle(ctx, BackendName, chatIdentity(c), c.Text(), languageOf(c.Sender()))
		if err != nil {
			logCtx.WithError(err).Error("Failed to answer command")
			if msg != nil {
				// A message was stored but not delivered; do not answer twice.
				return nil
			}
			return c.Send("Something went wrong. Please try again later.")
		}
		if msg == nil {
			return c.Send(noHelpText)
		}
		return nil
	}

	b.Handle("/start", func(c telebot.Context) error { return reply(c, "/start") })
	b.Handle("/help", func(c telebot.Context) error { return reply(c, "/help") })
}

func chatIdentity(c telebot.Context) string {
	if chat := c.Chat(); chat != nil {
		return strconv.FormatInt(chat.ID, 10)
	}
	return strconv.FormatInt(c.Sender().ID, 10)
}

// languageOf maps a Telegram language code like "en-US" to a locale like "en_us".
func languageOf(u *telebot.User) string {
	if u == nil {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(u.LanguageCode), "-", "_")
}
