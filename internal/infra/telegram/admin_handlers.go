package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"wetmill_sms/internal/app"
)

const unauthorizedText = "Error: you are not allowed to run this command."

// RegisterAdminHandlers registers handlers for admin commands.
// It requires the bot instance, admin service, and the configured admin Telegram ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	b.Handle("/reports", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/reports",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		reports, err := adminService.ListReports(ctx, c.Sender().ID)
		if err != nil {
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedText)
			}
			handlerLogger.WithError(err).Error("Failed to list reports")
			return c.Send(fmt.Sprintf("Failed to list reports: %s", err.Error()))
		}
		return c.Send(FormatReports(reports))
	})

	b.Handle("/check_reports", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/check_reports",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		sent, err := adminService.CheckReports(ctx, c.Sender().ID, time.Now())
		if err != nil {
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedText)
			}
			handlerLogger.WithError(err).Error("Report check failed")
			return c.Send(fmt.Sprintf("Report check failed: %s", err.Error()))
		}
		return c.Send(fmt.Sprintf("Report check done, %d report(s) dispatched.", sent))
	})

	b.Handle("/approve", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/approve",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		approved, err := adminService.ApproveSubmissions(ctx, c.Sender().ID, time.Now())
		if err != nil {
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedText)
			}
			handlerLogger.WithError(err).Error("Approval pass failed")
			return c.Send(fmt.Sprintf("Approval pass failed: %s", err.Error()))
		}
		return c.Send(fmt.Sprintf("%d submission(s) approved.", approved))
	})

	b.Handle("/send_broadcasts", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/send_broadcasts",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		sent, err := adminService.SendBroadcasts(ctx, c.Sender().ID, time.Now())
		if err != nil {
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedText)
			}
			handlerLogger.WithError(err).Error("Broadcast check failed")
			return c.Send(fmt.Sprintf("Broadcast check failed: %s", err.Error()))
		}
		return c.Send(fmt.Sprintf("%d broadcast(s) sent.", sent))
	})

	b.Handle("/season_end", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/season_end",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !adminService.IsAdmin(c.Sender().ID) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedText)
		}

		ids, err := ParseIDs(c.Args(), 3)
		if err != nil {
			handlerLogger.WithField("args", c.Args()).Warn("Invalid command format")
			return c.Send("Usage: /season_end <broadcast> <wetmill> <season>")
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{
			"broadcast_id": ids[0],
			"wetmill_id":   ids[1],
			"season_id":    ids[2],
		})

		sent, err := adminService.SendSeasonEnd(ctx, c.Sender().ID, ids[0], ids[1], ids[2])
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send(unauthorizedText)
			case errors.Is(err, app.ErrBroadcastUnknown):
				logWithError.Warn("Broadcast not found")
				return c.Send(fmt.Sprintf("Season-end broadcast %d does not exist.", ids[0]))
			default:
				logWithError.Error("Failed to send season-end broadcast")
				return c.Send(fmt.Sprintf("Failed to send the broadcast: %s", err.Error()))
			}
		}

		handlerLogger.WithField("sent", sent).Info("Season-end broadcast sent")
		return c.Send(fmt.Sprintf("Broadcast sent to %d recipient(s).", sent))
	})
}

// ParseIDs parses exactly n positive integer arguments.
func ParseIDs(args []string, n int) ([]int64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	ids := make([]int64, n)
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("argument %d: %q is not an id", i+1, a)
		}
		ids[i] = id
	}
	return ids, nil
}

// FormatReports renders the /reports answer.
func FormatReports(reports []app.ReportStatus) string {
	if len(reports) == 0 {
		return "No scheduled reports."
	}

	var response strings.Builder
	response.WriteString("--- Scheduled reports ---\n")
	for _, s := range reports {
		r := s.Report
		status := "inactive"
		if r.IsActive {
			status = "active"
		}
		if !s.Registered {
			status += ", no handler"
		}
		last := "never"
		if r.LastDispatchedAt.Valid {
			last = r.LastDispatchedAt.Time.Format("2006-01-02 15:04")
		}
		response.WriteString(fmt.Sprintf("%s (%s): %s at %02d:00, %s, last sent %s\n",
			r.Name, r.Slug, r.Day.Label(), r.Hour, status, last))
	}
	return response.String()
}
