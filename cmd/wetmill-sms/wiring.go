package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"wetmill_sms/internal/app"
	"wetmill_sms/internal/infra/config"
	idb "wetmill_sms/internal/infra/database"
	"wetmill_sms/internal/infra/logger"
	"wetmill_sms/internal/infra/router"
	"wetmill_sms/internal/infra/twilio"
)

// services is the application graph shared by every command.
type services struct {
	loc *time.Location

	router *router.Router

	reports    *app.ReportScheduler
	approvals  *app.ApprovalService
	broadcasts *app.ScheduledBroadcastService
	inbound    *app.InboundService
	admin      *app.AdminService
}

func buildServices(cfg *config.AppConfig, db *sql.DB) (*services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Initialize Repositories
	actorRepo := idb.NewPostgresActorRepository(db)
	messageRepo := idb.NewPostgresMessageRepository(db)
	outgoingRepo := idb.NewPostgresOutgoingRepository(db)
	submissionRepo := idb.NewPostgresSubmissionRepository(db)
	wetmillRepo := idb.NewPostgresWetmillRepository(db)
	locker := idb.NewPostgresLocker(db, logger.Component("locker"))

	outRouter := router.New(outgoingRepo, logger.Component("router"))
	if cfg.TwilioEnabled() {
		client := &twilio.Client{
			AccountSID:          cfg.TwilioAccountSID,
			AuthToken:           cfg.TwilioAuthToken,
			HTTP:                &http.Client{Timeout: 10 * time.Second},
			MessagingServiceSID: cfg.TwilioMessagingServiceSID,
			FromNumber:          cfg.TwilioFromNumber,
			BaseURL:             cfg.TwilioBaseURL,
		}
		outRouter.Handle(&router.Route{
			Backend: client,
			Limiter: rate.NewLimiter(rate.Limit(cfg.TwilioRPS), cfg.TwilioBurst),
			Breaker: router.NewBreaker("twilio"),
		}, cfg.SMSBackends...)
		logger.Log.WithField("backends", cfg.SMSBackends).Info("SMS backends routed through Twilio")
	} else {
		logger.Log.Warn("Twilio is not configured; SMS connections will fail to send")
	}

	renderer := app.NewRenderer(loc, logger.Component("renderer"))
	dispatcher := app.NewDispatcher(outRouter, logger.Component("dispatcher"))
	resolver := app.NewRecipientResolver(actorRepo, cfg.DefaultLanguage)

	blurbs := app.NewBlurbService(messageRepo, renderer, logger.Component("blurbs"))
	ccs := app.NewCCService(messageRepo, resolver, renderer, dispatcher, logger.Component("ccs"))
	help := app.NewHelpService(messageRepo, actorRepo, renderer, dispatcher, logger.Component("help"))
	broadcasts := app.NewBroadcastService(messageRepo, wetmillRepo, resolver, renderer, dispatcher, logger.Component("season_end"))
	confirmations := app.NewConfirmationService(submissionRepo, wetmillRepo, ccs, logger.Component("confirmations"))
	approvals := app.NewApprovalService(submissionRepo, confirmations, app.ApprovalOptions{
		Window:   cfg.ApprovalWindow,
		Lookback: cfg.ApprovalLookback,
	}, logger.Component("approvals"))

	registry := app.NewReportRegistry()
	reminders := app.NewReminderService(submissionRepo, wetmillRepo, resolver, blurbs, dispatcher, loc, logger.Component("reminders"))
	reminders.Register(registry)

	reports := app.NewReportScheduler(messageRepo, registry, locker, loc, app.ReportSchedulerOptions{
		LockTTL:   cfg.ReportLockTTL,
		Watermark: cfg.ReportWatermark,
	}, logger.Component("reports"))

	scheduled := app.NewScheduledBroadcastService(messageRepo, wetmillRepo, submissionRepo, resolver, renderer, dispatcher, locker, loc,
		app.ScheduledBroadcastOptions{LockTTL: cfg.BroadcastLockTTL}, logger.Component("broadcasts"))

	inbound := app.NewInboundService(outgoingRepo, wetmillRepo, help, cfg.BackendCountries, cfg.DefaultLanguage, logger.Component("inbound"))
	admin := app.NewAdminService(messageRepo, registry, reports, broadcasts, scheduled, approvals, cfg.AdminTelegramID)

	logger.Log.WithField("reports", registry.Slugs()).Info("Scheduled report callbacks registered")

	return &services{
		loc:        loc,
		router:     outRouter,
		reports:    reports,
		approvals:  approvals,
		broadcasts: scheduled,
		inbound:    inbound,
		admin:      admin,
	}, nil
}

func openDatabase(cfg *config.AppConfig) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return db, nil
}
