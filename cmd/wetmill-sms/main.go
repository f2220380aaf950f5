// Package main is the wetmill SMS service. It sends scheduled reports and
// broadcasts, approves submissions and answers help requests over SMS and Telegram.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"

	"wetmill_sms/internal/infra/config"
	idb "wetmill_sms/internal/infra/database"
	"wetmill_sms/internal/infra/httpserver"
	"wetmill_sms/internal/infra/logger"
	"wetmill_sms/internal/infra/observability"
	"wetmill_sms/internal/infra/router"
	"wetmill_sms/internal/infra/scheduler"
	"wetmill_sms/internal/infra/telegram"
	"wetmill_sms/internal/infra/twilio"
)

const (
	Version = "0.1.0"
	appName = "wetmill-sms"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Wetmill SMS reports and broadcasts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler, Telegram bot and HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(cfg *config.AppConfig, db *sql.DB, svc *services) error {
					return serve(cmd.Context(), cfg, db, svc)
				})
			},
		},
		&cobra.Command{
			Use:   "check-reports",
			Short: "Run every scheduled report due this hour, once",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(_ *config.AppConfig, _ *sql.DB, svc *services) error {
					sent, err := svc.reports.CheckAll(cmd.Context(), time.Now())
					if err != nil {
						return err
					}
					logger.Log.WithField("dispatched", sent).Info("Scheduled report check finished")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "approve-submissions",
			Short: "Approve submissions whose correction window has closed, once",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(_ *config.AppConfig, _ *sql.DB, svc *services) error {
					approved, err := svc.approvals.ApproveDue(cmd.Context(), time.Now())
					if err != nil {
						return err
					}
					logger.Log.WithField("approved", approved).Info("Approval pass finished")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "send-broadcasts",
			Short: "Send every scheduled broadcast that is due, once",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(_ *config.AppConfig, _ *sql.DB, svc *services) error {
					sent, err := svc.broadcasts.SendPending(cmd.Context(), time.Now())
					if err != nil {
						return err
					}
					logger.Log.WithField("broadcasts", sent).Info("Broadcast check finished")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				db, err := openDatabase(cfg)
				if err != nil {
					return err
				}
				defer db.Close()

				n, err := idb.Migrate(db)
				if err != nil {
					return err
				}
				logger.Log.WithField("applied", n).Info("Migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg)
	return cfg, nil
}

// withApp loads configuration, connects to the database and builds the
// service graph before running fn.
func withApp(fn func(cfg *config.AppConfig, db *sql.DB, svc *services) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Log.Info("Database connection established successfully.")

	svc, err := buildServices(cfg, db)
	if err != nil {
		return err
	}
	return fn(cfg, db, svc)
}

func serve(parent context.Context, cfg *config.AppConfig, db *sql.DB, svc *services) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.Register(prometheus.DefaultRegisterer)

	sched := scheduler.New(svc.reports, svc.approvals, svc.broadcasts, svc.loc, scheduler.Specs{
		ReportCheck:    cfg.CronSpecReportCheck,
		ApprovalCheck:  cfg.CronSpecApprovalCheck,
		BroadcastCheck: cfg.CronSpecBroadcastCheck,
	}, logger.Component("scheduler"))
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.TelegramToken != "" {
		bot, err := newBot(cfg)
		if err != nil {
			return err
		}
		svc.router.Handle(&router.Route{Backend: telegram.NewBackend(bot), Breaker: router.NewBreaker("telegram")}, telegram.BackendName)

		botLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(ctx, bot, svc.inbound, svc.admin, botLogger)
		telegram.RegisterAdminHandlers(ctx, bot, svc.admin, botLogger)
		telegram.RegisterTextHandlers(ctx, bot, svc.inbound, botLogger)

		g.Go(func() error {
			logger.Log.Info("Telegram bot starting")
			bot.Start()
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			bot.Stop()
			return nil
		})
	} else {
		logger.Log.Warn("TELEGRAM_TOKEN is not set; the Telegram bot is disabled")
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           newHTTPHandler(cfg, db, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Log.WithField("port", cfg.HTTPPort).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Log.Info("Application shut down gracefully.")
	return err
}

func newBot(cfg *config.AppConfig) (*telebot.Bot, error) {
	botLogger := logger.Component("telebot")
	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := botLogger.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID).WithField("chat_id", c.Chat().ID)
			}
			entry.Error("Telegram handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create Telegram bot: %w", err)
	}
	return bot, nil
}

func newHTTPHandler(cfg *config.AppConfig, db *sql.DB, svc *services) http.Handler {
	srv := httpserver.New()
	srv.Mux.Use(httpserver.Logging(logger.Component("http")), httpserver.Metrics(observability.APIRequests))
	srv.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	srv.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		func(c context.Context) error { return idb.Ping(c, db) },
	)).Methods(http.MethodGet)

	if cfg.TwilioEnabled() {
		(&httpserver.Webhook{
			Inbound:         svc.inbound,
			VerifySignature: twilio.VerifySignature,
			AuthToken:       cfg.TwilioAuthToken,
			PublicURL:       cfg.PublicWebhookURL,
			Backend:         cfg.TwilioInboundBackend,
			Logger:          logger.Component("webhook"),
		}).Register(srv.Mux)
	}

	admin := srv.Mux.PathPrefix("/v1").Subrouter()
	admin.Use(httpserver.BearerAuth(cfg.AdminToken))
	(&httpserver.API{Admin: svc.admin, Logger: logger.Component("api")}).Register(admin)

	return srv.Mux
}
