package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Site-wide timezone every report schedule is evaluated in.
	SiteTimeZone    string `envconfig:"SITE_TIME_ZONE" default:"Africa/Kigali"`
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"en_us"`

	CronSpecReportCheck    string `envconfig:"CRON_SPEC_REPORT_CHECK" default:"0 * * * *"`
	CronSpecApprovalCheck  string `envconfig:"CRON_SPEC_APPROVAL_CHECK" default:"*/5 * * * *"`
	CronSpecBroadcastCheck string `envconfig:"CRON_SPEC_BROADCAST_CHECK" default:"* * * * *"`

	ApprovalWindow   time.Duration `envconfig:"APPROVAL_WINDOW" default:"59m"`
	ApprovalLookback time.Duration `envconfig:"APPROVAL_LOOKBACK" default:"2160h"`
	ReportLockTTL    time.Duration `envconfig:"REPORT_LOCK_TTL" default:"300s"`
	ReportWatermark  bool          `envconfig:"REPORT_WATERMARK" default:"true"`
	BroadcastLockTTL time.Duration `envconfig:"BROADCAST_LOCK_TTL" default:"300s"`

	HTTPPort   string `envconfig:"HTTP_PORT" default:"8080"`
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	TelegramToken   string `envconfig:"TELEGRAM_TOKEN"`
	AdminTelegramID int64  `envconfig:"ADMIN_TELEGRAM_ID"`

	TwilioAccountSID          string  `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken           string  `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioMessagingServiceSID string  `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	TwilioFromNumber          string  `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL             string  `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	TwilioRPS                 float64 `envconfig:"TWILIO_RPS" default:"5"`
	TwilioBurst               int     `envconfig:"TWILIO_BURST" default:"10"`
	PublicWebhookURL          string  `envconfig:"PUBLIC_WEBHOOK_URL"`
	// Backend name inbound Twilio messages are recorded under.
	TwilioInboundBackend      string  `envconfig:"TWILIO_INBOUND_BACKEND" default:"tns"`

	// Backend names whose connections are phone numbers delivered through Twilio.
	SMSBackends []string `envconfig:"SMS_BACKENDS" default:"tns,tz,et,ss,ke"`
	// Backend name to country code, e.g. tns:RW.
	BackendCountries map[string]string `envconfig:"BACKEND_COUNTRIES" default:"tns:RW,tz:TZ,et:ET,ss:SS,ke:KE"`
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"CRON_SPEC_REPORT_CHECK":    c.CronSpecReportCheck,
		"CRON_SPEC_APPROVAL_CHECK":  c.CronSpecApprovalCheck,
		"CRON_SPEC_BROADCAST_CHECK": c.CronSpecBroadcastCheck,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}
	if c.ApprovalWindow <= 0 {
		return fmt.Errorf("APPROVAL_WINDOW must be positive")
	}
	if c.ReportLockTTL <= 0 {
		return fmt.Errorf("REPORT_LOCK_TTL must be positive")
	}
	if c.BroadcastLockTTL <= 0 {
		return fmt.Errorf("BROADCAST_LOCK_TTL must be positive")
	}
	return nil
}

// Location is the site timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SiteTimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid SITE_TIME_ZONE %q: %w", c.SiteTimeZone, err)
	}
	return loc, nil
}

// TwilioEnabled reports whether SMS backends can be served.
func (c *AppConfig) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" &&
		(c.TwilioFromNumber != "" || c.TwilioMessagingServiceSID != "")
}

// CountryForBackend maps a backend name to its country code.
func (c *AppConfig) CountryForBackend(backend string) (string, bool) {
	code, ok := c.BackendCountries[backend]
	return code, ok
}
