package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/infra/logger"
	"wetmill_sms/internal/infra/observability"
)

// Locker is a lease shared by every process that may run reports.
type Locker interface {
	// TryLock takes key for ttl without waiting. acquired is false when
	// another holder has it; unlock is only set when acquired.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

type ReportSchedulerOptions struct {
	LockTTL time.Duration
	// Watermark skips reports already dispatched in the current local hour.
	Watermark bool
}

// ReportScheduler fires due scheduled reports.
type ReportScheduler struct {
	reports  message.ReportRepository
	registry *ReportRegistry
	locker   Locker
	loc      *time.Location
	opts     ReportSchedulerOptions
	logger   *logrus.Entry
}

func NewReportScheduler(
	reports message.ReportRepository,
	registry *ReportRegistry,
	locker Locker,
	loc *time.Location,
	opts ReportSchedulerOptions,
	logger *logrus.Entry,
) *ReportScheduler {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 300 * time.Second
	}
	return &ReportScheduler{
		reports:  reports,
		registry: registry,
		locker:   locker,
		loc:      loc,
		opts:     opts,
		logger:   logger,
	}
}

// CheckAll runs every active report due at now in the site timezone and
// returns how many callbacks completed. One report's failure never stops the
// others.
func (s *ReportScheduler) CheckAll(ctx context.Context, now time.Time) (int, error) {
	local := now.In(s.loc)
	reports, err := s.reports.ListActiveReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active reports: %w", err)
	}

	sent := 0
	for _, report := range reports {
		if !report.IsDue(local) {
			continue
		}
		if s.run(ctx, report, local) {
			sent++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"local_time": local.Format("Mon 15:04"),
		"reports":    len(reports),
		"sent":       sent,
	}).Info("Checked scheduled reports")
	return sent, nil
}

func (s *ReportScheduler) run(ctx context.Context, report *message.ScheduledReport, local time.Time) (ok bool) {
	key := "scheduled-report:" + report.Slug
	log := logger.ForLock(logger.ForReport(s.logger, report.Slug), key)

	cb, found := s.registry.Lookup(report.Slug)
	if !found {
		log.Error("No callback registered for scheduled report")
		observability.ReportsDispatched.WithLabelValues("unregistered").Inc()
		return false
	}
	if s.opts.Watermark && report.DispatchedDuringHourOf(local) {
		log.Debug("Scheduled report already dispatched this hour")
		observability.ReportsDispatched.WithLabelValues("skipped").Inc()
		return false
	}

	unlock, acquired, err := s.locker.TryLock(ctx, key, s.opts.LockTTL)
	if err != nil {
		log.WithError(err).Error("Failed to take scheduled report lock")
		observability.ReportsDispatched.WithLabelValues("error").Inc()
		return false
	}
	if !acquired {
		log.Info("Scheduled report is being sent by another worker")
		observability.ReportsDispatched.WithLabelValues("locked").Inc()
		return false
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release scheduled report lock")
		}
	}()

	if s.opts.Watermark {
		fresh, err := s.reports.GetReportBySlug(ctx, report.Slug)
		if err != nil {
			log.WithError(err).Error("Failed to reload scheduled report")
			observability.ReportsDispatched.WithLabelValues("error").Inc()
			return false
		}
		if fresh.DispatchedDuringHourOf(local) {
			log.Debug("Scheduled report dispatched by another worker this hour")
			observability.ReportsDispatched.WithLabelValues("skipped").Inc()
			return false
		}
	}

	if err := safeCall(ctx, cb, report); err != nil {
		log.WithError(err).Error("Scheduled report callback failed")
		observability.ReportsDispatched.WithLabelValues("error").Inc()
		return false
	}

	if s.opts.Watermark {
		if err := s.reports.MarkReportDispatched(ctx, report.ID, local); err != nil {
			log.WithError(err).Warn("Failed to record scheduled report dispatch")
		}
	}
	log.Info("Scheduled report sent")
	observability.ReportsDispatched.WithLabelValues("sent").Inc()
	return true
}

func safeCall(ctx context.Context, cb ReportCallback, report *message.ScheduledReport) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback panicked: %v", p)
		}
	}()
	return cb(ctx, report)
}
