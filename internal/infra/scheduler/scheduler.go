package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReportChecker runs every due scheduled report.
type ReportChecker interface {
	CheckAll(ctx context.Context, now time.Time) (int, error)
}

// SubmissionApprover approves submissions whose correction window has closed.
type SubmissionApprover interface {
	ApproveDue(ctx context.Context, now time.Time) (int, error)
}

// BroadcastSender sends the scheduled broadcasts that are due.
type BroadcastSender interface {
	SendPending(ctx context.Context, now time.Time) (int, error)
}

type Specs struct {
	ReportCheck    string // e.g., "0 * * * *" (top of every hour)
	ApprovalCheck  string // e.g., "*/5 * * * *" (every 5 minutes)
	BroadcastCheck string // e.g., "* * * * *" (every minute)
}

type Scheduler struct {
	cronEngine *cron.Cron
	reports    ReportChecker
	approvals  SubmissionApprover
	broadcasts BroadcastSender
	logger     *logrus.Entry
	specs      Specs
	now        func() time.Time
}

func New(
	reports ReportChecker,
	approvals SubmissionApprover,
	broadcasts BroadcastSender,
	loc *time.Location,
	specs Specs,
	logger *logrus.Entry,
) *Scheduler {
	return &Scheduler{
		cronEngine: cron.New(cron.WithLocation(loc)),
		reports:    reports,
		approvals:  approvals,
		broadcasts: broadcasts,
		logger:     logger,
		specs:      specs,
		now:        time.Now,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler...")

	if _, err := s.cronEngine.AddFunc(s.specs.ReportCheck, s.CheckReports); err != nil {
		return fmt.Errorf("could not add report check job: %w", err)
	}
	if _, err := s.cronEngine.AddFunc(s.specs.ApprovalCheck, s.ApproveSubmissions); err != nil {
		return fmt.Errorf("could not add approval job: %w", err)
	}
	if _, err := s.cronEngine.AddFunc(s.specs.BroadcastCheck, s.SendBroadcasts); err != nil {
		return fmt.Errorf("could not add broadcast job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"report_check":    s.specs.ReportCheck,
		"approval_check":  s.specs.ApprovalCheck,
		"broadcast_check": s.specs.BroadcastCheck,
	}).Info("Scheduler started with jobs.")
	return nil
}

// CheckReports is the report job. Exported so it can be triggered once from the CLI.
func (s *Scheduler) CheckReports() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	sent, err := s.reports.CheckAll(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).Error("Error during scheduled report check")
		return
	}
	s.logger.WithField("dispatched", sent).Info("Scheduled report check finished")
}

func (s *Scheduler) ApproveSubmissions() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	approved, err := s.approvals.ApproveDue(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).Error("Error during submission approval")
		return
	}
	if approved > 0 {
		s.logger.WithField("approved", approved).Info("Submissions approved")
	}
}

// SendBroadcasts is the broadcast job. Each broadcast holds its own lease,
// so overlapping runs on several instances are safe.
func (s *Scheduler) SendBroadcasts() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	sent, err := s.broadcasts.SendPending(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).Error("Error during broadcast check")
		return
	}
	if sent > 0 {
		s.logger.WithField("broadcasts", sent).Info("Scheduled broadcasts sent")
	}
}

func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Scheduler gracefully stopped.")
}
