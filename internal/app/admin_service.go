package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wetmill_sms/internal/domain/message"
	idb "wetmill_sms/internal/infra/database"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrBroadcastUnknown = fmt.Errorf("season-end broadcast does not exist")

// ReportStatus is a scheduled report as shown to admins.
type ReportStatus struct {
	Report     *message.ScheduledReport
	Registered bool
}

type AdminService struct {
	reports         message.ReportRepository
	registry        *ReportRegistry
	scheduler       *ReportScheduler
	broadcasts      *BroadcastService
	scheduled       *ScheduledBroadcastService
	approvals       *ApprovalService
	adminTelegramID int64
}

func NewAdminService(
	reports message.ReportRepository,
	registry *ReportRegistry,
	scheduler *ReportScheduler,
	broadcasts *BroadcastService,
	scheduled *ScheduledBroadcastService,
	approvals *ApprovalService,
	adminID int64,
) *AdminService {
	return &AdminService{
		reports:         reports,
		registry:        registry,
		scheduler:       scheduler,
		broadcasts:      broadcasts,
		scheduled:       scheduled,
		approvals:       approvals,
		adminTelegramID: adminID,
	}
}

// IsAdmin reports whether the Telegram user may run admin commands.
func (s *AdminService) IsAdmin(performingAdminID int64) bool {
	return s.adminTelegramID != 0 && performingAdminID == s.adminTelegramID
}

// ListReports returns every scheduled report with whether a callback handles it.
func (s *AdminService) ListReports(ctx context.Context, performingAdminID int64) ([]ReportStatus, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.reportStatuses(ctx)
}

// Reports is ListReports for callers already authenticated another way (the HTTP API).
func (s *AdminService) Reports(ctx context.Context) ([]ReportStatus, error) {
	return s.reportStatuses(ctx)
}

func (s *AdminService) reportStatuses(ctx context.Context) ([]ReportStatus, error) {
	reports, err := s.reports.ListReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled reports: %w", err)
	}
	out := make([]ReportStatus, len(reports))
	for i, r := range reports {
		_, ok := s.registry.Lookup(r.Slug)
		out[i] = ReportStatus{Report: r, Registered: ok}
	}
	return out, nil
}

// SendSeasonEnd sends a season-end broadcast on an admin's request.
func (s *AdminService) SendSeasonEnd(ctx context.Context, performingAdminID, broadcastID, wetmillID, seasonID int64) (int, error) {
	if !s.IsAdmin(performingAdminID) {
		return 0, ErrAdminNotAuthorized
	}
	return s.SeasonEnd(ctx, broadcastID, wetmillID, seasonID)
}

// SeasonEnd sends a season-end broadcast without the Telegram admin check.
func (s *AdminService) SeasonEnd(ctx context.Context, broadcastID, wetmillID, seasonID int64) (int, error) {
	sent, err := s.broadcasts.Send(ctx, broadcastID, wetmillID, seasonID)
	if errors.Is(err, idb.ErrBroadcastNotFound) {
		return 0, ErrBroadcastUnknown
	}
	return sent, err
}

// ScheduleBroadcast stores a broadcast for the next broadcast check after its send time.
func (s *AdminService) ScheduleBroadcast(ctx context.Context, b *message.Broadcast) error {
	return s.scheduled.Schedule(ctx, b)
}

// SendBroadcasts sends the due scheduled broadcasts immediately.
func (s *AdminService) SendBroadcasts(ctx context.Context, performingAdminID int64, now time.Time) (int, error) {
	if !s.IsAdmin(performingAdminID) {
		return 0, ErrAdminNotAuthorized
	}
	return s.scheduled.SendPending(ctx, now)
}

// CheckReports runs the scheduled report check immediately.
func (s *AdminService) CheckReports(ctx context.Context, performingAdminID int64, now time.Time) (int, error) {
	if !s.IsAdmin(performingAdminID) {
		return 0, ErrAdminNotAuthorized
	}
	return s.scheduler.CheckAll(ctx, now)
}

// ApproveSubmissions runs the approval pass immediately.
func (s *AdminService) ApproveSubmissions(ctx context.Context, performingAdminID int64, now time.Time) (int, error) {
	if !s.IsAdmin(performingAdminID) {
		return 0, ErrAdminNotAuthorized
	}
	return s.approvals.ApproveDue(ctx, now)
}
