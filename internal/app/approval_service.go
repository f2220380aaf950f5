package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/submission"
	"wetmill_sms/internal/infra/observability"
)

// Confirmer runs the side effects of an approved submission.
type Confirmer interface {
	Confirm(ctx context.Context, s *submission.Submission) error
}

type ApprovalOptions struct {
	// Window is how long a submission stays open to correction.
	Window time.Duration
	// Lookback bounds how far back pending submissions are scanned.
	Lookback time.Duration
}

// ApprovalService approves submissions once their correction window closes.
type ApprovalService struct {
	submissions submission.Repository
	confirmer   Confirmer
	rules       map[submission.Kind]submission.Rule
	opts        ApprovalOptions
	logger      *logrus.Entry
}

func NewApprovalService(submissions submission.Repository, confirmer Confirmer, opts ApprovalOptions, logger *logrus.Entry) *ApprovalService {
	if opts.Window <= 0 {
		opts.Window = 59 * time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 90 * 24 * time.Hour
	}
	return &ApprovalService{
		submissions: submissions,
		confirmer:   confirmer,
		rules:       submission.Rules,
		opts:        opts,
		logger:      logger,
	}
}

// Evaluate reports whether s may be approved at now.
func (a *ApprovalService) Evaluate(ctx context.Context, s *submission.Submission, now time.Time) (bool, error) {
	if s.Approved {
		return false, nil
	}
	closes := s.CreatedAt.Add(a.opts.Window)
	if now.Before(closes) {
		return false, nil
	}

	superseded, err := a.submissions.ExistsCreatedBetween(ctx, s, s.CreatedAt, closes)
	if err != nil {
		return false, fmt.Errorf("failed to check for corrections of submission %d: %w", s.ID, err)
	}
	if superseded {
		return false, nil
	}

	rule, ok := a.rules[s.Kind]
	if !ok {
		return true, nil
	}
	if rule.Prerequisite != "" && rule.Prerequisite != s.Kind {
		found, err := a.submissions.ExistsApprovedBefore(ctx, rule.Prerequisite, s.WetmillID, s.SeasonID, s.PrerequisiteCutoff())
		if err != nil {
			return false, fmt.Errorf("failed to check %s before submission %d: %w", rule.Prerequisite, s.ID, err)
		}
		if !found {
			return false, nil
		}
	}
	if rule.Exclusive != "" && !s.Kind.IsWeekly() {
		clash, err := a.submissions.ExistsApprovedOn(ctx, rule.Exclusive, s.WetmillID, s.ReportDay)
		if err != nil {
			return false, fmt.Errorf("failed to check %s on day of submission %d: %w", rule.Exclusive, s.ID, err)
		}
		if clash {
			return false, nil
		}
	}
	return true, nil
}

// ApproveDue approves every eligible pending submission and confirms it.
// It returns the number approved.
func (a *ApprovalService) ApproveDue(ctx context.Context, now time.Time) (int, error) {
	pending, err := a.submissions.ListPending(ctx, submission.Kinds, now.Add(-a.opts.Lookback))
	if err != nil {
		return 0, fmt.Errorf("failed to list pending submissions: %w", err)
	}

	approved := 0
	for _, s := range pending {
		log := a.logger.WithFields(logrus.Fields{
			"submission_id": s.ID,
			"kind":          s.Kind,
			"wetmill_id":    s.WetmillID,
		})

		ok, err := a.Evaluate(ctx, s, now)
		if err != nil {
			log.WithError(err).Error("Failed to evaluate submission")
			continue
		}
		if !ok {
			continue
		}

		changed, err := a.submissions.Approve(ctx, s.ID, now)
		if err != nil {
			log.WithError(err).Error("Failed to approve submission")
			continue
		}
		if !changed {
			log.Debug("Submission was approved concurrently")
			continue
		}
		s.Approved = true
		s.ApprovedAt.Time, s.ApprovedAt.Valid = now, true
		approved++
		observability.SubmissionsApproved.WithLabelValues(string(s.Kind)).Inc()
		log.Info("Submission approved")

		if err := a.confirmer.Confirm(ctx, s); err != nil {
			log.WithError(err).Error("Failed to confirm approved submission")
		}
	}
	return approved, nil
}
