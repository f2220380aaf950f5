package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/domain/submission"
	"wetmill_sms/internal/domain/wetmill"
	"wetmill_sms/internal/infra/logger"
)

// ConfirmationService replaces earlier records for the same period and copies
// the approved submission to the wetmill's other reporters.
type ConfirmationService struct {
	submissions submission.Repository
	wetmills    wetmill.Repository
	ccs         *CCService
	logger      *logrus.Entry
}

func NewConfirmationService(submissions submission.Repository, wetmills wetmill.Repository, ccs *CCService, logger *logrus.Entry) *ConfirmationService {
	return &ConfirmationService{submissions: submissions, wetmills: wetmills, ccs: ccs, logger: logger}
}

func (c *ConfirmationService) Confirm(ctx context.Context, s *submission.Submission) error {
	replaced, err := c.submissions.DeactivateDuplicates(ctx, s, submission.DuplicateKinds(s.Kind, submission.Rules))
	if err != nil {
		return fmt.Errorf("failed to deactivate duplicates of submission %d: %w", s.ID, err)
	}

	wm, err := c.wetmills.GetWetmill(ctx, s.WetmillID)
	if err != nil {
		return fmt.Errorf("failed to get wetmill %d: %w", s.WetmillID, err)
	}

	sent, err := c.ccs.SendWetmillCCs(ctx, outgoing.Connection{ID: s.ConnectionID}, string(s.Kind), wm.ID, SubmissionVariables(s, wm))
	if err != nil {
		return err
	}

	logger.ForSubmission(logger.ForWetmill(c.logger, wm.ID), s.ID, string(s.Kind)).WithFields(logrus.Fields{
		"replaced": replaced,
		"ccs_sent": sent,
	}).Info("Submission confirmed")
	return nil
}

// SubmissionVariables is the template context of a submission CC. Monetary
// values are local currency.Values, so {{ cv_mul .working_capital 2 }} works.
func SubmissionVariables(s *submission.Submission, wm *wetmill.Wetmill) map[string]any {
	vars := map[string]any{
		"wetmill": wm,
		"day":     s.ReportDay.Format(submission.DayFormat),
	}
	if s.Kind.IsWeekly() && s.StartOfWeek.Valid {
		vars["week_start"] = s.StartOfWeek.Time.Format(submission.DayFormat)
		vars["week_end"] = submission.WeekEnd(s.StartOfWeek.Time).Format(submission.DayFormat)
	}
	if wm.Country != nil {
		vars["currency"] = wm.Country.Currency
	}
	for k := range s.Values {
		if _, taken := vars[k]; !taken {
			vars[k] = s.Amount(k)
		}
	}
	return vars
}
