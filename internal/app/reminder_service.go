package app

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/submission"
	"wetmill_sms/internal/domain/wetmill"
)

const (
	DailyReminderSlug  = "daily-reminder"
	WeeklyReminderSlug = "weekly-reminder"

	// dailyReminderLookback is how recently a wetmill must have reported to be reminded.
	dailyReminderLookback = 3
)

var reminderDefaults = map[submission.Kind]string{
	submission.KindIbitumbwe:  "{{ .wetmill.Name }} has not sent an Ibitumbwe or Twakinze message for {{ .day }}. Please send it today.",
	submission.KindAmafaranga: "{{ .wetmill.Name }} has not sent an Amafaranga message for the week of {{ .week_start }} to {{ .week_end }}.",
	submission.KindSitoki:     "{{ .wetmill.Name }} has not sent a Sitoki message for the week of {{ .week_start }} to {{ .week_end }}.",
}

// ReminderService nags wetmills that are late with their reports.
type ReminderService struct {
	submissions submission.Repository
	wetmills    wetmill.Repository
	resolver    *RecipientResolver
	blurbs      *BlurbService
	dispatcher  *Dispatcher
	loc         *time.Location
	now         func() time.Time
	logger      *logrus.Entry
}

func NewReminderService(
	submissions submission.Repository,
	wetmills wetmill.Repository,
	resolver *RecipientResolver,
	blurbs *BlurbService,
	dispatcher *Dispatcher,
	loc *time.Location,
	logger *logrus.Entry,
) *ReminderService {
	return &ReminderService{
		submissions: submissions,
		wetmills:    wetmills,
		resolver:    resolver,
		blurbs:      blurbs,
		dispatcher:  dispatcher,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
	}
}

// Register adds the reminder callbacks to reg.
func (s *ReminderService) Register(reg *ReportRegistry) {
	reg.Register(DailyReminderSlug, func(ctx context.Context, report *message.ScheduledReport) error {
		_, err := s.SendDailyReminders(ctx, report, s.now())
		return err
	})
	reg.Register(WeeklyReminderSlug, func(ctx context.Context, report *message.ScheduledReport) error {
		_, err := s.SendWeeklyReminders(ctx, report, s.now())
		return err
	})
}

// SendDailyReminders reminds wetmills that reported recently but not for yesterday.
func (s *ReminderService) SendDailyReminders(ctx context.Context, report *message.ScheduledReport, now time.Time) (int, error) {
	local := now.In(s.loc)
	y, m, d := local.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, s.loc).AddDate(0, 0, -1)
	daily := []submission.Kind{submission.KindIbitumbwe, submission.KindTwakinze}

	recent, err := s.submissions.ListWetmillIDsReportingSince(ctx, daily, day.AddDate(0, 0, -dailyReminderLookback))
	if err != nil {
		return 0, fmt.Errorf("failed to list recently reporting wetmills: %w", err)
	}
	current, err := s.submissions.ListWetmillIDsReportingSince(ctx, daily, day)
	if err != nil {
		return 0, fmt.Errorf("failed to list wetmills reporting for %s: %w", day.Format(submission.DayFormat), err)
	}

	sent := 0
	for _, id := range difference(recent, current) {
		wm, err := s.wetmills.GetWetmill(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("wetmill_id", id).Error("Failed to load late wetmill")
			continue
		}
		sent += s.remind(ctx, report, submission.KindIbitumbwe, wm, map[string]any{
			"wetmill": wm,
			"day":     day.Format(submission.DayFormat),
		})
	}
	return sent, nil
}

// SendWeeklyReminders reminds wetmills on the 2012 accounting system that
// sent daily reports last week but no weekly ones.
func (s *ReminderService) SendWeeklyReminders(ctx context.Context, report *message.ScheduledReport, now time.Time) (int, error) {
	start := submission.WeekStartBefore(now.In(s.loc))
	active, err := s.submissions.ListWetmillIDsReportingSince(ctx, []submission.Kind{submission.KindIbitumbwe}, start)
	if err != nil {
		return 0, fmt.Errorf("failed to list wetmills active since %s: %w", start.Format(submission.DayFormat), err)
	}

	wetmills := make(map[int64]*wetmill.Wetmill, len(active))
	for _, id := range active {
		wm, err := s.wetmills.GetWetmill(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("wetmill_id", id).Error("Failed to load wetmill")
			continue
		}
		if wm.AccountingSystem == wetmill.AccountingSystem2012 {
			wetmills[id] = wm
		}
	}

	vars := map[string]any{
		"week_start": start.Format(submission.DayFormat),
		"week_end":   submission.WeekEnd(start).Format(submission.DayFormat),
	}

	sent := 0
	for _, form := range []submission.Kind{submission.KindAmafaranga, submission.KindSitoki} {
		reported, err := s.submissions.ListWetmillIDsForWeek(ctx, form, start)
		if err != nil {
			return sent, fmt.Errorf("failed to list wetmills with %s for week: %w", form, err)
		}
		for _, id := range difference(active, reported) {
			wm, ok := wetmills[id]
			if !ok {
				continue
			}
			v := maps.Clone(vars)
			v["wetmill"] = wm
			sent += s.remind(ctx, report, form, wm, v)
		}
	}
	return sent, nil
}

func (s *ReminderService) remind(ctx context.Context, report *message.ScheduledReport, form submission.Kind, wm *wetmill.Wetmill, vars map[string]any) int {
	recipients, err := s.resolver.ForWetmill(ctx, report.Audience(recipient.KindAccountant, recipient.KindObserver), wm.ID)
	if err != nil {
		s.logger.WithError(err).WithField("wetmill_id", wm.ID).Error("Failed to resolve reminder recipients")
		return 0
	}

	res := s.dispatcher.DispatchBatch(ctx, Batch{
		Template:   "reminder:" + string(form),
		Recipients: recipients,
		Render: func(r recipient.Recipient) (string, error) {
			lang := s.resolver.LocaleOf(r)
			def := report.Message.For(lang)
			if strings.TrimSpace(def) == "" {
				def = reminderDefaults[form]
			}
			return s.blurbs.Get(ctx, string(form), string(r.Kind())+"-reminder", lang, vars, def)
		},
	})
	return len(res.Messages)
}

// difference returns the ids in a that are not in b, in a's order.
func difference(a, b []int64) []int64 {
	drop := make(map[int64]bool, len(b))
	for _, id := range b {
		drop[id] = true
	}
	var out []int64
	for _, id := range a {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
