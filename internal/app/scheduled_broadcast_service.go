package app

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/submission"
	"wetmill_sms/internal/domain/wetmill"
	"wetmill_sms/internal/infra/logger"
	"wetmill_sms/internal/infra/observability"
)

type ScheduledBroadcastOptions struct {
	LockTTL time.Duration
}

// ScheduledBroadcastService sends one-off broadcasts once their send time has
// passed, to the reporters of every wetmill the broadcast selects.
type ScheduledBroadcastService struct {
	broadcasts  message.ScheduledBroadcastRepository
	wetmills    wetmill.Repository
	submissions submission.Repository
	resolver    *RecipientResolver
	renderer    *Renderer
	dispatcher  *Dispatcher
	locker      Locker
	loc         *time.Location
	opts        ScheduledBroadcastOptions
	logger      *logrus.Entry
}

func NewScheduledBroadcastService(
	broadcasts message.ScheduledBroadcastRepository,
	wetmills wetmill.Repository,
	submissions submission.Repository,
	resolver *RecipientResolver,
	renderer *Renderer,
	dispatcher *Dispatcher,
	locker Locker,
	loc *time.Location,
	opts ScheduledBroadcastOptions,
	logger *logrus.Entry,
) *ScheduledBroadcastService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 300 * time.Second
	}
	return &ScheduledBroadcastService{
		broadcasts:  broadcasts,
		wetmills:    wetmills,
		submissions: submissions,
		resolver:    resolver,
		renderer:    renderer,
		dispatcher:  dispatcher,
		locker:      locker,
		loc:         loc,
		opts:        opts,
		logger:      logger,
	}
}

// Schedule validates and stores a broadcast. It goes out on the first check
// after SendOn.
func (s *ScheduledBroadcastService) Schedule(ctx context.Context, b *message.Broadcast) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.broadcasts.CreateBroadcast(ctx, b); err != nil {
		return fmt.Errorf("failed to create broadcast: %w", err)
	}
	logger.ForBroadcast(s.logger, b.ID).WithField("send_on", b.SendOn.Time).Info("Broadcast scheduled")
	return nil
}

// SendPending sends every broadcast due at now and returns how many were
// sent. A broadcast held by another worker is left to it.
func (s *ScheduledBroadcastService) SendPending(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.broadcasts.ListPendingBroadcasts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending broadcasts: %w", err)
	}

	sent := 0
	for _, b := range pending {
		if s.sendLocked(ctx, b.ID, now) {
			sent++
		}
	}
	if len(pending) > 0 {
		s.logger.WithFields(logrus.Fields{"pending": len(pending), "sent": sent}).Info("Checked pending broadcasts")
	}
	return sent, nil
}

func (s *ScheduledBroadcastService) sendLocked(ctx context.Context, id int64, now time.Time) bool {
	key := "send_broadcast_" + strconv.FormatInt(id, 10)
	log := logger.ForLock(logger.ForBroadcast(s.logger, id), key)

	unlock, acquired, err := s.locker.TryLock(ctx, key, s.opts.LockTTL)
	if err != nil {
		log.WithError(err).Error("Failed to take broadcast lock")
		observability.BroadcastsSent.WithLabelValues("error").Inc()
		return false
	}
	if !acquired {
		log.Info("Broadcast is being sent by another worker")
		observability.BroadcastsSent.WithLabelValues("locked").Inc()
		return false
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release broadcast lock")
		}
	}()

	// reload under the lock, the previous holder may have just finished
	b, err := s.broadcasts.GetScheduledBroadcast(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to reload broadcast")
		observability.BroadcastsSent.WithLabelValues("error").Inc()
		return false
	}
	if !b.IsPending(now) {
		log.Debug("Broadcast already sent")
		observability.BroadcastsSent.WithLabelValues("skipped").Inc()
		return false
	}

	if _, err := s.Send(ctx, b, now); err != nil {
		log.WithError(err).Error("Failed to send broadcast")
		observability.BroadcastsSent.WithLabelValues("error").Inc()
		return false
	}
	observability.BroadcastsSent.WithLabelValues("sent").Inc()
	return true
}

// Send renders the broadcast for every matching wetmill and recipient, records
// the messages against it and marks it sent. Recipient failures are logged
// and do not stop the broadcast. It returns the number of messages sent.
func (s *ScheduledBroadcastService) Send(ctx context.Context, b *message.Broadcast, now time.Time) (int, error) {
	log := logger.ForBroadcast(s.logger, b.ID)

	wms, err := s.CalculateWetmills(ctx, b)
	if err != nil {
		return 0, err
	}
	reportSeason, err := s.season(ctx, b.ReportSeasonID.Int64, b.ReportSeasonID.Valid)
	if err != nil {
		return 0, err
	}
	smsSeason, err := s.season(ctx, b.SMSSeasonID.Int64, b.SMSSeasonID.Valid)
	if err != nil {
		return 0, err
	}

	today := now.In(s.loc)
	template := "broadcast:" + strconv.FormatInt(b.ID, 10)
	kinds := b.RecipientKinds()
	total := 0
	for _, wm := range wms {
		wmLog := logger.ForWetmill(log, wm.ID)

		all, err := s.resolver.ForWetmill(ctx, kinds, wm.ID)
		if err != nil {
			wmLog.WithError(err).Error("Failed to resolve broadcast recipients")
			continue
		}
		base, err := s.variables(ctx, wm, len(wms), reportSeason, smsSeason, today)
		if err != nil {
			wmLog.WithError(err).Error("Failed to build broadcast context")
			continue
		}

		res := s.dispatcher.DispatchBatch(ctx, Batch{
			Template:   template,
			Recipients: Deduplicate(all),
			Render: func(r recipient.Recipient) (string, error) {
				vars := maps.Clone(base)
				vars["actor"] = r
				return strings.TrimSpace(s.renderer.Render(b.Text, vars)), nil
			},
		})
		total += len(res.Messages)

		if len(res.Messages) > 0 {
			if err := s.broadcasts.RecordBroadcastMessages(ctx, b.ID, res.MessageIDs()); err != nil {
				wmLog.WithError(err).Error("Failed to record broadcast messages")
			}
		}
	}

	marked, err := s.broadcasts.MarkBroadcastSent(ctx, b.ID)
	if err != nil {
		return total, fmt.Errorf("failed to mark broadcast %d sent: %w", b.ID, err)
	}
	if !marked {
		log.Warn("Broadcast was already marked sent")
	}

	log.WithFields(logrus.Fields{
		"wetmills": len(wms),
		"sent":     total,
	}).Info("Broadcast sent")
	return total, nil
}

// CalculateWetmills returns the wetmills the broadcast goes to, by name.
func (s *ScheduledBroadcastService) CalculateWetmills(ctx context.Context, b *message.Broadcast) ([]*wetmill.Wetmill, error) {
	wms, err := s.wetmills.ListMatching(ctx, b.Filter())
	if err != nil {
		return nil, fmt.Errorf("failed to list wetmills for broadcast %d: %w", b.ID, err)
	}
	return wms, nil
}

func (s *ScheduledBroadcastService) season(ctx context.Context, id int64, valid bool) (*wetmill.Season, error) {
	if !valid {
		return nil, nil
	}
	season, err := s.wetmills.GetSeason(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get season %d: %w", id, err)
	}
	return season, nil
}

func (s *ScheduledBroadcastService) variables(
	ctx context.Context,
	wm *wetmill.Wetmill,
	total int,
	reportSeason, smsSeason *wetmill.Season,
	today time.Time,
) (map[string]any, error) {
	vars := wetmillVariables(wm, total)
	vars["today"] = today.Format(submission.DayFormat)

	if smsSeason != nil {
		vars["exchange_rate"] = smsSeason.ExchangeRate
		subs, err := s.submissions.ListActiveForSeason(ctx, wm.ID, smsSeason.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list submissions: %w", err)
		}
		addSMSSummary(vars, submission.Summarize(subs, today))
	}
	if reportSeason != nil {
		vars["season"] = reportSeason
		vars["exchange_rate"] = reportSeason.ExchangeRate
		if reportSeason.IsFinalized {
			metrics, err := s.wetmills.FinalizedMetrics(ctx, wm.ID, reportSeason.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load report metrics: %w", err)
			}
			addReport(vars, metrics)
		}
	}
	return vars, nil
}

// addSMSSummary exposes the season's SMS totals. Money is a local
// currency.Value; dates of messages never sent are nil.
func addSMSSummary(vars map[string]any, sum submission.Summary) {
	vars["sms_cherry_purchased"] = sum.CherryPurchased
	vars["sms_parchment_processed"] = sum.ParchmentProcessed
	vars["sms_cherry_to_parchment_ratio"] = sum.CherryToParchmentRatio
	vars["sms_working_cap"] = sum.WorkingCapital
	vars["sms_working_cap_non_cherry_percent"] = sum.WorkingCapitalNonCherry
	vars["sms_casual_labor"] = sum.CasualLabor
	vars["sms_casual_labor_kgc"] = sum.CasualLaborPerKiloCherry

	vars["last_ibitumbwe_submission"] = dayOrNil(sum.LastIbitumbwe)
	vars["last_sitoki_submission"] = dayOrNil(sum.LastSitoki)
	vars["last_amafaranga_submission"] = dayOrNil(sum.LastAmafaranga)
}

func dayOrNil(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time.Format(submission.DayFormat)
}
