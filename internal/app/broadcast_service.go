package app

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/wetmill"
	"wetmill_sms/internal/infra/logger"
)

// BroadcastService sends season-end broadcasts to a wetmill's reporters.
type BroadcastService struct {
	broadcasts message.BroadcastRepository
	wetmills   wetmill.Repository
	resolver   *RecipientResolver
	renderer   *Renderer
	dispatcher *Dispatcher
	logger     *logrus.Entry
}

func NewBroadcastService(
	broadcasts message.BroadcastRepository,
	wetmills wetmill.Repository,
	resolver *RecipientResolver,
	renderer *Renderer,
	dispatcher *Dispatcher,
	logger *logrus.Entry,
) *BroadcastService {
	return &BroadcastService{
		broadcasts: broadcasts,
		wetmills:   wetmills,
		resolver:   resolver,
		renderer:   renderer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Send delivers the broadcast for one wetmill and season and records which
// messages went out. It returns the number of messages sent.
func (s *BroadcastService) Send(ctx context.Context, broadcastID, wetmillID, seasonID int64) (int, error) {
	b, err := s.broadcasts.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return 0, fmt.Errorf("failed to get broadcast %d: %w", broadcastID, err)
	}
	wm, err := s.wetmills.GetWetmill(ctx, wetmillID)
	if err != nil {
		return 0, fmt.Errorf("failed to get wetmill %d: %w", wetmillID, err)
	}
	season, err := s.wetmills.GetSeason(ctx, seasonID)
	if err != nil {
		return 0, fmt.Errorf("failed to get season %d: %w", seasonID, err)
	}

	log := logger.ForBroadcast(logger.ForSeason(s.logger, wm.ID, season.ID), b.ID)

	recipients, err := s.resolver.ForBroadcast(ctx, b, wm.ID)
	if err != nil {
		return 0, err
	}
	base, err := s.variables(ctx, wm, season)
	if err != nil {
		return 0, err
	}

	res := s.dispatcher.DispatchBatch(ctx, Batch{
		Template:   "season-end:" + strconv.FormatInt(b.ID, 10),
		Recipients: recipients,
		Render: func(r recipient.Recipient) (string, error) {
			vars := maps.Clone(base)
			vars["actor"] = r
			return strings.TrimSpace(s.renderer.Render(b.Message.For(s.resolver.LocaleOf(r)), vars)), nil
		},
	})

	if len(res.Messages) > 0 {
		if err := s.broadcasts.RecordDeliveries(ctx, b.ID, wm.ID, season.ID, res.MessageIDs()); err != nil {
			return len(res.Messages), fmt.Errorf("failed to record broadcast deliveries: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"sent":    len(res.Messages),
		"skipped": res.Skipped,
		"failed":  res.Failed,
	}).Info("Season-end broadcast sent")
	return len(res.Messages), nil
}

// CalculateWetmills returns the wetmills of a country with report values for the season.
func (s *BroadcastService) CalculateWetmills(ctx context.Context, countryID, seasonID int64) ([]*wetmill.Wetmill, error) {
	wms, err := s.wetmills.ListWithReports(ctx, countryID, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wetmills with reports: %w", err)
	}
	return wms, nil
}

func (s *BroadcastService) variables(ctx context.Context, wm *wetmill.Wetmill, season *wetmill.Season) (map[string]any, error) {
	wms, err := s.CalculateWetmills(ctx, wm.CountryID, season.ID)
	if err != nil {
		return nil, err
	}

	vars := wetmillVariables(wm, len(wms))
	vars["season"] = season
	vars["exchange_rate"] = season.ExchangeRate
	if season.IsFinalized {
		metrics, err := s.wetmills.FinalizedMetrics(ctx, wm.ID, season.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load report metrics: %w", err)
		}
		addReport(vars, metrics)
	}
	return vars, nil
}

func wetmillVariables(wm *wetmill.Wetmill, total int) map[string]any {
	vars := map[string]any{
		"wetmill":        wm,
		"total_wetmills": total,
	}
	if wm.Country != nil {
		vars["country"] = wm.Country
		vars["currency"] = wm.Country.Currency
		vars["weight"] = wm.Country.Weight
	}
	return vars
}

// addReport exposes the metrics as .report and as top-level .<slug> amounts
// with .<slug>__rank. Existing keys win.
func addReport(vars map[string]any, metrics wetmill.Metrics) {
	vars["report"] = metrics
	for slug, m := range metrics {
		if _, taken := vars[slug]; !taken {
			vars[slug] = m.Amount()
		}
		if _, taken := vars[slug+"__rank"]; !taken {
			vars[slug+"__rank"] = m.Rank
		}
	}
}
