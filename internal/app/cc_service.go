package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/domain/recipient"
	idb "wetmill_sms/internal/infra/database"
)

// CCService copies accepted submissions to the other reporters of a wetmill.
type CCService struct {
	repo       message.CCRepository
	resolver   *RecipientResolver
	renderer   *Renderer
	dispatcher *Dispatcher
	logger     *logrus.Entry
}

func NewCCService(repo message.CCRepository, resolver *RecipientResolver, renderer *Renderer, dispatcher *Dispatcher, logger *logrus.Entry) *CCService {
	return &CCService{repo: repo, resolver: resolver, renderer: renderer, dispatcher: dispatcher, logger: logger}
}

// ForForm returns the CC for (form, slug), or nil when none is defined.
func (s *CCService) ForForm(ctx context.Context, form, slug string) (*message.CC, error) {
	cc, err := s.repo.GetCC(ctx, form, slug)
	if errors.Is(err, idb.ErrCCNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cc %s/%s: %w", form, slug, err)
	}
	return cc, nil
}

// SendCC sends the (form, slug) CC to recipients, skipping the sender's own
// address. It returns the number of messages sent; an undefined CC sends nothing.
func (s *CCService) SendCC(ctx context.Context, form, slug string, sender outgoing.Connection, recipients []recipient.Recipient, vars map[string]any) (int, error) {
	cc, err := s.ForForm(ctx, form, slug)
	if err != nil {
		return 0, err
	}
	if cc == nil {
		s.logger.WithFields(logrus.Fields{"form": form, "slug": slug}).Debug("No cc defined, nothing to send")
		return 0, nil
	}
	return s.send(ctx, cc, sender, recipients, vars), nil
}

// SendWetmillCCs sends every CC of form to the reporters of the wetmill named
// by each CC's reporter kinds.
func (s *CCService) SendWetmillCCs(ctx context.Context, sender outgoing.Connection, form string, wetmillID int64, vars map[string]any) (int, error) {
	ccs, err := s.repo.ListCCsByForm(ctx, form)
	if err != nil {
		return 0, fmt.Errorf("failed to list ccs for form %s: %w", form, err)
	}

	sent := 0
	for _, cc := range ccs {
		recipients, err := s.resolver.ForWetmill(ctx, cc.ReporterKinds, wetmillID)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"form": cc.Form, "slug": cc.Slug, "wetmill_id": wetmillID,
			}).Error("Failed to resolve cc recipients")
			continue
		}
		sent += s.send(ctx, cc, sender, recipients, vars)
	}
	return sent, nil
}

func (s *CCService) send(ctx context.Context, cc *message.CC, sender outgoing.Connection, recipients []recipient.Recipient, vars map[string]any) int {
	res := s.dispatcher.DispatchBatch(ctx, Batch{
		Template:   "cc:" + cc.Form + "/" + cc.Slug,
		Recipients: WithoutSender(recipients, sender),
		Render: func(r recipient.Recipient) (string, error) {
			return s.renderer.Render(cc.Message.For(s.resolver.LocaleOf(r)), vars), nil
		},
	})
	return len(res.Messages)
}
