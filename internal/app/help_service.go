package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/domain/recipient"
)

// HelpService answers messages nothing else recognized.
type HelpService struct {
	repo       message.HelpRepository
	actors     recipient.Repository
	renderer   *Renderer
	dispatcher *Dispatcher
	logger     *logrus.Entry
}

func NewHelpService(repo message.HelpRepository, actors recipient.Repository, renderer *Renderer, dispatcher *Dispatcher, logger *logrus.Entry) *HelpService {
	return &HelpService{repo: repo, actors: actors, renderer: renderer, dispatcher: dispatcher, logger: logger}
}

// ForConnection returns the highest-priority help message that applies to
// conn, or nil. A catch-all applies to everyone; a restricted one applies
// when an active actor of its kind owns the connection.
func (s *HelpService) ForConnection(ctx context.Context, conn outgoing.Connection) (*message.Help, error) {
	helps, err := s.repo.ListHelpByPriority(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list help messages: %w", err)
	}
	for _, h := range helps {
		if h.IsCatchAll() {
			return h, nil
		}
		if conn.ID == 0 {
			continue
		}
		ok, err := s.actors.ExistsForConnection(ctx, *h.ReporterKind, conn.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s for connection %d: %w", *h.ReporterKind, conn.ID, err)
		}
		if ok {
			return h, nil
		}
	}
	return nil, nil
}

// Reply sends the applicable help message to conn. Nil when none applies.
func (s *HelpService) Reply(ctx context.Context, conn outgoing.Connection, language string) (*outgoing.Message, error) {
	h, err := s.ForConnection(ctx, conn)
	if err != nil {
		return nil, err
	}
	if h == nil {
		s.logger.WithField("connection_id", conn.ID).Debug("No help message applies to connection")
		return nil, nil
	}
	text := s.renderer.Render(h.Message.For(language), map[string]any{"connection": conn})
	return s.dispatcher.Dispatch(ctx, connectionRecipient{conn: conn}, text)
}
