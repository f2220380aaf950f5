package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/infra/observability"
)

// Dispatcher hands rendered text to the transport router.
type Dispatcher struct {
	router outgoing.Router
	logger *logrus.Entry
}

func NewDispatcher(router outgoing.Router, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{router: router, logger: logger}
}

// Dispatch sends text to a single address and returns the stored message.
func (d *Dispatcher) Dispatch(ctx context.Context, to recipient.HasAddress, text string) (*outgoing.Message, error) {
	conn := to.Address()
	msg, err := d.router.AddOutgoing(ctx, conn, text)
	if err != nil {
		return msg, fmt.Errorf("failed to send to connection %d (%s): %w", conn.ID, conn.Backend, err)
	}
	return msg, nil
}

// Batch is one template fanned out to a list of recipients.
type Batch struct {
	// Template identifies the source definition in logs and metrics, e.g. "cc:ibitumbwe/accountants".
	Template   string
	Recipients []recipient.Recipient
	Render     func(r recipient.Recipient) (string, error)
}

type BatchResult struct {
	Messages []*outgoing.Message
	Skipped  int
	Failed   int
}

func (r BatchResult) MessageIDs() []string {
	ids := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		ids[i] = m.ID
	}
	return ids
}

// DispatchBatch renders and sends to every recipient in turn. Empty text is
// skipped. A render or send failure is logged and the batch moves on.
func (d *Dispatcher) DispatchBatch(ctx context.Context, b Batch) BatchResult {
	var res BatchResult
	for _, r := range b.Recipients {
		log := d.logger.WithFields(logrus.Fields{
			"template":       b.Template,
			"recipient_id":   r.RecipientID(),
			"recipient_kind": r.Kind(),
			"connection_id":  r.Address().ID,
		})

		text, err := safeRender(b.Render, r)
		if err != nil {
			log.WithError(err).Error("Failed to render message for recipient")
			observability.Deliveries.WithLabelValues(b.Template, "render_error").Inc()
			res.Failed++
			continue
		}
		if strings.TrimSpace(text) == "" {
			log.Debug("Rendered message is empty, skipping recipient")
			observability.Deliveries.WithLabelValues(b.Template, "empty").Inc()
			res.Skipped++
			continue
		}

		msg, err := d.Dispatch(ctx, r, text)
		if err != nil {
			log.WithError(err).Error("Failed to send message to recipient")
			observability.Deliveries.WithLabelValues(b.Template, "send_error").Inc()
			res.Failed++
			continue
		}
		observability.Deliveries.WithLabelValues(b.Template, "sent").Inc()
		res.Messages = append(res.Messages, msg)
	}
	return res
}

func safeRender(render func(recipient.Recipient) (string, error), r recipient.Recipient) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("render panicked: %v", p)
		}
	}()
	return render(r)
}
