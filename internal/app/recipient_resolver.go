package app

import (
	"context"
	"fmt"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/domain/recipient"
)

// RecipientResolver turns a template's audience into concrete recipients.
type RecipientResolver struct {
	actors          recipient.Repository
	defaultLanguage string
}

func NewRecipientResolver(actors recipient.Repository, defaultLanguage string) *RecipientResolver {
	return &RecipientResolver{actors: actors, defaultLanguage: defaultLanguage}
}

// ForBroadcast returns the active actors named by the broadcast's audience
// code, accountants first, then farmers, then observers. An address shared by
// several roles is delivered once, to the first role seen.
func (r *RecipientResolver) ForBroadcast(ctx context.Context, b *message.SeasonEndBroadcast, wetmillID int64) ([]recipient.Recipient, error) {
	all, err := r.ForWetmill(ctx, b.RecipientKinds(), wetmillID)
	if err != nil {
		return nil, err
	}
	return Deduplicate(all), nil
}

// ForWetmill concatenates the active actors of each kind on a wetmill, in the
// order the kinds are given. No deduplication is applied.
func (r *RecipientResolver) ForWetmill(ctx context.Context, kinds []recipient.Kind, wetmillID int64) ([]recipient.Recipient, error) {
	var out []recipient.Recipient
	for _, kind := range kinds {
		actors, err := r.actors.ListActiveByWetmill(ctx, kind, wetmillID)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s recipients for wetmill %d: %w", kind, wetmillID, err)
		}
		for _, a := range actors {
			out = append(out, a)
		}
	}
	return out, nil
}

// LocaleOf returns the recipient's preferred language or the site default.
func (r *RecipientResolver) LocaleOf(rcp recipient.HasAddress) string {
	if l, ok := rcp.(recipient.HasLocale); ok && l.Locale() != "" {
		return l.Locale()
	}
	return r.defaultLanguage
}

// Deduplicate keeps the first recipient for every connection.
func Deduplicate(rs []recipient.Recipient) []recipient.Recipient {
	seen := make(map[outgoing.Connection]bool, len(rs))
	out := make([]recipient.Recipient, 0, len(rs))
	for _, rcp := range rs {
		key := addressKey(rcp.Address())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rcp)
	}
	return out
}

func addressKey(c outgoing.Connection) outgoing.Connection {
	if c.ID != 0 {
		return outgoing.Connection{ID: c.ID}
	}
	return outgoing.Connection{Backend: c.Backend, Identity: c.Identity}
}

// WithoutSender drops the recipients whose address is the sender's own.
func WithoutSender(rs []recipient.Recipient, sender outgoing.Connection) []recipient.Recipient {
	out := make([]recipient.Recipient, 0, len(rs))
	for _, rcp := range rs {
		if rcp.Address().Same(sender) {
			continue
		}
		out = append(out, rcp)
	}
	return out
}

// connectionRecipient addresses a bare connection, e.g. the sender of an inbound message.
type connectionRecipient struct {
	conn outgoing.Connection
}

func (c connectionRecipient) Address() outgoing.Connection { return c.conn }
