// Package outgoing defines connections and the transport that delivers text to them.
package outgoing

import (
	"context"
	"database/sql"
	"time"
)

// Connection is a transport identity: a phone number on an SMS backend or a
// chat id on Telegram. Unique per (Backend, Identity).
type Connection struct {
	ID       int64
	Backend  string
	Identity string
}

func (c Connection) Same(other Connection) bool {
	if c.ID != 0 && other.ID != 0 {
		return c.ID == other.ID
	}
	return c.Backend == other.Backend && c.Identity == other.Identity
}

type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Message is a persisted outgoing message.
type Message struct {
	ID                string
	ConnectionID      int64
	Backend           string
	Identity          string
	Text              string
	Status            Status
	ProviderMessageID sql.NullString
	LastError         sql.NullString
	CreatedAt         time.Time
	SentAt            sql.NullTime
}

// Router accepts a connection and text and returns the persisted message.
// A non-nil error means the message was not delivered; the record, when
// returned, carries the failure.
type Router interface {
	AddOutgoing(ctx context.Context, conn Connection, text string) (*Message, error)
}

// Backend sends text over a single transport.
type Backend interface {
	Name() string
	Send(ctx context.Context, identity, text string) (providerMessageID string, err error)
}

// Repository persists connections and outgoing messages.
type Repository interface {
	EnsureConnection(ctx context.Context, backend, identity string) (*Connection, error)
	GetConnection(ctx context.Context, id int64) (*Connection, error)
	CreateMessage(ctx context.Context, m *Message) error
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
}
