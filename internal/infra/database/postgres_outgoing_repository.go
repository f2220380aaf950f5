package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wetmill_sms/internal/domain/outgoing"
)

type PostgresOutgoingRepository struct {
	db *sql.DB
}

func NewPostgresOutgoingRepository(db *sql.DB) *PostgresOutgoingRepository {
	return &PostgresOutgoingRepository{db: db}
}

// EnsureConnection returns the connection for (backend, identity), creating it on first contact.
func (r *PostgresOutgoingRepository) EnsureConnection(ctx context.Context, backend, identity string) (*outgoing.Connection, error) {
	query := `INSERT INTO connections (backend, identity) VALUES ($1, $2)
               ON CONFLICT (backend, identity) DO UPDATE SET backend = EXCLUDED.backend
               RETURNING id`
	c := &outgoing.Connection{Backend: backend, Identity: identity}
	if err := r.db.QueryRowContext(ctx, query, backend, identity).Scan(&c.ID); err != nil {
		return nil, fmt.Errorf("error ensuring connection: %w", err)
	}
	return c, nil
}

func (r *PostgresOutgoingRepository) GetConnection(ctx context.Context, id int64) (*outgoing.Connection, error) {
	query := `SELECT id, backend, identity FROM connections WHERE id = $1`
	c := &outgoing.Connection{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Backend, &c.Identity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("error getting connection by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresOutgoingRepository) CreateMessage(ctx context.Context, m *outgoing.Message) error {
	query := `INSERT INTO outgoing_messages (id, connection_id, text, status)
               VALUES ($1, $2, $3, $4)
               RETURNING created_at`
	if m.Status == "" {
		m.Status = outgoing.StatusQueued
	}
	if err := r.db.QueryRowContext(ctx, query, m.ID, m.ConnectionID, m.Text, m.Status).Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("error creating outgoing message: %w", err)
	}
	return nil
}

func (r *PostgresOutgoingRepository) GetMessage(ctx context.Context, id string) (*outgoing.Message, error) {
	query := `SELECT m.id, m.connection_id, c.backend, c.identity, m.text, m.status,
                     m.provider_message_id, m.last_error, m.created_at, m.sent_at
               FROM outgoing_messages m JOIN connections c ON c.id = m.connection_id
               WHERE m.id = $1`
	m := &outgoing.Message{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.ConnectionID, &m.Backend, &m.Identity, &m.Text, &m.Status,
		&m.ProviderMessageID, &m.LastError, &m.CreatedAt, &m.SentAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("error getting outgoing message: %w", err)
	}
	return m, nil
}

func (r *PostgresOutgoingRepository) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	query := `UPDATE outgoing_messages
               SET status = $1, provider_message_id = NULLIF($2, ''), sent_at = $3, updated_at = $3, last_error = NULL
               WHERE id = $4`
	return r.mark(ctx, query, outgoing.StatusSent, providerMessageID, at, id)
}

func (r *PostgresOutgoingRepository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	query := `UPDATE outgoing_messages
               SET status = $1, last_error = $2, updated_at = $3
               WHERE id = $4`
	return r.mark(ctx, query, outgoing.StatusFailed, reason, at, id)
}

func (r *PostgresOutgoingRepository) mark(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating outgoing message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading updated rows: %w", err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}
