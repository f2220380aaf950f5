package database

import (
	"context"
	"database/sql"
	"fmt"

	"wetmill_sms/internal/domain/recipient"
)

type PostgresActorRepository struct {
	db *sql.DB
}

func NewPostgresActorRepository(db *sql.DB) *PostgresActorRepository {
	return &PostgresActorRepository{db: db}
}

const actorColumns = `a.id, a.role, a.name, a.language, a.wetmill_id, a.is_active, a.created_at, a.updated_at,
       c.id, c.backend, c.identity`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*recipient.Actor, error) {
	a := &recipient.Actor{}
	err := row.Scan(&a.ID, &a.Role, &a.Name, &a.Language, &a.WetmillID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt,
		&a.Connection.ID, &a.Connection.Backend, &a.Connection.Identity)
	return a, err
}

func (r *PostgresActorRepository) GetByID(ctx context.Context, id int64) (*recipient.Actor, error) {
	query := `SELECT ` + actorColumns + `
               FROM actors a JOIN connections c ON c.id = a.connection_id
               WHERE a.id = $1`
	a, err := scanActor(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrActorNotFound
		}
		return nil, fmt.Errorf("error getting actor by ID: %w", err)
	}
	return a, nil
}

func (r *PostgresActorRepository) ListActiveByWetmill(ctx context.Context, kind recipient.Kind, wetmillID int64) ([]*recipient.Actor, error) {
	query := `SELECT ` + actorColumns + `
               FROM actors a JOIN connections c ON c.id = a.connection_id
               WHERE a.role = $1 AND a.wetmill_id = $2 AND a.is_active = TRUE
               ORDER BY a.id`

	rows, err := r.db.QueryContext(ctx, query, kind, wetmillID)
	if err != nil {
		return nil, fmt.Errorf("error listing active %s actors: %w", kind, err)
	}
	defer rows.Close()

	actors := make([]*recipient.Actor, 0)
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning actor: %w", err)
		}
		actors = append(actors, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actors: %w", err)
	}
	return actors, nil
}

func (r *PostgresActorRepository) ExistsForConnection(ctx context.Context, kind recipient.Kind, connectionID int64) (bool, error) {
	query := `SELECT EXISTS (
                  SELECT 1 FROM actors WHERE role = $1 AND connection_id = $2 AND is_active = TRUE
              )`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, kind, connectionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking %s for connection: %w", kind, err)
	}
	return exists, nil
}
