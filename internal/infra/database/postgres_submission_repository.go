package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq" // For pq.Array
	"github.com/lib/pq/hstore"
	"github.com/shopspring/decimal"

	"wetmill_sms/internal/domain/submission"
)

type PostgresSubmissionRepository struct {
	db *sql.DB
}

func NewPostgresSubmissionRepository(db *sql.DB) *PostgresSubmissionRepository {
	return &PostgresSubmissionRepository{db: db}
}

// dateParam renders the calendar date of t, so DATE columns compare in the
// reporter's timezone rather than the session's.
func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}

func kindsParam(kinds []submission.Kind) any {
	s := make([]string, len(kinds))
	for i, k := range kinds {
		s[i] = string(k)
	}
	return pq.Array(s)
}

func valuesParam(values map[string]decimal.Decimal) hstore.Hstore {
	h := hstore.Hstore{Map: make(map[string]sql.NullString, len(values))}
	for k, v := range values {
		h.Map[k] = sql.NullString{String: v.String(), Valid: true}
	}
	return h
}

func valuesFrom(h hstore.Hstore) (map[string]decimal.Decimal, error) {
	values := make(map[string]decimal.Decimal, len(h.Map))
	for k, v := range h.Map {
		if !v.Valid {
			continue
		}
		d, err := decimal.NewFromString(v.String)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", k, err)
		}
		values[k] = d
	}
	return values, nil
}

const submissionColumns = `id, kind, accountant_id, wetmill_id, season_id, connection_id, report_day, start_of_week,
       "values", approved, is_active, approved_at, created_at, updated_at`

func scanSubmission(row rowScanner) (*submission.Submission, error) {
	s := &submission.Submission{}
	var values hstore.Hstore
	err := row.Scan(&s.ID, &s.Kind, &s.AccountantID, &s.WetmillID, &s.SeasonID, &s.ConnectionID, &s.ReportDay, &s.StartOfWeek,
		&values, &s.Approved, &s.IsActive, &s.ApprovedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.Values, err = valuesFrom(values); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresSubmissionRepository) Create(ctx context.Context, s *submission.Submission) error {
	query := `INSERT INTO submissions (kind, accountant_id, wetmill_id, season_id, connection_id, report_day, start_of_week, "values", created_at)
               VALUES ($1, $2, $3, $4, $5, $6::date, $7::date, $8, COALESCE($9, NOW()))
               RETURNING id, is_active, created_at, updated_at`

	var startOfWeek sql.NullString
	if s.StartOfWeek.Valid {
		startOfWeek = sql.NullString{String: dateParam(s.StartOfWeek.Time), Valid: true}
	}
	var createdAt sql.NullTime
	if !s.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: s.CreatedAt, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query, s.Kind, s.AccountantID, s.WetmillID, s.SeasonID, s.ConnectionID,
		dateParam(s.ReportDay), startOfWeek, valuesParam(s.Values), createdAt).Scan(&s.ID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating submission: %w", err)
	}
	return nil
}

func (r *PostgresSubmissionRepository) GetByID(ctx context.Context, id int64) (*submission.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("error getting submission by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubmissionRepository) ListPending(ctx context.Context, kinds []submission.Kind, since time.Time) ([]*submission.Submission, error) {
	query := `SELECT ` + submissionColumns + `
               FROM submissions
               WHERE approved = FALSE AND kind = ANY($1) AND created_at >= $2
               ORDER BY created_at, id`
	return r.list(ctx, "pending", query, kindsParam(kinds), since)
}

func (r *PostgresSubmissionRepository) ListActiveForSeason(ctx context.Context, wetmillID, seasonID int64) ([]*submission.Submission, error) {
	query := `SELECT ` + submissionColumns + `
               FROM submissions
               WHERE is_active AND wetmill_id = $1 AND season_id = $2
               ORDER BY report_day, id`
	return r.list(ctx, "season", query, wetmillID, seasonID)
}

func (r *PostgresSubmissionRepository) list(ctx context.Context, what, query string, args ...any) ([]*submission.Submission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing %s submissions: %w", what, err)
	}
	defer rows.Close()

	subs := make([]*submission.Submission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning submission: %w", err)
		}
		subs = append(subs, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s submissions: %w", what, err)
	}
	return subs, nil
}

func (r *PostgresSubmissionRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (`+query+`)`, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking submissions: %w", err)
	}
	return exists, nil
}

func (r *PostgresSubmissionRepository) ExistsCreatedBetween(ctx context.Context, s *submission.Submission, after, before time.Time) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM submissions
               WHERE id <> $1 AND kind = $2 AND accountant_id = $3 AND wetmill_id = $4
                 AND created_at > $5 AND created_at < $6`,
		s.ID, s.Kind, s.AccountantID, s.WetmillID, after, before)
}

func (r *PostgresSubmissionRepository) ExistsApprovedBefore(ctx context.Context, kind submission.Kind, wetmillID, seasonID int64, before time.Time) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM submissions
               WHERE approved AND is_active AND kind = $1 AND wetmill_id = $2 AND season_id = $3
                 AND report_day < $4::date`,
		kind, wetmillID, seasonID, dateParam(before))
}

func (r *PostgresSubmissionRepository) ExistsApprovedOn(ctx context.Context, kind submission.Kind, wetmillID int64, day time.Time) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM submissions
               WHERE approved AND is_active AND kind = $1 AND wetmill_id = $2 AND report_day = $3::date`,
		kind, wetmillID, dateParam(day))
}

func (r *PostgresSubmissionRepository) Approve(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE submissions
               SET approved = TRUE, approved_at = $2, updated_at = $2
               WHERE id = $1 AND approved = FALSE`, id, at)
	if err != nil {
		return false, fmt.Errorf("error approving submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading approved rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresSubmissionRepository) DeactivateDuplicates(ctx context.Context, s *submission.Submission, kinds []submission.Kind) (int64, error) {
	period, day := `report_day = $4::date`, dateParam(s.ReportDay)
	if s.Kind.IsWeekly() && s.StartOfWeek.Valid {
		period, day = `start_of_week = $4::date`, dateParam(s.StartOfWeek.Time)
	}
	query := `UPDATE submissions SET is_active = FALSE, updated_at = NOW()
               WHERE id <> $1 AND wetmill_id = $2 AND kind = ANY($3) AND approved AND is_active AND ` + period

	res, err := r.db.ExecContext(ctx, query, s.ID, s.WetmillID, kindsParam(kinds), day)
	if err != nil {
		return 0, fmt.Errorf("error deactivating duplicate submissions: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresSubmissionRepository) listWetmillIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing reporting wetmills: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning wetmill id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresSubmissionRepository) ListWetmillIDsReportingSince(ctx context.Context, kinds []submission.Kind, day time.Time) ([]int64, error) {
	return r.listWetmillIDs(ctx, `SELECT DISTINCT wetmill_id FROM submissions
               WHERE approved AND is_active AND kind = ANY($1) AND report_day >= $2::date
               ORDER BY wetmill_id`, kindsParam(kinds), dateParam(day))
}

func (r *PostgresSubmissionRepository) ListWetmillIDsForWeek(ctx context.Context, kind submission.Kind, weekStart time.Time) ([]int64, error) {
	return r.listWetmillIDs(ctx, `SELECT DISTINCT wetmill_id FROM submissions
               WHERE approved AND is_active AND kind = $1 AND start_of_week = $2::date
               ORDER BY wetmill_id`, kind, dateParam(weekStart))
}
