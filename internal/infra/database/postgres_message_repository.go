package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/lib/pq/hstore"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/recipient"
)

// PostgresMessageRepository stores every kind of message template.
type PostgresMessageRepository struct {
	db *sql.DB
}

func NewPostgresMessageRepository(db *sql.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

func textFrom(def string, translations hstore.Hstore) message.Text {
	t := message.NewText(def)
	for lang, s := range translations.Map {
		if s.Valid {
			t.Translations[lang] = s.String
		}
	}
	return t
}

func hstoreFrom(t message.Text) hstore.Hstore {
	h := hstore.Hstore{Map: make(map[string]sql.NullString, len(t.Translations))}
	for lang, s := range t.Translations {
		h.Map[lang] = sql.NullString{String: s, Valid: true}
	}
	return h
}

func kindsFrom(a pq.StringArray) []recipient.Kind {
	kinds := make([]recipient.Kind, 0, len(a))
	for _, s := range a {
		if k, err := recipient.ParseKind(s); err == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func kindsArray(kinds []recipient.Kind) pq.StringArray {
	a := make(pq.StringArray, len(kinds))
	for i, k := range kinds {
		a[i] = string(k)
	}
	return a
}

// Blurbs

func (r *PostgresMessageRepository) GetBlurb(ctx context.Context, form, slug string) (*message.Blurb, error) {
	query := `SELECT id, form, slug, description, message, translations, created_at
               FROM blurbs WHERE form = $1 AND slug = $2`
	b := &message.Blurb{}
	var def string
	var tr hstore.Hstore
	err := r.db.QueryRowContext(ctx, query, form, slug).Scan(&b.ID, &b.Form, &b.Slug, &b.Description, &def, &tr, &b.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBlurbNotFound
		}
		return nil, fmt.Errorf("error getting blurb: %w", err)
	}
	b.Message = textFrom(def, tr)
	return b, nil
}

func (r *PostgresMessageRepository) CreateBlurb(ctx context.Context, b *message.Blurb) error {
	query := `INSERT INTO blurbs (form, slug, description, message, translations)
               VALUES ($1, $2, $3, $4, $5)
               ON CONFLICT (form, slug) DO NOTHING
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, b.Form, b.Slug, b.Description, b.Message.Default, hstoreFrom(b.Message)).Scan(&b.ID, &b.CreatedAt)
	if err == sql.ErrNoRows {
		// created concurrently
		existing, err := r.GetBlurb(ctx, b.Form, b.Slug)
		if err != nil {
			return err
		}
		*b = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("error creating blurb: %w", err)
	}
	return nil
}

// CCs

const ccColumns = `id, form, slug, reporter_kinds, description, message, translations, created_at`

func scanCC(row rowScanner) (*message.CC, error) {
	c := &message.CC{}
	var kinds pq.StringArray
	var def string
	var tr hstore.Hstore
	if err := row.Scan(&c.ID, &c.Form, &c.Slug, &kinds, &c.Description, &def, &tr, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ReporterKinds = kindsFrom(kinds)
	c.Message = textFrom(def, tr)
	return c, nil
}

func (r *PostgresMessageRepository) GetCC(ctx context.Context, form, slug string) (*message.CC, error) {
	query := `SELECT ` + ccColumns + ` FROM message_ccs WHERE form = $1 AND slug = $2`
	c, err := scanCC(r.db.QueryRowContext(ctx, query, form, slug))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCCNotFound
		}
		return nil, fmt.Errorf("error getting message cc: %w", err)
	}
	return c, nil
}

func (r *PostgresMessageRepository) ListCCsByForm(ctx context.Context, form string) ([]*message.CC, error) {
	query := `SELECT ` + ccColumns + ` FROM message_ccs WHERE form = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, form)
	if err != nil {
		return nil, fmt.Errorf("error listing message ccs: %w", err)
	}
	defer rows.Close()

	ccs := make([]*message.CC, 0)
	for rows.Next() {
		c, err := scanCC(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message cc: %w", err)
		}
		ccs = append(ccs, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message ccs: %w", err)
	}
	return ccs, nil
}

// Help

func (r *PostgresMessageRepository) ListHelpByPriority(ctx context.Context) ([]*message.Help, error) {
	query := `SELECT id, message, translations, reporter_kind, priority, created_at
               FROM help_messages ORDER BY priority DESC, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing help messages: %w", err)
	}
	defer rows.Close()

	helps := make([]*message.Help, 0)
	for rows.Next() {
		h := &message.Help{}
		var def string
		var tr hstore.Hstore
		var kind sql.NullString
		if err := rows.Scan(&h.ID, &def, &tr, &kind, &h.Priority, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning help message: %w", err)
		}
		h.Message = textFrom(def, tr)
		if kind.Valid {
			k := recipient.Kind(kind.String)
			h.ReporterKind = &k
		}
		helps = append(helps, h)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating help messages: %w", err)
	}
	return helps, nil
}

// Scheduled reports

const reportColumns = `id, name, slug, description, message, translations, reporter_kinds, day, hour, is_active, last_dispatched_at, created_at`

func scanReport(row rowScanner) (*message.ScheduledReport, error) {
	rep := &message.ScheduledReport{}
	var def string
	var tr hstore.Hstore
	var kinds pq.StringArray
	err := row.Scan(&rep.ID, &rep.Name, &rep.Slug, &rep.Description, &def, &tr, &kinds,
		&rep.Day, &rep.Hour, &rep.IsActive, &rep.LastDispatchedAt, &rep.CreatedAt)
	if err != nil {
		return nil, err
	}
	rep.Message = textFrom(def, tr)
	rep.ReporterKinds = kindsFrom(kinds)
	return rep, nil
}

func (r *PostgresMessageRepository) listReports(ctx context.Context, query string) ([]*message.ScheduledReport, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing scheduled reports: %w", err)
	}
	defer rows.Close()

	reports := make([]*message.ScheduledReport, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning scheduled report: %w", err)
		}
		reports = append(reports, rep)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled reports: %w", err)
	}
	return reports, nil
}

func (r *PostgresMessageRepository) ListReports(ctx context.Context) ([]*message.ScheduledReport, error) {
	return r.listReports(ctx, `SELECT `+reportColumns+` FROM scheduled_reports ORDER BY id`)
}

func (r *PostgresMessageRepository) ListActiveReports(ctx context.Context) ([]*message.ScheduledReport, error) {
	return r.listReports(ctx, `SELECT `+reportColumns+` FROM scheduled_reports WHERE is_active = TRUE ORDER BY id`)
}

func (r *PostgresMessageRepository) GetReportBySlug(ctx context.Context, slug string) (*message.ScheduledReport, error) {
	query := `SELECT ` + reportColumns + ` FROM scheduled_reports WHERE slug = $1`
	rep, err := scanReport(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("error getting scheduled report: %w", err)
	}
	return rep, nil
}

func (r *PostgresMessageRepository) CreateReport(ctx context.Context, rep *message.ScheduledReport) error {
	if err := rep.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO scheduled_reports (name, slug, description, message, translations, reporter_kinds, day, hour, is_active)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, rep.Name, rep.Slug, rep.Description, rep.Message.Default, hstoreFrom(rep.Message),
		kindsArray(rep.ReporterKinds), rep.Day, rep.Hour, rep.IsActive).Scan(&rep.ID, &rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating scheduled report: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepository) MarkReportDispatched(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE scheduled_reports SET last_dispatched_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("error marking scheduled report dispatched: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrReportNotFound
	}
	return nil
}

// Season-end broadcasts

func (r *PostgresMessageRepository) GetBroadcast(ctx context.Context, id int64) (*message.SeasonEndBroadcast, error) {
	query := `SELECT id, name, recipients, description, message, translations, created_at
               FROM season_end_broadcasts WHERE id = $1`
	b := &message.SeasonEndBroadcast{}
	var def string
	var tr hstore.Hstore
	err := r.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Name, &b.Recipients, &b.Description, &def, &tr, &b.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBroadcastNotFound
		}
		return nil, fmt.Errorf("error getting season-end broadcast: %w", err)
	}
	b.Message = textFrom(def, tr)
	return b, nil
}

func (r *PostgresMessageRepository) RecordDeliveries(ctx context.Context, broadcastID, wetmillID, seasonID int64, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for deliveries: %w", err)
	}
	defer txn.Rollback() // Rollback if not committed

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO season_end_deliveries (broadcast_id, wetmill_id, season_id, message_id)
                                         VALUES ($1, $2, $3, $4)
                                         ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for deliveries: %w", err)
	}
	defer stmt.Close()

	for _, id := range messageIDs {
		if _, err := stmt.ExecContext(ctx, broadcastID, wetmillID, seasonID, id); err != nil {
			return fmt.Errorf("error recording delivery of message %s: %w", id, err)
		}
	}
	return txn.Commit()
}

func (r *PostgresMessageRepository) ListDeliveredMessageIDs(ctx context.Context, broadcastID, wetmillID, seasonID int64) ([]string, error) {
	query := `SELECT message_id FROM season_end_deliveries
               WHERE broadcast_id = $1 AND wetmill_id = $2 AND season_id = $3
               ORDER BY created_at, message_id`
	rows, err := r.db.QueryContext(ctx, query, broadcastID, wetmillID, seasonID)
	if err != nil {
		return nil, fmt.Errorf("error listing deliveries: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning delivery: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Scheduled broadcasts

const scheduledBroadcastColumns = `id, recipients, country_id, wetmill_ids, csp_ids, exclude_wetmill_ids, exclude_csp_ids,
       report_season_id, sms_season_id, text, send_on, sent, created_at`

func scanScheduledBroadcast(row rowScanner) (*message.Broadcast, error) {
	b := &message.Broadcast{}
	var only, csps, exclude, excludeCSPs pq.Int64Array
	err := row.Scan(&b.ID, &b.Recipients, &b.CountryID, &only, &csps, &exclude, &excludeCSPs,
		&b.ReportSeasonID, &b.SMSSeasonID, &b.Text, &b.SendOn, &b.Sent, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.WetmillIDs = []int64(only)
	b.CSPIDs = []int64(csps)
	b.ExcludeWetmillIDs = []int64(exclude)
	b.ExcludeCSPIDs = []int64(excludeCSPs)
	return b, nil
}

func (r *PostgresMessageRepository) CreateBroadcast(ctx context.Context, b *message.Broadcast) error {
	if err := b.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO broadcasts (recipients, country_id, wetmill_ids, csp_ids, exclude_wetmill_ids, exclude_csp_ids,
                                     report_season_id, sms_season_id, text, send_on)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               RETURNING id, sent, created_at`
	err := r.db.QueryRowContext(ctx, query, b.Recipients, b.CountryID,
		idsParam(b.WetmillIDs), idsParam(b.CSPIDs), idsParam(b.ExcludeWetmillIDs), idsParam(b.ExcludeCSPIDs),
		b.ReportSeasonID, b.SMSSeasonID, b.Text, b.SendOn).Scan(&b.ID, &b.Sent, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating broadcast: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepository) GetScheduledBroadcast(ctx context.Context, id int64) (*message.Broadcast, error) {
	query := `SELECT ` + scheduledBroadcastColumns + ` FROM broadcasts WHERE id = $1`
	b, err := scanScheduledBroadcast(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrScheduledBroadcastNotFound
		}
		return nil, fmt.Errorf("error getting broadcast: %w", err)
	}
	return b, nil
}

func (r *PostgresMessageRepository) ListPendingBroadcasts(ctx context.Context, now time.Time) ([]*message.Broadcast, error) {
	query := `SELECT ` + scheduledBroadcastColumns + `
               FROM broadcasts
               WHERE NOT sent AND send_on <= $1
               ORDER BY send_on, id`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("error listing pending broadcasts: %w", err)
	}
	defer rows.Close()

	broadcasts := make([]*message.Broadcast, 0)
	for rows.Next() {
		b, err := scanScheduledBroadcast(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning broadcast: %w", err)
		}
		broadcasts = append(broadcasts, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating broadcasts: %w", err)
	}
	return broadcasts, nil
}

func (r *PostgresMessageRepository) MarkBroadcastSent(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE broadcasts SET sent = TRUE WHERE id = $1 AND NOT sent`, id)
	if err != nil {
		return false, fmt.Errorf("error marking broadcast sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error marking broadcast sent: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresMessageRepository) RecordBroadcastMessages(ctx context.Context, broadcastID int64, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for broadcast messages: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO broadcast_messages (broadcast_id, message_id)
                                         VALUES ($1, $2)
                                         ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for broadcast messages: %w", err)
	}
	defer stmt.Close()

	for _, id := range messageIDs {
		if _, err := stmt.ExecContext(ctx, broadcastID, id); err != nil {
			return fmt.Errorf("error recording broadcast message %s: %w", id, err)
		}
	}
	return txn.Commit()
}

func (r *PostgresMessageRepository) ListBroadcastMessageIDs(ctx context.Context, broadcastID int64) ([]string, error) {
	query := `SELECT message_id FROM broadcast_messages
               WHERE broadcast_id = $1
               ORDER BY created_at, message_id`
	rows, err := r.db.QueryContext(ctx, query, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("error listing broadcast messages: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning broadcast message: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
