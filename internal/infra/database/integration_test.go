//go:build integration

package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/outgoing"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/submission"
	"wetmill_sms/internal/domain/wetmill"
)

func quietEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// setupPostgres starts a disposable Postgres and applies the migrations.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container-based test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "wetmill",
				"POSTGRES_PASSWORD": "wetmill",
				"POSTGRES_DB":       "wetmill",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://wetmill:wetmill@%s:%d/wetmill?sslmode=disable", host, port.Int())
	db, err := NewPostgresConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = Migrate(db)
	require.NoError(t, err)
	return db
}

type seed struct {
	wetmillID, seasonID int64
	accountant          *recipient.Actor
}

func seedWetmill(t *testing.T, db *sql.DB) seed {
	t.Helper()
	ctx := context.Background()
	exec := func(q string, args ...any) int64 {
		var id int64
		require.NoError(t, db.QueryRowContext(ctx, q, args...).Scan(&id))
		return id
	}

	_, err := db.ExecContext(ctx, `INSERT INTO currencies (code, name, suffix) VALUES ('RWF', 'Rwandan Franc', ' RWF')`)
	require.NoError(t, err)
	weightID := exec(`INSERT INTO weights (name, abbreviation) VALUES ('Kilogram', 'Kg') RETURNING id`)
	countryID := exec(`INSERT INTO countries (name, code, language, calling_code, currency_code, weight_id)
                       VALUES ('Rwanda', 'rw', 'rw', 250, 'RWF', $1) RETURNING id`, weightID)
	seasonID := exec(`INSERT INTO seasons (name, country_id, exchange_rate) VALUES ('2024', $1, 600) RETURNING id`, countryID)
	wetmillID := exec(`INSERT INTO wetmills (name, country_id) VALUES ('Kabeza', $1) RETURNING id`, countryID)

	outgoingRepo := NewPostgresOutgoingRepository(db)
	c, err := outgoingRepo.EnsureConnection(ctx, "twilio", "+250788000001")
	require.NoError(t, err)
	actorID := exec(`INSERT INTO actors (role, name, connection_id, wetmill_id, language) VALUES ('accountant', 'Ange', $1, $2, 'rw') RETURNING id`, c.ID, wetmillID)

	a, err := NewPostgresActorRepository(db).GetByID(ctx, actorID)
	require.NoError(t, err)
	return seed{wetmillID: wetmillID, seasonID: seasonID, accountant: a}
}

func TestPostgresRepositories(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	s := seedWetmill(t, db)

	t.Run("actors", func(t *testing.T) {
		repo := NewPostgresActorRepository(db)
		actors, err := repo.ListActiveByWetmill(ctx, recipient.KindAccountant, s.wetmillID)
		require.NoError(t, err)
		require.Len(t, actors, 1)
		assert.Equal(t, "rw", actors[0].Locale())

		ok, err := repo.ExistsForConnection(ctx, recipient.KindAccountant, s.accountant.Connection.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repo.GetByID(ctx, 9999)
		assert.ErrorIs(t, err, ErrActorNotFound)
	})

	t.Run("blurbs", func(t *testing.T) {
		repo := NewPostgresMessageRepository(db)
		_, err := repo.GetBlurb(ctx, "ibitumbwe", "accountant-reminder")
		assert.ErrorIs(t, err, ErrBlurbNotFound)

		b := &message.Blurb{Form: "ibitumbwe", Slug: "accountant-reminder", Message: message.NewText("Hi")}
		b.Message.Translations["rw"] = "Muraho"
		require.NoError(t, repo.CreateBlurb(ctx, b))
		assert.NotZero(t, b.ID)

		dup := &message.Blurb{Form: "ibitumbwe", Slug: "accountant-reminder", Message: message.NewText("Other")}
		require.NoError(t, repo.CreateBlurb(ctx, dup))
		assert.Equal(t, b.ID, dup.ID)
		assert.Equal(t, "Muraho", dup.Message.For("rw"))
	})

	t.Run("reports", func(t *testing.T) {
		repo := NewPostgresMessageRepository(db)
		rep := &message.ScheduledReport{
			Name: "Daily reminder", Slug: "daily-reminder", Day: message.DayAll, Hour: 9, IsActive: true,
			Message: message.NewText(""), ReporterKinds: []recipient.Kind{recipient.KindAccountant},
		}
		require.NoError(t, repo.CreateReport(ctx, rep))

		at := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
		require.NoError(t, repo.MarkReportDispatched(ctx, rep.ID, at))

		got, err := repo.GetReportBySlug(ctx, "daily-reminder")
		require.NoError(t, err)
		assert.True(t, got.LastDispatchedAt.Time.Equal(at))
		assert.Equal(t, []recipient.Kind{recipient.KindAccountant}, got.ReporterKinds)
	})

	t.Run("outgoing and deliveries", func(t *testing.T) {
		out := NewPostgresOutgoingRepository(db)
		m := &outgoing.Message{ID: "01HTESTMESSAGE0000000000001", ConnectionID: s.accountant.Connection.ID, Text: "hello"}
		require.NoError(t, out.CreateMessage(ctx, m))
		require.NoError(t, out.MarkSent(ctx, m.ID, "SM123", time.Now()))

		got, err := out.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, outgoing.StatusSent, got.Status)
		assert.Equal(t, "SM123", got.ProviderMessageID.String)

		var broadcastID int64
		require.NoError(t, db.QueryRowContext(ctx, `INSERT INTO season_end_broadcasts (name, recipients, message) VALUES ('End', 'A', 'bye') RETURNING id`).Scan(&broadcastID))
		msgs := NewPostgresMessageRepository(db)
		require.NoError(t, msgs.RecordDeliveries(ctx, broadcastID, s.wetmillID, s.seasonID, []string{m.ID}))
		require.NoError(t, msgs.RecordDeliveries(ctx, broadcastID, s.wetmillID, s.seasonID, []string{m.ID}))
		ids, err := msgs.ListDeliveredMessageIDs(ctx, broadcastID, s.wetmillID, s.seasonID)
		require.NoError(t, err)
		assert.Equal(t, []string{m.ID}, ids)
	})

	t.Run("submissions", func(t *testing.T) {
		repo := NewPostgresSubmissionRepository(db)
		day := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
		sub := &submission.Submission{
			Kind: submission.KindIbitumbwe, AccountantID: s.accountant.ID, WetmillID: s.wetmillID, SeasonID: s.seasonID,
			ConnectionID: s.accountant.Connection.ID, ReportDay: day,
			Values: map[string]decimal.Decimal{"cherry": decimal.NewFromInt(120)},
		}
		require.NoError(t, repo.Create(ctx, sub))
		assert.True(t, sub.IsActive)

		pending, err := repo.ListPending(ctx, submission.Kinds, day.AddDate(0, 0, -1))
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].Values["cherry"].Equal(decimal.NewFromInt(120)))

		ok, err := repo.Approve(ctx, sub.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.Approve(ctx, sub.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok, "second approval is a no-op")

		on, err := repo.ExistsApprovedOn(ctx, submission.KindIbitumbwe, s.wetmillID, day)
		require.NoError(t, err)
		assert.True(t, on)

		before, err := repo.ExistsApprovedBefore(ctx, submission.KindIbitumbwe, s.wetmillID, s.seasonID, day)
		require.NoError(t, err)
		assert.False(t, before)

		ids, err := repo.ListWetmillIDsReportingSince(ctx, []submission.Kind{submission.KindIbitumbwe}, day)
		require.NoError(t, err)
		assert.Equal(t, []int64{s.wetmillID}, ids)
	})
}

func TestPostgresBroadcastStore(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	s := seedWetmill(t, db)
	insert := func(q string, args ...any) int64 {
		var id int64
		require.NoError(t, db.QueryRowContext(ctx, q, args...).Scan(&id))
		return id
	}

	countryID := insert(`SELECT country_id FROM wetmills WHERE id = $1`, s.wetmillID)
	gakenkeID := insert(`INSERT INTO wetmills (name, country_id) VALUES ('Gakenke', $1) RETURNING id`, countryID)
	cspID := insert(`INSERT INTO csps (name, country_id) VALUES ('RWACOF', $1) RETURNING id`, countryID)
	_, err := db.ExecContext(ctx, `INSERT INTO wetmill_csp_seasons (wetmill_id, season_id, csp_id) VALUES ($1, $2, $3)`, gakenkeID, s.seasonID, cspID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO report_values (wetmill_id, season_id, slug, label, value, rank, is_final, is_currency)
                                  VALUES ($1, $2, 'working_capital', 'Working capital', 250000, 2, TRUE, TRUE)`, s.wetmillID, s.seasonID)
	require.NoError(t, err)

	subs := NewPostgresSubmissionRepository(db)
	week := sql.NullTime{Time: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), Valid: true}
	for _, kind := range []submission.Kind{submission.KindIbitumbwe, submission.KindSitoki, submission.KindAmafaranga} {
		sub := &submission.Submission{
			Kind: kind, AccountantID: s.accountant.ID, WetmillID: gakenkeID, SeasonID: s.seasonID,
			ConnectionID: s.accountant.Connection.ID, ReportDay: week.Time, StartOfWeek: week,
			Values: map[string]decimal.Decimal{submission.FieldWorkingCapital: decimal.NewFromInt(1000)},
		}
		if !kind.IsWeekly() {
			sub.StartOfWeek = sql.NullTime{}
		}
		require.NoError(t, subs.Create(ctx, sub))
	}

	t.Run("help reporter kind is unique", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `INSERT INTO help_messages (message, reporter_kind) VALUES ('a', 'accountant')`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO help_messages (message, reporter_kind) VALUES ('b', 'accountant')`)
		assert.ErrorContains(t, err, "help_messages_reporter_kind_key")

		_, err = db.ExecContext(ctx, `INSERT INTO help_messages (message) VALUES ('c'), ('d')`)
		assert.NoError(t, err, "several catch-all messages are allowed")
	})

	t.Run("matching wetmills", func(t *testing.T) {
		repo := NewPostgresWetmillRepository(db)
		season := sql.NullInt64{Int64: s.seasonID, Valid: true}
		names := func(f wetmill.Filter) []string {
			wms, err := repo.ListMatching(ctx, f)
			require.NoError(t, err)
			out := make([]string, len(wms))
			for i, w := range wms {
				out[i] = w.Name
				assert.Equal(t, "RWF", w.Country.Currency.Code)
			}
			return out
		}

		assert.Equal(t, []string{"Gakenke", "Kabeza"}, names(wetmill.Filter{CountryID: countryID}))
		assert.Equal(t, []string{"Kabeza"}, names(wetmill.Filter{CountryID: countryID, Exclude: []int64{gakenkeID}}))
		assert.Equal(t, []string{"Gakenke"}, names(wetmill.Filter{CountryID: countryID, Only: []int64{gakenkeID, s.wetmillID}, Exclude: []int64{s.wetmillID}}))
		assert.Equal(t, []string{"Gakenke"}, names(wetmill.Filter{CountryID: countryID, OnlyCSPs: []int64{cspID}, CSPSeasonID: season}))
		assert.Equal(t, []string{"Kabeza"}, names(wetmill.Filter{CountryID: countryID, ExcludeCSPs: []int64{cspID}, CSPSeasonID: season}))
		assert.Equal(t, []string{"Gakenke", "Kabeza"}, names(wetmill.Filter{CountryID: countryID, OnlyCSPs: []int64{cspID}}), "no CSP season")
		assert.Equal(t, []string{"Kabeza"}, names(wetmill.Filter{CountryID: countryID, ReportSeasonID: season}))
		assert.Equal(t, []string{"Gakenke"}, names(wetmill.Filter{CountryID: countryID, SMSSeasonID: season}))
		assert.Empty(t, names(wetmill.Filter{CountryID: countryID + 1}))

		metrics, err := repo.FinalizedMetrics(ctx, s.wetmillID, s.seasonID)
		require.NoError(t, err)
		assert.True(t, metrics["working_capital"].IsCurrency)
		assert.Equal(t, 2, metrics["working_capital"].Rank)
	})

	t.Run("active submissions for season", func(t *testing.T) {
		list, err := subs.ListActiveForSeason(ctx, gakenkeID, s.seasonID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.True(t, list[2].Values[submission.FieldWorkingCapital].Equal(decimal.NewFromInt(1000)))

		list, err = subs.ListActiveForSeason(ctx, s.wetmillID, s.seasonID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("scheduled broadcasts", func(t *testing.T) {
		repo := NewPostgresMessageRepository(db)
		now := time.Date(2024, 3, 25, 8, 0, 0, 0, time.UTC)

		_, err := repo.GetScheduledBroadcast(ctx, 9999)
		assert.ErrorIs(t, err, ErrScheduledBroadcastNotFound)
		assert.ErrorIs(t, repo.CreateBroadcast(ctx, &message.Broadcast{Recipients: "A", CountryID: countryID}), message.ErrBroadcastEmpty)

		due := &message.Broadcast{
			Recipients: "AF", CountryID: countryID, CSPIDs: []int64{cspID}, ExcludeWetmillIDs: []int64{s.wetmillID},
			SMSSeasonID: sql.NullInt64{Int64: s.seasonID, Valid: true},
			Text:        "Hi {{ .wetmill.Name }}", SendOn: sql.NullTime{Time: now.Add(-time.Minute), Valid: true},
		}
		later := &message.Broadcast{Recipients: "A", CountryID: countryID, Text: "later", SendOn: sql.NullTime{Time: now.Add(time.Hour), Valid: true}}
		draft := &message.Broadcast{Recipients: "A", CountryID: countryID, Text: "draft"}
		for _, b := range []*message.Broadcast{due, later, draft} {
			require.NoError(t, repo.CreateBroadcast(ctx, b))
			assert.NotZero(t, b.ID)
		}

		pending, err := repo.ListPendingBroadcasts(ctx, now)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		got := pending[0]
		assert.Equal(t, due.ID, got.ID)
		assert.Equal(t, []int64{cspID}, got.CSPIDs)
		assert.Equal(t, []int64{s.wetmillID}, got.ExcludeWetmillIDs)
		assert.Empty(t, got.WetmillIDs)
		assert.Equal(t, due.SMSSeasonID, got.SMSSeasonID)
		assert.False(t, got.ReportSeasonID.Valid)
		assert.Equal(t, due.SMSSeasonID, got.Filter().CSPSeasonID)

		out := NewPostgresOutgoingRepository(db)
		m := &outgoing.Message{ID: "01HTESTBROADCAST00000000001", ConnectionID: s.accountant.Connection.ID, Text: "Hi Gakenke"}
		require.NoError(t, out.CreateMessage(ctx, m))
		require.NoError(t, repo.RecordBroadcastMessages(ctx, due.ID, []string{m.ID}))
		require.NoError(t, repo.RecordBroadcastMessages(ctx, due.ID, []string{m.ID}))
		ids, err := repo.ListBroadcastMessageIDs(ctx, due.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{m.ID}, ids)

		ok, err := repo.MarkBroadcastSent(ctx, due.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.MarkBroadcastSent(ctx, due.ID)
		require.NoError(t, err)
		assert.False(t, ok, "already sent")

		pending, err = repo.ListPendingBroadcasts(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, later.ID, pending[0].ID)
	})
}

func TestPostgresLocker(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	l := NewPostgresLocker(db, quietEntry())

	unlock, ok, err := l.TryLock(ctx, "scheduled-report:daily", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "scheduled-report:daily", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease blocks a second worker")

	require.NoError(t, unlock(ctx))
	_, ok, err = l.TryLock(ctx, "scheduled-report:daily", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	crashed, crash := context.WithCancel(ctx)
	_, ok, err = l.TryLock(crashed, "scheduled-report:expiring", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	crash()
	time.Sleep(150 * time.Millisecond)
	_, ok, err = l.TryLock(ctx, "scheduled-report:expiring", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease without a heartbeat expires and is taken over")
}

func TestPostgresLockerRenewsHeldLease(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	l := NewPostgresLocker(db, quietEntry())

	unlock, ok, err := l.TryLock(ctx, "broadcast:7", 300*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(time.Second)
	_, ok, err = l.TryLock(ctx, "broadcast:7", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a running job keeps its lease past the TTL")

	require.NoError(t, unlock(ctx))
	_, ok, err = l.TryLock(ctx, "broadcast:7", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
