package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wetmill_sms/internal/domain/locale"
	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/submission"
	"wetmill_sms/internal/domain/wetmill"
)

var broadcastNow = time.Date(2024, time.March, 25, 10, 0, 0, 0, kigali)

type scheduledFixture struct {
	service *ScheduledBroadcastService
	repo    *fakeMessages
	router  *fakeRouter
	locker  *fakeLocker
}

func newScheduledFixture(broadcasts ...*message.Broadcast) scheduledFixture {
	rwanda := &locale.Country{ID: 1, Name: "Rwanda", Code: "rw", Currency: locale.Currency{Code: "RWF", Suffix: " RWF"}}
	uganda := &locale.Country{ID: 2, Name: "Uganda", Code: "ug"}
	wms := &fakeWetmills{
		wetmills: []*wetmill.Wetmill{
			{ID: 3, Name: "Rusizi", CountryID: 1, Country: rwanda},
			{ID: 1, Name: "Kabeza", CountryID: 1, Country: rwanda},
			{ID: 2, Name: "Nyamasheke", CountryID: 1, Country: rwanda},
			{ID: 4, Name: "Bugisu", CountryID: 2, Country: uganda},
		},
		seasons: []*wetmill.Season{
			{ID: 4, Name: "2023", CountryID: 1, IsFinalized: true, ExchangeRate: decimal.NewNullDecimal(decimal.NewFromInt(1250))},
			{ID: 5, Name: "2024", CountryID: 1, IsActive: true},
		},
		withData: map[int64]bool{1: true, 2: true, 4: true},
		withSMS:  map[int64]bool{1: true, 3: true},
		csps: map[wetmillSeason]int64{
			{1, 4}: 10,
			{2, 4}: 11,
			{3, 5}: 10,
		},
		metrics: wetmill.Metrics{
			"cherry_price": {Slug: "cherry_price", Value: decimal.NewFromInt(310), Rank: 2, IsCurrency: true},
		},
	}
	actors := &fakeActors{actors: []*recipient.Actor{
		actor(1, recipient.KindAccountant, 1, conn(1, "+1"), ""),
		actor(2, recipient.KindFarmer, 1, conn(1, "+1"), ""),
		actor(3, recipient.KindFarmer, 1, conn(3, "+3"), ""),
		actor(4, recipient.KindObserver, 1, conn(4, "+4"), ""),
		actor(5, recipient.KindAccountant, 2, conn(5, "+5"), ""),
		actor(6, recipient.KindAccountant, 3, conn(6, "+6"), ""),
	}}
	subs := &fakeSubmissions{subs: []*submission.Submission{
		{Kind: submission.KindIbitumbwe, WetmillID: 1, SeasonID: 5, IsActive: true,
			ReportDay: day(2024, time.March, 1), Values: map[string]decimal.Decimal{submission.FieldCherryPurchased: decimal.NewFromInt(1500)}},
		{Kind: submission.KindSitoki, WetmillID: 1, SeasonID: 5, IsActive: true,
			ReportDay: day(2024, time.March, 15), StartOfWeek: sql.NullTime{Time: day(2024, time.March, 15), Valid: true},
			Values: map[string]decimal.Decimal{submission.FieldGradeAStored: decimal.NewFromInt(300)}},
		{Kind: submission.KindAmafaranga, WetmillID: 1, SeasonID: 5, IsActive: true,
			ReportDay: day(2024, time.March, 15), StartOfWeek: sql.NullTime{Time: day(2024, time.March, 15), Valid: true},
			Values: map[string]decimal.Decimal{submission.FieldWorkingCapital: decimal.NewFromInt(10000)}},
	}}
	for i, b := range broadcasts {
		b.ID = int64(i + 1)
	}

	repo := &fakeMessages{scheduled: broadcasts}
	router := &fakeRouter{}
	locker := &fakeLocker{}
	s := NewScheduledBroadcastService(repo, wms, subs,
		NewRecipientResolver(actors, "en_us"), NewRenderer(kigali, testLogger()), NewDispatcher(router, testLogger()),
		locker, kigali, ScheduledBroadcastOptions{}, testLogger())
	return scheduledFixture{service: s, repo: repo, router: router, locker: locker}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sendOn(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func seasonRef(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}

func wetmillNames(wms []*wetmill.Wetmill) []string {
	names := make([]string, len(wms))
	for i, w := range wms {
		names[i] = w.Name
	}
	return names
}

func TestCalculateBroadcastWetmills(t *testing.T) {
	f := newScheduledFixture()

	cases := []struct {
		name string
		b    message.Broadcast
		want []string
	}{
		{"whole country by name", message.Broadcast{CountryID: 1}, []string{"Kabeza", "Nyamasheke", "Rusizi"}},
		{"only and exclude", message.Broadcast{CountryID: 1, WetmillIDs: []int64{1, 3}, ExcludeWetmillIDs: []int64{3}}, []string{"Kabeza"}},
		{"report season", message.Broadcast{CountryID: 1, ReportSeasonID: seasonRef(4)}, []string{"Kabeza", "Nyamasheke"}},
		{"csp in report season", message.Broadcast{CountryID: 1, ReportSeasonID: seasonRef(4), CSPIDs: []int64{10}}, []string{"Kabeza"}},
		{"excluded csp", message.Broadcast{CountryID: 1, ReportSeasonID: seasonRef(4), ExcludeCSPIDs: []int64{10}}, []string{"Nyamasheke"}},
		{"csp without a season", message.Broadcast{CountryID: 1, CSPIDs: []int64{11}}, []string{"Kabeza", "Nyamasheke", "Rusizi"}},
		{"csp in sms season", message.Broadcast{CountryID: 1, SMSSeasonID: seasonRef(5), CSPIDs: []int64{10}}, []string{"Rusizi"}},
		{"other country", message.Broadcast{CountryID: 2}, []string{"Bugisu"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wms, err := f.service.CalculateWetmills(context.Background(), &tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.want, wetmillNames(wms))
		})
	}
}

func TestSendPendingSendsDueBroadcastsOnce(t *testing.T) {
	f := newScheduledFixture(
		&message.Broadcast{Recipients: "AF", CountryID: 1, ReportSeasonID: seasonRef(4), SendOn: sendOn(broadcastNow.Add(-time.Minute)),
			Text: "  Hi {{ .actor.Name }} at {{ .wetmill.Name }}, one of {{ .total_wetmills }}  "},
		&message.Broadcast{Recipients: "A", CountryID: 1, SendOn: sendOn(broadcastNow.Add(time.Hour)), Text: "later"},
		&message.Broadcast{Recipients: "A", CountryID: 1, Text: "draft"},
	)
	ctx := context.Background()

	n, err := f.service.SendPending(ctx, broadcastNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"+1", "+3", "+5"}, f.router.identities(), "shared numbers get one message")
	assert.Equal(t, "Hi accountant-1 at Kabeza, one of 2", f.router.texts()[0])
	assert.Equal(t, []string{"msg-1", "msg-2", "msg-3"}, f.repo.broadcastMessages[1])
	assert.True(t, f.repo.scheduled[0].Sent)
	assert.False(t, f.repo.scheduled[1].Sent)
	assert.False(t, f.repo.scheduled[2].Sent)
	assert.Empty(t, f.locker.held, "lock released")

	n, err = f.service.SendPending(ctx, broadcastNow)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.router.texts(), 3)

	n, err = f.service.SendPending(ctx, broadcastNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"later", "later", "later"}, f.router.texts()[3:])
}

func TestSendPendingLeavesLockedBroadcast(t *testing.T) {
	f := newScheduledFixture(&message.Broadcast{Recipients: "A", CountryID: 1, SendOn: sendOn(broadcastNow), Text: "hello"})
	f.locker.held = map[string]bool{"send_broadcast_1": true}

	n, err := f.service.SendPending(context.Background(), broadcastNow)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.router.texts())
	assert.False(t, f.repo.scheduled[0].Sent)
}

func TestBroadcastSkipsEmptyRenders(t *testing.T) {
	b := &message.Broadcast{Recipients: "A", CountryID: 1, ReportSeasonID: seasonRef(4), SendOn: sendOn(broadcastNow),
		Text: `{{ if eq .wetmill.Name "Kabeza" }}Well done{{ end }}`}
	f := newScheduledFixture(b)

	n, err := f.service.Send(context.Background(), b, broadcastNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"+1"}, f.router.identities())
	assert.True(t, f.repo.scheduled[0].Sent, "sent even when some wetmills had nothing to say")
}

func TestBroadcastSMSSeasonContext(t *testing.T) {
	b := &message.Broadcast{Recipients: "A", CountryID: 1, WetmillIDs: []int64{1}, SMSSeasonID: seasonRef(5), SendOn: sendOn(broadcastNow),
		Text: "{{ .sms_cherry_purchased }} kg cherry, ratio {{ .sms_cherry_to_parchment_ratio }}, " +
			"capital {{ as_local .sms_working_cap | format_currency .currency }}, " +
			"sitoki {{ .last_sitoki_submission }}, ibitumbwe {{ .last_ibitumbwe_submission }}, today {{ .today }}"}
	f := newScheduledFixture(b)

	_, err := f.service.Send(context.Background(), b, broadcastNow)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"1500 kg cherry, ratio 5, capital 10,000 RWF, sitoki 15.03.24, ibitumbwe 01.03.24, today 25.03.24",
	}, f.router.texts())
}

func TestBroadcastReportContext(t *testing.T) {
	b := &message.Broadcast{Recipients: "A", CountryID: 1, WetmillIDs: []int64{1}, ReportSeasonID: seasonRef(4), SendOn: sendOn(broadcastNow),
		Text: "{{ as_local .cherry_price | format_currency .currency }} ({{ .cherry_price | as_usd .exchange_rate }} USD), rank {{ .cherry_price__rank }}{{ .sms_working_cap }}"}
	f := newScheduledFixture(b)

	_, err := f.service.Send(context.Background(), b, broadcastNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"310 RWF (0.25 USD), rank 2"}, f.router.texts(), "no sms season, no sms totals")
}

func TestScheduleValidatesBroadcast(t *testing.T) {
	f := newScheduledFixture()
	ctx := context.Background()

	err := f.service.Schedule(ctx, &message.Broadcast{Recipients: "A", CountryID: 1, Text: " "})
	assert.ErrorIs(t, err, message.ErrBroadcastEmpty)

	b := &message.Broadcast{Recipients: "AO", CountryID: 1, Text: "hello", SendOn: sendOn(broadcastNow)}
	require.NoError(t, f.service.Schedule(ctx, b))
	assert.NotZero(t, b.ID)

	pending, err := f.repo.ListPendingBroadcasts(ctx, broadcastNow)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "hello", pending[0].Text)
}
