package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wetmill_sms/internal/domain/locale"
	"wetmill_sms/internal/domain/message"
	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/wetmill"
	idb "wetmill_sms/internal/infra/database"
)

func newBroadcastFixture(text string, finalized bool) (*BroadcastService, *fakeMessages, *fakeRouter) {
	rwanda := &locale.Country{ID: 1, Name: "Rwanda", Code: "rw", Currency: locale.Currency{Code: "RWF", Suffix: " RWF"}}
	wms := &fakeWetmills{
		wetmills: []*wetmill.Wetmill{
			{ID: 1, Name: "Kabeza", CountryID: 1, Country: rwanda},
			{ID: 2, Name: "Nyamasheke", CountryID: 1, Country: rwanda},
			{ID: 3, Name: "Rusizi", CountryID: 1, Country: rwanda},
		},
		seasons: []*wetmill.Season{{
			ID: 4, Name: "2024", CountryID: 1, IsFinalized: finalized,
			ExchangeRate: decimal.NewNullDecimal(decimal.NewFromInt(1250)),
		}},
		withData: map[int64]bool{1: true, 2: true},
		metrics: wetmill.Metrics{
			"cherry_price":    {Slug: "cherry_price", Label: "Cherry price", Value: decimal.NewFromInt(310)},
			"working_capital": {Slug: "working_capital", Label: "Working capital", Value: decimal.NewFromInt(2500000), Rank: 3, IsCurrency: true},
		},
	}
	actors := &fakeActors{actors: []*recipient.Actor{
		actor(1, recipient.KindAccountant, 1, conn(1, "+1"), ""),
		actor(2, recipient.KindFarmer, 1, conn(1, "+1"), ""),
		actor(3, recipient.KindFarmer, 1, conn(3, "+3"), ""),
		actor(4, recipient.KindObserver, 1, conn(4, "+4"), ""),
	}}
	repo := &fakeMessages{broadcasts: []*message.SeasonEndBroadcast{
		{ID: 9, Name: "Season end", Recipients: "AF", Message: message.NewText(text)},
	}}
	router := &fakeRouter{}
	s := NewBroadcastService(repo, wms, NewRecipientResolver(actors, "en_us"), NewRenderer(kigali, testLogger()), NewDispatcher(router, testLogger()), testLogger())
	return s, repo, router
}

func TestBroadcastSendRecordsDeliveriesOnce(t *testing.T) {
	s, repo, router := newBroadcastFixture("  {{ .wetmill.Name }} is one of {{ .total_wetmills }} wetmills  ", false)

	n, err := s.Send(context.Background(), 9, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"+1", "+3"}, router.identities())
	assert.Equal(t, "Kabeza is one of 2 wetmills", router.texts()[0])

	require.Len(t, repo.deliveries, 1)
	assert.Equal(t, deliveryCall{9, 1, 4, []string{"msg-1", "msg-2"}}, repo.deliveries[0])
}

func TestBroadcastSendQuotesFinalizedReport(t *testing.T) {
	s, _, router := newBroadcastFixture(`Cherry paid {{ .report.cherry_price.Value | format_currency .currency }}`, true)

	_, err := s.Send(context.Background(), 9, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "Cherry paid 310 RWF", router.texts()[0])
}

func TestBroadcastSendConvertsReportAmountsToUSD(t *testing.T) {
	s, _, router := newBroadcastFixture(
		`{{ as_local .working_capital | format_currency .currency }} is {{ .working_capital | as_usd .exchange_rate }} USD, rank {{ .working_capital__rank }}`, true)

	_, err := s.Send(context.Background(), 9, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "2,500,000 RWF is 2000 USD, rank 3", router.texts()[0])
}

func TestBroadcastSendSkipsEmptyText(t *testing.T) {
	s, repo, router := newBroadcastFixture("{{ if .report }}Report ready{{ end }}", false)

	n, err := s.Send(context.Background(), 9, 1, 4)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, router.texts())
	assert.Empty(t, repo.deliveries)
}

func TestBroadcastSendUnknownBroadcast(t *testing.T) {
	s, _, _ := newBroadcastFixture("hi", false)

	_, err := s.Send(context.Background(), 404, 1, 4)
	assert.ErrorIs(t, err, idb.ErrBroadcastNotFound)
}

func TestCalculateWetmills(t *testing.T) {
	s, _, _ := newBroadcastFixture("hi", false)

	wms, err := s.CalculateWetmills(context.Background(), 1, 4)
	require.NoError(t, err)
	require.Len(t, wms, 2)
	assert.Equal(t, "Kabeza", wms[0].Name)
	assert.Equal(t, "Nyamasheke", wms[1].Name)
}
