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

type recordingConfirmer struct {
	confirmed []int64
}

func (c *recordingConfirmer) Confirm(_ context.Context, s *submission.Submission) error {
	c.confirmed = append(c.confirmed, s.ID)
	return nil
}

var (
	march11 = time.Date(2024, 3, 11, 0, 0, 0, 0, kigali)
	march12 = time.Date(2024, 3, 12, 0, 0, 0, 0, kigali)
	noon    = time.Date(2024, 3, 12, 12, 0, 0, 0, kigali)
)

func newSubmission(kind submission.Kind, day, created time.Time) *submission.Submission {
	return &submission.Submission{
		Kind:         kind,
		AccountantID: 1,
		WetmillID:    1,
		SeasonID:     1,
		ConnectionID: 1,
		ReportDay:    day,
		CreatedAt:    created,
	}
}

func approvedSubmission(kind submission.Kind, day time.Time) *submission.Submission {
	s := newSubmission(kind, day, day)
	s.Approved = true
	return s
}

func approvalFixture(subs ...*submission.Submission) (*ApprovalService, *fakeSubmissions, *recordingConfirmer) {
	repo := &fakeSubmissions{}
	for _, s := range subs {
		_ = repo.Create(context.Background(), s)
	}
	c := &recordingConfirmer{}
	return NewApprovalService(repo, c, ApprovalOptions{Window: 59 * time.Minute, Lookback: 90 * 24 * time.Hour}, testLogger()), repo, c
}

func TestApprovalWaitsForWindow(t *testing.T) {
	s := newSubmission(submission.KindIbitumbwe, march12, noon)
	a, _, c := approvalFixture(s)
	ctx := context.Background()

	n, err := a.ApproveDue(ctx, noon.Add(58*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.ApproveDue(ctx, noon.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, submission.StateApproved, s.State())
	assert.Equal(t, []int64{s.ID}, c.confirmed)

	n, err = a.ApproveDue(ctx, noon.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "approval is terminal")
}

func TestApprovalCorrectionSupersedesEarlierSubmission(t *testing.T) {
	first := newSubmission(submission.KindIbitumbwe, march12, noon)
	second := newSubmission(submission.KindIbitumbwe, march12, noon.Add(30*time.Minute))
	a, _, _ := approvalFixture(first, second)
	ctx := context.Background()

	n, err := a.ApproveDue(ctx, noon.Add(60*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, first.Approved)

	n, err = a.ApproveDue(ctx, noon.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, second.Approved)
	assert.False(t, first.Approved)
}

func TestApprovalCrossKindGuards(t *testing.T) {
	ctx := context.Background()
	later := noon.Add(2 * time.Hour)

	t.Run("twakinze needs an earlier ibitumbwe", func(t *testing.T) {
		a, _, _ := approvalFixture(newSubmission(submission.KindTwakinze, march12, noon))
		ok, err := a.Evaluate(ctx, mustPending(t, a), later)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("twakinze with earlier ibitumbwe", func(t *testing.T) {
		a, _, _ := approvalFixture(
			approvedSubmission(submission.KindIbitumbwe, march11),
			newSubmission(submission.KindTwakinze, march12, noon),
		)
		ok, err := a.Evaluate(ctx, mustPending(t, a), later)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("twakinze blocked by same-day ibitumbwe", func(t *testing.T) {
		a, _, _ := approvalFixture(
			approvedSubmission(submission.KindIbitumbwe, march11),
			approvedSubmission(submission.KindIbitumbwe, march12),
			newSubmission(submission.KindTwakinze, march12, noon),
		)
		ok, err := a.Evaluate(ctx, mustPending(t, a), later)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ibitumbwe blocked by same-day twakinze", func(t *testing.T) {
		a, _, _ := approvalFixture(
			approvedSubmission(submission.KindTwakinze, march12),
			newSubmission(submission.KindIbitumbwe, march12, noon),
		)
		ok, err := a.Evaluate(ctx, mustPending(t, a), later)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("weekly form needs ibitumbwe before week start", func(t *testing.T) {
		week := submission.WeekStartBefore(noon)
		sitoki := newSubmission(submission.KindSitoki, march12, noon)
		sitoki.StartOfWeek = sql.NullTime{Time: week, Valid: true}

		a, _, _ := approvalFixture(approvedSubmission(submission.KindIbitumbwe, week), sitoki)
		ok, err := a.Evaluate(ctx, mustPending(t, a), later)
		require.NoError(t, err)
		assert.False(t, ok, "same-day ibitumbwe is not before the week start")

		a, _, _ = approvalFixture(approvedSubmission(submission.KindIbitumbwe, week.AddDate(0, 0, -1)), sitoki)
		ok, err = a.Evaluate(ctx, mustPending(t, a), later)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func mustPending(t *testing.T, a *ApprovalService) *submission.Submission {
	t.Helper()
	pending, err := a.submissions.ListPending(context.Background(), submission.Kinds, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	return pending[0]
}

func TestConfirmDeactivatesDuplicatesAndSendsCCs(t *testing.T) {
	ctx := context.Background()
	earlier := approvedSubmission(submission.KindTwakinze, march12)
	s := newSubmission(submission.KindIbitumbwe, march12, noon)
	s.Values = map[string]decimal.Decimal{"cherry": decimal.NewFromInt(120)}
	subs := &fakeSubmissions{}
	require.NoError(t, subs.Create(ctx, earlier))
	require.NoError(t, subs.Create(ctx, s))
	s.Approved = true

	wms := &fakeWetmills{wetmills: []*wetmill.Wetmill{{
		ID: 1, Name: "Kabeza", CountryID: 1,
		Country: &locale.Country{ID: 1, Currency: locale.Currency{Code: "RWF", Suffix: " RWF"}},
	}}}
	actors := &fakeActors{actors: []*recipient.Actor{
		actor(1, recipient.KindAccountant, 1, conn(1, "+1"), ""),
		actor(2, recipient.KindObserver, 1, conn(2, "+2"), ""),
	}}
	repo := &fakeMessages{ccs: []*message.CC{{
		Form:          "ibitumbwe",
		Slug:          "all",
		ReporterKinds: []recipient.Kind{recipient.KindAccountant, recipient.KindObserver},
		Message:       message.NewText("{{ .wetmill.Name }} {{ .day }}: {{ .cherry | format_kilos }}"),
	}}}
	router := &fakeRouter{}
	ccs := NewCCService(repo, NewRecipientResolver(actors, "en_us"), NewRenderer(kigali, testLogger()), NewDispatcher(router, testLogger()), testLogger())
	c := NewConfirmationService(subs, wms, ccs, testLogger())

	require.NoError(t, c.Confirm(ctx, s))
	assert.False(t, earlier.IsActive)
	assert.True(t, s.IsActive)
	assert.Equal(t, []string{"+2"}, router.identities(), "submitter is not copied")
	assert.Equal(t, []string{"Kabeza 12.03.24: 120 Kg"}, router.texts())
}

func TestConfirmExposesMonetaryValuesAsCurrency(t *testing.T) {
	ctx := context.Background()
	s := newSubmission(submission.KindAmafaranga, march11, noon)
	s.StartOfWeek = sql.NullTime{Time: march11, Valid: true}
	s.Values = map[string]decimal.Decimal{
		submission.FieldWorkingCapital: decimal.NewFromInt(10000),
		"receipts":                     decimal.NewFromInt(4),
	}
	subs := &fakeSubmissions{}
	require.NoError(t, subs.Create(ctx, s))
	s.Approved = true

	wms := &fakeWetmills{wetmills: []*wetmill.Wetmill{{
		ID: 1, Name: "Kabeza", CountryID: 1,
		Country: &locale.Country{ID: 1, Currency: locale.Currency{Code: "RWF", Suffix: " RWF"}},
	}}}
	actors := &fakeActors{actors: []*recipient.Actor{
		actor(2, recipient.KindObserver, 1, conn(2, "+2"), ""),
	}}
	repo := &fakeMessages{ccs: []*message.CC{{
		Form:          "amafaranga",
		Slug:          "observers",
		ReporterKinds: []recipient.Kind{recipient.KindObserver},
		Message: message.NewText("{{ as_local .working_capital | format_currency .currency }}, " +
			"doubled {{ cv_mul .working_capital 2 | as_local | format_currency .currency }}, " +
			"{{ .receipts }} receipts"),
	}}}
	router := &fakeRouter{}
	ccs := NewCCService(repo, NewRecipientResolver(actors, "en_us"), NewRenderer(kigali, testLogger()), NewDispatcher(router, testLogger()), testLogger())

	require.NoError(t, NewConfirmationService(subs, wms, ccs, testLogger()).Confirm(ctx, s))
	assert.Equal(t, []string{"10,000 RWF, doubled 20,000 RWF, 4 receipts"}, router.texts())
}
