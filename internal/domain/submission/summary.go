package submission

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"wetmill_sms/internal/domain/currency"
)

// cherryLag is how long cherry takes to show up as stored parchment.
const cherryLag = 10 * 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// Summary is a wetmill's season to date as told by its SMS messages.
type Summary struct {
	CherryPurchased    decimal.Decimal
	ParchmentProcessed decimal.Decimal

	// CherryToParchmentRatio compares parchment stored up to the latest
	// Sitoki week with the cherry bought at least ten days before it.
	CherryToParchmentRatio decimal.Decimal

	WorkingCapital           currency.Value
	WorkingCapitalNonCherry  decimal.Decimal // percent of WorkingCapital
	CasualLabor              currency.Value
	CasualLaborPerKiloCherry currency.Value

	LastIbitumbwe  sql.NullTime
	LastSitoki     sql.NullTime
	LastAmafaranga sql.NullTime
}

// Summarize totals the active submissions of one wetmill and season as of
// today. Only the calendar date of today is used.
func Summarize(subs []*Submission, today time.Time) Summary {
	today = civil(today)
	sum := Summary{
		WorkingCapital:           currency.Local(decimal.Zero),
		CasualLabor:              currency.Local(decimal.Zero),
		CasualLaborPerKiloCherry: currency.Local(decimal.Zero),
	}

	var sitokiEnd sql.NullTime
	for _, s := range byKind(subs, KindSitoki) {
		if s.StartOfWeek.Valid && (!sitokiEnd.Valid || civil(s.StartOfWeek.Time).After(sitokiEnd.Time)) {
			sitokiEnd = sql.NullTime{Time: civil(s.StartOfWeek.Time), Valid: true}
		}
	}
	if sitokiEnd.Valid {
		cherryEnd := sitokiEnd.Time.Add(-cherryLag)
		for _, s := range byKind(subs, KindIbitumbwe) {
			if !civil(s.ReportDay).After(cherryEnd) {
				sum.CherryPurchased = sum.CherryPurchased.Add(s.Values[FieldCherryPurchased])
			}
		}
		for _, s := range byKind(subs, KindSitoki) {
			if s.StartOfWeek.Valid && !civil(s.StartOfWeek.Time).After(sitokiEnd.Time) {
				sum.ParchmentProcessed = sum.ParchmentProcessed.
					Add(s.Values[FieldGradeAStored]).
					Add(s.Values[FieldGradeBStored]).
					Add(s.Values[FieldGradeCStored])
			}
		}
		if sum.ParchmentProcessed.IsPositive() {
			sum.CherryToParchmentRatio = sum.CherryPurchased.Div(sum.ParchmentProcessed).RoundBank(2)
		}
	}

	var workingCapital, nonCherry, casual decimal.Decimal
	for _, s := range byKind(subs, KindAmafaranga) {
		if !s.StartOfWeek.Valid || civil(s.StartOfWeek.Time).After(today) {
			continue
		}
		workingCapital = workingCapital.Add(s.Values[FieldWorkingCapital])
		casual = casual.Add(s.Values[FieldCasualLabor])
		nonCherry = nonCherry.
			Add(s.Values[FieldFullTimeLabor]).
			Add(s.Values[FieldCasualLabor]).
			Add(s.Values[FieldCommission]).
			Add(s.Values[FieldTransport]).
			Add(s.Values[FieldOtherExpenses])
		sum.LastAmafaranga = latest(sum.LastAmafaranga, s.StartOfWeek.Time)
	}
	sum.WorkingCapital = currency.Local(workingCapital)
	sum.CasualLabor = currency.Local(casual)
	if !workingCapital.IsZero() {
		sum.WorkingCapitalNonCherry = nonCherry.Mul(hundred).Div(workingCapital).RoundBank(0)
	}

	var cherryToDate decimal.Decimal
	for _, s := range byKind(subs, KindIbitumbwe) {
		if civil(s.ReportDay).After(today) {
			continue
		}
		cherryToDate = cherryToDate.Add(s.Values[FieldCherryPurchased])
		sum.LastIbitumbwe = latest(sum.LastIbitumbwe, s.ReportDay)
	}
	if casual.IsPositive() && cherryToDate.IsPositive() {
		sum.CasualLaborPerKiloCherry = currency.Local(casual.Div(cherryToDate).RoundBank(2))
	}

	for _, s := range byKind(subs, KindSitoki) {
		if s.StartOfWeek.Valid && !civil(s.StartOfWeek.Time).After(today) {
			sum.LastSitoki = latest(sum.LastSitoki, s.StartOfWeek.Time)
		}
	}
	return sum
}

func byKind(subs []*Submission, kind Kind) []*Submission {
	out := make([]*Submission, 0, len(subs))
	for _, s := range subs {
		if s.Kind == kind && s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

// civil drops the clock and zone so DATE columns and local days compare by calendar date.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func latest(cur sql.NullTime, t time.Time) sql.NullTime {
	t = civil(t)
	if !cur.Valid || t.After(cur.Time) {
		return sql.NullTime{Time: t, Valid: true}
	}
	return cur
}
