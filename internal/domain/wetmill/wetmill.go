// Package wetmill holds wetmills, seasons and the finalized report metrics
// that season-end messages quote.
package wetmill

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"wetmill_sms/internal/domain/currency"
	"wetmill_sms/internal/domain/locale"
)

// AccountingSystem2012 is the accounting scheme that expects weekly Amafaranga and Sitoki messages.
const AccountingSystem2012 = "2012"

type Wetmill struct {
	ID               int64
	Name             string
	CountryID        int64
	Country          *locale.Country
	AccountingSystem string
	CreatedAt        time.Time
}

type Season struct {
	ID           int64
	Name         string
	CountryID    int64
	ExchangeRate decimal.NullDecimal
	IsActive     bool
	IsFinalized  bool
}

// Metric is one finalized season report value for a wetmill. Currency
// metrics are stored in the country's local currency.
type Metric struct {
	Slug       string
	Label      string
	Value      decimal.Decimal
	Rank       int
	IsCurrency bool
}

// Amount is the value as templates see it: a local currency.Value for
// currency metrics, the plain decimal otherwise.
func (m Metric) Amount() any {
	if m.IsCurrency {
		return currency.Local(m.Value)
	}
	return m.Value
}

// Filter selects the wetmills of one country a broadcast goes to.
type Filter struct {
	CountryID int64
	// Only, when set, restricts to these wetmills.
	Only    []int64
	Exclude []int64
	// CSP filters apply to the CSP a wetmill sold through in CSPSeasonID and
	// are ignored without one.
	OnlyCSPs    []int64
	ExcludeCSPs []int64
	CSPSeasonID sql.NullInt64
	// ReportSeasonID keeps wetmills with report values in that season.
	ReportSeasonID sql.NullInt64
	// SMSSeasonID keeps wetmills that sent Ibitumbwe, Sitoki and Amafaranga
	// messages in that season.
	SMSSeasonID sql.NullInt64
}

// Metrics is keyed by slug for template lookups such as {{ .report.cherry_price.Value }}.
type Metrics map[string]Metric

type Repository interface {
	GetWetmill(ctx context.Context, id int64) (*Wetmill, error)
	GetSeason(ctx context.Context, id int64) (*Season, error)
	// ListWithReports returns the wetmills of a country that have report values
	// for the season, ordered by name.
	ListWithReports(ctx context.Context, countryID, seasonID int64) ([]*Wetmill, error)
	// FinalizedMetrics returns the metrics of a finalized report, or an empty set.
	FinalizedMetrics(ctx context.Context, wetmillID, seasonID int64) (Metrics, error)
	// ListMatching returns the wetmills selected by f, ordered by name.
	ListMatching(ctx context.Context, f Filter) ([]*Wetmill, error)
}
