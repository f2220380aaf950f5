package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"wetmill_sms/internal/domain/locale"
	"wetmill_sms/internal/domain/wetmill"
)

// PostgresWetmillRepository reads wetmills, seasons, countries and their units.
type PostgresWetmillRepository struct {
	db *sql.DB
}

func NewPostgresWetmillRepository(db *sql.DB) *PostgresWetmillRepository {
	return &PostgresWetmillRepository{db: db}
}

const countryColumns = `co.id, co.name, co.code, co.language, co.calling_code, co.phone_format,
       cu.code, cu.name, cu.abbreviation, cu.has_decimals, cu.prefix, cu.suffix,
       w.name, w.abbreviation, w.ratio_to_kilogram`

const countryJoins = `JOIN currencies cu ON cu.code = co.currency_code
               JOIN weights w ON w.id = co.weight_id`

func countryDest(c *locale.Country) []any {
	return []any{&c.ID, &c.Name, &c.Code, &c.Language, &c.CallingCode, &c.PhoneFormat,
		&c.Currency.Code, &c.Currency.Name, &c.Currency.Abbreviation, &c.Currency.HasDecimals, &c.Currency.Prefix, &c.Currency.Suffix,
		&c.Weight.Name, &c.Weight.Abbreviation, &c.Weight.RatioToKilogram}
}

func (r *PostgresWetmillRepository) GetCountryByID(ctx context.Context, id int64) (*locale.Country, error) {
	return r.getCountry(ctx, `co.id = $1`, id)
}

func (r *PostgresWetmillRepository) GetCountryByCode(ctx context.Context, code string) (*locale.Country, error) {
	return r.getCountry(ctx, `co.code = $1`, code)
}

func (r *PostgresWetmillRepository) getCountry(ctx context.Context, where string, arg any) (*locale.Country, error) {
	query := `SELECT ` + countryColumns + `
               FROM countries co ` + countryJoins + `
               WHERE ` + where
	c := &locale.Country{}
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(countryDest(c)...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCountryNotFound
		}
		return nil, fmt.Errorf("error getting country: %w", err)
	}
	return c, nil
}

func (r *PostgresWetmillRepository) GetCurrencyByCode(ctx context.Context, code string) (*locale.Currency, error) {
	query := `SELECT code, name, abbreviation, has_decimals, prefix, suffix FROM currencies WHERE code = $1`
	c := &locale.Currency{}
	err := r.db.QueryRowContext(ctx, query, code).Scan(&c.Code, &c.Name, &c.Abbreviation, &c.HasDecimals, &c.Prefix, &c.Suffix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCurrencyNotFound
		}
		return nil, fmt.Errorf("error getting currency: %w", err)
	}
	return c, nil
}

const wetmillColumns = `wm.id, wm.name, wm.country_id, wm.accounting_system, wm.created_at, ` + countryColumns

func scanWetmill(row rowScanner) (*wetmill.Wetmill, error) {
	wm := &wetmill.Wetmill{Country: &locale.Country{}}
	dest := append([]any{&wm.ID, &wm.Name, &wm.CountryID, &wm.AccountingSystem, &wm.CreatedAt}, countryDest(wm.Country)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return wm, nil
}

func (r *PostgresWetmillRepository) GetWetmill(ctx context.Context, id int64) (*wetmill.Wetmill, error) {
	query := `SELECT ` + wetmillColumns + `
               FROM wetmills wm JOIN countries co ON co.id = wm.country_id ` + countryJoins + `
               WHERE wm.id = $1`
	wm, err := scanWetmill(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrWetmillNotFound
		}
		return nil, fmt.Errorf("error getting wetmill: %w", err)
	}
	return wm, nil
}

func (r *PostgresWetmillRepository) GetSeason(ctx context.Context, id int64) (*wetmill.Season, error) {
	query := `SELECT id, name, country_id, exchange_rate, is_active, is_finalized FROM seasons WHERE id = $1`
	s := &wetmill.Season{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Name, &s.CountryID, &s.ExchangeRate, &s.IsActive, &s.IsFinalized)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSeasonNotFound
		}
		return nil, fmt.Errorf("error getting season: %w", err)
	}
	return s, nil
}

func (r *PostgresWetmillRepository) ListWithReports(ctx context.Context, countryID, seasonID int64) ([]*wetmill.Wetmill, error) {
	query := `SELECT ` + wetmillColumns + `
               FROM wetmills wm JOIN countries co ON co.id = wm.country_id ` + countryJoins + `
               WHERE wm.country_id = $1
                 AND EXISTS (SELECT 1 FROM report_values rv WHERE rv.wetmill_id = wm.id AND rv.season_id = $2)
               ORDER BY wm.name`
	return r.listWetmills(ctx, query, countryID, seasonID)
}

// ListMatching selects the wetmills of a broadcast audience. Empty id lists
// and NULL seasons disable their clause.
func (r *PostgresWetmillRepository) ListMatching(ctx context.Context, f wetmill.Filter) ([]*wetmill.Wetmill, error) {
	query := `SELECT ` + wetmillColumns + `
               FROM wetmills wm JOIN countries co ON co.id = wm.country_id ` + countryJoins + `
               WHERE wm.country_id = $1
                 AND (cardinality($2::bigint[]) = 0 OR wm.id = ANY($2))
                 AND NOT (wm.id = ANY($3::bigint[]))
                 AND ($4::bigint IS NULL OR cardinality($5::bigint[]) = 0 OR EXISTS (
                      SELECT 1 FROM wetmill_csp_seasons cs
                      WHERE cs.wetmill_id = wm.id AND cs.season_id = $4 AND cs.csp_id = ANY($5)))
                 AND ($4::bigint IS NULL OR cardinality($6::bigint[]) = 0 OR NOT EXISTS (
                      SELECT 1 FROM wetmill_csp_seasons cs
                      WHERE cs.wetmill_id = wm.id AND cs.season_id = $4 AND cs.csp_id = ANY($6)))
                 AND ($7::bigint IS NULL OR EXISTS (
                      SELECT 1 FROM report_values rv WHERE rv.wetmill_id = wm.id AND rv.season_id = $7))
                 AND ($8::bigint IS NULL OR (
                      SELECT COUNT(DISTINCT s.kind) FROM submissions s
                      WHERE s.wetmill_id = wm.id AND s.season_id = $8
                        AND s.kind IN ('ibitumbwe', 'sitoki', 'amafaranga')) = 3)
               ORDER BY wm.name, wm.id`
	return r.listWetmills(ctx, query,
		f.CountryID,
		idsParam(f.Only),
		idsParam(f.Exclude),
		f.CSPSeasonID,
		idsParam(f.OnlyCSPs),
		idsParam(f.ExcludeCSPs),
		f.ReportSeasonID,
		f.SMSSeasonID,
	)
}

func (r *PostgresWetmillRepository) listWetmills(ctx context.Context, query string, args ...any) ([]*wetmill.Wetmill, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing wetmills: %w", err)
	}
	defer rows.Close()

	wetmills := make([]*wetmill.Wetmill, 0)
	for rows.Next() {
		wm, err := scanWetmill(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning wetmill: %w", err)
		}
		wetmills = append(wetmills, wm)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wetmills: %w", err)
	}
	return wetmills, nil
}

// idsParam binds an id list as a bigint array, never NULL.
func idsParam(ids []int64) any {
	if ids == nil {
		ids = []int64{}
	}
	return pq.Array(ids)
}

func (r *PostgresWetmillRepository) FinalizedMetrics(ctx context.Context, wetmillID, seasonID int64) (wetmill.Metrics, error) {
	query := `SELECT slug, label, value, rank, is_currency FROM report_values
               WHERE wetmill_id = $1 AND season_id = $2 AND is_final = TRUE
               ORDER BY rank, slug`
	rows, err := r.db.QueryContext(ctx, query, wetmillID, seasonID)
	if err != nil {
		return nil, fmt.Errorf("error listing report metrics: %w", err)
	}
	defer rows.Close()

	metrics := make(wetmill.Metrics)
	for rows.Next() {
		var m wetmill.Metric
		if err := rows.Scan(&m.Slug, &m.Label, &m.Value, &m.Rank, &m.IsCurrency); err != nil {
			return nil, fmt.Errorf("error scanning report metric: %w", err)
		}
		metrics[m.Slug] = m
	}
	return metrics, rows.Err()
}
