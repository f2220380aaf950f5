// Package locale describes countries and the units their reports are written in.
package locale

import (
	"context"

	"github.com/shopspring/decimal"
)

// Languages the message templates can be translated into.
const (
	LanguageEnglish          = "en_us"
	LanguageKinyarwanda      = "rw"
	LanguageKenyanSwahili    = "ke_sw"
	LanguageTanzanianSwahili = "tz_sw"
	LanguageSpanish          = "es"
	LanguageAmharic          = "am"
)

var Languages = []string{
	LanguageEnglish,
	LanguageKinyarwanda,
	LanguageKenyanSwahili,
	LanguageTanzanianSwahili,
	LanguageSpanish,
	LanguageAmharic,
}

func IsLanguage(code string) bool {
	for _, l := range Languages {
		if l == code {
			return true
		}
	}
	return false
}

type Currency struct {
	Code         string
	Name         string
	Abbreviation string
	HasDecimals  bool
	Prefix       string
	Suffix       string
}

type Weight struct {
	Name            string
	Abbreviation    string
	RatioToKilogram decimal.Decimal
}

type Country struct {
	ID          int64
	Name        string
	Code        string
	Language    string
	CallingCode int
	PhoneFormat string
	Currency    Currency
	Weight      Weight
}

// Repository resolves countries with their default currency and weight unit.
type Repository interface {
	GetCountryByID(ctx context.Context, id int64) (*Country, error)
	GetCountryByCode(ctx context.Context, code string) (*Country, error)
	GetCurrencyByCode(ctx context.Context, code string) (*Currency, error)
}
