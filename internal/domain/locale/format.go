package locale

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	oneHundred = decimal.NewFromInt(100)
	ten        = decimal.NewFromInt(10)
	thousand   = decimal.NewFromInt(1000)
	half       = decimal.RequireFromString("0.5")
)

// CommaFormatted renders value with a separator every three digits and, when
// hasDecimals is set, two (or one) truncated decimal places.
func CommaFormatted(value decimal.Decimal, hasDecimals, useComma, oneDecimal bool) string {
	negative := value.IsNegative()
	value = value.Abs()

	var formatted string
	if hasDecimals {
		if oneDecimal {
			formatted = fmt.Sprintf(".%d", value.Mul(ten).Mod(ten).IntPart())
		} else {
			formatted = fmt.Sprintf(".%02d", value.Mul(oneHundred).Mod(oneHundred).IntPart())
		}
	}

	remainder := value.IntPart()
	for remainder >= 1000 {
		if useComma {
			formatted = fmt.Sprintf(",%03d", remainder%1000) + formatted
		} else {
			formatted = fmt.Sprintf("%03d", remainder%1000) + formatted
		}
		remainder /= 1000
	}
	formatted = fmt.Sprintf("%d", remainder) + formatted

	if negative {
		formatted = "-" + formatted
	}
	return formatted
}

// Format renders value in this currency. Currencies with decimals round half
// up to the cent, others round half down to the unit.
func (c Currency) Format(value decimal.Decimal, forceEven bool) string {
	hasDecimals := c.HasDecimals && !forceEven
	if hasDecimals {
		value = value.Round(2)
	} else {
		value = roundHalfDown(value)
	}

	negative := value.IsNegative()
	formatted := c.Prefix + CommaFormatted(value.Abs(), hasDecimals, true, false) + c.Suffix
	if negative {
		formatted = "-" + formatted
	}
	return formatted
}

func roundHalfDown(v decimal.Decimal) decimal.Decimal {
	truncated := v.Truncate(0)
	if v.Sub(truncated).Abs().Equal(half) {
		return truncated
	}
	return v.Round(0)
}

// Format converts kilos into this unit and renders it.
func (w Weight) Format(kilos decimal.Decimal, useComma, rounded bool) string {
	ratio := w.RatioToKilogram
	if ratio.IsZero() {
		ratio = decimal.NewFromInt(1)
	}
	negative := kilos.IsNegative()
	value := kilos.Div(ratio).Abs()
	if rounded {
		value = value.Round(2)
	}

	formatted := CommaFormatted(value, !rounded, useComma, false)
	if negative {
		formatted = "-" + formatted
	}
	return formatted
}

func FormatInt(value decimal.Decimal) string {
	return CommaFormatted(value.Truncate(0), false, true, false)
}

func FormatPercent(value decimal.Decimal) string {
	return FormatInt(value) + "%"
}

func FormatKilos(value decimal.Decimal) string {
	return CommaFormatted(value, false, true, false) + " Kg"
}

func FormatTons(kilos decimal.Decimal) string {
	return CommaFormatted(kilos.Div(thousand).RoundBank(2), true, true, false) + " mT"
}

// FormatPhone fills every '#' or 'A' placeholder of format with the next
// character of value. A length mismatch returns value untouched.
func FormatPhone(format, value string) string {
	placeholders := strings.Count(format, "#") + strings.Count(format, "A")
	chars := []rune(value)
	if format == "" || placeholders != len(chars) {
		return value
	}

	var b strings.Builder
	i := 0
	for _, r := range format {
		if r == '#' || r == 'A' {
			b.WriteRune(chars[i])
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
