// Package currency holds the money value used in report and message templates.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingExchangeRate = errors.New("currency: exchange rate required")
	ErrInvalidConstructor  = errors.New("currency: an existing value cannot be given a new exchange rate")
	ErrInvalidOperands     = errors.New("currency: invalid operand combination")
)

// USDAmount is an amount in USD together with the rate it was converted at.
type USDAmount struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

// Value carries an optional local amount plus USD amounts frozen at the rate
// they were recorded with. The zero Value is the None value.
type Value struct {
	local decimal.NullDecimal
	usd   []USDAmount
}

// Local builds a pure local-currency value.
func Local(amount decimal.Decimal) Value {
	return Value{local: decimal.NewNullDecimal(amount)}
}

// LocalNull builds a local value from a nullable column; an invalid input is None.
func LocalNull(amount decimal.NullDecimal) Value {
	return Value{local: amount}
}

// USD builds a value from a USD amount. The rate used to obtain it is mandatory.
func USD(amount decimal.Decimal, rate decimal.NullDecimal) (Value, error) {
	if !rate.Valid {
		return Value{}, ErrMissingExchangeRate
	}
	return Value{usd: []USDAmount{{Amount: amount, Rate: rate.Decimal}}}, nil
}

// Rewrap copies v. Passing a rate alongside an existing value is a caller error.
func Rewrap(v Value, rate decimal.NullDecimal) (Value, error) {
	if rate.Valid {
		return Value{}, ErrInvalidConstructor
	}
	return v.clone(), nil
}

func (v Value) IsNone() bool {
	return !v.local.Valid && len(v.usd) == 0
}

// LocalPart returns the direct local component.
func (v Value) LocalPart() decimal.NullDecimal {
	return v.local
}

// USDParts returns a copy of the recorded USD amounts.
func (v Value) USDParts() []USDAmount {
	out := make([]USDAmount, len(v.usd))
	copy(out, v.usd)
	return out
}

func (v Value) clone() Value {
	return Value{local: v.local, usd: v.USDParts()}
}

func (v Value) Add(o Value) Value {
	if o.IsNone() {
		return v.clone()
	}
	if v.IsNone() {
		return o.clone()
	}

	out := Value{}
	switch {
	case v.local.Valid && o.local.Valid:
		out.local = decimal.NewNullDecimal(v.local.Decimal.Add(o.local.Decimal))
	case v.local.Valid:
		out.local = v.local
	case o.local.Valid:
		out.local = o.local
	}
	out.usd = make([]USDAmount, 0, len(v.usd)+len(o.usd))
	out.usd = append(out.usd, v.usd...)
	out.usd = append(out.usd, o.usd...)
	return out
}

func (v Value) Sub(o Value) Value {
	return v.Add(o.Negate())
}

func (v Value) Negate() Value {
	return v.scale(func(d decimal.Decimal) decimal.Decimal { return d.Neg() })
}

// MulScalar multiplies the local component and every USD amount by d.
func (v Value) MulScalar(d decimal.Decimal) Value {
	return v.scale(func(x decimal.Decimal) decimal.Decimal { return x.Mul(d) })
}

// DivScalar divides the local component and every USD amount by d.
// Dividing by zero yields a local zero.
func (v Value) DivScalar(d decimal.Decimal) Value {
	if v.IsNone() {
		return Value{}
	}
	if d.IsZero() {
		return Local(decimal.Zero)
	}
	return v.scale(func(x decimal.Decimal) decimal.Decimal { return x.Div(d) })
}

func (v Value) scale(f func(decimal.Decimal) decimal.Decimal) Value {
	out := Value{}
	if v.local.Valid {
		out.local = decimal.NewNullDecimal(f(v.local.Decimal))
	}
	if len(v.usd) > 0 {
		out.usd = make([]USDAmount, len(v.usd))
		for i, u := range v.usd {
			out.usd[i] = USDAmount{Amount: f(u.Amount), Rate: u.Rate}
		}
	}
	return out
}

// AsLocal is the local total with every USD amount converted at its recorded rate.
func (v Value) AsLocal() decimal.NullDecimal {
	if v.IsNone() {
		return decimal.NullDecimal{}
	}
	total := decimal.Zero
	if v.local.Valid {
		total = v.local.Decimal
	}
	for _, u := range v.usd {
		total = total.Add(u.Amount.Mul(u.Rate))
	}
	return decimal.NewNullDecimal(total)
}

// AsLocalAt is the local total if every USD amount were revalued at rate.
func (v Value) AsLocalAt(rate decimal.Decimal) decimal.NullDecimal {
	if v.IsNone() {
		return decimal.NullDecimal{}
	}
	total := decimal.Zero
	if v.local.Valid {
		total = v.local.Decimal
	}
	for _, u := range v.usd {
		total = total.Add(u.Amount.Mul(rate))
	}
	return decimal.NewNullDecimal(total)
}

// AsUSD sums the recorded USD amounts plus the local component converted at rate.
// A local component requires a non-zero rate.
func (v Value) AsUSD(rate decimal.NullDecimal) (decimal.NullDecimal, error) {
	if v.IsNone() {
		return decimal.NullDecimal{}, nil
	}
	total := decimal.Zero
	for _, u := range v.usd {
		total = total.Add(u.Amount)
	}
	if v.local.Valid {
		if !rate.Valid || rate.Decimal.IsZero() {
			return decimal.NullDecimal{}, ErrMissingExchangeRate
		}
		total = total.Add(v.local.Decimal.Div(rate.Decimal))
	}
	return decimal.NewNullDecimal(total), nil
}

// ForexLoss is the local-currency change on the USD components when moving
// from their recorded rates to rate.
func (v Value) ForexLoss(rate decimal.Decimal) Value {
	if v.IsNone() {
		return Value{}
	}
	loss := decimal.Zero
	for _, u := range v.usd {
		loss = loss.Add(u.Amount.Mul(rate.Sub(u.Rate)))
	}
	return Local(loss)
}

func (v Value) Equal(o Value) bool {
	if v.local.Valid != o.local.Valid || len(v.usd) != len(o.usd) {
		return false
	}
	if v.local.Valid && !v.local.Decimal.Equal(o.local.Decimal) {
		return false
	}
	for i := range v.usd {
		if !v.usd[i].Amount.Equal(o.usd[i].Amount) || !v.usd[i].Rate.Equal(o.usd[i].Rate) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	local := "None"
	if v.local.Valid {
		local = v.local.Decimal.Truncate(0).String()
	}
	pairs := make([]string, len(v.usd))
	for i, u := range v.usd {
		pairs[i] = fmt.Sprintf("%s (%s)", u.Amount.Truncate(0).String(), u.Rate.Truncate(0).String())
	}
	return fmt.Sprintf("%s - [%s]", local, strings.Join(pairs, ", "))
}
