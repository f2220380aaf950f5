package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// operand is one side of a dynamically typed arithmetic call, as made from templates.
type operand struct {
	value  *Value
	scalar decimal.NullDecimal
}

func toOperand(x any) (operand, error) {
	switch t := x.(type) {
	case nil:
		return operand{}, nil
	case Value:
		return operand{value: &t}, nil
	case *Value:
		return operand{value: t}, nil
	case decimal.Decimal:
		return operand{scalar: decimal.NewNullDecimal(t)}, nil
	case *decimal.Decimal:
		if t == nil {
			return operand{}, nil
		}
		return operand{scalar: decimal.NewNullDecimal(*t)}, nil
	case decimal.NullDecimal:
		return operand{scalar: t}, nil
	case int:
		return operand{scalar: decimal.NewNullDecimal(decimal.NewFromInt(int64(t)))}, nil
	case int64:
		return operand{scalar: decimal.NewNullDecimal(decimal.NewFromInt(t))}, nil
	case float64:
		return operand{scalar: decimal.NewNullDecimal(decimal.NewFromFloat(t))}, nil
	default:
		return operand{}, fmt.Errorf("%w: unsupported operand type %T", ErrInvalidOperands, x)
	}
}

func (o operand) isValue() bool {
	return o.value != nil
}

func (o operand) isNone() bool {
	if o.value != nil {
		return o.value.IsNone()
	}
	return !o.scalar.Valid
}

// Mul multiplies a value by a scalar in either order. A missing operand
// yields None; two values, or two scalars, are rejected.
func Mul(left, right any) (Value, error) {
	l, err := toOperand(left)
	if err != nil {
		return Value{}, err
	}
	r, err := toOperand(right)
	if err != nil {
		return Value{}, err
	}

	if l.isValue() && r.isValue() && !l.isNone() && !r.isNone() {
		return Value{}, fmt.Errorf("%w: cannot multiply two currency values", ErrInvalidOperands)
	}
	if l.isNone() || r.isNone() {
		return Value{}, nil
	}
	switch {
	case l.isValue():
		return l.value.MulScalar(r.scalar.Decimal), nil
	case r.isValue():
		return r.value.MulScalar(l.scalar.Decimal), nil
	default:
		return Value{}, fmt.Errorf("%w: no currency value to multiply", ErrInvalidOperands)
	}
}

// Div divides a value by a scalar. The numerator must be the value.
func Div(left, right any) (Value, error) {
	l, err := toOperand(left)
	if err != nil {
		return Value{}, err
	}
	r, err := toOperand(right)
	if err != nil {
		return Value{}, err
	}

	if r.isValue() {
		if !l.isValue() && l.scalar.Valid {
			return Value{}, fmt.Errorf("%w: cannot divide a scalar by a currency value", ErrInvalidOperands)
		}
		if l.isValue() && !l.isNone() && !r.isNone() {
			return Value{}, fmt.Errorf("%w: cannot divide two currency values", ErrInvalidOperands)
		}
		return Value{}, nil
	}
	if l.isNone() || r.isNone() {
		return Value{}, nil
	}
	if !l.isValue() {
		return Value{}, fmt.Errorf("%w: no currency value to divide", ErrInvalidOperands)
	}
	return l.value.DivScalar(r.scalar.Decimal), nil
}
