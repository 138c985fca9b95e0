package conv

import (
	"strconv"

	"github.com/ericlagergren/decimal"
)

// MoneyScale is the number of digits kept after the decimal point for ledger amounts
const MoneyScale = 2

var zeroRounded decimal.Big

var hundred = new(decimal.Big).SetUint64(100)

func init() {
	zeroRounded = decimal.Big{}
	zeroRounded.Context = decimal.Context128
	zeroRounded.Context.RoundingMode = decimal.ToZero
	zeroRounded.Quantize(8)
}

// NewDecimalWithPrecision returns a zero value carrying the 128 bit context with truncation
func NewDecimalWithPrecision() *decimal.Big {
	z := zeroRounded
	return &z
}

func CloneToPrecision(devAmount *decimal.Big) *decimal.Big {
	dec := &decimal.Big{}
	dec.Context = decimal.Context128
	dec.Context.RoundingMode = decimal.ToZero
	dec.Copy(devAmount)
	dec.Quantize(8)
	return dec
}

func RoundToPrecision(decAmount *decimal.Big) *decimal.Big {
	decAmount.Context = decimal.Context128
	decAmount.Context.RoundingMode = decimal.ToZero
	decAmount.Quantize(8)

	return decAmount
}

// RoundMoney truncates the amount in place to MoneyScale digits
func RoundMoney(decAmount *decimal.Big) *decimal.Big {
	decAmount.Context = decimal.Context128
	decAmount.Context.RoundingMode = decimal.ToZero
	decAmount.Quantize(MoneyScale)

	return decAmount
}

// FromString parses a decimal, returning false for malformed or NaN input
func FromString(s string) (*decimal.Big, bool) {
	d, ok := NewDecimalWithPrecision().SetString(s)
	if !ok || d.IsNaN(0) || d.IsInf(0) {
		return nil, false
	}
	return d, true
}

// MustFromString is the panicking version of FromString, intended for constants and tests
func MustFromString(s string) *decimal.Big {
	d, ok := FromString(s)
	if !ok {
		panic("conv: invalid decimal " + strconv.Quote(s))
	}
	return d
}

// FromFloat64 converts configuration values (already human sized) to decimals
func FromFloat64(f float64) *decimal.Big {
	return CloneToPrecision(new(decimal.Big).SetFloat64(f))
}

// Percent returns amount * pct / 100 truncated to MoneyScale
func Percent(amount, pct *decimal.Big) *decimal.Big {
	out := NewDecimalWithPrecision().Mul(amount, pct)
	out.Quo(out, hundred)
	return RoundMoney(out)
}

// Scale returns amount * factor truncated to MoneyScale
func Scale(amount, factor *decimal.Big) *decimal.Big {
	return RoundMoney(NewDecimalWithPrecision().Mul(amount, factor))
}

// Ratio returns part / whole * 100 with 8 digits of precision
func Ratio(part, whole *decimal.Big) *decimal.Big {
	if whole.Sign() == 0 {
		return NewDecimalWithPrecision()
	}
	out := NewDecimalWithPrecision().Mul(part, hundred)
	out.Quo(out, whole)
	return RoundToPrecision(out)
}

// Min returns a copy of the smaller value
func Min(a, b *decimal.Big) *decimal.Big {
	if a.Cmp(b) <= 0 {
		return NewDecimalWithPrecision().Copy(a)
	}
	return NewDecimalWithPrecision().Copy(b)
}

// Sum adds all values into a new decimal
func Sum(values ...*decimal.Big) *decimal.Big {
	out := NewDecimalWithPrecision()
	for _, v := range values {
		if v != nil {
			out.Add(out, v)
		}
	}
	return out
}

// IsPositive reports whether the value is a finite number greater than zero
func IsPositive(d *decimal.Big) bool {
	if d == nil || NewDecimalWithPrecision().CheckNaNs(d, nil) || d.IsInf(0) {
		return false
	}
	return d.Sign() > 0
}

// Equal compares the numeric values ignoring scale
func Equal(a, b *decimal.Big) bool {
	return a.Cmp(b) == 0
}
