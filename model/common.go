package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/ericlagergren/decimal/sql/postgres"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
)

var Zero = conv.NewDecimalWithPrecision()

// NewDecimal wraps a copy of the value for storage
func NewDecimal(v *decimal.Big) *postgres.Decimal {
	if v == nil {
		return &postgres.Decimal{V: conv.NewDecimalWithPrecision()}
	}
	return &postgres.Decimal{V: conv.NewDecimalWithPrecision().Copy(v)}
}

// DecimalValue returns the wrapped value or zero
func DecimalValue(d *postgres.Decimal) *decimal.Big {
	if d == nil || d.V == nil {
		return conv.NewDecimalWithPrecision()
	}
	return d.V
}

type JSONDecimal struct {
	postgres.Decimal
}

func (b JSONDecimal) MarshalJSON() ([]byte, error) {
	if b.V == nil {
		return json.Marshal("0")
	}
	return json.Marshal(b.V.String())
}

// Period is a calendar month formatted as YYYY-MM
type Period string

const periodLayout = "2006-01"

func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(periodLayout))
}

func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse(periodLayout, s); err != nil {
		return "", fmt.Errorf("invalid period %q, expected YYYY-MM", s)
	}
	return Period(s), nil
}

func (p Period) String() string {
	return string(p)
}

// Start of the period in UTC
func (p Period) Start() time.Time {
	t, _ := time.Parse(periodLayout, string(p))
	return t.UTC()
}

// End is the first instant after the period
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

type PagingMeta struct {
	Page  int   `json:"page"`
	Count int64 `json:"count"`
	Limit int   `json:"limit"`
}
