package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// centsExp is the exponent of one minor unit
const centsExp = -2

// MaxCents is the largest magnitude any amount or balance may reach, the range of a
// NUMERIC(18, 2) column. Every store accepts the same amounts.
const MaxCents int64 = 999_999_999_999_999_999

var maxCentsDecimal = decimal.NewFromInt(MaxCents)

// Money is an exact amount held in minor units (cents)
// Arithmetic never goes through binary floating point
type Money struct {
	cents int64
}

// Zero is the zero amount
var Zero = Money{}

// NewMoneyFromCents creates Money from a number of minor units
func NewMoneyFromCents(cents int64) Money {
	return Money{cents: cents}
}

// ParseMoney parses a decimal string with at most two fractional digits
// Accepts an optional leading sign. Exponent notation and grouping separators are rejected.
func ParseMoney(s string) (Money, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Zero, &ParseError{Input: s, Reason: "empty amount"}
	}
	if strings.ContainsAny(raw, "eE") {
		return Zero, &ParseError{Input: s, Reason: "exponent notation is not allowed"}
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Zero, &ParseError{Input: s, Reason: "not a decimal number"}
	}

	// NewFromString keeps the literal scale, so "12.345" has exponent -3 and "12.30" has -2
	if d.Exponent() < centsExp {
		return Zero, &ParseError{Input: s, Reason: "more than 2 fractional digits"}
	}

	return moneyFromDecimal(s, d)
}

// MustParseMoney is like ParseMoney but panics on malformed input
// Intended for constants and tests
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func moneyFromDecimal(input string, d decimal.Decimal) (Money, error) {
	cents := d.Shift(-centsExp)
	if cents.Abs().GreaterThan(maxCentsDecimal) {
		return Zero, &ParseError{Input: input, Reason: "amount out of range"}
	}
	return Money{cents: cents.IntPart()}, nil
}

// Cents returns the amount in minor units
func (m Money) Cents() int64 {
	return m.cents
}

// Add returns m + other
// Operands must be in range; balance arithmetic goes through AddChecked.
func (m Money) Add(other Money) Money {
	return Money{cents: m.cents + other.cents}
}

// Sub returns m - other
func (m Money) Sub(other Money) Money {
	return Money{cents: m.cents - other.cents}
}

// InRange reports whether |m| <= MaxCents
func (m Money) InRange() bool {
	return m.cents >= -MaxCents && m.cents <= MaxCents
}

// AddChecked returns m + other, or a *ValidationError when an operand or the sum is out of range
// Two in-range operands cannot overflow int64, so the sum is checked after the fact.
func (m Money) AddChecked(other Money) (Money, error) {
	if !m.InRange() || !other.InRange() {
		return Zero, &ValidationError{Field: "amount", Reason: "out of range"}
	}
	sum := Money{cents: m.cents + other.cents}
	if !sum.InRange() {
		return Zero, &ValidationError{Field: "balance", Reason: fmt.Sprintf("out of range after adding %s to %s", other, m)}
	}
	return sum, nil
}

// SubChecked returns m - other with the same range rules as AddChecked
func (m Money) SubChecked(other Money) (Money, error) {
	if !other.InRange() {
		return Zero, &ValidationError{Field: "amount", Reason: "out of range"}
	}
	return m.AddChecked(other.Neg())
}

// Neg returns -m
func (m Money) Neg() Money {
	return Money{cents: -m.cents}
}

// Scale multiplies by factor and rounds half-to-even at the cent
func (m Money) Scale(factor decimal.Decimal) Money {
	scaled := m.Decimal().Mul(factor).RoundBank(-centsExp)
	return Money{cents: scaled.Shift(-centsExp).IntPart()}
}

// Cmp compares m and other and returns -1, 0 or +1
func (m Money) Cmp(other Money) int {
	switch {
	case m.cents < other.cents:
		return -1
	case m.cents > other.cents:
		return 1
	default:
		return 0
	}
}

// IsPositive reports whether m > 0
func (m Money) IsPositive() bool {
	return m.cents > 0
}

// IsZero reports whether m == 0
func (m Money) IsZero() bool {
	return m.cents == 0
}

// Decimal returns the amount as an exact decimal
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.cents, centsExp)
}

// String formats the amount with exactly two fractional digits and no grouping
func (m Money) String() string {
	return m.Decimal().StringFixed(-centsExp)
}

// MarshalJSON encodes the amount as a decimal string
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a decimal string (or a bare JSON number)
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer; amounts are stored as NUMERIC(…, 2) text
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner for NUMERIC, TEXT and INTEGER (cents) columns
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Zero
		return nil
	case int64:
		*m = NewMoneyFromCents(v)
		return nil
	case []byte:
		return m.scanString(string(v))
	case string:
		return m.scanString(v)
	default:
		return fmt.Errorf("cannot scan %T into Money", src)
	}
}

func (m *Money) scanString(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("failed to parse money column %q: %w", s, err)
	}
	// NUMERIC columns may come back with a wider scale ("10.000"); anything beyond cents is a corrupt row
	if !d.Equal(d.Round(-centsExp)) {
		return fmt.Errorf("money column %q has sub-cent precision", s)
	}
	parsed, err := moneyFromDecimal(s, d.Round(-centsExp))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
