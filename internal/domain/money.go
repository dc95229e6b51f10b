package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary quantity in a single currency. The zero value is
// a currency-less zero that can be added to or compared against any
// amount.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

func NewAmount(value float64, currency string) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func (a Amount) IsZero() bool {
	return a.Value.IsZero()
}

func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// Add sums two amounts. Adding a zero amount never changes the currency
// of the other operand; summing two non-zero currencies is a caller bug.
func (a Amount) Add(other Amount) Amount {
	if other.IsZero() {
		return a
	}
	if a.IsZero() {
		return other
	}
	if a.Currency != other.Currency {
		panic(fmt.Sprintf("adding mismatched currencies %s and %s", a.Currency, other.Currency))
	}
	return Amount{Value: a.Value.Add(other.Value), Currency: a.Currency}
}

func (a Amount) Equal(other Amount) bool {
	if !a.Value.Equal(other.Value) {
		return false
	}
	return a.sameCurrency(other)
}

func (a Amount) GreaterThan(other Amount) bool {
	return a.Value.GreaterThan(other.Value)
}

func (a Amount) sameCurrency(other Amount) bool {
	return a.Currency == other.Currency || a.IsZero() || other.IsZero()
}

func (a Amount) String() string {
	if a.Currency == "" {
		return a.Value.String()
	}
	return a.Value.String() + " " + a.Currency
}

// LineItems breaks a settlement down by component. The matcher settles
// with empty line items; the banker keeps the breakdown opaque.
type LineItems map[string]Amount
