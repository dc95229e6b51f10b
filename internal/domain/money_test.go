package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountZeroValue(t *testing.T) {
	var zero Amount

	assert.True(t, zero.IsZero())
	assert.True(t, zero.Equal(NewAmount(0, "USD")))
	assert.False(t, zero.GreaterThan(NewAmount(1, "USD")))
}

func TestAmountAdd(t *testing.T) {
	sum := NewAmount(1.5, "USD").Add(NewAmount(2.25, "USD"))
	assert.True(t, sum.Equal(NewAmount(3.75, "USD")))

	// Adding zero keeps the other operand's currency.
	sum = NewAmount(1, "EUR").Add(Amount{})
	assert.Equal(t, "EUR", sum.Currency)

	sum = Amount{}.Add(NewAmount(1, "EUR"))
	assert.Equal(t, "EUR", sum.Currency)
}

func TestAmountAddMismatchedCurrenciesPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewAmount(1, "USD").Add(NewAmount(1, "EUR"))
	})
}

func TestAmountComparisons(t *testing.T) {
	assert.True(t, NewAmount(3, "USD").GreaterThan(NewAmount(2, "USD")))
	assert.False(t, NewAmount(2, "USD").GreaterThan(NewAmount(2, "USD")))
	assert.True(t, NewAmount(2, "USD").Equal(NewAmount(2, "USD")))
	assert.False(t, NewAmount(2, "USD").Equal(NewAmount(2, "EUR")))
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "2.5 USD", NewAmount(2.5, "USD").String())
	assert.Equal(t, "0", Amount{}.String())
}
