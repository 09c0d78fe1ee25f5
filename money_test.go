package banking

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyRoundsToPrecision(t *testing.T) {
	m := NewMoney(decimal.NewFromFloat(10.005), USD)
	assert.Equal(t, "10.01", m.Amount.StringFixed(2))

	jpy := NewMoney(decimal.NewFromFloat(1234.6), JPY)
	assert.Equal(t, "1235", jpy.Amount.StringFixed(0))
}

func TestMoneyAddSubCurrencyMismatch(t *testing.T) {
	a := NewMoney(decimal.NewFromInt(100), USD)
	b := NewMoney(decimal.NewFromInt(50), EUR)

	_, err := a.Add(b)
	require.Error(t, err)
	assert.Equal(t, KindCurrencyMismatch, KindOf(err))

	_, err = a.Sub(b)
	require.Error(t, err)
}

func TestMoneyAddSub(t *testing.T) {
	a := NewMoney(decimal.NewFromInt(100), USD)
	b := NewMoney(decimal.NewFromInt(30), USD)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Equal(NewMoney(decimal.NewFromInt(130), USD)))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Equal(NewMoney(decimal.NewFromInt(70), USD)))
}

func TestMoneyComparisons(t *testing.T) {
	a := NewMoney(decimal.NewFromInt(100), USD)
	b := NewMoney(decimal.NewFromInt(50), USD)

	assert.True(t, a.GreaterThan(b))
	assert.True(t, b.LessThan(a))
	assert.True(t, a.GreaterThanOrEqual(a))
	assert.True(t, a.LessThanOrEqual(a))

	assert.True(t, MaxMoney(a, b).Equal(a))
	assert.True(t, MinMoney(a, b).Equal(b))
}

func TestMoneySignHelpers(t *testing.T) {
	zero := Zero(USD)
	pos := NewMoney(decimal.NewFromInt(1), USD)
	neg := NewMoney(decimal.NewFromInt(-1), USD)

	assert.True(t, zero.IsZero())
	assert.True(t, pos.IsPositive())
	assert.True(t, neg.IsNegative())
	assert.True(t, neg.Abs().Equal(pos))
	assert.True(t, pos.Neg().Equal(neg))
}

func TestMoneyRecordRoundTrip(t *testing.T) {
	original := NewMoney(decimal.NewFromFloat(42.5), EUR)
	rec := original.ToRecord()
	assert.Equal(t, "EUR", rec.Currency)

	back, err := MoneyFromRecord(rec)
	require.NoError(t, err)
	assert.True(t, original.Equal(back))
}

func TestLookupCurrencyUnknown(t *testing.T) {
	_, err := LookupCurrency("XXX")
	require.Error(t, err)
}
