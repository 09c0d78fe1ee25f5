package banking

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code carrying its declared decimal precision.
type Currency struct {
	Code      string
	Precision int32
}

func (c Currency) String() string { return c.Code }

var (
	USD = Currency{"USD", 2}
	EUR = Currency{"EUR", 2}
	GBP = Currency{"GBP", 2}
	JPY = Currency{"JPY", 0}
	CAD = Currency{"CAD", 2}
	CHF = Currency{"CHF", 2}
)

var currencyRegistry = map[string]Currency{
	USD.Code: USD,
	EUR.Code: EUR,
	GBP.Code: GBP,
	JPY.Code: JPY,
	CAD.Code: CAD,
	CHF.Code: CHF,
}

// LookupCurrency resolves an ISO code to its registered Currency.
func LookupCurrency(code string) (Currency, error) {
	c, ok := currencyRegistry[code]
	if !ok {
		return Currency{}, fmt.Errorf("unknown currency code: %s", code)
	}
	return c, nil
}

// Money is an exact decimal amount paired with a currency. Every
// constructor rounds to the currency's declared precision, half-up.
// There is no float64 anywhere on this type or its arithmetic.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// NewMoney builds a Money value, quantizing amount to the currency's precision.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	rounded := amount.Round(currency.Precision)
	return Money{Amount: rounded, Currency: currency}
}

// Zero returns a zero-value Money in the given currency.
func Zero(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func (m Money) requireSameCurrency(other Money, op string) error {
	if m.Currency.Code != other.Currency.Code {
		return &DomainError{Kind: KindCurrencyMismatch, Msg: fmt.Sprintf("cannot %s %s and %s", op, m.Currency.Code, other.Currency.Code)}
	}
	return nil
}

// Add returns m + other; errors on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if err := m.requireSameCurrency(other, "add"); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency), nil
}

// MustAdd panics on currency mismatch; used where callers have already validated currency.
func (m Money) MustAdd(other Money) Money {
	out, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return out
}

// Sub returns m - other; errors on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.requireSameCurrency(other, "subtract"); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency), nil
}

func (m Money) MustSub(other Money) Money {
	out, err := m.Sub(other)
	if err != nil {
		panic(err)
	}
	return out
}

// Mul returns m * factor, rounded to currency precision.
func (m Money) Mul(factor decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(factor), m.Currency)
}

// Div returns m / divisor, rounded to currency precision.
func (m Money) Div(divisor decimal.Decimal) Money {
	return NewMoney(m.Amount.DivRound(divisor, m.Currency.Precision+4), m.Currency)
}

// Neg returns -m.
func (m Money) Neg() Money {
	return NewMoney(m.Amount.Neg(), m.Currency)
}

// Abs returns |m|.
func (m Money) Abs() Money {
	return NewMoney(m.Amount.Abs(), m.Currency)
}

func (m Money) IsZero() bool     { return m.Amount.Sign() == 0 }
func (m Money) IsPositive() bool { return m.Amount.Sign() > 0 }
func (m Money) IsNegative() bool { return m.Amount.Sign() < 0 }

// Cmp compares m to other; errors on currency mismatch. Result follows decimal.Cmp semantics.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.requireSameCurrency(other, "compare"); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// GreaterThan, LessThan, GreaterThanOrEqual report m <op> other.
// They panic on currency mismatch — callers must have validated currency first,
// exactly as the compare operators in the source this module is grounded on.
func (m Money) GreaterThan(other Money) bool {
	c, err := m.Cmp(other)
	if err != nil {
		panic(err)
	}
	return c > 0
}

func (m Money) LessThan(other Money) bool {
	c, err := m.Cmp(other)
	if err != nil {
		panic(err)
	}
	return c < 0
}

func (m Money) GreaterThanOrEqual(other Money) bool {
	c, err := m.Cmp(other)
	if err != nil {
		panic(err)
	}
	return c >= 0
}

func (m Money) LessThanOrEqual(other Money) bool {
	c, err := m.Cmp(other)
	if err != nil {
		panic(err)
	}
	return c <= 0
}

func (m Money) Equal(other Money) bool {
	return m.Currency.Code == other.Currency.Code && m.Amount.Equal(other.Amount)
}

// String formats for display, e.g. "USD 1234.56".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency.Code, m.Amount.StringFixed(m.Currency.Precision))
}

// MoneyRecord is the wire form persisted by storage: amount-as-string plus ISO code.
type MoneyRecord struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// ToRecord serializes Money for storage.
func (m Money) ToRecord() MoneyRecord {
	return MoneyRecord{Amount: m.Amount.String(), Currency: m.Currency.Code}
}

// MoneyFromRecord deserializes a MoneyRecord back into Money.
func MoneyFromRecord(r MoneyRecord) (Money, error) {
	if r.Currency == "" {
		return Money{}, nil
	}
	currency, err := LookupCurrency(r.Currency)
	if err != nil {
		return Money{}, err
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", r.Amount, err)
	}
	return NewMoney(amount, currency), nil
}

// MaxMoney returns whichever of a, b compares greater; both must share currency.
func MaxMoney(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// MinMoney returns whichever of a, b compares lesser; both must share currency.
func MinMoney(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}
