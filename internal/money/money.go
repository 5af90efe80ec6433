// Package money implements fixed-point currency amounts stored as integer
// minor units.
//
// Arithmetic between amounts of different currencies is a programming error
// and panics with a [*CurrencyMismatchError]. Code that accepts external
// input should check [SameCurrency] first and report a validation error.
package money

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the minor unit of Currency (cents for USD).
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// CurrencyMismatchError reports arithmetic across two currencies.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %q vs %q", e.Left, e.Right)
}

// New returns an amount of minor units in the given currency.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: normalizeCurrency(currency)}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return New(0, currency)
}

// SameCurrency reports whether a and b are denominated in the same currency.
func SameCurrency(a, b Money) bool {
	return normalizeCurrency(a.Currency) == normalizeCurrency(b.Currency)
}

func (m Money) Add(other Money) Money {
	mustMatch(m, other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

func (m Money) Sub(other Money) Money {
	mustMatch(m, other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// MulInt multiplies by an integer factor (a line quantity).
func (m Money) MulInt(n int64) Money {
	return Money{Amount: m.Amount * n, Currency: m.Currency}
}

// MulRate multiplies by a decimal rate and rounds the product once, half away
// from zero, to whole minor units.
func (m Money) MulRate(rate decimal.Decimal) Money {
	product := decimal.NewFromInt(m.Amount).Mul(rate).Round(0)
	return Money{Amount: product.IntPart(), Currency: m.Currency}
}

// Cmp returns -1, 0 or +1 comparing m to other.
func (m Money) Cmp(other Money) int {
	mustMatch(m, other)
	switch {
	case m.Amount < other.Amount:
		return -1
	case m.Amount > other.Amount:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Sum adds amounts, starting from zero in currency.
func Sum(currency string, amounts ...Money) Money {
	total := Zero(currency)
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total
}

// String renders the amount in major units, e.g. "12.34 USD".
func (m Money) String() string {
	exp := Exponent(m.Currency)
	amount := m.Amount
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if exp == 0 {
		return fmt.Sprintf("%s%d %s", sign, amount, m.Currency)
	}

	digits := strconv.FormatInt(amount, 10)
	if len(digits) <= exp {
		digits = strings.Repeat("0", exp-len(digits)+1) + digits
	}
	cut := len(digits) - exp
	return fmt.Sprintf("%s%s.%s %s", sign, digits[:cut], digits[cut:], m.Currency)
}

// Exponent returns the number of minor-unit digits for an ISO 4217 code.
func Exponent(currency string) int {
	switch normalizeCurrency(currency) {
	case "JPY", "KRW", "VND", "CLP", "ISK":
		return 0
	case "BHD", "KWD", "OMR", "JOD", "TND":
		return 3
	default:
		return 2
	}
}

func mustMatch(a, b Money) {
	if !SameCurrency(a, b) {
		panic(&CurrencyMismatchError{Left: a.Currency, Right: b.Currency})
	}
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
