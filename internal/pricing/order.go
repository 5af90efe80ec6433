// Package pricing reduces a priced cart plus discount, tip and payment
// instructions to order totals.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matt-riley/orderz/internal/metadata"
	"github.com/matt-riley/orderz/internal/money"
)

type DiscountMethod string

const (
	DiscountCreditCode       DiscountMethod = "credit_code"
	DiscountManualPercentage DiscountMethod = "manual_percentage"
	DiscountManualAmount     DiscountMethod = "manual_amount"
)

type PaymentMethod string

const (
	PaymentStoreCredit PaymentMethod = "store_credit"
	PaymentCash        PaymentMethod = "cash"
	PaymentCard        PaymentMethod = "card"
)

type CartEntry struct {
	Product    metadata.ProductMetadata `json:"product"`
	Quantity   int                      `json:"quantity"`
	CategoryID string                   `json:"category_id,omitempty"`
}

// Discount is an instruction; PriceOrder decides how much of it applies.
// Percentage is used by manual_percentage discounts, Amount by the others.
type Discount struct {
	Method     DiscountMethod  `json:"method" yaml:"method"`
	Code       string          `json:"code,omitempty" yaml:"code,omitempty"`
	Amount     money.Money     `json:"amount" yaml:"amount"`
	Percentage decimal.Decimal `json:"percentage" yaml:"percentage"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
}

// Payment is an instruction. Store credit and card payments consume at most
// the remaining balance; cash is tendered in full and may exceed it.
type Payment struct {
	Method    PaymentMethod `json:"method" yaml:"method"`
	Code      string        `json:"code,omitempty" yaml:"code,omitempty"`
	Amount    money.Money   `json:"amount" yaml:"amount"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

// Tip is either a fixed amount or a percentage of the tip basis.
type Tip struct {
	Amount     *money.Money     `json:"amount,omitempty" yaml:"amount,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty" yaml:"percentage,omitempty"`
}

type Order struct {
	Currency     string           `json:"currency"`
	Cart         []CartEntry      `json:"cart"`
	ServiceFee   money.Money      `json:"service_fee"`
	GratuityRate *decimal.Decimal `json:"gratuity_rate,omitempty"`
	TaxRate      decimal.Decimal  `json:"tax_rate"`
	Tip          Tip              `json:"tip"`
	Discounts    []Discount       `json:"discounts,omitempty"`
	Payments     []Payment        `json:"payments,omitempty"`
	// CardToken, when set, pays any remainder by card.
	CardToken string `json:"card_token,omitempty"`
}

type AppliedDiscount struct {
	Discount  Discount    `json:"discount"`
	Requested money.Money `json:"requested"`
	Applied   money.Money `json:"applied"`
}

type AppliedPayment struct {
	Payment   Payment     `json:"payment"`
	Requested money.Money `json:"requested"`
	Applied   money.Money `json:"applied"`
}

// Totals holds every intermediate and final amount of one pipeline run.
type Totals struct {
	Currency              string            `json:"currency"`
	CartSubtotal          money.Money       `json:"cart_subtotal"`
	ServiceFee            money.Money       `json:"service_fee"`
	SubtotalPreDiscount   money.Money       `json:"subtotal_pre_discount"`
	Discounts             []AppliedDiscount `json:"discounts"`
	DiscountsAmount       money.Money       `json:"discounts_amount"`
	Gratuity              money.Money       `json:"gratuity"`
	SubtotalAfterDiscount money.Money       `json:"subtotal_after_discount"`
	TaxAmount             money.Money       `json:"tax_amount"`
	TipBasis              money.Money       `json:"tip_basis"`
	TipValue              money.Money       `json:"tip_value"`
	Total                 money.Money       `json:"total"`
	Payments              []AppliedPayment  `json:"payments"`
	PaymentsAmount        money.Money       `json:"payments_amount"`
	// Balance is clamped at zero; SignedBalance is negative on overpayment.
	Balance       money.Money `json:"balance"`
	SignedBalance money.Money `json:"signed_balance"`
}

// ValidationError rejects one pipeline run because of a malformed
// instruction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
