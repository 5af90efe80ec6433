package pricing

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/matt-riley/orderz/internal/money"
)

// PriceOrder runs the monetary pipeline. Each stage depends only on the
// stages before it. Discounts and payments are consumed in the order given
// (store credit first for payments), so reordering them can change which
// instruction is clamped.
func PriceOrder(order Order) (Totals, error) {
	if err := validate(order); err != nil {
		return Totals{}, err
	}
	currency := order.Currency
	zero := money.Zero(currency)
	t := Totals{Currency: currency}

	t.CartSubtotal = zero
	for _, entry := range order.Cart {
		t.CartSubtotal = t.CartSubtotal.Add(entry.Product.Price.MulInt(int64(entry.Quantity)))
	}
	t.ServiceFee = orZero(order.ServiceFee, currency)
	t.SubtotalPreDiscount = t.CartSubtotal.Add(t.ServiceFee)

	remaining := t.SubtotalPreDiscount
	t.Discounts = make([]AppliedDiscount, 0, len(order.Discounts))
	for _, d := range order.Discounts {
		requested := orZero(d.Amount, currency)
		if d.Method == DiscountManualPercentage {
			requested = t.SubtotalPreDiscount.MulRate(d.Percentage)
		}
		applied := money.Min(requested, remaining)
		remaining = remaining.Sub(applied)
		t.Discounts = append(t.Discounts, AppliedDiscount{Discount: d, Requested: requested, Applied: applied})
	}
	t.DiscountsAmount = t.SubtotalPreDiscount.Sub(remaining)

	t.Gratuity = zero
	if order.GratuityRate != nil {
		t.Gratuity = t.SubtotalPreDiscount.MulRate(*order.GratuityRate)
	}
	t.SubtotalAfterDiscount = t.SubtotalPreDiscount.Sub(t.DiscountsAmount).Add(t.Gratuity)

	t.TaxAmount = t.SubtotalAfterDiscount.MulRate(order.TaxRate)
	t.TipBasis = t.SubtotalPreDiscount.Add(t.TaxAmount)
	switch {
	case order.Tip.Amount != nil:
		t.TipValue = orZero(*order.Tip.Amount, currency)
	case order.Tip.Percentage != nil:
		t.TipValue = t.TipBasis.MulRate(*order.Tip.Percentage)
	default:
		t.TipValue = zero
	}
	t.Total = t.SubtotalAfterDiscount.Add(t.TaxAmount).Add(t.TipValue)

	t.Payments = applyPayments(order, t.Total)
	t.PaymentsAmount = zero
	for _, p := range t.Payments {
		t.PaymentsAmount = t.PaymentsAmount.Add(p.Applied)
	}
	t.SignedBalance = t.Total.Sub(t.PaymentsAmount)
	t.Balance = money.Max(t.SignedBalance, zero)
	return t, nil
}

func applyPayments(order Order, total money.Money) []AppliedPayment {
	currency := order.Currency
	ordered := slices.Clone(order.Payments)
	slices.SortStableFunc(ordered, func(a, b Payment) int {
		return paymentRank(a.Method) - paymentRank(b.Method)
	})

	remaining := total
	applied := make([]AppliedPayment, 0, len(ordered)+1)
	for _, p := range ordered {
		requested := orZero(p.Amount, currency)
		consumed := requested
		if p.Method != PaymentCash {
			consumed = money.Min(requested, money.Max(remaining, money.Zero(currency)))
		}
		remaining = remaining.Sub(consumed)
		applied = append(applied, AppliedPayment{Payment: p, Requested: requested, Applied: consumed})
	}

	if order.CardToken != "" && remaining.Amount > 0 {
		card := Payment{Method: PaymentCard, Code: order.CardToken, Amount: remaining}
		applied = append(applied, AppliedPayment{Payment: card, Requested: remaining, Applied: remaining})
	}
	return applied
}

func paymentRank(method PaymentMethod) int {
	if method == PaymentStoreCredit {
		return 0
	}
	return 1
}

// orZero treats an unset amount as zero in the order currency.
func orZero(m money.Money, currency string) money.Money {
	if m.Currency == "" && m.Amount == 0 {
		return money.Zero(currency)
	}
	return m
}

func validate(order Order) error {
	if len(order.Currency) != 3 {
		return invalid("currency", "%q is not an ISO 4217 code", order.Currency)
	}
	reference := money.Zero(order.Currency)
	checkAmount := func(field string, m money.Money) error {
		m = orZero(m, order.Currency)
		if !money.SameCurrency(m, reference) {
			return invalid(field, "currency %q differs from order currency %q", m.Currency, order.Currency)
		}
		if m.IsNegative() {
			return invalid(field, "amount %s is negative", m)
		}
		return nil
	}
	checkRate := func(field string, rate decimal.Decimal) error {
		if rate.IsNegative() {
			return invalid(field, "rate %s is negative", rate)
		}
		return nil
	}

	for i, entry := range order.Cart {
		field := fmt.Sprintf("cart[%d]", i)
		if entry.Quantity <= 0 {
			return invalid(field, "quantity %d is not positive", entry.Quantity)
		}
		if err := checkAmount(field+".price", entry.Product.Price); err != nil {
			return err
		}
	}
	if err := checkAmount("service_fee", order.ServiceFee); err != nil {
		return err
	}
	if err := checkRate("tax_rate", order.TaxRate); err != nil {
		return err
	}
	if order.GratuityRate != nil {
		if err := checkRate("gratuity_rate", *order.GratuityRate); err != nil {
			return err
		}
	}

	switch {
	case order.Tip.Amount != nil && order.Tip.Percentage != nil:
		return invalid("tip", "set either an amount or a percentage")
	case order.Tip.Amount != nil:
		if err := checkAmount("tip.amount", *order.Tip.Amount); err != nil {
			return err
		}
	case order.Tip.Percentage != nil:
		if err := checkRate("tip.percentage", *order.Tip.Percentage); err != nil {
			return err
		}
	}

	for i, d := range order.Discounts {
		field := fmt.Sprintf("discounts[%d]", i)
		switch d.Method {
		case DiscountManualPercentage:
			if err := checkRate(field+".percentage", d.Percentage); err != nil {
				return err
			}
			if d.Percentage.GreaterThan(decimal.NewFromInt(1)) {
				return invalid(field+".percentage", "rate %s exceeds 1", d.Percentage)
			}
		case DiscountCreditCode, DiscountManualAmount:
			if err := checkAmount(field+".amount", d.Amount); err != nil {
				return err
			}
		default:
			return invalid(field+".method", "unknown discount method %q", d.Method)
		}
	}

	for i, p := range order.Payments {
		field := fmt.Sprintf("payments[%d]", i)
		switch p.Method {
		case PaymentStoreCredit, PaymentCash, PaymentCard:
		default:
			return invalid(field+".method", "unknown payment method %q", p.Method)
		}
		if err := checkAmount(field+".amount", p.Amount); err != nil {
			return err
		}
	}
	return nil
}
