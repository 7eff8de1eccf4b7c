// Package pricing derives order totals from line items. It has no side effects
// so a persisted order can always be re-priced for auditing.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

var ErrPricingMismatch = errors.New("stored pricing does not match recomputed pricing")

// Rules are the storefront-wide shipping and tax settings.
type Rules struct {
	FreeShippingThreshold decimal.Decimal
	FlatShipping          decimal.Decimal
	TaxRate               decimal.Decimal
}

func DefaultRules() Rules {
	return Rules{
		FreeShippingThreshold: decimal.NewFromInt(100),
		FlatShipping:          decimal.NewFromInt(10),
		TaxRate:               decimal.RequireFromString("0.10"),
	}
}

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Calculator struct {
	rules Rules
}

func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

func (c *Calculator) Rules() Rules {
	return c.rules
}

func (c *Calculator) Calculate(lines []Line, discount decimal.Decimal) (domain.Pricing, error) {
	if discount.IsNegative() {
		return domain.Pricing{}, fmt.Errorf("%w: discount %s is negative", domain.ErrInvalidPricing, discount)
	}
	if !discount.Equal(discount.Round(2)) {
		return domain.Pricing{}, fmt.Errorf("%w: discount %s has fractional cents", domain.ErrInvalidPricing, discount)
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity < 1 || line.UnitPrice.IsNegative() {
			return domain.Pricing{}, fmt.Errorf("%w: line %s x %d", domain.ErrInvalidPricing, line.UnitPrice, line.Quantity)
		}
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	shipping := c.rules.FlatShipping
	if subtotal.GreaterThanOrEqual(c.rules.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(c.rules.TaxRate).Round(2)
	total := subtotal.Add(shipping).Add(tax).Sub(discount)
	if total.IsNegative() {
		return domain.Pricing{}, fmt.Errorf("%w: discount %s exceeds total %s", domain.ErrInvalidPricing, discount, total.Add(discount))
	}

	return domain.Pricing{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Tax:          tax,
		Discount:     discount,
		Total:        total,
	}, nil
}

func LinesFor(items []domain.OrderItem) []Line {
	lines := make([]Line, len(items))
	for i, item := range items {
		lines[i] = Line{UnitPrice: item.EffectivePrice(), Quantity: item.Quantity}
	}
	return lines
}

// Reconcile re-derives the pricing of a persisted order from its item
// snapshots and stored discount.
func (c *Calculator) Reconcile(order *domain.Order) error {
	want, err := c.Calculate(LinesFor(order.Items), order.Pricing.Discount)
	if err != nil {
		return err
	}

	got := order.Pricing
	if !got.Subtotal.Equal(want.Subtotal) || !got.ShippingCost.Equal(want.ShippingCost) ||
		!got.Tax.Equal(want.Tax) || !got.Total.Equal(want.Total) {
		return fmt.Errorf("%w: order %s stored total %s, recomputed %s",
			ErrPricingMismatch, order.OrderNumber, got.Total, want.Total)
	}
	return nil
}
