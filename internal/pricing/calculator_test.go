package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculator_Calculate(t *testing.T) {
	calc := NewCalculator(DefaultRules())

	tests := []struct {
		name     string
		lines    []Line
		discount string
		want     domain.Pricing
	}{
		{
			name:  "three units at 100 ship free",
			lines: []Line{{UnitPrice: dec("100"), Quantity: 3}},
			want: domain.Pricing{
				Subtotal: dec("300"), ShippingCost: dec("0"), Tax: dec("30"), Discount: dec("0"), Total: dec("330"),
			},
		},
		{
			name:  "just below the free shipping threshold",
			lines: []Line{{UnitPrice: dec("99.99"), Quantity: 1}},
			want: domain.Pricing{
				Subtotal: dec("99.99"), ShippingCost: dec("10"), Tax: dec("10"), Discount: dec("0"), Total: dec("119.99"),
			},
		},
		{
			name:  "exactly at the free shipping threshold",
			lines: []Line{{UnitPrice: dec("40"), Quantity: 2}, {UnitPrice: dec("20"), Quantity: 1}},
			want: domain.Pricing{
				Subtotal: dec("100"), ShippingCost: dec("0"), Tax: dec("10"), Discount: dec("0"), Total: dec("110"),
			},
		},
		{
			name:     "discount is subtracted last",
			lines:    []Line{{UnitPrice: dec("12.35"), Quantity: 1}},
			discount: "5",
			want: domain.Pricing{
				Subtotal: dec("12.35"), ShippingCost: dec("10"), Tax: dec("1.24"), Discount: dec("5"), Total: dec("18.59"),
			},
		},
		{
			name:  "empty cart only pays shipping",
			lines: nil,
			want: domain.Pricing{
				Subtotal: dec("0"), ShippingCost: dec("10"), Tax: dec("0"), Discount: dec("0"), Total: dec("10"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount := decimal.Zero
			if tt.discount != "" {
				discount = dec(tt.discount)
			}

			got, err := calc.Calculate(tt.lines, discount)
			require.NoError(t, err)

			assert.True(t, tt.want.Subtotal.Equal(got.Subtotal), "subtotal %s", got.Subtotal)
			assert.True(t, tt.want.ShippingCost.Equal(got.ShippingCost), "shipping %s", got.ShippingCost)
			assert.True(t, tt.want.Tax.Equal(got.Tax), "tax %s", got.Tax)
			assert.True(t, tt.want.Discount.Equal(got.Discount), "discount %s", got.Discount)
			assert.True(t, tt.want.Total.Equal(got.Total), "total %s", got.Total)
		})
	}
}

func TestCalculator_CalculateRejects(t *testing.T) {
	calc := NewCalculator(DefaultRules())

	t.Run("discount larger than the total", func(t *testing.T) {
		_, err := calc.Calculate([]Line{{UnitPrice: dec("5"), Quantity: 1}}, dec("100"))
		assert.ErrorIs(t, err, domain.ErrInvalidPricing)
	})

	t.Run("negative discount", func(t *testing.T) {
		_, err := calc.Calculate([]Line{{UnitPrice: dec("5"), Quantity: 1}}, dec("-1"))
		assert.ErrorIs(t, err, domain.ErrInvalidPricing)
	})

	t.Run("discount with fractional cents", func(t *testing.T) {
		_, err := calc.Calculate([]Line{{UnitPrice: dec("100"), Quantity: 3}}, dec("1.005"))
		assert.ErrorIs(t, err, domain.ErrInvalidPricing)
	})

	t.Run("trailing zeros are still whole cents", func(t *testing.T) {
		got, err := calc.Calculate([]Line{{UnitPrice: dec("100"), Quantity: 3}}, dec("1.500"))
		require.NoError(t, err)
		assert.True(t, got.Total.Equal(dec("328.50")))
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := calc.Calculate([]Line{{UnitPrice: dec("5"), Quantity: 0}}, decimal.Zero)
		assert.ErrorIs(t, err, domain.ErrInvalidPricing)
	})

	t.Run("discount equal to the total is allowed", func(t *testing.T) {
		got, err := calc.Calculate([]Line{{UnitPrice: dec("5"), Quantity: 1}}, dec("15.5"))
		require.NoError(t, err)
		assert.True(t, got.Total.IsZero())
	})
}

func TestCalculator_TotalIdentity(t *testing.T) {
	calc := NewCalculator(DefaultRules())

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "lines")
		lines := make([]Line, n)
		for i := range lines {
			cents := rapid.Int64Range(0, 50_000).Draw(t, "cents")
			lines[i] = Line{
				UnitPrice: decimal.New(cents, -2),
				Quantity:  rapid.IntRange(1, 20).Draw(t, "quantity"),
			}
		}
		discount := decimal.New(rapid.Int64Range(0, 10_000).Draw(t, "discount"), -3)

		first, err := calc.Calculate(lines, discount)
		if err != nil {
			if !first.Total.IsZero() {
				t.Fatalf("failed pricing returned a total")
			}
			return
		}

		again, err := calc.Calculate(lines, discount)
		if err != nil {
			t.Fatalf("second calculation failed: %v", err)
		}
		if !again.Total.Equal(first.Total) {
			t.Fatalf("pricing not deterministic: %s vs %s", first.Total, again.Total)
		}

		sum := first.Subtotal.Add(first.ShippingCost).Add(first.Tax).Sub(first.Discount)
		if !sum.Equal(first.Total) {
			t.Fatalf("total %s != subtotal+shipping+tax-discount %s", first.Total, sum)
		}
		if first.Tax.Exponent() < -2 {
			t.Fatalf("tax %s has more than two decimals", first.Tax)
		}
		if !first.Total.Equal(first.Total.Round(2)) {
			t.Fatalf("total %s has fractional cents", first.Total)
		}
		if first.Total.IsNegative() {
			t.Fatalf("negative total %s", first.Total)
		}
	})
}

func TestCalculator_Reconcile(t *testing.T) {
	calc := NewCalculator(DefaultRules())
	discounted := dec("90")

	order := &domain.Order{
		OrderNumber: "RC000042",
		Items: []domain.OrderItem{
			{Price: dec("100"), DiscountedPrice: &discounted, Quantity: 2},
			{Price: dec("15"), Quantity: 1},
		},
	}
	pricing, err := calc.Calculate(LinesFor(order.Items), dec("3"))
	require.NoError(t, err)
	order.Pricing = pricing

	assert.True(t, pricing.Subtotal.Equal(dec("195")))
	require.NoError(t, calc.Reconcile(order))

	order.Pricing.Total = order.Pricing.Total.Add(dec("0.01"))
	assert.ErrorIs(t, calc.Reconcile(order), ErrPricingMismatch)
}
