package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StockKey identifies one stock unit: a size of a color of a product.
type StockKey struct {
	ProductID string `json:"product"`
	Color     string `json:"color"`
	Size      string `json:"size"`
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ProductID, k.Color, k.Size)
}

type StockUnit struct {
	ProductID       string           `json:"product"`
	Color           string           `json:"color"`
	Size            string           `json:"size"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discountedPrice,omitempty"`
	Stock           int              `json:"stock"`
}

func (u StockUnit) Key() StockKey {
	return StockKey{ProductID: u.ProductID, Color: u.Color, Size: u.Size}
}

func (u StockUnit) EffectivePrice() decimal.Decimal {
	return effectivePrice(u.Price, u.DiscountedPrice)
}

type Reservation struct {
	Key       StockKey `json:"key"`
	Quantity  int      `json:"quantity"`
	Remaining int      `json:"remaining"`
}

func effectivePrice(price decimal.Decimal, discounted *decimal.Decimal) decimal.Decimal {
	if discounted != nil {
		return *discounted
	}
	return price
}
