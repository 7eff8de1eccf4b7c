package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "cod"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodNetBanking PaymentMethod = "netbanking"
	PaymentMethodWallet     PaymentMethod = "wallet"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI, PaymentMethodNetBanking, PaymentMethodWallet:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type CancelledBy string

const (
	CancelledByCustomer CancelledBy = "customer"
	CancelledByAdmin    CancelledBy = "admin"
	CancelledBySystem   CancelledBy = "system"
)

type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "pending"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusProcessed ReturnStatus = "processed"
)

const DefaultCountry = "India"

type Address struct {
	FirstName  string `json:"firstName" validate:"required"`
	LastName   string `json:"lastName" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country"`
	Phone      string `json:"phone" validate:"required"`
}

// OrderItem is a snapshot of what was bought. Price and DiscountedPrice are
// copied from the stock unit when the order is created and never re-read.
type OrderItem struct {
	ProductID       string           `json:"product"`
	Color           string           `json:"color"`
	Size            string           `json:"size"`
	Quantity        int              `json:"quantity"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discountedPrice,omitempty"`
}

func (i OrderItem) Key() StockKey {
	return StockKey{ProductID: i.ProductID, Color: i.Color, Size: i.Size}
}

func (i OrderItem) EffectivePrice() decimal.Decimal {
	return effectivePrice(i.Price, i.DiscountedPrice)
}

type Pricing struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Tax          decimal.Decimal `json:"tax"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
}

type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	Gateway       string        `json:"paymentGateway,omitempty"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`
	RefundedAt    *time.Time    `json:"refundedAt,omitempty"`
}

type Tracking struct {
	Carrier           string     `json:"carrier,omitempty"`
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	TrackingURL       string     `json:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	ShippedAt         *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
}

func (t *Tracking) IsZero() bool {
	return t == nil || *t == Tracking{}
}

// Merge copies the non-empty fields of patch onto t. Shipped and delivered
// timestamps are only filled in, never moved.
func (t *Tracking) Merge(patch Tracking) {
	if patch.Carrier != "" {
		t.Carrier = patch.Carrier
	}
	if patch.TrackingNumber != "" {
		t.TrackingNumber = patch.TrackingNumber
	}
	if patch.TrackingURL != "" {
		t.TrackingURL = patch.TrackingURL
	}
	if patch.EstimatedDelivery != nil {
		t.EstimatedDelivery = patch.EstimatedDelivery
	}
	if t.ShippedAt == nil && patch.ShippedAt != nil {
		t.ShippedAt = patch.ShippedAt
	}
	if t.DeliveredAt == nil && patch.DeliveredAt != nil {
		t.DeliveredAt = patch.DeliveredAt
	}
}

type Notes struct {
	Customer string `json:"customer,omitempty"`
	Admin    string `json:"admin,omitempty"`
}

func (n *Notes) IsZero() bool {
	return n == nil || *n == Notes{}
}

type Cancellation struct {
	Reason      string      `json:"reason"`
	CancelledAt time.Time   `json:"cancelledAt"`
	CancelledBy CancelledBy `json:"cancelledBy"`
}

type Return struct {
	Reason      string       `json:"reason"`
	RequestedAt time.Time    `json:"requestedAt"`
	ApprovedAt  *time.Time   `json:"approvedAt,omitempty"`
	ProcessedAt *time.Time   `json:"processedAt,omitempty"`
	Status      ReturnStatus `json:"status"`
}

type Order struct {
	ID              string        `json:"id"`
	OrderNumber     string        `json:"orderNumber"`
	UserID          string        `json:"user"`
	Items           []OrderItem   `json:"items"`
	ShippingAddress Address       `json:"shippingAddress"`
	BillingAddress  Address       `json:"billingAddress"`
	Pricing         Pricing       `json:"pricing"`
	Payment         Payment       `json:"payment"`
	Status          OrderStatus   `json:"status"`
	Tracking        *Tracking     `json:"tracking,omitempty"`
	Notes           *Notes        `json:"notes,omitempty"`
	Cancellation    *Cancellation `json:"cancellation,omitempty"`
	Return          *Return       `json:"return,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (o *Order) IsOwnedBy(userID string) bool {
	return o.UserID != "" && o.UserID == userID
}

func (o *Order) ContainsProduct(productID string) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// IsVerifiedPurchaseOf reports whether the order entitles its owner to a
// verified review of productID.
func (o *Order) IsVerifiedPurchaseOf(productID string) bool {
	return o.Status == OrderStatusDelivered && o.ContainsProduct(productID)
}

func (o *Order) TotalQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// Clone returns a copy that shares no mutable state with o.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	cp.Tracking = clonePtr(o.Tracking)
	cp.Notes = clonePtr(o.Notes)
	cp.Cancellation = clonePtr(o.Cancellation)
	cp.Return = clonePtr(o.Return)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type OrderSort string

const (
	SortNewest    OrderSort = "newest"
	SortOldest    OrderSort = "oldest"
	SortTotalHigh OrderSort = "total-high"
	SortTotalLow  OrderSort = "total-low"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type OrderFilter struct {
	UserID string
	Status OrderStatus
	Search string
	Sort   OrderSort
	Page   int
	Limit  int
}

// Normalize clamps paging to sane bounds and defaults the sort order.
func (f OrderFilter) Normalize() OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	switch f.Sort {
	case SortNewest, SortOldest, SortTotalHigh, SortTotalLow:
	default:
		f.Sort = SortNewest
	}
	return f
}

func (f OrderFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalOrders int  `json:"totalOrders"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

type OrderPage struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

func NewOrderPage(orders []Order, filter OrderFilter, total int) OrderPage {
	totalPages := 0
	if filter.Limit > 0 {
		totalPages = (total + filter.Limit - 1) / filter.Limit
	}
	return OrderPage{
		Orders: orders,
		Pagination: Pagination{
			CurrentPage: filter.Page,
			TotalPages:  totalPages,
			TotalOrders: total,
			HasNext:     filter.Offset()+len(orders) < total,
			HasPrev:     filter.Page > 1,
		},
	}
}
