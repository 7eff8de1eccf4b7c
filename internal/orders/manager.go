package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
	"github.com/joao-fontenele/storefront-orders/internal/numbering"
	"github.com/joao-fontenele/storefront-orders/internal/pricing"
)

const (
	defaultCancelReason = "Cancelled by user"
	defaultReturnReason = "Returned by customer"
)

const instrumentationName = "github.com/joao-fontenele/storefront-orders/internal/orders"

type Ledger interface {
	Lookup(ctx context.Context, key domain.StockKey) (*domain.StockUnit, error)
	Reserve(ctx context.Context, key domain.StockKey, quantity int) (domain.Reservation, error)
	Release(ctx context.Context, key domain.StockKey, quantity int) error
}

// Store persists orders. Update must only apply when the stored status still
// equals expected, and report domain.ErrConcurrentUpdate otherwise.
type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Manager struct {
	ledger    Ledger
	sequence  numbering.Sequence
	store     Store
	calc      *pricing.Calculator
	tx        Transactor
	publisher Publisher
	logger    *zap.Logger
	validate  *validator.Validate
	tracer    trace.Tracer
	metrics   metrics
	now       func() time.Time
}

type Option func(*Manager)

// WithTransactor runs create, cancel and return inside one database
// transaction. Without it the manager releases stock it reserved when a later
// step fails.
func WithTransactor(tx Transactor) Option {
	return func(m *Manager) { m.tx = tx }
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithCalculator(c *pricing.Calculator) Option {
	return func(m *Manager) { m.calc = c }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) { m.metrics = newMetrics(meter) }
}

func NewManager(ledger Ledger, sequence numbering.Sequence, store Store, opts ...Option) *Manager {
	m := &Manager{
		ledger:   ledger,
		sequence: sequence,
		store:    store,
		calc:     pricing.NewCalculator(pricing.DefaultRules()),
		logger:   zap.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer(instrumentationName),
		metrics:  newMetrics(otel.Meter(instrumentationName)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type ItemInput struct {
	ProductID string `json:"product" validate:"required"`
	Color     string `json:"color" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

func (i ItemInput) Key() domain.StockKey {
	return domain.StockKey{ProductID: i.ProductID, Color: i.Color, Size: i.Size}
}

type CreateOrderInput struct {
	UserID          string               `json:"-" validate:"required"`
	Items           []ItemInput          `json:"items" validate:"required,min=1,dive"`
	ShippingAddress domain.Address       `json:"shippingAddress"`
	BillingAddress  domain.Address       `json:"billingAddress"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod" validate:"required"`
	Discount        decimal.Decimal      `json:"discount"`
	CustomerNote    string               `json:"customerNote" validate:"max=500"`
}

// CreateOrder validates the cart against current stock, prices it, and then
// reserves every item, takes an order number and persists the order as one
// unit of work. Either all items are reserved and the order exists, or
// nothing changed.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "orders.CreateOrder",
		trace.WithAttributes(attribute.String("user.id", in.UserID), attribute.Int("order.item_count", len(in.Items))))
	defer span.End()

	order, err := m.createOrder(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	return order, nil
}

func (m *Manager) createOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if err := m.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}
	if !in.PaymentMethod.IsValid() {
		return nil, fmt.Errorf("%w: payment method %q", domain.ErrInvalidInput, in.PaymentMethod)
	}

	items, err := m.snapshotItems(ctx, mergeItems(in.Items))
	if err != nil {
		return nil, err
	}

	price, err := m.calc.Calculate(pricing.LinesFor(items), in.Discount)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	order := &domain.Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Items:           items,
		ShippingAddress: withDefaultCountry(in.ShippingAddress),
		BillingAddress:  withDefaultCountry(in.BillingAddress),
		Pricing:         price,
		Payment:         domain.Payment{Method: in.PaymentMethod, Status: domain.PaymentStatusPending},
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.CustomerNote != "" {
		order.Notes = &domain.Notes{Customer: in.CustomerNote}
	}

	var reserved []domain.OrderItem
	err = m.withinTx(ctx, func(ctx context.Context) error {
		for _, item := range order.Items {
			if _, err := m.ledger.Reserve(ctx, item.Key(), item.Quantity); err != nil {
				m.metrics.reservationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("product.id", item.ProductID)))
				return err
			}
			reserved = append(reserved, item)
		}

		number, err := m.sequence.Next(ctx)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		return m.store.Create(ctx, order)
	})
	if err != nil {
		if m.tx == nil {
			m.compensate(ctx, reserved)
		}
		return nil, err
	}

	m.metrics.created.Add(ctx, 1)
	logger.WithTrace(ctx, m.logger).Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID),
		zap.Stringer("total", order.Pricing.Total),
	)

	m.publish(ctx, domain.TopicOrderCreated, order.ID, domain.OrderCreatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Items:       order.Items,
		Total:       order.Pricing.Total,
		Timestamp:   now,
	})

	return order, nil
}

// snapshotItems resolves every requested variant and copies its current
// price. It fails fast on stock that is already too low; the reservation
// step remains the authority.
func (m *Manager) snapshotItems(ctx context.Context, in []ItemInput) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(in))
	for _, req := range in {
		unit, err := m.ledger.Lookup(ctx, req.Key())
		if err != nil {
			return nil, err
		}
		if unit.Stock < req.Quantity {
			return nil, fmt.Errorf("%w: requested %d of %s, %d available",
				domain.ErrInsufficientStock, req.Quantity, req.Key(), unit.Stock)
		}
		items = append(items, domain.OrderItem{
			ProductID:       unit.ProductID,
			Color:           unit.Color,
			Size:            unit.Size,
			Quantity:        req.Quantity,
			Price:           unit.Price,
			DiscountedPrice: unit.DiscountedPrice,
		})
	}
	return items, nil
}

// compensate gives back reservations made outside a transaction. It runs even
// when ctx is already cancelled.
func (m *Manager) compensate(ctx context.Context, reserved []domain.OrderItem) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range reserved {
		if err := m.ledger.Release(ctx, item.Key(), item.Quantity); err != nil {
			logger.WithTrace(ctx, m.logger).Error("failed to release reservation",
				zap.Error(err),
				zap.String("product_id", item.ProductID),
				zap.String("stock_key", item.Key().String()),
				zap.Int("quantity", item.Quantity),
			)
		}
	}
}

type OrderPatch struct {
	Status    domain.OrderStatus `json:"status,omitempty"`
	Tracking  *domain.Tracking   `json:"tracking,omitempty"`
	AdminNote string             `json:"adminNote,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// UpdateOrder applies an admin patch. Cancelled and returned are routed
// through the same paths as CancelOrder and ReturnOrder so stock is released
// exactly once.
func (m *Manager) UpdateOrder(ctx context.Context, orderID string, actor domain.Actor, patch OrderPatch) (*domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrAccessDenied
	}
	if patch.Status != "" && !patch.Status.IsValid() {
		return nil, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, patch.Status)
	}

	return m.change(ctx, "orders.UpdateOrder", orderID, actor, patch.Reason, func(o *domain.Order, now time.Time) error {
		if patch.Tracking != nil {
			if o.Tracking == nil {
				o.Tracking = &domain.Tracking{}
			}
			o.Tracking.Merge(*patch.Tracking)
		}
		if patch.AdminNote != "" {
			if o.Notes == nil {
				o.Notes = &domain.Notes{}
			}
			o.Notes.Admin = patch.AdminNote
		}
		o.UpdatedAt = now

		switch {
		case patch.Status == "":
			return nil
		case patch.Status == o.Status && o.Status.IsTerminal():
			return nil
		case patch.Status == domain.OrderStatusCancelled:
			return o.Cancel(reasonOr(patch.Reason, defaultCancelReason), domain.CancelledByAdmin, now)
		case patch.Status == domain.OrderStatusReturned:
			return o.MarkReturned(reasonOr(patch.Reason, defaultReturnReason), now)
		default:
			return o.Advance(patch.Status, now)
		}
	})
}

func (m *Manager) CancelOrder(ctx context.Context, orderID string, actor domain.Actor, reason string) (*domain.Order, error) {
	reason = reasonOr(reason, defaultCancelReason)
	return m.change(ctx, "orders.CancelOrder", orderID, actor, reason, func(o *domain.Order, now time.Time) error {
		return o.Cancel(reason, actor.CancelledBy(), now)
	})
}

func (m *Manager) ReturnOrder(ctx context.Context, orderID string, actor domain.Actor, reason string) (*domain.Order, error) {
	reason = reasonOr(reason, defaultReturnReason)
	return m.change(ctx, "orders.ReturnOrder", orderID, actor, reason, func(o *domain.Order, now time.Time) error {
		return o.MarkReturned(reason, now)
	})
}

// change loads an order, applies apply to it and writes it back with a
// compare-and-set on the status it was read with. Moving into cancelled or
// returned releases every item in the same unit of work. A lost race is
// re-evaluated against the fresh order so the caller sees why it lost.
func (m *Manager) change(ctx context.Context, op, orderID string, actor domain.Actor, reason string,
	apply func(o *domain.Order, now time.Time) error,
) (*domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var (
		updated *domain.Order
		from    domain.OrderStatus
	)
	now := m.now().UTC()

	err := m.withinTx(ctx, func(ctx context.Context) error {
		order, err := m.store.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(order) {
			return domain.ErrAccessDenied
		}

		from = order.Status
		prev := order.Clone()
		if err := apply(order, now); err != nil {
			return err
		}

		if err := m.store.Update(ctx, order, from); err != nil {
			if errors.Is(err, domain.ErrConcurrentUpdate) {
				return m.explainConflict(ctx, orderID, apply, now)
			}
			return err
		}

		if releasesStock(from, order.Status) {
			if err := m.releaseItems(ctx, order, prev); err != nil {
				return err
			}
		}

		updated = order
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if from != updated.Status {
		m.recordTransition(ctx, updated, from, reason, now)
	}
	return updated, nil
}

// releaseItems gives back the stock of every item of order. Inside a
// transaction a failure rolls everything back. Without one, the items already
// released are reserved again and the stored order is put back to prev, so a
// retry starts from the same state.
func (m *Manager) releaseItems(ctx context.Context, order, prev *domain.Order) error {
	for i, item := range order.Items {
		if err := m.ledger.Release(ctx, item.Key(), item.Quantity); err != nil {
			err = fmt.Errorf("release %s for order %s: %w", item.Key(), order.OrderNumber, err)
			if m.tx == nil {
				m.undoRelease(ctx, order.Items[:i], prev, order.Status)
			}
			return err
		}
	}
	return nil
}

func (m *Manager) undoRelease(ctx context.Context, released []domain.OrderItem, prev *domain.Order, current domain.OrderStatus) {
	ctx = context.WithoutCancel(ctx)
	log := logger.WithTrace(ctx, m.logger).With(zap.String("order_id", prev.ID))

	for _, item := range released {
		if _, err := m.ledger.Reserve(ctx, item.Key(), item.Quantity); err != nil {
			log.Error("failed to reserve released stock again",
				zap.Error(err),
				zap.String("stock_key", item.Key().String()),
				zap.Int("quantity", item.Quantity),
			)
		}
	}
	if err := m.store.Update(ctx, prev, current); err != nil {
		log.Error("failed to restore order status", zap.Error(err), zap.String("status", string(prev.Status)))
	}
}

func (m *Manager) explainConflict(ctx context.Context, orderID string, apply func(o *domain.Order, now time.Time) error, now time.Time) error {
	fresh, err := m.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := apply(fresh, now); err != nil {
		return err
	}
	return domain.ErrConcurrentUpdate
}

func (m *Manager) recordTransition(ctx context.Context, order *domain.Order, from domain.OrderStatus, reason string, now time.Time) {
	switch order.Status {
	case domain.OrderStatusCancelled:
		m.metrics.cancelled.Add(ctx, 1)
	case domain.OrderStatusReturned:
		m.metrics.returned.Add(ctx, 1)
	default:
		reason = ""
	}

	logger.WithTrace(ctx, m.logger).Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)),
	)

	m.publish(ctx, domain.TopicOrderStatusChanged, order.ID, domain.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		From:        from,
		To:          order.Status,
		Reason:      reason,
		Timestamp:   now,
	})
}

func (m *Manager) GetOrder(ctx context.Context, orderID string, actor domain.Actor) (*domain.Order, error) {
	order, err := m.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order) {
		return nil, domain.ErrAccessDenied
	}
	return order, nil
}

func (m *Manager) ListUserOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) (domain.OrderPage, error) {
	if actor.UserID == "" {
		return domain.OrderPage{}, domain.ErrAccessDenied
	}
	filter.UserID = actor.UserID
	return m.list(ctx, filter)
}

func (m *Manager) ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) (domain.OrderPage, error) {
	if !actor.IsAdmin() {
		return domain.OrderPage{}, domain.ErrAccessDenied
	}
	return m.list(ctx, filter)
}

func (m *Manager) list(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return domain.OrderPage{}, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, filter.Status)
	}
	filter = filter.Normalize()

	orders, total, err := m.store.List(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return domain.NewOrderPage(orders, filter, total), nil
}

// VerifiedPurchase reports whether userID bought productID in a delivered
// order. Unknown orders are simply not verified.
func (m *Manager) VerifiedPurchase(ctx context.Context, orderID, userID, productID string) (bool, error) {
	order, err := m.store.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return order.IsOwnedBy(userID) && order.IsVerifiedPurchaseOf(productID), nil
}

type PricingAudit struct {
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	Stored      domain.Pricing `json:"stored"`
	Recomputed  domain.Pricing `json:"recomputed"`
	Consistent  bool           `json:"consistent"`
}

// AuditPricing re-derives the pricing of a persisted order from its item
// snapshots with the current rules.
func (m *Manager) AuditPricing(ctx context.Context, orderID string) (*PricingAudit, error) {
	order, err := m.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	recomputed, err := m.calc.Calculate(pricing.LinesFor(order.Items), order.Pricing.Discount)
	if err != nil {
		return nil, err
	}

	audit := &PricingAudit{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Stored:      order.Pricing,
		Recomputed:  recomputed,
		Consistent:  true,
	}
	if err := m.calc.Reconcile(order); err != nil {
		if !errors.Is(err, pricing.ErrPricingMismatch) {
			return nil, err
		}
		audit.Consistent = false
		logger.WithTrace(ctx, m.logger).Warn("order pricing mismatch",
			zap.String("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}
	return audit, nil
}

func (m *Manager) CanBeCancelled(order *domain.Order) bool {
	return order.CanBeCancelled()
}

func (m *Manager) CanBeReturned(order *domain.Order) bool {
	return order.CanBeReturned(m.now())
}

func (m *Manager) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.tx == nil {
		return fn(ctx)
	}
	return m.tx.WithinTx(ctx, fn)
}

func (m *Manager) publish(ctx context.Context, topic, key string, event any) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, topic, key, event); err != nil {
		logger.WithTrace(ctx, m.logger).Error("failed to publish event",
			zap.Error(err),
			zap.String("topic", topic),
			zap.String("order_id", key),
		)
	}
}

func releasesStock(from, to domain.OrderStatus) bool {
	if from == to {
		return false
	}
	return to == domain.OrderStatusCancelled || to == domain.OrderStatusReturned
}

// mergeItems folds repeated variants into one line so each stock unit is
// checked and reserved once for its full quantity.
func mergeItems(in []ItemInput) []ItemInput {
	index := make(map[domain.StockKey]int, len(in))
	out := make([]ItemInput, 0, len(in))
	for _, item := range in {
		if i, ok := index[item.Key()]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.Key()] = len(out)
		out = append(out, item)
	}
	return out
}

func withDefaultCountry(a domain.Address) domain.Address {
	if a.Country == "" {
		a.Country = domain.DefaultCountry
	}
	return a
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
