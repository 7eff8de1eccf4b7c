package orders

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-orders/internal/database"
	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// OrderRepository stores orders in storefront.orders with their lines in
// storefront.order_items. Addresses, payment and the optional sub-records
// are JSONB columns; an absent sub-record is NULL.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, order_number, user_id, status,
	shipping_address, billing_address,
	subtotal, shipping_cost, tax, discount, total,
	payment, tracking, notes, cancellation, return_info,
	created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	cols, err := encodeSubRecords(order)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return err
	}

	conn := database.Conn(ctx, r.db)
	_, err = conn.ExecContext(ctx, `
		INSERT INTO storefront.orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, order.ID, order.OrderNumber, order.UserID, order.Status,
		jsonb(shipping), jsonb(billing),
		order.Pricing.Subtotal, order.Pricing.ShippingCost, order.Pricing.Tax, order.Pricing.Discount, order.Pricing.Total,
		cols.payment, cols.tracking, cols.notes, cols.cancellation, cols.ret,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = conn.ExecContext(ctx, `
			INSERT INTO storefront.order_items (id, order_id, position, product_id, color, size, quantity, price, discounted_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uuid.NewString(), order.ID, i, item.ProductID, item.Color, item.Size, item.Quantity, item.Price,
			decimal.NullDecimal{Decimal: derefDecimal(item.DiscountedPrice), Valid: item.DiscountedPrice != nil})
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}

	conn := database.Conn(ctx, r.db)
	order, err := scanOrder(conn.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM storefront.orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
		}
		return nil, err
	}

	order.Items = []domain.OrderItem{}
	if err := r.loadItems(ctx, conn, map[string]*domain.Order{order.ID: order}, []string{order.ID}); err != nil {
		return nil, err
	}
	return order, nil
}

// Update writes the mutable parts of an order back, but only while the stored
// status is still expected.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	cols, err := encodeSubRecords(order)
	if err != nil {
		return err
	}

	conn := database.Conn(ctx, r.db)
	result, err := conn.ExecContext(ctx, `
		UPDATE storefront.orders
		SET status = $1, payment = $2, tracking = $3, notes = $4, cancellation = $5, return_info = $6, updated_at = $7
		WHERE id = $8 AND status = $9
	`, order.Status, cols.payment, cols.tracking, cols.notes, cols.cancellation, cols.ret, order.UpdatedAt,
		order.ID, expected)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := conn.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM storefront.orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: order %s", domain.ErrNotFound, order.ID)
		}
		return fmt.Errorf("%w: order %s is no longer %s", domain.ErrConcurrentUpdate, order.ID, expected)
	}

	return nil
}

var orderSorts = map[domain.OrderSort]string{
	domain.SortNewest:    "created_at DESC, id",
	domain.SortOldest:    "created_at ASC, id",
	domain.SortTotalHigh: "total DESC, created_at DESC",
	domain.SortTotalLow:  "total ASC, created_at DESC",
}

// List returns one page of orders matching filter and the total number of
// matches. filter must be normalized.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	where, args := buildOrderFilter(filter)
	conn := database.Conn(ctx, r.db)

	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM storefront.orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	orderBy, ok := orderSorts[filter.Sort]
	if !ok {
		orderBy = orderSorts[domain.SortNewest]
	}

	query := fmt.Sprintf(`SELECT %s FROM storefront.orders%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		orderColumns, where, orderBy, len(args)+1, len(args)+2)
	rows, err := conn.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, total, nil
	}

	if err := r.loadItems(ctx, conn, orderMap, orderIDs); err != nil {
		return nil, 0, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, total, nil
}

func buildOrderFilter(filter domain.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(order_number ILIKE $%d OR shipping_address->>'firstName' ILIKE $%d OR shipping_address->>'lastName' ILIKE $%d)",
			n, n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// loadItems fills the items of every order in orderMap with one query.
func (r *OrderRepository) loadItems(ctx context.Context, conn database.DBTX, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT order_id, product_id, color, size, quantity, price, discounted_price
		FROM storefront.order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			orderID    string
			item       domain.OrderItem
			discounted decimal.NullDecimal
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Color, &item.Size, &item.Quantity, &item.Price, &discounted); err != nil {
			return err
		}
		if discounted.Valid {
			item.DiscountedPrice = &discounted.Decimal
		}
		if order, ok := orderMap[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order                                    domain.Order
		shipping, billing, payment               []byte
		tracking, notes, cancellation, returnRaw []byte
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.Status,
		&shipping, &billing,
		&order.Pricing.Subtotal, &order.Pricing.ShippingCost, &order.Pricing.Tax, &order.Pricing.Discount, &order.Pricing.Total,
		&payment, &tracking, &notes, &cancellation, &returnRaw,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &order.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	if err := json.Unmarshal(payment, &order.Payment); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	if order.Tracking, err = decodeOptional[domain.Tracking](tracking); err != nil {
		return nil, fmt.Errorf("decode tracking: %w", err)
	}
	if order.Notes, err = decodeOptional[domain.Notes](notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	if order.Cancellation, err = decodeOptional[domain.Cancellation](cancellation); err != nil {
		return nil, fmt.Errorf("decode cancellation: %w", err)
	}
	if order.Return, err = decodeOptional[domain.Return](returnRaw); err != nil {
		return nil, fmt.Errorf("decode return: %w", err)
	}

	return &order, nil
}

// jsonb binds encoded JSON as text, and a nil value as SQL NULL.
type jsonb []byte

func (j jsonb) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

type subRecords struct {
	payment, tracking, notes, cancellation, ret jsonb
}

func encodeSubRecords(order *domain.Order) (subRecords, error) {
	var (
		out subRecords
		err error
	)
	if out.payment, err = json.Marshal(order.Payment); err != nil {
		return out, err
	}
	if !order.Tracking.IsZero() {
		if out.tracking, err = json.Marshal(order.Tracking); err != nil {
			return out, err
		}
	}
	if !order.Notes.IsZero() {
		if out.notes, err = json.Marshal(order.Notes); err != nil {
			return out, err
		}
	}
	if order.Cancellation != nil {
		if out.cancellation, err = json.Marshal(order.Cancellation); err != nil {
			return out, err
		}
	}
	if order.Return != nil {
		if out.ret, err = json.Marshal(order.Return); err != nil {
			return out, err
		}
	}
	return out, nil
}

func decodeOptional[T any](raw []byte) (*T, error) {
	if raw == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
