package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-orders/internal/database"
	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// Ledger is the only writer of stock_units.stock. Every mutation is a single
// conditional UPDATE so concurrent callers, in this process or another, are
// serialized by the row lock in PostgreSQL.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Lookup(ctx context.Context, key domain.StockKey) (*domain.StockUnit, error) {
	var (
		unit       domain.StockUnit
		discounted decimal.NullDecimal
		active     bool
	)

	err := database.Conn(ctx, l.db).QueryRowContext(ctx, `
		SELECT su.product_id, su.color, su.size, su.price, su.discounted_price, su.stock, p.is_active
		FROM storefront.stock_units su
		JOIN storefront.products p ON p.id = su.product_id
		WHERE su.product_id = $1 AND su.color = $2 AND su.size = $3
	`, key.ProductID, key.Color, key.Size).Scan(
		&unit.ProductID, &unit.Color, &unit.Size, &unit.Price, &discounted, &unit.Stock, &active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, l.classifyMissing(ctx, key)
		}
		return nil, fmt.Errorf("lookup stock unit %s: %w", key, err)
	}

	if !active {
		return nil, fmt.Errorf("%w: product %s", domain.ErrProductUnavailable, key.ProductID)
	}

	if discounted.Valid {
		unit.DiscountedPrice = &discounted.Decimal
	}

	return &unit, nil
}

func (l *Ledger) ListProduct(ctx context.Context, productID string) ([]domain.StockUnit, error) {
	rows, err := database.Conn(ctx, l.db).QueryContext(ctx, `
		SELECT product_id, color, size, price, discounted_price, stock
		FROM storefront.stock_units
		WHERE product_id = $1
		ORDER BY color, size
	`, productID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var units []domain.StockUnit
	for rows.Next() {
		var (
			unit       domain.StockUnit
			discounted decimal.NullDecimal
		)
		if err := rows.Scan(&unit.ProductID, &unit.Color, &unit.Size, &unit.Price, &discounted, &unit.Stock); err != nil {
			return nil, err
		}
		if discounted.Valid {
			unit.DiscountedPrice = &discounted.Decimal
		}
		units = append(units, unit)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}

	return units, nil
}

// Reserve takes quantity units in one step or not at all.
func (l *Ledger) Reserve(ctx context.Context, key domain.StockKey, quantity int) (domain.Reservation, error) {
	if quantity < 1 {
		return domain.Reservation{}, fmt.Errorf("%w: quantity %d", domain.ErrInvalidInput, quantity)
	}

	var remaining int
	err := database.Conn(ctx, l.db).QueryRowContext(ctx, `
		UPDATE storefront.stock_units su
		SET stock = su.stock - $4, updated_at = NOW()
		FROM storefront.products p
		WHERE p.id = su.product_id AND p.is_active
		  AND su.product_id = $1 AND su.color = $2 AND su.size = $3
		  AND su.stock >= $4
		RETURNING su.stock
	`, key.ProductID, key.Color, key.Size, quantity).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, l.classifyRejected(ctx, key, quantity)
		}
		return domain.Reservation{}, fmt.Errorf("reserve %d of %s: %w", quantity, key, err)
	}

	return domain.Reservation{Key: key, Quantity: quantity, Remaining: remaining}, nil
}

// Release puts quantity units back. Callers must release each reservation
// exactly once; the ledger does not deduplicate.
func (l *Ledger) Release(ctx context.Context, key domain.StockKey, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity %d", domain.ErrInvalidInput, quantity)
	}

	result, err := database.Conn(ctx, l.db).ExecContext(ctx, `
		UPDATE storefront.stock_units
		SET stock = stock + $4, updated_at = NOW()
		WHERE product_id = $1 AND color = $2 AND size = $3
	`, key.ProductID, key.Color, key.Size, quantity)
	if err != nil {
		return fmt.Errorf("release %d of %s: %w", quantity, key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: stock unit %s", domain.ErrNotFound, key)
	}

	return nil
}

// Restock adds freshly received units. It is the same increment as Release
// but refuses inactive products.
func (l *Ledger) Restock(ctx context.Context, key domain.StockKey, quantity int) (*domain.StockUnit, error) {
	if _, err := l.Lookup(ctx, key); err != nil {
		return nil, err
	}
	if err := l.Release(ctx, key, quantity); err != nil {
		return nil, err
	}
	return l.Lookup(ctx, key)
}

// classifyMissing explains why a stock unit lookup found nothing.
func (l *Ledger) classifyMissing(ctx context.Context, key domain.StockKey) error {
	var active bool
	err := database.Conn(ctx, l.db).QueryRowContext(ctx, `
		SELECT is_active FROM storefront.products WHERE id = $1
	`, key.ProductID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: product %s", domain.ErrNotFound, key.ProductID)
		}
		return fmt.Errorf("lookup product %s: %w", key.ProductID, err)
	}

	if !active {
		return fmt.Errorf("%w: product %s", domain.ErrProductUnavailable, key.ProductID)
	}

	return fmt.Errorf("%w: variant %s/%s of product %s", domain.ErrNotFound, key.Color, key.Size, key.ProductID)
}

// classifyRejected runs after the conditional update matched no row. The
// outcome reflects the state at the time of this read, which is good enough
// for reporting: the decrement itself was never applied.
func (l *Ledger) classifyRejected(ctx context.Context, key domain.StockKey, quantity int) error {
	unit, err := l.Lookup(ctx, key)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: requested %d of %s, %d available", domain.ErrInsufficientStock, quantity, key, unit.Stock)
}
