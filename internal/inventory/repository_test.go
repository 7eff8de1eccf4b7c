package inventory

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-orders/internal/database"
	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

var blackNine = domain.StockKey{ProductID: "sneaker-1", Color: "Black", Size: "9"}

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewLedger(db), mock
}

func lookupRows(stock int, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"product_id", "color", "size", "price", "discounted_price", "stock", "is_active"}).
		AddRow("sneaker-1", "Black", "9", "100.00", nil, stock, active)
}

func TestLedger_Reserve(t *testing.T) {
	t.Run("decrements and returns the remaining stock", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectQuery(`UPDATE storefront.stock_units su`).
			WithArgs("sneaker-1", "Black", "9", 3).
			WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(2))

		res, err := ledger.Reserve(context.Background(), blackNine, 3)
		require.NoError(t, err)
		assert.Equal(t, domain.Reservation{Key: blackNine, Quantity: 3, Remaining: 2}, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports insufficient stock without decrementing", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectQuery(`UPDATE storefront.stock_units su`).
			WithArgs("sneaker-1", "Black", "9", 3).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT su.product_id`).
			WithArgs("sneaker-1", "Black", "9").
			WillReturnRows(lookupRows(2, true))

		_, err := ledger.Reserve(context.Background(), blackNine, 3)
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports inactive products as unavailable", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectQuery(`UPDATE storefront.stock_units su`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT su.product_id`).WillReturnRows(lookupRows(10, false))

		_, err := ledger.Reserve(context.Background(), blackNine, 1)
		assert.ErrorIs(t, err, domain.ErrProductUnavailable)
	})

	t.Run("reports unknown products as not found", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectQuery(`UPDATE storefront.stock_units su`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT su.product_id`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT is_active FROM storefront.products`).
			WithArgs("sneaker-1").
			WillReturnError(sql.ErrNoRows)

		_, err := ledger.Reserve(context.Background(), blackNine, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports unknown variants of an active product as not found", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectQuery(`UPDATE storefront.stock_units su`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT su.product_id`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT is_active FROM storefront.products`).
			WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))

		_, err := ledger.Reserve(context.Background(), blackNine, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects non-positive quantities before touching the database", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		_, err := ledger.Reserve(context.Background(), blackNine, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		boom := errors.New("connection reset")

		mock.ExpectQuery(`UPDATE storefront.stock_units su`).WillReturnError(boom)

		_, err := ledger.Reserve(context.Background(), blackNine, 1)
		assert.ErrorIs(t, err, boom)
	})
}

func TestLedger_Release(t *testing.T) {
	t.Run("increments stock", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectExec(`UPDATE storefront.stock_units`).
			WithArgs("sneaker-1", "Black", "9", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, ledger.Release(context.Background(), blackNine, 3))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown key", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectExec(`UPDATE storefront.stock_units`).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, ledger.Release(context.Background(), blackNine, 3), domain.ErrNotFound)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		ledger, _ := newMockLedger(t)
		assert.ErrorIs(t, ledger.Release(context.Background(), blackNine, -1), domain.ErrInvalidInput)
	})
}

func TestLedger_Lookup(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT su.product_id`).
		WithArgs("sneaker-1", "Black", "9").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "color", "size", "price", "discounted_price", "stock", "is_active"}).
			AddRow("sneaker-1", "Black", "9", "120.00", "100.00", 5, true))

	unit, err := ledger.Lookup(context.Background(), blackNine)
	require.NoError(t, err)
	assert.Equal(t, 5, unit.Stock)
	require.NotNil(t, unit.DiscountedPrice)
	assert.Equal(t, "100", unit.EffectivePrice().String())
	assert.Equal(t, blackNine, unit.Key())
}

func TestLedger_ListProduct(t *testing.T) {
	t.Run("lists every variant", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectQuery(`SELECT product_id, color, size`).
			WithArgs("sneaker-1").
			WillReturnRows(sqlmock.NewRows([]string{"product_id", "color", "size", "price", "discounted_price", "stock"}).
				AddRow("sneaker-1", "Black", "9", "100.00", nil, 5).
				AddRow("sneaker-1", "White", "10", "100.00", nil, 0))

		units, err := ledger.ListProduct(context.Background(), "sneaker-1")
		require.NoError(t, err)
		require.Len(t, units, 2)
		assert.Nil(t, units[0].DiscountedPrice)
		assert.Equal(t, 0, units[1].Stock)
	})

	t.Run("unknown product", func(t *testing.T) {
		ledger, mock := newMockLedger(t)

		mock.ExpectQuery(`SELECT product_id, color, size`).
			WillReturnRows(sqlmock.NewRows([]string{"product_id", "color", "size", "price", "discounted_price", "stock"}))

		_, err := ledger.ListProduct(context.Background(), "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestLedger_Restock(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT su.product_id`).WillReturnRows(lookupRows(0, true))
	mock.ExpectExec(`UPDATE storefront.stock_units`).
		WithArgs("sneaker-1", "Black", "9", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT su.product_id`).WillReturnRows(lookupRows(7, true))

	unit, err := ledger.Restock(context.Background(), blackNine, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, unit.Stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_JoinsCallerTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ledger := NewLedger(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE storefront.stock_units su`).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(4))
	mock.ExpectExec(`UPDATE storefront.stock_units`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	rollback := errors.New("abort")
	err = database.NewTransactor(db).WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := ledger.Reserve(ctx, blackNine, 1); err != nil {
			return err
		}
		if err := ledger.Release(ctx, blackNine, 1); err != nil {
			return err
		}
		return rollback
	})

	assert.ErrorIs(t, err, rollback)
	assert.NoError(t, mock.ExpectationsWereMet())
}
