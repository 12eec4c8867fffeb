package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoku/internal/domain"
	"tokoku/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TOKOKU_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKOKU_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestCompleteSaleAndRestockingDelete(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	number := fmt.Sprintf("SKU-IT-%d", time.Now().UnixNano())
	product, err := s.CreateProduct(ctx, domain.Product{
		Number:   number,
		Name:     "Produk Integrasi",
		Category: domain.DefaultCategory,
		Price:    decimal.RequireFromString("6000.25"),
		StockQty: 10,
	})
	require.NoError(t, err)

	var saleIDs []string
	t.Cleanup(func() {
		_, _ = s.DeleteSales(ctx, saleIDs)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	_, err = s.CreateProduct(ctx, domain.Product{
		Number: number, Name: "dup", Price: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, store.ErrDuplicateNumber)

	sale, updated, err := s.CompleteSale(ctx, domain.Sale{ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)
	saleIDs = append(saleIDs, sale.ID)
	assert.Equal(t, 8, updated.StockQty)
	assert.True(t, sale.TotalPrice.Equal(decimal.RequireFromString("12000.50")))

	reloaded, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.TotalPrice.Equal(sale.TotalPrice))
	assert.True(t, reloaded.SoldAt.Equal(sale.SoldAt.Truncate(time.Microsecond)))

	_, _, err = s.CompleteSale(ctx, domain.Sale{ProductID: product.ID, Quantity: 9})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = s.DeleteSale(ctx, sale.ID, true)
	require.NoError(t, err)

	stored, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.StockQty)
}

func TestCompleteSaleRollsBackWhenStockUpdateFails(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	suffix := time.Now().UnixNano()
	product, err := s.CreateProduct(ctx, domain.Product{
		Number:   fmt.Sprintf("SKU-RB-%d", suffix),
		Name:     "Produk Rollback",
		Category: domain.DefaultCategory,
		Price:    decimal.RequireFromString("1500"),
		StockQty: 4,
	})
	require.NoError(t, err)

	fn := fmt.Sprintf("tokoku_fail_stock_%d", suffix)
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE FUNCTION %s() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'stock update refused';
		END
		$$ LANGUAGE plpgsql
	`, fn))
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TRIGGER %s BEFORE UPDATE OF stock_qty ON products
		FOR EACH ROW WHEN (NEW.id = '%s') EXECUTE FUNCTION %s()
	`, fn, strings.ReplaceAll(product.ID, "'", "''"), fn))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON products`, fn))
		_, _ = s.db.ExecContext(ctx, fmt.Sprintf(`DROP FUNCTION IF EXISTS %s()`, fn))
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	_, _, err = s.CompleteSale(ctx, domain.Sale{ProductID: product.ID, Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock update refused")

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE product_id = $1`, product.ID).Scan(&count))
	assert.Zero(t, count)

	stored, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.StockQty)
}
