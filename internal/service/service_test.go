package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoku/internal/cache"
	"tokoku/internal/domain"
	"tokoku/internal/livebook"
	"tokoku/internal/observability"
	"tokoku/internal/report"
	"tokoku/internal/store"
	"tokoku/internal/store/memory"
	"tokoku/internal/worker"
)

const testPIN = "482915"

type staticPIN string

func (p staticPIN) ValidateManagerPIN(pin string) bool {
	return string(p) == pin
}

type fixture struct {
	svc     *Service
	repo    *memory.Store
	pool    *worker.Pool
	metrics *observability.Metrics
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	repo := memory.New()
	if opts.Pool == nil {
		opts.Pool = worker.NewPool(2, nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	if opts.PINVerifier == nil {
		opts.PINVerifier = staticPIN(testPIN)
	}
	t.Cleanup(opts.Pool.Close)
	return fixture{
		svc:     New(repo, opts),
		repo:    repo,
		pool:    opts.Pool,
		metrics: opts.Metrics,
	}
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasir", Role: domain.RoleCashier})
}

func mustCreate(t *testing.T, svc *Service, number string, price string, stock int) domain.Product {
	t.Helper()
	p, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Number:       number,
		Name:         "Product " + number,
		Price:        price,
		InitialStock: stock,
	})
	require.NoError(t, err)
	return p
}

func mustSell(t *testing.T, svc *Service, productID string, qty int) domain.SaleResponse {
	t.Helper()
	resp, err := svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: productID, Quantity: qty})
	require.NoError(t, err)
	return resp
}

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{Number: "A-1", Name: "Teh", Price: "3000"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CreateProduct(context.Background(), domain.ProductCreateRequest{Number: "A-1", Name: "Teh", Price: "3000"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateProductSanitizesInput(t *testing.T) {
	f := newFixture(t, Options{})

	p, err := f.svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Number:       "  teh-01 ",
		Name:         " Teh Botol ",
		Price:        "Rp 4.500",
		InitialStock: 12,
	})
	require.NoError(t, err)

	assert.Equal(t, "TEH-01", p.Number)
	assert.Equal(t, "Teh Botol", p.Name)
	assert.Equal(t, domain.DefaultCategory, p.Category)
	assert.Equal(t, "4500.00", p.Price.StringFixed(2))
	assert.Equal(t, 12, p.StockQty)
	assert.True(t, p.Active)

	_, err = f.svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Number: "teh-01", Name: "Again", Price: "1"})
	assert.ErrorIs(t, err, store.ErrDuplicateNumber)
}

func TestCreateProductRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, Options{})

	cases := map[string]domain.ProductCreateRequest{
		"missing number": {Name: "Teh", Price: "3000"},
		"missing name":   {Number: "T-1", Price: "3000"},
		"garbage price":  {Number: "T-1", Name: "Teh", Price: "murah"},
		"zero price":     {Number: "T-1", Name: "Teh", Price: "0"},
		"negative stock": {Number: "T-1", Name: "Teh", Price: "3000", InitialStock: -1},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateProduct(adminCtx(), req)
			assert.ErrorIs(t, err, store.ErrInvalidInput)
		})
	}
}

func TestConcurrentCreateWithSameNumberHasOneWinner(t *testing.T) {
	f := newFixture(t, Options{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Number: "GULA-1", Name: "Gula", Price: "15000"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrDuplicateNumber):
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 7, dupes)
}

func TestUpdateProductAppliesOnlyGivenFields(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "KOPI-01", "5000", 10)

	price := "5.500"
	updated, err := f.svc.UpdateProduct(adminCtx(), p.ID, domain.ProductUpdateRequest{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "5500.00", updated.Price.StringFixed(2))
	assert.Equal(t, p.Name, updated.Name)
	assert.Equal(t, 10, updated.StockQty)

	blank := "  "
	_, err = f.svc.UpdateProduct(adminCtx(), p.ID, domain.ProductUpdateRequest{Name: &blank})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.UpdateProduct(cashierCtx(), p.ID, domain.ProductUpdateRequest{Price: &price})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeactivatedProductLeavesActiveListing(t *testing.T) {
	f := newFixture(t, Options{})
	keep := mustCreate(t, f.svc, "A-1", "1000", 1)
	drop := mustCreate(t, f.svc, "A-2", "2000", 1)

	_, err := f.svc.DeactivateProduct(adminCtx(), drop.ID)
	require.NoError(t, err)

	active, err := f.svc.ListProducts(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)

	all, err := f.svc.ListProducts(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: drop.ID, Quantity: 1})
	assert.ErrorIs(t, err, store.ErrInactiveProduct)

	restored, err := f.svc.ActivateProduct(adminCtx(), drop.ID)
	require.NoError(t, err)
	assert.True(t, restored.Active)
	assert.Len(t, f.svc.LiveSnapshot().Products, 2)
}

func TestGetProductByNumberNormalizesInput(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "KECAP-2", "9000", 4)

	found, err := f.svc.GetProductByNumber(context.Background(), "  kecap-2 ")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = f.svc.GetProductByNumber(context.Background(), "KECAP-3")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.GetProductByNumber(context.Background(), "   ")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestAdjustStock(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "BERAS-5", "72000", 2)

	updated, err := f.svc.AdjustStock(adminCtx(), p.ID, domain.StockAdjustRequest{Delta: 10, Reason: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, 12, updated.StockQty)

	_, err = f.svc.AdjustStock(adminCtx(), p.ID, domain.StockAdjustRequest{Delta: 0})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.AdjustStock(adminCtx(), p.ID, domain.StockAdjustRequest{Delta: -13})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = f.svc.AdjustStock(cashierCtx(), p.ID, domain.StockAdjustRequest{Delta: 1})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCompleteSaleDecrementsStockAndUpdatesLiveBook(t *testing.T) {
	f := newFixture(t, Options{Book: livebook.New(time.UTC), Location: time.UTC})
	p := mustCreate(t, f.svc, "MIE-01", "3500", 5)

	events, cancel := f.svc.Subscribe(8)
	defer cancel()

	resp, err := f.svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: p.ID, Quantity: 2, UnitPrice: "3.500"})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Product.StockQty)
	assert.Equal(t, "3500.00", resp.Sale.UnitPrice.StringFixed(2))
	assert.Equal(t, "7000.00", resp.Sale.TotalPrice.StringFixed(2))
	assert.Equal(t, p.Name, resp.Sale.ProductName)

	select {
	case evt := <-events:
		assert.Equal(t, livebook.EventSaleAdded, evt.Kind)
		require.NotNil(t, evt.Sale)
		assert.Equal(t, resp.Sale.ID, evt.Sale.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a sale event")
	}

	snap := f.svc.LiveSnapshot()
	require.Len(t, snap.Sales, 1)
	assert.Equal(t, resp.Sale.ID, snap.Sales[0].ID)
	require.Len(t, snap.Products, 1)
	assert.Equal(t, 3, snap.Products[0].StockQty)

	stored, err := f.svc.GetSale(context.Background(), resp.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Sale.ProductID, stored.ProductID)
	assert.Equal(t, resp.Sale.Quantity, stored.Quantity)
	assert.True(t, stored.TotalPrice.Equal(resp.Sale.TotalPrice))
	assert.True(t, stored.SoldAt.Equal(resp.Sale.SoldAt))

	assert.Contains(t, scrape(t, f.metrics), "tokoku_sales_completed_total 1")
}

func TestCompleteSaleRejections(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "SUSU-1", "6000", 3)

	_, err := f.svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: p.ID, Quantity: 0})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = f.svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: p.ID, Quantity: 4})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = f.svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: "prd_missing", Quantity: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: p.ID, Quantity: 1, UnitPrice: "5500"})
	assert.ErrorIs(t, err, ErrPriceChanged)

	current, err := f.svc.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.StockQty)
	assert.Empty(t, f.svc.LiveSnapshot().Sales)

	body := scrape(t, f.metrics)
	assert.Contains(t, body, `tokoku_sale_rejections_total{reason="insufficient_stock"} 1`)
	assert.Contains(t, body, `tokoku_sale_rejections_total{reason="price_changed"} 1`)
	assert.Contains(t, body, `tokoku_sale_rejections_total{reason="unknown_product"} 1`)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "ROTI-1", "8000", 10)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: p.ID, Quantity: 1}); err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, sold)
	current, err := f.svc.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.StockQty)
	assert.Len(t, f.svc.LiveSnapshot().Sales, 10)
}

func TestListingCacheIsInvalidatedBySale(t *testing.T) {
	mr := miniredis.RunT(t)
	listing := cache.NewRedisListingCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = listing.Close() })

	f := newFixture(t, Options{Cache: listing, CacheTTL: time.Minute})
	p := mustCreate(t, f.svc, "AIR-1", "4000", 6)

	first, err := f.svc.ListProducts(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, mr.Exists("tokoku:products:active"))

	mustSell(t, f.svc, p.ID, 4)
	assert.False(t, mr.Exists("tokoku:products:active"))

	second, err := f.svc.ListProducts(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].StockQty)
}

// slowCommitRepo holds one CompleteSale after the store has committed it.
type slowCommitRepo struct {
	*memory.Store
	delayNext atomic.Bool
	hold      time.Duration
}

func (r *slowCommitRepo) CompleteSale(ctx context.Context, sale domain.Sale) (*domain.Sale, *domain.Product, error) {
	saved, product, err := r.Store.CompleteSale(ctx, sale)
	if r.delayNext.CompareAndSwap(true, false) {
		time.Sleep(r.hold)
	}
	return saved, product, err
}

func TestLiveBookFollowsStoreOrderUnderConcurrentSales(t *testing.T) {
	repo := &slowCommitRepo{Store: memory.New(), hold: 150 * time.Millisecond}
	pool := worker.NewPool(2, nil)
	t.Cleanup(pool.Close)
	svc := New(repo, Options{Pool: pool, Book: livebook.New(time.UTC), Location: time.UTC})
	p := mustCreate(t, svc, "KOPI-1", "5000", 10)

	repo.delayNext.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := svc.CompleteSale(cashierCtx(), domain.SaleRequest{ProductID: p.ID, Quantity: 1})
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)
	mustSell(t, svc, p.ID, 1)
	require.NoError(t, <-done)

	stored, err := repo.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, stored.StockQty)

	snap := svc.LiveSnapshot()
	require.Len(t, snap.Products, 1)
	assert.Equal(t, 8, snap.Products[0].StockQty)
	assert.Len(t, snap.Sales, 2)
}

// slowListRepo holds one active listing read after it has read the store.
type slowListRepo struct {
	*memory.Store
	delayNext atomic.Bool
	hold      time.Duration
}

func (r *slowListRepo) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	products, err := r.Store.ListProducts(ctx, includeInactive)
	if !includeInactive && r.delayNext.CompareAndSwap(true, false) {
		time.Sleep(r.hold)
	}
	return products, err
}

func TestListingReadOverlappingSaleIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	listing := cache.NewRedisListingCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = listing.Close() })

	repo := &slowListRepo{Store: memory.New(), hold: 100 * time.Millisecond}
	pool := worker.NewPool(2, nil)
	t.Cleanup(pool.Close)
	svc := New(repo, Options{Pool: pool, Cache: listing, CacheTTL: time.Minute})
	p := mustCreate(t, svc, "TEH-9", "3000", 10)

	repo.delayNext.Store(true)
	done := make(chan []domain.Product, 1)
	go func() {
		products, err := svc.ListProducts(context.Background(), false)
		assert.NoError(t, err)
		done <- products
	}()
	time.Sleep(30 * time.Millisecond)
	mustSell(t, svc, p.ID, 1)

	overlapped := <-done
	require.Len(t, overlapped, 1)
	assert.Equal(t, 10, overlapped[0].StockQty)
	assert.False(t, mr.Exists("tokoku:products:active"))

	fresh, err := svc.ListProducts(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, 9, fresh[0].StockQty)
}

func TestDeleteSaleWithRestock(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "TELUR-1", "2500", 10)
	sale := mustSell(t, f.svc, p.ID, 4)

	_, err := f.svc.DeleteSale(cashierCtx(), sale.Sale.ID, true)
	assert.ErrorIs(t, err, ErrForbidden)

	deleted, err := f.svc.DeleteSale(adminCtx(), sale.Sale.ID, true)
	require.NoError(t, err)
	assert.Equal(t, sale.Sale.ID, deleted.ID)

	current, err := f.svc.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, current.StockQty)
	assert.Empty(t, f.svc.LiveSnapshot().Sales)

	_, err = f.svc.GetSale(context.Background(), sale.Sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBulkDeleteAndClearRequireManagerPIN(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "KECAP-1", "9000", 20)
	a := mustSell(t, f.svc, p.ID, 1)
	b := mustSell(t, f.svc, p.ID, 1)
	mustSell(t, f.svc, p.ID, 1)

	_, err := f.svc.DeleteSales(adminCtx(), domain.BulkDeleteRequest{SaleIDs: []string{a.Sale.ID}, ManagerPIN: "000000"})
	assert.ErrorIs(t, err, ErrInvalidManagerPIN)

	_, err = f.svc.DeleteSales(cashierCtx(), domain.BulkDeleteRequest{SaleIDs: []string{a.Sale.ID}, ManagerPIN: testPIN})
	assert.ErrorIs(t, err, ErrForbidden)

	resp, err := f.svc.DeleteSales(adminCtx(), domain.BulkDeleteRequest{
		SaleIDs:    []string{a.Sale.ID, b.Sale.ID, a.Sale.ID},
		ManagerPIN: testPIN,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Deleted)
	assert.Len(t, f.svc.LiveSnapshot().Sales, 1)

	_, err = f.svc.ClearSales(adminCtx(), domain.ClearSalesRequest{ReportQuery: domain.ReportQuery{Period: "daily"}})
	assert.ErrorIs(t, err, ErrInvalidManagerPIN)

	cleared, err := f.svc.ClearSales(adminCtx(), domain.ClearSalesRequest{
		ReportQuery: domain.ReportQuery{Period: "daily"},
		ManagerPIN:  testPIN,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared.Deleted)
	assert.Empty(t, f.svc.LiveSnapshot().Sales)

	current, err := f.svc.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, current.StockQty)
}

func TestDestructiveOpsRefusedWithoutVerifier(t *testing.T) {
	svc := New(memory.New(), Options{})
	_, err := svc.DeleteSales(adminCtx(), domain.BulkDeleteRequest{SaleIDs: []string{"sale_x"}, ManagerPIN: testPIN})
	assert.ErrorIs(t, err, ErrInvalidManagerPIN)
}

func TestListSalesSummarizesPeriod(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "MINYAK-1", "18500", 10)
	mustSell(t, f.svc, p.ID, 2)
	mustSell(t, f.svc, p.ID, 1)

	resp, err := f.svc.ListSales(context.Background(), domain.ReportQuery{Period: "weekly"})
	require.NoError(t, err)
	assert.Equal(t, "weekly", resp.Period)
	assert.Equal(t, 2, resp.Summary.Count)
	assert.Equal(t, 3, resp.Summary.TotalQuantity)
	assert.Equal(t, "55500.00", resp.Summary.Revenue.StringFixed(2))
	for _, sale := range resp.Sales {
		assert.True(t, sale.TotalPrice.Equal(sale.UnitPrice.Mul(decimal.NewFromInt(int64(sale.Quantity)))))
	}

	_, err = f.svc.ListSales(context.Background(), domain.ReportQuery{Period: "fortnightly"})
	assert.ErrorIs(t, err, report.ErrInvalidPeriod)

	_, err = f.svc.ListSales(context.Background(), domain.ReportQuery{Period: "custom", From: "2026-05-10", To: "2026-05-01"})
	assert.ErrorIs(t, err, report.ErrInvalidRange)
}

func TestListSalesAsOfPinsPeriod(t *testing.T) {
	wib := time.FixedZone("WIB", 7*60*60)
	f := newFixture(t, Options{Location: wib})
	p := mustCreate(t, f.svc, "GULA-1", "15000", 10)

	f.svc.now = func() time.Time { return time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC) }
	mustSell(t, f.svc, p.ID, 2)
	f.svc.now = func() time.Time { return time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC) }

	today, err := f.svc.ListSales(context.Background(), domain.ReportQuery{Period: "daily"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", today.From)
	assert.Empty(t, today.Sales)

	pinned, err := f.svc.ListSales(context.Background(), domain.ReportQuery{Period: "daily", AsOf: "2026-02-28"})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", pinned.From)
	assert.Equal(t, "2026-02-28", pinned.To)
	assert.Len(t, pinned.Sales, 1)

	_, err = f.svc.ResolvePeriod(domain.ReportQuery{Period: "daily", AsOf: "28/02/2026"})
	assert.ErrorIs(t, err, report.ErrInvalidRange)
}

func TestExportReportForEmptyPeriod(t *testing.T) {
	f := newFixture(t, Options{})

	var buf bytes.Buffer
	name, err := f.svc.ExportReport(context.Background(), domain.ReportQuery{Period: "custom", From: "2020-01-01", To: "2020-01-31"}, report.FormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, "sales-custom-2020-01-01.csv", name)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Sale ID", rows[0][0])

	buf.Reset()
	_, err = f.svc.ExportReport(context.Background(), domain.ReportQuery{}, report.FormatPDF, &buf)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestExportBundleWritesEveryFormat(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "SABUN-1", "4200", 5)
	mustSell(t, f.svc, p.ID, 2)

	dir := t.TempDir()
	paths, err := f.svc.ExportBundle(context.Background(), domain.ReportQuery{Period: "daily"}, nil, dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, path := range paths {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.Contains(t, scrape(t, f.metrics), `tokoku_report_exports_total{format="xlsx",status="success"} 1`)
}

func TestReloadRebuildsLiveBook(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "GARAM-1", "3000", 5)
	mustSell(t, f.svc, p.ID, 1)

	fresh := New(f.repo, Options{Pool: f.pool})
	assert.Empty(t, fresh.LiveSnapshot().Products)

	require.NoError(t, fresh.Reload(context.Background()))
	snap := fresh.LiveSnapshot()
	require.Len(t, snap.Products, 1)
	assert.Equal(t, 4, snap.Products[0].StockQty)
	assert.Len(t, snap.Sales, 1)
}

func TestLowStockAlerts(t *testing.T) {
	f := newFixture(t, Options{})
	empty := mustCreate(t, f.svc, "ES-1", "2000", 1)
	mustCreate(t, f.svc, "ES-2", "2000", 100)
	mustSell(t, f.svc, empty.ID, 1)

	alerts, err := f.svc.LowStockAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, empty.ID, alerts[0].ProductID)
	assert.Equal(t, domain.AlertSeverityCritical, alerts[0].Severity)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t, Options{})
	p := mustCreate(t, f.svc, "KOREK-1", "1500", 5)
	mustSell(t, f.svc, p.ID, 1)
	f.pool.Close()

	_, err := f.svc.ListAuditLogs(cashierCtx(), "", 10)
	assert.ErrorIs(t, err, ErrForbidden)

	logs, err := f.svc.ListAuditLogs(adminCtx(), "", 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.ElementsMatch(t, []string{"product_create", "sale_complete"}, actions)

	_, err = f.svc.ListAuditLogs(adminCtx(), "yesterday", 10)
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}
