package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tokoku/internal/domain"
	"tokoku/internal/store"
	"tokoku/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productByNumber map[string]string
	sales           map[string]domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		productByNumber: make(map[string]string),
		sales:           make(map[string]domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo catalog and an admin and a cashier
// account. Passwords come from SEED_ADMIN_PASSWORD / SEED_CASHIER_PASSWORD
// and fall back to dev defaults with a warning.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	now := time.Now().UTC()
	seed := []struct {
		number   string
		name     string
		category string
		price    string
		stock    int
	}{
		{"MIE-01", "Mie Goreng Instan", "grocery", "3500", 120},
		{"TELUR-01", "Telur 10 Butir", "grocery", "26500", 40},
		{"SUSU-01", "Susu UHT 1L", "dairy", "18900", 36},
		{"ROTI-01", "Roti Tawar", "bakery", "17800", 12},
		{"KOPI-01", "Kopi Sachet", "beverage", "2600", 200},
		{"GULA-01", "Gula 1kg", "grocery", "17400", 25},
		{"AIR-01", "Air Mineral 600ml", "beverage", "3900", 96},
		{"SABUN-01", "Sabun Mandi", "household", "7400", 4},
	}
	for _, p := range seed {
		id := xid.New("prd")
		s.products[id] = domain.Product{
			ID:        id,
			Number:    p.number,
			Name:      p.name,
			Category:  p.category,
			Price:     decimal.RequireFromString(p.price),
			StockQty:  p.stock,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.productByNumber[p.number] = id
	}

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		s.usersByUsername[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !includeInactive && !p.Active {
			continue
		}
		products = append(products, p)
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, query string) ([]domain.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Number), needle) &&
			!strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		products = append(products, p)
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductByNumber(_ context.Context, number string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productByNumber[number]
	if !exists {
		return nil, store.ErrNotFound
	}
	product := s.products[id]
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productByNumber[product.Number]; exists {
		return nil, store.ErrDuplicateNumber
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	product.Active = true

	s.products[product.ID] = product
	s.productByNumber[product.Number] = product.ID
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	existing.Name = product.Name
	existing.Price = product.Price
	existing.Description = product.Description
	existing.Category = product.Category
	existing.UpdatedAt = time.Now().UTC()
	s.products[existing.ID] = existing
	return &existing, nil
}

func (s *Store) SetProductActive(_ context.Context, id string, active bool, at time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Active = active
	product.UpdatedAt = at.UTC()
	s.products[id] = product
	return &product, nil
}

func (s *Store) AdjustStock(_ context.Context, id string, delta int, at time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.StockQty+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	product.StockQty += delta
	product.UpdatedAt = at.UTC()
	s.products[id] = product
	return &product, nil
}

func (s *Store) CompleteSale(_ context.Context, sale domain.Sale) (*domain.Sale, *domain.Product, error) {
	if sale.ProductID == "" || sale.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sale.ProductID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if !product.Active {
		return nil, nil, store.ErrInactiveProduct
	}
	if sale.Quantity > product.StockQty {
		return nil, nil, store.ErrInsufficientStock
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = now
	}
	sale.SoldAt = sale.SoldAt.UTC()
	sale.ProductName = product.Name
	sale.UnitPrice = product.Price
	sale.TotalPrice = product.Price.Mul(decimal.NewFromInt(int64(sale.Quantity)))
	sale.CreatedAt = now
	sale.UpdatedAt = now

	product.StockQty -= sale.Quantity
	product.UpdatedAt = now

	s.sales[sale.ID] = sale
	s.products[product.ID] = product
	return &sale, &product, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 64)
	for _, sale := range s.sales {
		if inRange(sale.SoldAt, from, to) {
			sales = append(sales, sale)
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.SoldAt.Equal(b.SoldAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.SoldAt.After(b.SoldAt) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) DeleteSale(_ context.Context, id string, restock bool) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.sales, id)

	if restock {
		if product, ok := s.products[sale.ProductID]; ok {
			product.StockQty += sale.Quantity
			product.UpdatedAt = time.Now().UTC()
			s.products[product.ID] = product
		}
	}
	return &sale, nil
}

func (s *Store) DeleteSales(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, exists := s.sales[id]; exists {
			delete(s.sales, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) ClearSales(_ context.Context, from time.Time, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, sale := range s.sales {
		if inRange(sale.SoldAt, from, to) {
			delete(s.sales, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if inRange(entry.CreatedAt, from, to) {
			result = append(result, entry)
		}
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortProducts(products []domain.Product) {
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
}

func inRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

