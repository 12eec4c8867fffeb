package store

import (
	"context"
	"errors"
	"time"

	"tokoku/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateNumber   = errors.New("product number already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInactiveProduct   = errors.New("product is inactive")
)

// Repository is the catalog store and the sales store behind one handle so
// a sale and its stock decrement can share a transaction.
type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	SearchProducts(ctx context.Context, query string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByNumber(ctx context.Context, number string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SetProductActive(ctx context.Context, id string, active bool, at time.Time) (*domain.Product, error)
	AdjustStock(ctx context.Context, id string, delta int, at time.Time) (*domain.Product, error)

	// CompleteSale reads the product, checks stock, inserts the sale and
	// decrements stock atomically. UnitPrice and TotalPrice are computed from
	// the stored product price.
	CompleteSale(ctx context.Context, sale domain.Sale) (*domain.Sale, *domain.Product, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	DeleteSale(ctx context.Context, id string, restock bool) (*domain.Sale, error)
	DeleteSales(ctx context.Context, ids []string) (int, error)
	ClearSales(ctx context.Context, from time.Time, to time.Time) (int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// ValidateProduct checks the invariants every implementation enforces
// before a catalog write.
func ValidateProduct(p domain.Product) error {
	if p.Number == "" || p.Name == "" || !p.Price.IsPositive() || p.StockQty < 0 {
		return ErrInvalidInput
	}
	return nil
}
