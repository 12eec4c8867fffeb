package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Number      string          `json:"number"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	StockQty    int             `json:"stock_qty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ProductCreateRequest carries the raw catalog form. Price is the text the
// shopkeeper typed and is sanitised by the service.
type ProductCreateRequest struct {
	Number       string `json:"number" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=200"`
	Price        string `json:"price" validate:"required,max=32"`
	Description  string `json:"description" validate:"max=2000"`
	Category     string `json:"category" validate:"max=100"`
	InitialStock int    `json:"initial_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Price       *string `json:"price,omitempty" validate:"omitempty,max=32"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Category    *string `json:"category,omitempty" validate:"omitempty,max=100"`
}

type StockAdjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason" validate:"max=200"`
}

type Sale struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	SoldAt      time.Time       `json:"sold_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SaleRequest is the point-of-sale input. UnitPrice, when set, is the price
// the cashier saw; a mismatch with the stored price rejects the sale.
type SaleRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
	UnitPrice string `json:"unit_price,omitempty"`
}

type SaleResponse struct {
	Sale    Sale    `json:"sale"`
	Product Product `json:"product"`
}

type BulkDeleteRequest struct {
	SaleIDs    []string `json:"sale_ids" validate:"required,min=1,dive,required"`
	ManagerPIN string   `json:"manager_pin"`
}

type ClearSalesRequest struct {
	ReportQuery
	ManagerPIN string `json:"manager_pin"`
}

// ReportQuery names a period bucket. From and To are inclusive YYYY-MM-DD
// days and only apply to the custom period.
// ReportQuery selects a report period. AsOf (YYYY-MM-DD) anchors the
// daily, weekly and monthly periods to that date instead of today.
type ReportQuery struct {
	Period string `json:"period"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	AsOf   string `json:"as_of,omitempty"`
}

type ExportRequest struct {
	ReportQuery
	Formats []string `json:"formats" validate:"required,min=1,dive,oneof=csv xlsx pdf"`
}

type ExportResponse struct {
	TaskID string   `json:"task_id,omitempty"`
	Files  []string `json:"files,omitempty"`
}

type BulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type SalesSummary struct {
	Count         int             `json:"count"`
	TotalQuantity int             `json:"total_quantity"`
	Revenue       decimal.Decimal `json:"revenue"`
}

type SalesListResponse struct {
	Period  string       `json:"period"`
	From    string       `json:"from"`
	To      string       `json:"to"`
	Summary SalesSummary `json:"summary"`
	Sales   []Sale       `json:"sales"`
}

type StockAlert struct {
	ProductID    string  `json:"product_id"`
	Number       string  `json:"number"`
	Name         string  `json:"name"`
	StockQty     int     `json:"stock_qty"`
	SoldInWindow int     `json:"sold_in_window"`
	DaysOfCover  float64 `json:"days_of_cover"`
	Severity     string  `json:"severity"`
	ReasonCode   string  `json:"reason_code"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	AlertSeverityCritical = "critical"
	AlertSeverityWarning  = "warning"
)

const DefaultCategory = "general"
