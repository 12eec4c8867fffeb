package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tokoku/internal/cache"
	"tokoku/internal/domain"
	"tokoku/internal/livebook"
	"tokoku/internal/money"
	"tokoku/internal/observability"
	"tokoku/internal/stockalert"
	"tokoku/internal/store"
	"tokoku/internal/worker"
)

var (
	ErrForbidden         = errors.New("admin role required")
	ErrPriceChanged      = errors.New("product price changed")
	ErrInvalidManagerPIN = errors.New("invalid manager pin")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// PINVerifier checks the manager PIN that gates destructive sale removal.
type PINVerifier interface {
	ValidateManagerPIN(pin string) bool
}

type Options struct {
	Cache       cache.ListingCache
	CacheTTL    time.Duration
	Book        *livebook.Book
	Pool        *worker.Pool
	Metrics     *observability.Metrics
	Alerts      *stockalert.Engine
	PINVerifier PINVerifier
	Logger      *zap.Logger
	Location    *time.Location
	ShopName    string
	Currency    string
}

type Service struct {
	repo     store.Repository
	cache    cache.ListingCache
	cacheTTL time.Duration
	book     *livebook.Book
	pool     *worker.Pool
	metrics  *observability.Metrics
	alerts   *stockalert.Engine
	pins     PINVerifier
	logger   *zap.Logger
	loc      *time.Location
	shopName string
	currency string
	validate *validator.Validate
	listings singleflight.Group
	now      func() time.Time

	// writes orders store commits with their live book updates.
	writes sync.Mutex
	// listingGen counts listing invalidations.
	listingGen atomic.Uint64
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopListingCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Book == nil {
		opts.Book = livebook.New(opts.Location)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Pool == nil {
		opts.Pool = worker.NewPool(4, opts.Logger)
	}
	if opts.Alerts == nil {
		opts.Alerts = stockalert.NewEngine(5, 3)
	}
	if opts.ShopName == "" {
		opts.ShopName = "Tokoku"
	}

	return &Service{
		repo:     repo,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		book:     opts.Book,
		pool:     opts.Pool,
		metrics:  opts.Metrics,
		alerts:   opts.Alerts,
		pins:     opts.PINVerifier,
		logger:   opts.Logger,
		loc:      opts.Location,
		shopName: opts.ShopName,
		currency: opts.Currency,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// ListProducts serves the active listing through the listing cache;
// concurrent misses share one store read. A read that overlaps an
// invalidation never leaves its result in the cache.
func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	if includeInactive {
		return s.repo.ListProducts(ctx, true)
	}

	if cached, ok, err := s.cache.Get(ctx); err != nil {
		s.logger.Warn("listing cache read failed", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	val, err, _ := s.listings.Do("active", func() (any, error) {
		gen := s.listingGen.Load()
		products, err := s.repo.ListProducts(ctx, false)
		if err != nil {
			return nil, err
		}
		if s.listingGen.Load() != gen {
			return products, nil
		}
		if err := s.cache.Set(ctx, products, s.cacheTTL); err != nil {
			s.logger.Warn("listing cache write failed", zap.Error(err))
		}
		// A write that committed during the read may have invalidated
		// before Set landed.
		if s.listingGen.Load() != gen {
			s.invalidateListing(ctx)
		}
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]domain.Product), nil
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	return s.repo.SearchProducts(ctx, query)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// GetProductByNumber looks a product up by its shelf number, the way a
// scanner or the number field at the till would.
func (s *Service) GetProductByNumber(ctx context.Context, number string) (domain.Product, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	product, err := s.repo.GetProductByNumber(ctx, number)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Number = strings.ToUpper(strings.TrimSpace(req.Number))
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if req.Category == "" {
		req.Category = domain.DefaultCategory
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	price, err := money.Parse(req.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}

	created, err := s.writeProduct(ctx, func() (*domain.Product, error) {
		return s.repo.CreateProduct(ctx, domain.Product{
			Number:      req.Number,
			Name:        req.Name,
			Price:       price,
			Description: req.Description,
			Category:    req.Category,
			StockQty:    req.InitialStock,
		})
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("number=%s,price=%s,stock=%d", created.Number, created.Price.StringFixed(2), created.StockQty))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Price != nil {
		price, err := money.Parse(*req.Price)
		if err != nil {
			return domain.Product{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
		}
		updated.Price = price
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		updated.Category = strings.ToLower(strings.TrimSpace(*req.Category))
		if updated.Category == "" {
			updated.Category = domain.DefaultCategory
		}
	}

	saved, err := s.writeProduct(ctx, func() (*domain.Product, error) {
		return s.repo.UpdateProduct(ctx, updated)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,price=%s->%s", saved.Name, existing.Price.StringFixed(2), saved.Price.StringFixed(2)))
	return *saved, nil
}

func (s *Service) DeactivateProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.setProductActive(ctx, id, false)
}

func (s *Service) ActivateProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.setProductActive(ctx, id, true)
}

func (s *Service) setProductActive(ctx context.Context, id string, active bool) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	saved, err := s.writeProduct(ctx, func() (*domain.Product, error) {
		return s.repo.SetProductActive(ctx, strings.TrimSpace(id), active, s.now().UTC())
	})
	if err != nil {
		return domain.Product{}, err
	}

	action := "product_deactivate"
	if active {
		action = "product_activate"
	}
	s.logAudit(ctx, action, "product", saved.ID, saved.Number)
	return *saved, nil
}

func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}
	if req.Delta == 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	saved, err := s.writeProduct(ctx, func() (*domain.Product, error) {
		return s.repo.AdjustStock(ctx, strings.TrimSpace(id), req.Delta, s.now().UTC())
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", saved.ID, fmt.Sprintf("delta=%d,stock=%d,reason=%s", req.Delta, saved.StockQty, strings.TrimSpace(req.Reason)))
	return *saved, nil
}

func (s *Service) LowStockAlerts(ctx context.Context) ([]domain.StockAlert, error) {
	const window = 7 * 24 * time.Hour

	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sales, err := s.repo.ListSales(ctx, now.Add(-window), now.Add(time.Second))
	if err != nil {
		return nil, err
	}
	return s.alerts.Evaluate(products, sales, window), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(date), s.loc)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

// writeProduct runs one catalog write and pushes the committed product to
// the live book before the next write can commit, then drops the cached
// active listing.
func (s *Service) writeProduct(ctx context.Context, write func() (*domain.Product, error)) (*domain.Product, error) {
	s.writes.Lock()
	saved, err := write()
	if err == nil {
		s.book.PutProduct(*saved)
	}
	s.writes.Unlock()
	if err != nil {
		return nil, err
	}
	s.invalidateListing(ctx)
	return saved, nil
}

func (s *Service) invalidateListing(ctx context.Context) {
	s.listingGen.Add(1)
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("listing cache invalidate failed", zap.Error(err))
	}
}

// logAudit is best effort and runs on the worker pool. When the pool no
// longer accepts work the entry is written inline.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	entry := domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}

	write := func(ctx context.Context) error {
		if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
			return fmt.Errorf("audit %s %s/%s: %w", action, entityType, entityID, err)
		}
		return nil
	}
	if err := s.pool.Submit(ctx, "audit:"+action, write); err != nil {
		if err := write(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("audit log write failed", zap.Error(err))
		}
	}
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s:%s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", store.ErrInvalidInput, strings.Join(fields, ","))
		}
		return fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}
	return nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
