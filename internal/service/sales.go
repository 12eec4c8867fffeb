package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tokoku/internal/domain"
	"tokoku/internal/livebook"
	"tokoku/internal/money"
	"tokoku/internal/report"
	"tokoku/internal/store"
)

// CompleteSale records one sale and decrements stock in a single store
// transaction. The live book and the listing cache only change after the
// store has committed, and the book sees commits in store order.
func (s *Service) CompleteSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.validateStruct(req); err != nil {
		s.metrics.SaleRejected("invalid_request")
		return domain.SaleResponse{}, err
	}

	if strings.TrimSpace(req.UnitPrice) != "" {
		seen, err := money.Parse(req.UnitPrice)
		if err != nil {
			s.metrics.SaleRejected("invalid_request")
			return domain.SaleResponse{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
		}
		current, err := s.repo.GetProduct(ctx, req.ProductID)
		if err != nil {
			s.metrics.SaleRejected(rejectionReason(err))
			return domain.SaleResponse{}, err
		}
		if !current.Price.Equal(seen) {
			s.metrics.SaleRejected(rejectionReason(ErrPriceChanged))
			return domain.SaleResponse{}, fmt.Errorf("%w: listed %s, now %s", ErrPriceChanged, seen.StringFixed(2), current.Price.StringFixed(2))
		}
	}

	s.writes.Lock()
	sale, product, err := s.repo.CompleteSale(ctx, domain.Sale{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		SoldAt:    s.now().UTC(),
	})
	if err == nil {
		s.book.AddSale(*sale, *product)
	}
	s.writes.Unlock()
	if err != nil {
		s.metrics.SaleRejected(rejectionReason(err))
		s.logger.Info("sale rejected",
			zap.String("product_id", req.ProductID),
			zap.Int("quantity", req.Quantity),
			zap.Error(err),
		)
		return domain.SaleResponse{}, err
	}

	s.invalidateListing(ctx)
	s.metrics.SaleCompleted(sale.TotalPrice)
	s.logAudit(ctx, "sale_complete", "sale", sale.ID, fmt.Sprintf("product=%s,qty=%d,total=%s", product.Number, sale.Quantity, sale.TotalPrice.StringFixed(2)))

	return domain.SaleResponse{Sale: *sale, Product: *product}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, query domain.ReportQuery) (domain.SalesListResponse, error) {
	r, err := s.resolve(query)
	if err != nil {
		return domain.SalesListResponse{}, err
	}
	sales, err := s.repo.ListSales(ctx, r.From, r.To)
	if err != nil {
		return domain.SalesListResponse{}, err
	}

	return domain.SalesListResponse{
		Period:  string(r.Period),
		From:    r.From.Format(time.DateOnly),
		To:      r.To.Add(-time.Nanosecond).Format(time.DateOnly),
		Summary: report.Summarize(sales),
		Sales:   sales,
	}, nil
}

// DeleteSale removes one sale. With restock the sold quantity goes back on
// the shelf in the same transaction.
func (s *Service) DeleteSale(ctx context.Context, id string, restock bool) (domain.Sale, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Sale{}, err
	}

	s.writes.Lock()
	deleted, err := s.repo.DeleteSale(ctx, strings.TrimSpace(id), restock)
	if err != nil {
		s.writes.Unlock()
		return domain.Sale{}, err
	}
	s.book.RemoveSale(deleted.ID)
	if restock {
		if product, err := s.repo.GetProduct(ctx, deleted.ProductID); err != nil {
			s.logger.Warn("reload restocked product failed", zap.String("product_id", deleted.ProductID), zap.Error(err))
		} else {
			s.book.PutProduct(*product)
		}
	}
	s.writes.Unlock()

	if restock {
		s.invalidateListing(ctx)
	}
	s.logAudit(ctx, "sale_delete", "sale", deleted.ID, fmt.Sprintf("restock=%t,qty=%d", restock, deleted.Quantity))
	return *deleted, nil
}

func (s *Service) DeleteSales(ctx context.Context, req domain.BulkDeleteRequest) (domain.BulkDeleteResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.BulkDeleteResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.BulkDeleteResponse{}, err
	}
	if err := s.checkManagerPIN(req.ManagerPIN); err != nil {
		return domain.BulkDeleteResponse{}, err
	}

	ids := make([]string, 0, len(req.SaleIDs))
	seen := make(map[string]struct{}, len(req.SaleIDs))
	for _, id := range req.SaleIDs {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	s.writes.Lock()
	deleted, err := s.repo.DeleteSales(ctx, ids)
	if err == nil {
		s.book.RemoveSales(ids)
	}
	s.writes.Unlock()
	if err != nil {
		return domain.BulkDeleteResponse{}, err
	}

	s.logAudit(ctx, "sale_bulk_delete", "sale", "bulk", fmt.Sprintf("requested=%d,deleted=%d", len(ids), deleted))
	return domain.BulkDeleteResponse{Deleted: deleted}, nil
}

// ClearSales deletes every sale in the resolved period. Stock is not
// restored.
func (s *Service) ClearSales(ctx context.Context, req domain.ClearSalesRequest) (domain.BulkDeleteResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.BulkDeleteResponse{}, err
	}
	if err := s.checkManagerPIN(req.ManagerPIN); err != nil {
		return domain.BulkDeleteResponse{}, err
	}
	r, err := s.resolve(req.ReportQuery)
	if err != nil {
		return domain.BulkDeleteResponse{}, err
	}

	s.writes.Lock()
	deleted, err := s.repo.ClearSales(ctx, r.From, r.To)
	if err == nil {
		s.book.ClearSales(r.From, r.To)
	}
	s.writes.Unlock()
	if err != nil {
		return domain.BulkDeleteResponse{}, err
	}

	s.logAudit(ctx, "sale_clear", "sale", string(r.Period), fmt.Sprintf("range=%s,deleted=%d", r.Label(), deleted))
	return domain.BulkDeleteResponse{Deleted: deleted}, nil
}

func (s *Service) LiveSnapshot() livebook.Snapshot {
	return s.book.Snapshot()
}

func (s *Service) Subscribe(buffer int) (<-chan livebook.Event, func()) {
	return s.book.Subscribe(buffer)
}

// Reload rebuilds the live book from the store.
func (s *Service) Reload(ctx context.Context) error {
	r, err := report.Resolve(report.PeriodDaily, s.now(), s.loc, "", "")
	if err != nil {
		return err
	}

	var (
		products []domain.Product
		sales    []domain.Sale
	)
	s.writes.Lock()
	defer s.writes.Unlock()
	err = s.pool.Run(ctx,
		func(ctx context.Context) error {
			var err error
			products, err = s.repo.ListProducts(ctx, false)
			if err != nil {
				return fmt.Errorf("load products: %w", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			var err error
			sales, err = s.repo.ListSales(ctx, r.From, r.To)
			if err != nil {
				return fmt.Errorf("load sales: %w", err)
			}
			return nil
		},
	)
	if err != nil {
		return err
	}

	s.book.Load(products, sales)
	s.logger.Info("live book reloaded", zap.Int("products", len(products)), zap.Int("sales", len(sales)))
	return nil
}

func (s *Service) checkManagerPIN(pin string) error {
	if s.pins == nil || strings.TrimSpace(pin) == "" || !s.pins.ValidateManagerPIN(strings.TrimSpace(pin)) {
		return ErrInvalidManagerPIN
	}
	return nil
}

// ResolvePeriod turns a query into concrete bounds in the shop's time zone.
func (s *Service) ResolvePeriod(query domain.ReportQuery) (report.Range, error) {
	return s.resolve(query)
}

func (s *Service) resolve(query domain.ReportQuery) (report.Range, error) {
	period, err := report.ParsePeriod(query.Period)
	if err != nil {
		return report.Range{}, err
	}
	now := s.now()
	if asOf := strings.TrimSpace(query.AsOf); asOf != "" {
		day, err := time.ParseInLocation(time.DateOnly, asOf, s.loc)
		if err != nil {
			return report.Range{}, fmt.Errorf("%w: as_of %q", report.ErrInvalidRange, asOf)
		}
		// Midday keeps the anchor inside the day across DST shifts.
		now = day.Add(12 * time.Hour)
	}
	return report.Resolve(period, now, s.loc, query.From, query.To)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrInactiveProduct):
		return "inactive_product"
	case errors.Is(err, store.ErrNotFound):
		return "unknown_product"
	case errors.Is(err, ErrPriceChanged):
		return "price_changed"
	case errors.Is(err, store.ErrInvalidInput):
		return "invalid_request"
	default:
		return "store_error"
	}
}
