package cache

import (
	"context"
	"time"

	"tokoku/internal/domain"
)

// ListingCache holds the active product listing between catalog writes.
type ListingCache interface {
	Get(ctx context.Context) ([]domain.Product, bool, error)
	Set(ctx context.Context, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopListingCache struct{}

func (NoopListingCache) Get(_ context.Context) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopListingCache) Set(_ context.Context, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopListingCache) Invalidate(_ context.Context) error {
	return nil
}
