package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokoku/internal/cache"
	"tokoku/internal/config"
)

func TestOpenRepositoryDrivers(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	repo, closeFn, err := OpenRepository(ctx, config.Config{StoreDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "shop.db")}, logger)
	require.NoError(t, err)
	products, err := repo.ListProducts(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, products)
	require.NoError(t, closeFn())

	t.Setenv("SEED_ADMIN_PASSWORD", "admin-pass-123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-pass-123")
	repo, closeFn, err = OpenRepository(ctx, config.Config{StoreDriver: "memory"}, logger)
	require.NoError(t, err)
	products, err = repo.ListProducts(ctx, false)
	require.NoError(t, err)
	assert.NotEmpty(t, products)
	require.NoError(t, closeFn())

	_, _, err = OpenRepository(ctx, config.Config{StoreDriver: "postgres"}, logger)
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, _, err = OpenRepository(ctx, config.Config{StoreDriver: "mongo"}, logger)
	assert.ErrorContains(t, err, "unknown STORE_DRIVER")
}

func TestOpenListingCache(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	c, closeFn := OpenListingCache(ctx, config.Config{}, logger)
	assert.IsType(t, cache.NoopListingCache{}, c)
	require.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	c, closeFn = OpenListingCache(ctx, config.Config{RedisAddr: mr.Addr()}, logger)
	assert.IsType(t, &cache.RedisListingCache{}, c)
	require.NoError(t, closeFn())

	addr := mr.Addr()
	mr.Close()
	c, closeFn = OpenListingCache(ctx, config.Config{RedisAddr: addr}, logger)
	assert.IsType(t, cache.NoopListingCache{}, c)
	require.NoError(t, closeFn())
}
