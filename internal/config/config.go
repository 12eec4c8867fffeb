package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Addr          string `envconfig:"APP_ADDR" default:"127.0.0.1:8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:5173"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"tokoku.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	ListingCacheTTL time.Duration `envconfig:"LISTING_CACHE_TTL" default:"30s"`

	AuthSecret        string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL    time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN        string        `envconfig:"MANAGER_PIN"`
	SeedAdminPassword string        `envconfig:"SEED_ADMIN_PASSWORD"`

	ShopName          string `envconfig:"SHOP_NAME" default:"Tokoku"`
	CurrencySymbol    string `envconfig:"CURRENCY_SYMBOL" default:"Rp"`
	TimeZone          string `envconfig:"TIME_ZONE" default:"Asia/Jakarta"`
	ExportDir         string `envconfig:"EXPORT_DIR" default:"exports"`
	WorkerPoolSize    int    `envconfig:"WORKER_POOL_SIZE" default:"4"`
	LowStockThreshold int    `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`
	ExportCron        string `envconfig:"EXPORT_CRON" default:"5 0 * * *"`
	WorkerAdminAddr   string `envconfig:"WORKER_ADMIN_ADDR" default:"127.0.0.1:9091"`
}

// Load reads .env when present, then the process environment. Secrets have
// no defaults; cmd/server refuses to start without them.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
