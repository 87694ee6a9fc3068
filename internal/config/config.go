// Package config loads runtime configuration from the environment.
// A .env file is honored in development; real deployments set the
// variables directly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

const envPrefix = "APP_"

// Config is the flat runtime configuration.
type Config struct {
	AppEnv   string `koanf:"env"`
	HTTPAddr string `koanf:"http.addr"`

	DatabaseURL    string `koanf:"database.url"`
	MigrationsPath string `koanf:"database.migrations"`

	RedisAddr     string `koanf:"redis.addr"`
	RedisPassword string `koanf:"redis.password"`
	RedisDB       int    `koanf:"redis.db"`

	TaxRate  string `koanf:"pricing.taxrate"`
	Currency string `koanf:"pricing.currency"`

	CatalogCacheTTL time.Duration `koanf:"catalog.cachettl"`

	PaymentBaseURL   string        `koanf:"payment.baseurl"`
	PaymentSecretKey string        `koanf:"payment.secretkey"`
	PaymentTimeout   time.Duration `koanf:"payment.timeout"`

	LogLevel  string `koanf:"log.level"`
	LogFormat string `koanf:"log.format"`
}

func defaults() Config {
	return Config{
		AppEnv:          "development",
		HTTPAddr:        ":8080",
		MigrationsPath:  "db/migrations",
		RedisAddr:       "localhost:6379",
		TaxRate:         "0.18",
		Currency:        "USD",
		CatalogCacheTTL: 5 * time.Minute,
		PaymentTimeout:  15 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load reads configuration from the environment, applying defaults and
// validating required fields. APP_DATABASE_URL maps to database.url,
// APP_PAYMENT_SECRETKEY to payment.secretkey, and so on.
func Load() (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	provider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	})
	if err := k.Load(provider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: APP_DATABASE_URL is required")
	}
	if _, err := money.FromString(c.TaxRate); err != nil {
		return fmt.Errorf("config: invalid APP_PRICING_TAXRATE: %w", err)
	}
	if c.AppEnv == "production" && c.PaymentSecretKey == "" {
		return fmt.Errorf("config: APP_PAYMENT_SECRETKEY is required in production")
	}
	return nil
}

// TaxRateAmount parses the configured tax rate. Load already validated
// the string.
func (c Config) TaxRateAmount() money.Amount {
	return money.MustFromString(c.TaxRate)
}
