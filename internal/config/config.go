// Package config loads service settings from an optional config.toml and
// STOREFRONT_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/joao-fontenele/storefront-orders/internal/logger"
	"github.com/joao-fontenele/storefront-orders/internal/pricing"
)

const EnvPrefix = "STOREFRONT"

type Config struct {
	Service   ServiceConfig
	Log       logger.Config
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Telemetry TelemetryConfig
	Pricing   PricingConfig
	Numbering NumberingConfig
	Upstream  UpstreamConfig
}

type ServiceConfig struct {
	Name            string
	Version         string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
}

// PricingConfig holds decimal amounts as strings so they survive TOML and
// environment parsing without float rounding.
type PricingConfig struct {
	FreeShippingThreshold string
	FlatShipping          string
	TaxRate               string
}

type NumberingConfig struct {
	Backend  string // postgres or redis
	Prefix   string
	Width    int
	RedisKey string
}

type UpstreamConfig struct {
	OrdersURL    string
	InventoryURL string
	EmailURL     string
	Timeout      time.Duration
}

// Load resolves configuration for the named service. Priority, highest first:
// environment variables, config.toml, built-in defaults.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/storefront")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Service: ServiceConfig{
			Name:            v.GetString("service.name"),
			Version:         v.GetString("service.version"),
			Port:            v.GetString("service.port"),
			ReadTimeout:     v.GetDuration("service.read_timeout"),
			WriteTimeout:    v.GetDuration("service.write_timeout"),
			ShutdownTimeout: v.GetDuration("service.shutdown_timeout"),
		},
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			GroupID: v.GetString("kafka.group_id"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Telemetry: TelemetryConfig{
			Enabled:  v.GetBool("telemetry.enabled"),
			Endpoint: v.GetString("telemetry.endpoint"),
		},
		Pricing: PricingConfig{
			FreeShippingThreshold: v.GetString("pricing.free_shipping_threshold"),
			FlatShipping:          v.GetString("pricing.flat_shipping"),
			TaxRate:               v.GetString("pricing.tax_rate"),
		},
		Numbering: NumberingConfig{
			Backend:  v.GetString("numbering.backend"),
			Prefix:   v.GetString("numbering.prefix"),
			Width:    v.GetInt("numbering.width"),
			RedisKey: v.GetString("numbering.redis_key"),
		},
		Upstream: UpstreamConfig{
			OrdersURL:    v.GetString("upstream.orders_url"),
			InventoryURL: v.GetString("upstream.inventory_url"),
			EmailURL:     v.GetString("upstream.email_url"),
			Timeout:      v.GetDuration("upstream.timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("service.name", service)
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.port", "8080")
	v.SetDefault("service.read_timeout", 10*time.Second)
	v.SetDefault("service.write_timeout", 10*time.Second)
	v.SetDefault("service.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.group_id", service)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "storefront")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")

	v.SetDefault("pricing.free_shipping_threshold", "100")
	v.SetDefault("pricing.flat_shipping", "10")
	v.SetDefault("pricing.tax_rate", "0.10")

	v.SetDefault("numbering.backend", "postgres")
	v.SetDefault("numbering.prefix", "RC")
	v.SetDefault("numbering.width", 6)
	v.SetDefault("numbering.redis_key", "storefront:order_number")

	v.SetDefault("upstream.orders_url", "")
	v.SetDefault("upstream.inventory_url", "")
	v.SetDefault("upstream.email_url", "")
	v.SetDefault("upstream.timeout", 10*time.Second)
}

// Validate checks ranges and formats. Whether a key is required depends on
// the binary, see Require.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("database.max_open_conns must be at least 1"))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, errors.New("database.max_idle_conns cannot exceed database.max_open_conns"))
	}
	switch c.Numbering.Backend {
	case "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("numbering.backend must be postgres or redis, got %q", c.Numbering.Backend))
	}
	if c.Numbering.Width < 1 {
		errs = append(errs, errors.New("numbering.width must be at least 1"))
	}
	if c.Numbering.Backend == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when numbering.backend is redis"))
	}
	if _, err := c.PricingRules(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Require reports every named key that is empty. Keys use the dotted form,
// e.g. "database.url".
func (c *Config) Require(keys ...string) error {
	values := map[string]string{
		"database.url":           c.Database.URL,
		"redis.addr":             c.Redis.Addr,
		"kafka.brokers":          strings.Join(c.Kafka.Brokers, ","),
		"jwt.secret":             c.JWT.Secret,
		"upstream.orders_url":    c.Upstream.OrdersURL,
		"upstream.inventory_url": c.Upstream.InventoryURL,
		"upstream.email_url":     c.Upstream.EmailURL,
	}

	var errs []error
	for _, key := range keys {
		if values[key] == "" {
			env := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			errs = append(errs, fmt.Errorf("%s is required (set %s)", key, env))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) PricingRules() (pricing.Rules, error) {
	threshold, err := decimal.NewFromString(c.Pricing.FreeShippingThreshold)
	if err != nil {
		return pricing.Rules{}, fmt.Errorf("pricing.free_shipping_threshold: %w", err)
	}
	flat, err := decimal.NewFromString(c.Pricing.FlatShipping)
	if err != nil {
		return pricing.Rules{}, fmt.Errorf("pricing.flat_shipping: %w", err)
	}
	rate, err := decimal.NewFromString(c.Pricing.TaxRate)
	if err != nil {
		return pricing.Rules{}, fmt.Errorf("pricing.tax_rate: %w", err)
	}
	if threshold.IsNegative() || flat.IsNegative() || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return pricing.Rules{}, errors.New("pricing amounts must be non-negative and tax_rate at most 1")
	}
	return pricing.Rules{FreeShippingThreshold: threshold, FlatShipping: flat, TaxRate: rate}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
