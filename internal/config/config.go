package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr     string   `yaml:"http_addr"`
	PostgresDSN  string   `yaml:"postgres_dsn"`
	RedisAddr    string   `yaml:"redis_addr"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	ServiceName  string   `yaml:"service_name"`
	LogLevel     string   `yaml:"log_level"`

	AppBaseURL      string `yaml:"app_base_url"`
	StripeSecretKey string `yaml:"stripe_secret_key"`
	Currency        string `yaml:"currency"`

	JWTSecret string `yaml:"auth_jwt_secret"`
	AdminRole string `yaml:"auth_admin_role"`

	CheckoutRatePerSec float64 `yaml:"checkout_rate_per_sec"`
	CheckoutBurst      int     `yaml:"checkout_burst"`
	// TrustProxyHeaders honours X-Forwarded-For and X-Real-IP. Enable only
	// behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	PendingOrderTTL time.Duration `yaml:"pending_order_ttl"`
	SweepSchedule   string        `yaml:"sweep_schedule"`

	OTLPEndpoint string `yaml:"otel_exporter_otlp_endpoint"`

	NotifierGroup   string `yaml:"notifier_group"`
	NotifierWorkers int    `yaml:"notifier_workers"`
}

func defaults() Config {
	return Config{
		HTTPAddr:           ":8081",
		ServiceName:        "heirloom-checkout",
		LogLevel:           "info",
		Currency:           "thb",
		AdminRole:          "admin",
		CheckoutRatePerSec: 2,
		CheckoutBurst:      5,
		SweepSchedule:      "@every 15m",
		NotifierGroup:      "notifier-svc",
		NotifierWorkers:    8,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if any, then the environment. Later sources win.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PostgresDSN = getenv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	cfg.ServiceName = getenv("SERVICE_NAME", cfg.ServiceName)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.AppBaseURL = getenv("APP_BASE_URL", cfg.AppBaseURL)
	cfg.StripeSecretKey = getenv("STRIPE_SECRET_KEY", cfg.StripeSecretKey)
	cfg.Currency = strings.ToLower(getenv("CURRENCY", cfg.Currency))
	cfg.JWTSecret = getenv("AUTH_JWT_SECRET", cfg.JWTSecret)
	cfg.AdminRole = getenv("AUTH_ADMIN_ROLE", cfg.AdminRole)
	cfg.SweepSchedule = getenv("SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.OTLPEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.NotifierGroup = getenv("NOTIFIER_GROUP", cfg.NotifierGroup)

	var errs []error
	if v := os.Getenv("CHECKOUT_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, wrap("CHECKOUT_RATE_PER_SEC", err))
		cfg.CheckoutRatePerSec = f
	}
	if v := os.Getenv("CHECKOUT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrap("CHECKOUT_BURST", err))
		cfg.CheckoutBurst = n
	}
	if v := os.Getenv("TRUST_PROXY_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, wrap("TRUST_PROXY_HEADERS", err))
		cfg.TrustProxyHeaders = b
	}
	if v := os.Getenv("PENDING_ORDER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrap("PENDING_ORDER_TTL", err))
		cfg.PendingOrderTTL = d
	}
	if v := os.Getenv("NOTIFIER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrap("NOTIFIER_WORKERS", err))
		cfg.NotifierWorkers = n
	}
	return cfg, errors.Join(errs...)
}

// Validate checks the settings the API needs to take card payments.
func (c Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.AppBaseURL == "" {
		errs = append(errs, errors.New("APP_BASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.CheckoutRatePerSec <= 0 || c.CheckoutBurst <= 0 {
		errs = append(errs, errors.New("checkout rate and burst must be positive"))
	}
	if c.PendingOrderTTL < 0 {
		errs = append(errs, errors.New("PENDING_ORDER_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func wrap(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
