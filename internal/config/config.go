// Package config содержит логику чтения конфигурации сервиса сверки платежей.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// EnvProduction обозначает окружение, в котором вебхуки без секрета отклоняются.
	EnvProduction = "production"
	// EnvDevelopment обозначает окружение, в котором допускаются неподписанные вебхуки.
	EnvDevelopment = "development"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	Environment string `env:"APP_ENV" envDefault:"production"`

	RevolutWebhookSecret         string        `env:"REVOLUT_WEBHOOK_SECRET"`
	RevolutMerchantWebhookSecret string        `env:"REVOLUT_MERCHANT_WEBHOOK_SECRET"`
	StripeWebhookSecret          string        `env:"STRIPE_WEBHOOK_SECRET"`
	TimestampTolerance           time.Duration `env:"WEBHOOK_TIMESTAMP_TOLERANCE" envDefault:"5m"`

	AmountTolerancePercent float64       `env:"AMOUNT_TOLERANCE_PERCENT" envDefault:"1"`
	ClearingPeriodDays     int           `env:"CLEARING_PERIOD_DAYS" envDefault:"14"`
	WebhookTimeout         time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`

	NotifyTimeout   time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	NotifyWorkers   int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	NotifyQueueSize int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`

	RevolutAPIAddress   string        `env:"REVOLUT_API_ADDRESS"`
	RevolutAccessToken  string        `env:"REVOLUT_ACCESS_TOKEN"`
	RevolutSyncInterval time.Duration `env:"REVOLUT_SYNC_INTERVAL" envDefault:"5m"`
}

// IsProduction сообщает, запущен ли сервис в боевом окружении.
func (c *Config) IsProduction() bool {
	return c.Environment != EnvDevelopment
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRevolutAddress := cfg.RevolutAPIAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RevolutAPIAddress, "r", "", "revolut business API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRevolutAddress != "" {
		cfg.RevolutAPIAddress = envRevolutAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Environment != EnvProduction && c.Environment != EnvDevelopment {
		return fmt.Errorf("unknown APP_ENV %q", c.Environment)
	}
	if c.AmountTolerancePercent < 0 || c.AmountTolerancePercent > 100 {
		return fmt.Errorf("AMOUNT_TOLERANCE_PERCENT out of range: %v", c.AmountTolerancePercent)
	}
	if c.ClearingPeriodDays < 0 {
		return fmt.Errorf("CLEARING_PERIOD_DAYS must not be negative: %d", c.ClearingPeriodDays)
	}
	if c.NotifyWorkers <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS must be positive: %d", c.NotifyWorkers)
	}
	return nil
}
