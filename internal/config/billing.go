package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// BillingConfig drives the metering clock. Minute is the billing unit and is
// only shortened in tests and demos.
type BillingConfig struct {
	TickInterval time.Duration `env:"BILLING_TICK_INTERVAL" envDefault:"5s"`
	Workers      int           `env:"BILLING_WORKERS" envDefault:"8"`
	Minute       time.Duration `env:"BILLING_MINUTE" envDefault:"1m"`
}

func LoadBilling() (BillingConfig, error) {
	var cfg BillingConfig
	err := env.Parse(&cfg)
	return cfg, err
}
