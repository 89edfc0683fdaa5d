package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type AlertConfig struct {
	Enabled     bool          `env:"ALERTS_ENABLED" envDefault:"false"`
	TargetsJSON string        `env:"ALERT_TARGETS_JSON"`
	TargetsPath string        `env:"ALERT_TARGETS_PATH"`
	Workers     int           `env:"ALERT_WORKERS" envDefault:"2"`
	RetryMax    int           `env:"ALERT_RETRY_MAX" envDefault:"3"`
	RetryBase   time.Duration `env:"ALERT_RETRY_BASE" envDefault:"500ms"`
}

func LoadAlert() (AlertConfig, error) {
	var cfg AlertConfig
	err := env.Parse(&cfg)
	return cfg, err
}
