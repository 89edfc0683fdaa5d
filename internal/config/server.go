package config

import "github.com/caarlos0/env/v11"

type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	AdminAPIKey string `env:"ADMIN_API_KEY"`

	SeedDefaults    bool   `env:"SEED_DEFAULTS" envDefault:"true"`
	PyramidSlots    int    `env:"PYRAMID_SLOTS" envDefault:"6"`
	DefaultRoomRate string `env:"DEFAULT_ROOM_RATE" envDefault:"1.00"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}
