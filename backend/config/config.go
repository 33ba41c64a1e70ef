// Package config loads process settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	LogLevel          string        `env:"WB_LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`
	ApprovalTimeout   time.Duration `env:"WB_APPROVAL_TIMEOUT,default=2m" validate:"gt=0"`
	DeliveryTimeout   time.Duration `env:"WB_DELIVERY_TIMEOUT,default=1s" validate:"gt=0"`
	QueueSize         int           `env:"WB_QUEUE_SIZE,default=256" validate:"gt=0"`
	ConnectAttempts   int           `env:"WB_CONNECT_ATTEMPTS,default=3" validate:"gt=0"`
	ConnectRetryDelay time.Duration `env:"WB_CONNECT_RETRY_DELAY,default=2s" validate:"gte=0"`
	JournalDir        string        `env:"WB_JOURNAL_DIR"`
	APIListenAddr     string        `env:"WB_API_LISTEN_ADDR" validate:"omitempty,hostname_port"`
}

// Load reads .env if present, then the environment. Flags applied by the
// caller afterwards take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnviron()
}

func FromEnviron() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}
