// Package config loads the bridge's environment-based configuration using
// the same cleanenv + go-playground/validator pipeline the rest of the
// codebase uses, via pkg/config.Load.
package config

import (
	"time"

	"github.com/cyberstudio/batchmq/pkg/config"
	"github.com/cyberstudio/batchmq/pkg/logger"
	"github.com/cyberstudio/batchmq/pkg/telemetry"
)

// Config is the top-level configuration for a running bridge process.
type Config struct {
	Broker    BrokerConfig
	Database  DatabaseConfig
	Decode    DecodeConfig
	Log       logger.Config
	Telemetry telemetry.Config
}

// BrokerConfig configures the message broker connection and batching.
type BrokerConfig struct {
	Driver   string `env:"BROKER_DRIVER" env-default:"rabbitmq" validate:"oneof=rabbitmq kafka"`
	Host     string `env:"BROKER_HOST" env-default:"localhost"`
	Port     string `env:"BROKER_PORT" env-default:"5672"`
	Username string `env:"BROKER_USERNAME" env-default:"guest"`
	Password string `env:"BROKER_PASSWORD" env-default:"guest"`

	// Queues is a comma-separated list of queue names to consume; each one
	// runs its own pipeline. The table each batch is written to is the last
	// dot-separated segment of its messages' routing key; there is no
	// separate queue-to-table setting.
	Queues string `env:"BROKER_QUEUES" validate:"required"`

	BatchSize int           `env:"BROKER_BATCH_SIZE" env-default:"100" validate:"gt=0"`
	Interval  time.Duration `env:"BROKER_INTERVAL" env-default:"5s"`
}

// DatabaseConfig configures the relational sink.
type DatabaseConfig struct {
	Driver   string `env:"DB_DRIVER" env-default:"postgres" validate:"oneof=postgres mysql sqlite mssql"`
	Host     string `env:"DB_HOST" env-default:"localhost"`
	Port     string `env:"DB_PORT" env-default:"5432"`
	Username string `env:"DB_USERNAME"`
	Password string `env:"DB_PASSWORD"`
	Database string `env:"DB_DATABASE" validate:"required"`

	PoolSize           int           `env:"DB_POOL_SIZE" env-default:"10" validate:"gt=0"`
	EchoPool           bool          `env:"DB_ECHO_POOL" env-default:"false"`
	RetryPeriod        time.Duration `env:"DB_RETRY_PERIOD" env-default:"5s"`
	StatementTimeoutMs int           `env:"DB_STATEMENT_TIMEOUT_MS" env-default:"5000"`
	SSLMode            string        `env:"DB_SSL_MODE" env-default:"disable"`
}

// DecodeConfig selects how broker bodies are turned into rows.
type DecodeConfig struct {
	Driver string `env:"DECODE_DRIVER" env-default:"json" validate:"oneof=json avro"`
}

// Load reads configuration from the environment (or a .env file) and
// validates it.
func Load() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
