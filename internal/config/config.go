package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env string `yaml:"env" env:"ENV" env-default:"local"`

	ServerHost string `yaml:"server_host" env:"SERVER_HOST" env-default:"localhost"`
	ServerPort string `yaml:"server_port" env:"SERVER_PORT" env-default:"3001"`

	// Collaboration socket policy
	AllowedOrigin   string        `yaml:"allowed_origin" env:"ALLOWED_ORIGIN" env-default:"http://localhost:3000"`
	SocketSecret    string        `yaml:"socket_secret" env:"SOCKET_SECRET" env-default:"review-collab-socket-secret"`
	RequireAuth     bool          `yaml:"require_auth" env:"REQUIRE_AUTH" env-default:"false"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES" env-default:"1000000"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL" env-default:"25s"`
	PingTimeout     time.Duration `yaml:"ping_timeout" env:"PING_TIMEOUT" env-default:"20s"`
	SendBuffer      int           `yaml:"send_buffer" env:"SEND_BUFFER" env-default:"256"`

	// Snapshot persistence, enabled when DBHost is set
	DBHost     string `yaml:"db_host" env:"DB_HOST"`
	DBPort     string `yaml:"db_port" env:"DB_PORT" env-default:"5432"`
	DBUser     string `yaml:"db_user" env:"DB_USER" env-default:"postgres"`
	DBPassword string `yaml:"db_password" env:"DB_PASSWORD" env-default:"postgres"`
	DBName     string `yaml:"db_name" env:"DB_NAME" env-default:"review_collab"`
	DBSSLMode  string `yaml:"db_sslmode" env:"DB_SSLMODE" env-default:"disable"`

	SnapshotWorkers   int `yaml:"snapshot_workers" env:"SNAPSHOT_WORKERS" env-default:"2"`
	SnapshotQueueSize int `yaml:"snapshot_queue_size" env:"SNAPSHOT_QUEUE_SIZE" env-default:"100"`

	// Observability
	TracingEnabled bool   `yaml:"tracing_enabled" env:"TRACING_ENABLED" env-default:"false"`
	JaegerEndpoint string `yaml:"jaeger_endpoint" env:"JAEGER_ENDPOINT" env-default:"http://localhost:14268/api/traces"`
}

// Load reads .env (if present), then CONFIG_PATH (if set), then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SocketSecret == "" {
		return fmt.Errorf("SOCKET_SECRET is required")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive")
	}
	if c.PingInterval <= 0 || c.PingTimeout <= 0 {
		return fmt.Errorf("PING_INTERVAL and PING_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive")
	}
	if c.SnapshotWorkers <= 0 {
		c.SnapshotWorkers = 1
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

// PersistenceEnabled reports whether session snapshots go to Postgres.
func (c *Config) PersistenceEnabled() bool {
	return c.DBHost != ""
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}
