// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Kafka      KafkaConfig
	Delivery   DeliveryConfig
	Import     ImportConfig
	Validation ValidationConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxBodyBytes caps the size of a request body (default: 10MB)
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" default:"10485760"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are honoured
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// DatabaseConfig holds store settings.
type DatabaseConfig struct {
	// Driver selects the store backend: postgres or memory (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string (required for the postgres driver)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// EnsureSchema applies the embedded schema on startup (default: true)
	EnsureSchema bool `env:"DB_ENSURE_SCHEMA" default:"true"`
}

// RedisConfig holds the Redis tracker connection.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`

	// Prefix namespaces every tracker key (default: cityingest:)
	Prefix string `env:"REDIS_PREFIX" default:"cityingest:"`
}

// QueueConfig holds batch tracker settings.
type QueueConfig struct {
	// Backend selects the tracker: memory or redis (default: memory)
	Backend string `env:"QUEUE_BACKEND" default:"memory"`

	// MaxAge is how long an untouched batch is kept (default: 24h)
	MaxAge time.Duration `env:"QUEUE_MAX_AGE" default:"24h"`

	// EvictInterval is how often old batches are evicted (default: 1h)
	EvictInterval time.Duration `env:"QUEUE_EVICT_INTERVAL" default:"1h"`
}

// KafkaConfig holds the Kafka delivery channel settings.
type KafkaConfig struct {
	Brokers  []string `env:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic    string   `env:"KAFKA_TOPIC" default:"city-batches"`
	Group    string   `env:"KAFKA_GROUP" default:"city-importer"`
	ClientID string   `env:"KAFKA_CLIENT_ID" default:"cityingest"`
}

// DeliveryConfig selects how transformed batches reach the importer.
type DeliveryConfig struct {
	// Driver is kafka or memory (default: memory)
	Driver string `env:"DELIVERY_DRIVER" default:"memory"`

	// Codec is json or msgpack (default: json)
	Codec string `env:"DELIVERY_CODEC" default:"json"`

	// Buffer is the in-process channel capacity (default: 64)
	Buffer int `env:"DELIVERY_BUFFER" default:"64"`

	// Consume starts the importer consumer in this process (default: true)
	Consume bool `env:"DELIVERY_CONSUME" default:"true"`
}

// ImportConfig holds import worker settings.
type ImportConfig struct {
	// MaxConcurrent is the maximum number of parallel imports (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWait is how long to wait for an import slot (default: 5s)
	MaxWait time.Duration `env:"IMPORT_MAX_WAIT" default:"5s"`

	// Timeout is the maximum duration for a single batch import (default: 5m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"5m"`
}

// ValidationConfig holds the deployment profile for record validation.
// A profile file, when set, overrides the env values.
type ValidationConfig struct {
	MinX          int    `env:"VALIDATION_MIN_X" default:"-920"`
	MinY          int    `env:"VALIDATION_MIN_Y" default:"-142"`
	GovernorField string `env:"VALIDATION_GOVERNOR_FIELD" default:"age"`

	// ProfileFile is an optional YAML deployment profile
	ProfileFile string `env:"PROFILE_FILE"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
