// Package container provides dependency injection and lifecycle management
// for the state transition service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Event publishing configuration
	Events EventsConfig

	// Server configuration
	Server ServerConfig

	// Metrics configuration
	Metrics MetricsConfig

	// MachinesFile optionally adds YAML machine definitions to the built-in ones
	MachinesFile string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout bounds how long a writer waits for the SQLite lock
	BusyTimeout time.Duration

	// EntityTables maps entity types to their state tables
	EntityTables map[string]string

	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string
}

// EventsConfig holds event publishing settings.
type EventsConfig struct {
	// UseDispatcher delivers events to in-process handlers
	UseDispatcher bool

	// UseRedis appends events to a Redis stream
	UseRedis bool

	// PublishTimeout bounds one publish from the engine
	PublishTimeout time.Duration

	// Shards and QueueSize size the ordered publisher
	Shards    int
	QueueSize int

	// DeliveryTimeout bounds one delivery to the targets
	DeliveryTimeout time.Duration

	Redis RedisConfig
}

// RedisConfig holds Redis stream settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// Mode is the gin mode: debug, release or test
	Mode string

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/statecore.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
			EntityTables: map[string]string{
				"content_item":    "content_items",
				"task":            "tasks",
				"question_ticket": "question_tickets",
			},
		},
		Events: EventsConfig{
			UseDispatcher:   true,
			PublishTimeout:  5 * time.Second,
			Shards:          4,
			QueueSize:       256,
			DeliveryTimeout: 5 * time.Second,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Stream: "statecore:events",
				MaxLen: 100000,
			},
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Mode:         "release",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Database.EntityTables) == 0 {
		return fmt.Errorf("database.entity_tables is required")
	}

	if c.Events.UseRedis && c.Events.Redis.Addr == "" {
		return fmt.Errorf("events.redis.addr is required")
	}
	if c.Events.Shards <= 0 || c.Events.QueueSize <= 0 {
		return fmt.Errorf("events.shards and events.queue_size must be positive")
	}

	return nil
}
