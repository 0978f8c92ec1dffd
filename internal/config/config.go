package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Event publisher modes
const (
	PublisherDispatcher = "dispatcher"
	PublisherRedis      = "redis"
	PublisherBoth       = "both"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Events   EventsConfig   `mapstructure:"events"`
	Machines MachinesConfig `mapstructure:"machines"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string            `mapstructure:"path"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration     `mapstructure:"busy_timeout"`
	EntityTables    map[string]string `mapstructure:"entity_tables"`
	MigrationsDir   string            `mapstructure:"migrations_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// EventsConfig selects where committed transitions are published
type EventsConfig struct {
	Publisher       string        `mapstructure:"publisher"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	Shards          int           `mapstructure:"shards"`
	QueueSize       int           `mapstructure:"queue_size"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	Redis           RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the Redis stream publisher settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// MachinesConfig points at optional YAML machine definitions
type MachinesConfig struct {
	File string `mapstructure:"file"`
}

// ToolsConfig holds tool adapter defaults
type ToolsConfig struct {
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SecretEnvPrefix string        `mapstructure:"secret_env_prefix"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// UsesRedis reports whether a Redis stream publisher is configured
func (e EventsConfig) UsesRedis() bool {
	return e.Publisher == PublisherRedis || e.Publisher == PublisherBoth
}

// UsesDispatcher reports whether in-process handlers receive events
func (e EventsConfig) UsesDispatcher() bool {
	return e.Publisher == PublisherDispatcher || e.Publisher == PublisherBoth
}

// Load loads configuration from an optional .env file, the config file and
// environment variables. An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("STATECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/statecore.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.entity_tables", map[string]string{
		"content_item":    "content_items",
		"task":            "tasks",
		"question_ticket": "question_tickets",
	})

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Event defaults
	v.SetDefault("events.publisher", PublisherDispatcher)
	v.SetDefault("events.publish_timeout", 5*time.Second)
	v.SetDefault("events.shards", 4)
	v.SetDefault("events.queue_size", 256)
	v.SetDefault("events.delivery_timeout", 5*time.Second)
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.stream", "statecore:events")
	v.SetDefault("events.redis.max_len", 100000)

	// Tool defaults
	v.SetDefault("tools.http_timeout", 30*time.Second)
	v.SetDefault("tools.request_timeout", 30*time.Second)
	v.SetDefault("tools.secret_env_prefix", "TOOL_SECRET_")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// bindEnvVars binds conventional variable names that do not follow the prefix scheme
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.path":         {"STATECORE_DATABASE_PATH", "DATABASE_PATH"},
		"events.redis.addr":     {"STATECORE_EVENTS_REDIS_ADDR", "REDIS_ADDR"},
		"events.redis.password": {"STATECORE_EVENTS_REDIS_PASSWORD", "REDIS_PASSWORD"},
		"server.port":           {"STATECORE_SERVER_PORT", "PORT"},
	}
	for key, names := range bindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Database.EntityTables) == 0 {
		return fmt.Errorf("database.entity_tables must map at least one entity type")
	}

	switch c.Events.Publisher {
	case PublisherDispatcher, PublisherRedis, PublisherBoth:
	default:
		return fmt.Errorf("events.publisher must be one of dispatcher, redis, both; got %q", c.Events.Publisher)
	}
	if c.Events.UsesRedis() && c.Events.Redis.Addr == "" {
		return fmt.Errorf("events.redis.addr is required when publishing to redis")
	}
	if c.Events.Shards <= 0 {
		return fmt.Errorf("events.shards must be positive")
	}
	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("events.queue_size must be positive")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}
