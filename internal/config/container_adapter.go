package config

import (
	"github.com/garyjia/statecore/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			EntityTables:    c.Database.EntityTables,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Events: container.EventsConfig{
			UseDispatcher:   c.Events.UsesDispatcher(),
			UseRedis:        c.Events.UsesRedis(),
			PublishTimeout:  c.Events.PublishTimeout,
			Shards:          c.Events.Shards,
			QueueSize:       c.Events.QueueSize,
			DeliveryTimeout: c.Events.DeliveryTimeout,
			Redis: container.RedisConfig{
				Addr:     c.Events.Redis.Addr,
				Password: c.Events.Redis.Password,
				DB:       c.Events.Redis.DB,
				Stream:   c.Events.Redis.Stream,
				MaxLen:   c.Events.Redis.MaxLen,
			},
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			Mode:         c.Server.Mode,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
			Path:    c.Metrics.Path,
		},
		MachinesFile: c.Machines.File,
	}
}
