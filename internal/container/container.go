package container

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/application/dispatcher"
	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/application/service"
	"github.com/garyjia/statecore/internal/application/workflow"
	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
	"github.com/garyjia/statecore/internal/infrastructure/persistence/repository"
	"github.com/garyjia/statecore/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/statecore/internal/infrastructure/worker"
	"github.com/garyjia/statecore/internal/metrics"
)

const healthCheckTimeout = 2 * time.Second

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	sqlDB         *sql.DB
	db            *sqlite.DB
	schemaVersion int
	repositories  *RepositoryBundle

	// Observability
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	// Application
	catalog    *domainwf.Catalog
	publishers *PublisherBundle
	engine     workflow.TransitionEngine
	services   *ServiceBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Entities *repository.EntityStateRepository
	Audits   *repository.AuditRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Transition service.TransitionService
	Audit      service.AuditService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database, migrations and repositories
// 2. Machine catalog and metrics
// 3. Event publishers
// 4. Transition engine and services
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initCatalog(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize machine catalog: %w", err)
	}
	c.metrics, c.registry = ProvideMetrics(&c.config.Metrics)

	if err := c.initPublishers(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize publishers: %w", err)
	}
	c.logger.Info("Event publishers initialized")

	if err := c.initEngineAndServices(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	c.logger.Info("Transition engine initialized")

	if err := c.initWorkers(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	// Workers first so queued events drain into still-open targets
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	if c.publishers != nil {
		if c.publishers.Dispatcher != nil {
			if err := c.publishers.Dispatcher.Close(); err != nil {
				c.logger.Error("Failed to close dispatcher", zap.Error(err))
				errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
			}
		}
		if c.publishers.Redis != nil {
			if err := c.publishers.Redis.Close(); err != nil {
				c.logger.Error("Failed to close redis client", zap.Error(err))
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
	}

	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	// Check database
	if c.sqlDB != nil {
		if err := c.sqlDB.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true, Message: fmt.Sprintf("schema version %d", c.schemaVersion)})
		}
	} else {
		set("database", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Check redis when configured
	if c.publishers != nil && c.publishers.Redis != nil {
		if err := c.publishers.Redis.Ping(ctx); err != nil {
			set("redis", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("redis", ComponentHealth{Healthy: true, Message: "stream: " + c.publishers.Redis.Stream()})
		}
	}

	// Check workers
	if c.workers != nil {
		running := c.workers.Running()
		msg := "workers: " + strings.Join(c.workers.Names(), ", ")
		if c.publishers != nil && c.publishers.Ordered != nil {
			msg += fmt.Sprintf(", pending events: %d", c.publishers.Ordered.Pending())
		}
		set("workers", ComponentHealth{Healthy: running, Message: msg})
	} else {
		set("workers", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	if c.catalog != nil {
		set("machines", ComponentHealth{Healthy: true, Message: fmt.Sprintf("%d machines", len(c.catalog.Names()))})
	} else {
		set("machines", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	return status
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr
	c.schemaVersion = dbBundle.SchemaVersion

	repos, err := ProvideRepositories(c.ctx, c.sqlDB, c.config.Database.EntityTables, c.logger)
	if err != nil {
		c.closeDatabase()
		return err
	}

	c.repositories = repos
	return nil
}

func (c *Container) closeDatabase() {
	if c.sqlDB != nil {
		_ = c.sqlDB.Close()
		c.sqlDB = nil
	}
}

// initCatalog builds the machine catalog and checks every machine has a state table.
func (c *Container) initCatalog() error {
	catalog, err := ProvideCatalog(c.config.MachinesFile, c.logger)
	if err != nil {
		return err
	}

	tables := c.repositories.Entities.Tables()
	for _, name := range catalog.Names() {
		if _, ok := tables[name]; !ok {
			return fmt.Errorf("machine %s has no entity table configured", name)
		}
	}

	c.catalog = catalog
	return nil
}

func (c *Container) initPublishers() error {
	publishers, err := ProvidePublishers(&c.config.Events, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.publishers = publishers
	return nil
}

func (c *Container) initEngineAndServices() error {
	engine, err := ProvideEngine(&EngineDeps{
		Repos:          c.repositories,
		TxManager:      c.db,
		Publisher:      c.publishers.Ordered,
		Metrics:        c.metrics,
		PublishTimeout: c.config.Events.PublishTimeout,
		Logger:         c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	services, err := ProvideServices(c.catalog, engine, c.repositories, c.logger)
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

// initWorkers registers and starts background workers.
func (c *Container) initWorkers() error {
	c.workers = ProvideWorkers(c.logger, c.publishers.Ordered)

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Catalog returns the machine catalog.
func (c *Container) Catalog() *domainwf.Catalog {
	return c.catalog
}

// Dispatcher returns the in-process dispatcher, or nil when disabled.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	if c.publishers == nil {
		return nil
	}
	return c.publishers.Dispatcher
}

// Engine returns the transition engine.
func (c *Container) Engine() workflow.TransitionEngine {
	return c.engine
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Metrics returns the collectors, or nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (c *Container) Registry() *prometheus.Registry {
	return c.registry
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
