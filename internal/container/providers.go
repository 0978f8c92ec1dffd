package container

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/application/dispatcher"
	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/application/service"
	"github.com/garyjia/statecore/internal/application/workflow"
	"github.com/garyjia/statecore/internal/domain/event"
	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
	"github.com/garyjia/statecore/internal/infrastructure/messaging"
	redisstream "github.com/garyjia/statecore/internal/infrastructure/messaging/redis"
	"github.com/garyjia/statecore/internal/infrastructure/persistence/repository"
	"github.com/garyjia/statecore/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/statecore/internal/infrastructure/worker"
	"github.com/garyjia/statecore/internal/metrics"
	"github.com/garyjia/statecore/migrations"
	"github.com/garyjia/statecore/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
	SchemaVersion  int
}

// PublisherBundle holds the event publishing chain.
// Ordered wraps Target and is what the engine publishes to.
type PublisherBundle struct {
	Dispatcher dispatcher.Dispatcher
	Redis      *redisstream.StreamPublisher
	Target     port.EventPublisher
	Ordered    *worker.OrderedPublisher
}

// ProvideDatabase opens the SQLite database and applies migrations, embedded
// unless a migrations directory is configured.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrationsDir(cfg.MigrationsDir)
	} else {
		err = migrator.RunMigrations(migrations.FS)
	}
	if err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := migrator.Version()
	if err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
		SchemaVersion:  version,
	}, nil
}

// ProvideRepositories creates the repositories and makes sure every configured
// entity table exists.
func ProvideRepositories(ctx context.Context, sqlDB *sql.DB, tables map[string]string, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	entities, err := repository.NewEntityStateRepository(sqlDB, tables, logger)
	if err != nil {
		return nil, err
	}
	if err := entities.EnsureTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure entity tables: %w", err)
	}

	return &RepositoryBundle{
		Entities: entities,
		Audits:   repository.NewAuditRepository(sqlDB, logger),
	}, nil
}

// ProvideCatalog builds the machine catalog from the built-in machines plus
// the optional definitions file.
func ProvideCatalog(machinesFile string, logger *zap.Logger) (*domainwf.Catalog, error) {
	var extra []*domainwf.Machine
	if machinesFile != "" {
		loaded, err := domainwf.LoadDefinitionsFile(machinesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load machine definitions: %w", err)
		}
		extra = loaded
	}

	catalog, err := workflow.NewCatalog(extra...)
	if err != nil {
		return nil, err
	}
	logger.Info("Machine catalog ready", zap.Strings("machines", catalog.Names()))
	return catalog, nil
}

// ProvideMetrics registers collectors on a fresh registry, or returns nils when disabled.
func ProvideMetrics(cfg *MetricsConfig) (*metrics.Metrics, *prometheus.Registry) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	reg := metrics.NewRegistry()
	return metrics.New(reg), reg
}

// ProvideDispatcher creates the in-process event dispatcher with a logging subscriber.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	adapter := NewZapAdapter(logger.Named("dispatcher"))
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(adapter))

	disp.Subscribe(event.TypeAny, "transition-log", func(ctx context.Context, evt *event.Event) error {
		adapter.Info("State changed",
			"event_type", evt.Type.String(),
			"entity_id", evt.Data.EntityID,
			"from_state", evt.Data.FromState,
			"to_state", evt.Data.ToState,
			"audit_id", evt.Data.AuditID,
		)
		return nil
	})

	return disp, nil
}

// ProvidePublishers assembles dispatcher and Redis targets behind the ordered publisher.
// The ordered publisher is returned unstarted; it is a worker.
func ProvidePublishers(cfg *EventsConfig, m *metrics.Metrics, logger *zap.Logger) (*PublisherBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("events config is required")
	}

	bundle := &PublisherBundle{}
	var targets []port.EventPublisher

	if cfg.UseDispatcher {
		disp, err := ProvideDispatcher(logger)
		if err != nil {
			return nil, err
		}
		bundle.Dispatcher = disp
		targets = append(targets, disp)
	}

	if cfg.UseRedis {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bundle.Redis = redisstream.NewStreamPublisher(client,
			redisstream.WithStream(cfg.Redis.Stream),
			redisstream.WithMaxLen(cfg.Redis.MaxLen),
			redisstream.WithLogger(logger.Named("redis-publisher")),
		)
		targets = append(targets, bundle.Redis)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one event target is required")
	}
	if len(targets) == 1 {
		bundle.Target = targets[0]
	} else {
		bundle.Target = messaging.NewFanout(targets...)
	}

	bundle.Ordered = worker.NewOrderedPublisher(bundle.Target,
		worker.WithShards(cfg.Shards),
		worker.WithQueueSize(cfg.QueueSize),
		worker.WithDeliveryTimeout(cfg.DeliveryTimeout),
		worker.WithPublisherLogger(logger.Named("ordered-publisher")),
		worker.WithPublisherMetrics(m),
	)
	return bundle, nil
}

// EngineDeps holds dependencies for the transition engine.
type EngineDeps struct {
	Repos          *RepositoryBundle
	TxManager      port.TransactionManager
	Publisher      port.EventPublisher
	Metrics        *metrics.Metrics
	PublishTimeout time.Duration
	Logger         *zap.Logger
}

// ProvideEngine creates the transition engine.
func ProvideEngine(deps *EngineDeps) (workflow.TransitionEngine, error) {
	if deps == nil || deps.Repos == nil || deps.TxManager == nil {
		return nil, fmt.Errorf("repositories and transaction manager are required")
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(deps.Logger.Named("engine")),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithTracer(otel.Tracer("github.com/garyjia/statecore")),
		workflow.WithPublishTimeout(deps.PublishTimeout),
	}
	if deps.Publisher != nil {
		opts = append(opts, workflow.WithPublisher(deps.Publisher))
	}

	return workflow.NewEngine(deps.Repos.Entities, deps.Repos.Audits, deps.TxManager, opts...), nil
}

// ProvideServices creates the application services.
func ProvideServices(
	catalog *domainwf.Catalog,
	engine workflow.TransitionEngine,
	repos *RepositoryBundle,
	logger *zap.Logger,
) (*ServiceBundle, error) {
	if catalog == nil || engine == nil || repos == nil {
		return nil, fmt.Errorf("catalog, engine and repositories are required")
	}

	adapter := NewZapAdapter(logger.Named("service"))
	return &ServiceBundle{
		Transition: service.NewTransitionService(catalog, engine, repos.Entities, adapter),
		Audit:      service.NewAuditService(repos.Audits, adapter),
	}, nil
}

// ProvideWorkers registers background workers; they are started by the container.
func ProvideWorkers(logger *zap.Logger, workers ...worker.Worker) *worker.Manager {
	manager := worker.NewManager(logger.Named("workers"))
	for _, w := range workers {
		manager.Register(w)
	}
	return manager
}
