package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/config"
	"github.com/garyjia/statecore/internal/container"
	apihttp "github.com/garyjia/statecore/internal/interfaces/http"
	"github.com/garyjia/statecore/internal/metrics"
	"github.com/garyjia/statecore/pkg/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("STATECORE_CONFIG"), "path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting statecore",
		zap.Int("port", cfg.Server.Port),
		zap.String("publisher", cfg.Events.Publisher))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server exited successfully")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	deps := apihttp.Deps{
		Transitions: c.Services().Transition,
		Audit:       c.Services().Audit,
		Health: func(ctx context.Context) (bool, any) {
			status := c.Health(ctx)
			return status.Overall, status.Components
		},
		Logger: container.NewZapAdapter(logger.Named("http")),
	}
	if reg := c.Registry(); reg != nil {
		deps.Metrics = metrics.Handler(reg)
	}

	server := apihttp.NewServer(apihttp.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Mode:         cfg.Server.Mode,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,
	}, deps)

	// Blocks until a signal arrives
	return server.Start(ctx)
}
