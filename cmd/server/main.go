package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"badgehub/internal/appinfo"
	"badgehub/internal/config"
	"badgehub/internal/database"
	"badgehub/internal/events"
	"badgehub/internal/handlers/notifications"
	"badgehub/internal/response"
	"badgehub/internal/router"
	"badgehub/internal/services"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	build := appinfo.Get()
	logger.Info("Starting badgehub",
		zap.String("version", build.Version),
		zap.String("revision", build.Revision),
		zap.String("go_version", build.GoVersion),
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Application stopped with error", zap.Error(err))
	}
	logger.Info("Application shutdown completed")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Durable local store
	local, err := database.OpenLocal(cfg.Local, logger)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer func() {
		if err := local.Close(); err != nil {
			logger.Error("Failed to close local store", zap.Error(err))
		}
	}()

	// Remote backend is optional; without it every write stays queued
	var remoteManager *database.Manager
	if cfg.Remote.Configured() {
		remoteManager, err = database.NewManager(&cfg.Remote, logger)
		if err != nil {
			logger.Warn("Remote backend unavailable, continuing offline", zap.Error(err))
			remoteManager = nil
		} else {
			defer remoteManager.Close()
			if cfg.Remote.AutoMigrate {
				migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := remoteManager.Migrate(migrateCtx); err != nil {
					logger.Warn("Remote migrations failed", zap.Error(err))
				}
				cancel()
			}
		}
	} else {
		logger.Info("No remote backend configured, running local-only")
	}

	serviceCollection, err := services.NewServiceCollection(local, remoteManager, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create services: %w", err)
	}

	if cfg.Engine.SeedFile != "" {
		if err := applySeeds(serviceCollection.AwardService, cfg.Engine.SeedFile, logger); err != nil {
			return err
		}
	}

	hub := notifications.NewHub(nil, logger)
	if err := serviceCollection.EventBus.SubscribeAsync(events.EventTypeBadgeAwarded, hub.Handler()); err != nil {
		return fmt.Errorf("failed to subscribe notification hub: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serviceCollection.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	responseConfig := response.DefaultConfig()
	responseConfig.PrettyJSON = cfg.Server.Environment == "development"

	handler := router.SetupRouter(router.Options{
		AwardService: serviceCollection.AwardService,
		SyncService:  serviceCollection.SyncService,
		Health:       serviceCollection,
		Hub:          hub,
		CORSOrigin:   cfg.Server.CORSOrigin,
	}, response.NewBuilder(responseConfig, logger), logger)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := serviceCollection.Shutdown(shutdownCtx); err != nil {
		logger.Error("Service shutdown completed with errors", zap.Error(err))
	}
	return nil
}

func applySeeds(awardService services.AwardService, path string, logger *zap.Logger) error {
	seeds, err := loadSeedFile(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := awardService.SeedAwards(ctx, seeds); err != nil {
		return fmt.Errorf("failed to store award seeds: %w", err)
	}

	logger.Info("Award seeds loaded", zap.String("path", path), zap.Int("seeds", len(seeds)))
	return nil
}

// initLogger initializes the structured logger from LOG_LEVEL and LOG_FORMAT
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
