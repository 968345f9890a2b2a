package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"badgehub/internal/config"
	"badgehub/internal/database/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Manager owns the connection pool of the remote PostgreSQL backend. The
// remote is optional: opening never requires it to be reachable.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
	config *config.RemoteConfig
	health *HealthChecker
	mu     sync.RWMutex
}

// NewManager creates the remote manager. sql.Open is lazy, so an
// unreachable backend only shows up in health checks and remote calls.
func NewManager(cfg *config.RemoteConfig, logger *zap.Logger) (*Manager, error) {
	if cfg == nil || !cfg.Configured() {
		return nil, fmt.Errorf("remote database URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database connection: %w", err)
	}

	configureConnectionPool(db, cfg)

	manager := &Manager{
		db:     db,
		logger: logger,
		config: cfg,
	}
	manager.health = NewHealthChecker(manager, logger)

	logger.Info("Remote database manager initialized",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)

	return manager, nil
}

func configureConnectionPool(db *sql.DB, cfg *config.RemoteConfig) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(30 * time.Minute)
}

// DB returns the underlying database connection
func (m *Manager) DB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// Health returns the checker tracking remote reachability.
func (m *Manager) Health() *HealthChecker {
	return m.health
}

// Migrate runs the embedded remote migrations on a separate connection so
// the migrator cannot close the main pool.
func (m *Manager) Migrate(ctx context.Context) error {
	migrationDB, err := sql.Open("postgres", m.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migration connection: %w", err)
	}

	if err := migrationDB.PingContext(ctx); err != nil {
		_ = migrationDB.Close()
		return fmt.Errorf("migration connection failed: %w", err)
	}

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		_ = migrationDB.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrations.Remote, "remote")
	if err != nil {
		_ = migrationDB.Close()
		return fmt.Errorf("failed to open remote migrations: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = migrationDB.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	return runMigrations(migrator, "remote", m.logger)
}

// Close closes the pool and stops health monitoring.
func (m *Manager) Close() error {
	m.health.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}
