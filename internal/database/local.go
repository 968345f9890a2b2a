package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"badgehub/internal/config"
	"badgehub/internal/database/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// LocalStore is the durable on-disk SQLite database that is authoritative
// for awards, progress and the offline queue.
type LocalStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// OpenLocal opens (creating if needed) the SQLite file and applies the
// embedded migrations.
func OpenLocal(cfg config.LocalStoreConfig, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("local store path is required")
	}

	cleanPath := filepath.Clean(cfg.Path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create local store directory: %w", err)
		}
	}

	dsn := localDSN(cleanPath, cfg.BusyTimeout)

	// Migrations run on their own handle; closing the migrator closes it.
	if err := migrateLocal(dsn, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps deferred transactions from deadlocking on upgrade.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	logger.Info("Local store opened", zap.String("path", cleanPath))

	return &LocalStore{db: db, path: cleanPath, logger: logger}, nil
}

func localDSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds(),
	)
}

func migrateLocal(dsn string, logger *zap.Logger) error {
	migrationDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open local migration connection: %w", err)
	}

	driver, err := migratesqlite.WithInstance(migrationDB, &migratesqlite.Config{})
	if err != nil {
		_ = migrationDB.Close()
		return fmt.Errorf("create local migration driver: %w", err)
	}

	source, err := iofs.New(migrations.Local, "local")
	if err != nil {
		_ = migrationDB.Close()
		return fmt.Errorf("open local migrations: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		_ = migrationDB.Close()
		return fmt.Errorf("create local migrator: %w", err)
	}
	defer migrator.Close()

	return runMigrations(migrator, "local", logger)
}

// runMigrations applies all pending migrations and refuses a dirty schema.
func runMigrations(migrator *migrate.Migrate, name string, logger *zap.Logger) error {
	currentVersion, dirty, err := migrator.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get %s migration version: %w", name, err)
	}
	if dirty {
		logger.Warn("Database is in dirty state", zap.String("database", name), zap.Uint("version", currentVersion))
		return fmt.Errorf("%s database is in dirty state at version %d", name, currentVersion)
	}

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run %s migrations: %w", name, err)
	}

	newVersion, _, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("failed to get new %s migration version: %w", name, err)
	}

	logger.Info("Migrations completed successfully",
		zap.String("database", name),
		zap.Uint("from_version", currentVersion),
		zap.Uint("to_version", newVersion),
	)
	return nil
}

// DB returns the raw database handle for repositories.
func (s *LocalStore) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Path returns the cleaned file path of the store.
func (s *LocalStore) Path() string {
	return s.path
}

// Health pings the local database.
func (s *LocalStore) Health(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("local store is not open")
	}
	return s.db.PingContext(ctx)
}

// Close releases the underlying SQLite database.
func (s *LocalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
