package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"badgehub/internal/database"

	"go.uber.org/zap"
)

// Collection holds all repository instances for dependency injection
type Collection struct {
	Award    AwardRepository
	Progress ProgressRepository
	Queue    QueueRepository
	Activity ActivityRepository
	Seed     SeedRepository

	base   *BaseRepository
	logger *zap.Logger
}

// NewCollection creates a new repository collection over the local store
func NewCollection(store *database.LocalStore, logger *zap.Logger) (*Collection, error) {
	if store == nil || store.DB() == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db := store.DB()
	collection := &Collection{
		Award:    NewAwardRepository(db, logger),
		Progress: NewProgressRepository(db, logger),
		Queue:    NewQueueRepository(db, logger),
		Activity: NewActivityRepository(db, logger),
		Seed:     NewSeedRepository(db, logger),
		base:     NewBaseRepository(db, logger),
		logger:   logger,
	}

	logger.Info("Repository collection initialized successfully", zap.String("path", store.Path()))

	return collection, nil
}

// WithTransaction runs fn inside one local transaction; repositories
// accept the *sql.Tx as their DBTX argument.
func (c *Collection) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return c.base.WithTransaction(ctx, fn)
}
