package repositories

import (
	"context"

	"badgehub/internal/models"
)

// ===============================
// CORE REPOSITORY INTERFACES
// ===============================
//
// Write methods take a DBTX so the award engine can commit awards,
// progress and their outbox operations in one transaction. Passing nil
// runs the write on the pool.

// AwardRepository defines the contract for award data operations
type AwardRepository interface {
	// Insert stores the award unless one already exists for the same
	// (user, badge). It reports whether a row was written.
	Insert(ctx context.Context, tx DBTX, award *models.Award) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.Award, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// ProgressRepository defines the contract for badge progress operations
type ProgressRepository interface {
	// Upsert reports whether the stored values changed.
	Upsert(ctx context.Context, tx DBTX, progress *models.Progress) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.Progress, error)
}

// QueueRepository defines the contract for the durable operation queue
type QueueRepository interface {
	Append(ctx context.Context, tx DBTX, op *models.QueuedOperation) error
	// List returns up to limit operations in FIFO order; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]models.QueuedOperation, error)
	Delete(ctx context.Context, id string) error
	// MoveToTail records a failed attempt and requeues the operation
	// behind everything currently queued.
	MoveToTail(ctx context.Context, id, lastError string) error
	Count(ctx context.Context) (int, error)
}

// ActivityRepository defines the contract for the local activity log
type ActivityRepository interface {
	Record(ctx context.Context, tx DBTX, event *models.Event) error
	ListForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error)
}

// SeedRepository defines the contract for default award seeds
type SeedRepository interface {
	Upsert(ctx context.Context, seeds []models.AwardSeed) error
	ListForUser(ctx context.Context, userID string) ([]models.AwardSeed, error)
}
