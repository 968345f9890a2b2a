package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"badgehub/internal/models"

	"go.uber.org/zap"
)

type queueRepository struct {
	*BaseRepository
}

// NewQueueRepository creates a new instance of QueueRepository
func NewQueueRepository(db *sql.DB, logger *zap.Logger) QueueRepository {
	return &queueRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

// Append adds the operation behind the current tail
func (r *queueRepository) Append(ctx context.Context, tx DBTX, op *models.QueuedOperation) error {
	query := `
		INSERT INTO queued_operations (id, position, kind, payload_json, enqueued_at, attempts, last_error)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM queued_operations), ?, ?, ?, ?, ?)`

	_, err := r.q(tx).ExecContext(ctx, query,
		op.ID, string(op.Kind), string(op.Payload), toMillis(op.EnqueuedAt), op.Attempts, op.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to append queued operation: %w", err)
	}
	return nil
}

// List returns queued operations head first
func (r *queueRepository) List(ctx context.Context, limit int) ([]models.QueuedOperation, error) {
	query := `
		SELECT id, kind, payload_json, enqueued_at, attempts, last_error
		FROM queued_operations
		ORDER BY position ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued operations: %w", err)
	}
	defer rows.Close()

	ops := make([]models.QueuedOperation, 0)
	for rows.Next() {
		var (
			op         models.QueuedOperation
			kind       string
			payload    string
			enqueuedAt int64
		)
		if err := rows.Scan(&op.ID, &kind, &payload, &enqueuedAt, &op.Attempts, &op.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan queued operation: %w", err)
		}
		op.Kind = models.OperationKind(kind)
		op.Payload = []byte(payload)
		op.EnqueuedAt = fromMillis(enqueuedAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queued operations: %w", err)
	}
	return ops, nil
}

// Delete removes a confirmed operation. Deleting an unknown id is not an
// error since a concurrent push may already have confirmed it.
func (r *queueRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.ExecContext(ctx, `DELETE FROM queued_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queued operation: %w", err)
	}
	return nil
}

// MoveToTail bumps the attempt counter and requeues at the tail
func (r *queueRepository) MoveToTail(ctx context.Context, id, lastError string) error {
	query := `
		UPDATE queued_operations
		SET position = (SELECT COALESCE(MAX(position), 0) + 1 FROM queued_operations),
			attempts = attempts + 1,
			last_error = ?
		WHERE id = ?`

	result, err := r.ExecContext(ctx, query, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to requeue operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read requeue result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the queue length
func (r *queueRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_operations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queued operations: %w", err)
	}
	return count, nil
}
