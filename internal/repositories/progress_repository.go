package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"badgehub/internal/models"

	"go.uber.org/zap"
)

type progressRepository struct {
	*BaseRepository
}

// NewProgressRepository creates a new instance of ProgressRepository
func NewProgressRepository(db *sql.DB, logger *zap.Logger) ProgressRepository {
	return &progressRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

// Upsert stores the latest evaluation result. Unchanged values leave the
// row untouched, which is how callers decide whether to sync it.
func (r *progressRepository) Upsert(ctx context.Context, tx DBTX, progress *models.Progress) (bool, error) {
	query := `
		INSERT INTO progress (user_id, badge_id, current, required, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, badge_id) DO UPDATE SET
			current = excluded.current,
			required = excluded.required,
			updated_at = excluded.updated_at
		WHERE progress.current <> excluded.current OR progress.required <> excluded.required`

	result, err := r.q(tx).ExecContext(ctx, query,
		progress.UserID, progress.BadgeID, progress.Current, progress.Required, toMillis(progress.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert progress: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read upsert result: %w", err)
	}
	return affected > 0, nil
}

// ListByUser returns all progress rows of a user ordered by badge
func (r *progressRepository) ListByUser(ctx context.Context, userID string) ([]models.Progress, error) {
	query := `
		SELECT user_id, badge_id, current, required, updated_at
		FROM progress
		WHERE user_id = ?
		ORDER BY badge_id ASC`

	rows, err := r.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	list := make([]models.Progress, 0)
	for rows.Next() {
		var (
			p         models.Progress
			updatedAt int64
		)
		if err := rows.Scan(&p.UserID, &p.BadgeID, &p.Current, &p.Required, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		p.UpdatedAt = fromMillis(updatedAt)
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress: %w", err)
	}
	return list, nil
}
