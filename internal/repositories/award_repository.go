package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"badgehub/internal/models"

	"go.uber.org/zap"
)

type awardRepository struct {
	*BaseRepository
}

// NewAwardRepository creates a new instance of AwardRepository
func NewAwardRepository(db *sql.DB, logger *zap.Logger) AwardRepository {
	return &awardRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

// Insert writes the award with ON CONFLICT DO NOTHING; the primary key on
// (user_id, badge_id) keeps a second insert from creating a duplicate.
func (r *awardRepository) Insert(ctx context.Context, tx DBTX, award *models.Award) (bool, error) {
	contextJSON, err := encodeMap(award.Context)
	if err != nil {
		return false, fmt.Errorf("failed to encode award context: %w", err)
	}

	query := `
		INSERT INTO awards (user_id, badge_id, awarded_at, context_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, badge_id) DO NOTHING`

	result, err := r.q(tx).ExecContext(ctx, query,
		award.UserID, award.BadgeID, toMillis(award.AwardedAt), contextJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert award: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return affected == 1, nil
}

// ListByUser returns the user's awards in the order they were unlocked
func (r *awardRepository) ListByUser(ctx context.Context, userID string) ([]models.Award, error) {
	query := `
		SELECT user_id, badge_id, awarded_at, context_json
		FROM awards
		WHERE user_id = ?
		ORDER BY awarded_at ASC, badge_id ASC`

	rows, err := r.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list awards: %w", err)
	}
	defer rows.Close()

	awards := make([]models.Award, 0)
	for rows.Next() {
		award, err := scanAward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan award: %w", err)
		}
		awards = append(awards, *award)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate awards: %w", err)
	}
	return awards, nil
}

// CountByUser returns how many badges the user has unlocked
func (r *awardRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.QueryRowContext(ctx, `SELECT COUNT(*) FROM awards WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count awards: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAward(row rowScanner) (*models.Award, error) {
	var (
		award       models.Award
		awardedAt   int64
		contextJSON string
	)
	if err := row.Scan(&award.UserID, &award.BadgeID, &awardedAt, &contextJSON); err != nil {
		return nil, err
	}
	award.AwardedAt = fromMillis(awardedAt)

	ctxMap, err := decodeMap(contextJSON)
	if err != nil {
		return nil, err
	}
	award.Context = ctxMap
	return &award, nil
}
