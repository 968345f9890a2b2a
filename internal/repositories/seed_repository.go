package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"badgehub/internal/models"

	"go.uber.org/zap"
)

type seedRepository struct {
	*BaseRepository
}

// NewSeedRepository creates a new instance of SeedRepository
func NewSeedRepository(db *sql.DB, logger *zap.Logger) SeedRepository {
	return &seedRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

// Upsert stores the seeds, replacing the context of existing entries
func (r *seedRepository) Upsert(ctx context.Context, seeds []models.AwardSeed) error {
	if len(seeds) == 0 {
		return nil
	}

	query := `
		INSERT INTO award_seeds (user_id, badge_id, context_json)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, badge_id) DO UPDATE SET context_json = excluded.context_json`

	return r.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, seed := range seeds {
			contextJSON, err := encodeMap(seed.Context)
			if err != nil {
				return fmt.Errorf("failed to encode seed context: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, seed.UserID, seed.BadgeID, contextJSON); err != nil {
				return fmt.Errorf("failed to upsert seed %s/%s: %w", seed.UserID, seed.BadgeID, err)
			}
		}
		return nil
	})
}

// ListForUser returns the default awards configured for a user
func (r *seedRepository) ListForUser(ctx context.Context, userID string) ([]models.AwardSeed, error) {
	query := `
		SELECT user_id, badge_id, context_json
		FROM award_seeds
		WHERE user_id = ?
		ORDER BY badge_id ASC`

	rows, err := r.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeds: %w", err)
	}
	defer rows.Close()

	seeds := make([]models.AwardSeed, 0)
	for rows.Next() {
		var (
			seed        models.AwardSeed
			contextJSON string
		)
		if err := rows.Scan(&seed.UserID, &seed.BadgeID, &contextJSON); err != nil {
			return nil, fmt.Errorf("failed to scan seed: %w", err)
		}
		if seed.Context, err = decodeMap(contextJSON); err != nil {
			return nil, fmt.Errorf("corrupt seed %s/%s: %w", seed.UserID, seed.BadgeID, err)
		}
		seeds = append(seeds, seed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seeds: %w", err)
	}
	return seeds, nil
}
