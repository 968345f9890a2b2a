package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"badgehub/internal/models"

	"go.uber.org/zap"
)

type activityRepository struct {
	*BaseRepository
}

// NewActivityRepository creates a new instance of ActivityRepository
func NewActivityRepository(db *sql.DB, logger *zap.Logger) ActivityRepository {
	return &activityRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

// Record appends an event to the local activity log. Re-recording the
// same event id is a no-op.
func (r *activityRepository) Record(ctx context.Context, tx DBTX, event *models.Event) error {
	attributes, err := encodeMap(event.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode event attributes: %w", err)
	}

	query := `
		INSERT INTO activity_events (id, user_id, source, occurred_at, attributes_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.q(tx).ExecContext(ctx, query,
		event.ID, event.UserID, event.Source, toMillis(event.OccurredAt), attributes,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// ListForUser returns the user's events from one source, oldest first,
// keeping only those whose attributes match the filter. An empty source
// lists every source. A row with unreadable attributes fails the whole
// read so that a corrupt log can never count towards a badge.
func (r *activityRepository) ListForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	query := `
		SELECT id, user_id, source, occurred_at, attributes_json
		FROM activity_events
		WHERE user_id = ?`
	args := []interface{}{userID}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY occurred_at ASC, id ASC`

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			event      models.Event
			occurredAt int64
			attributes string
		)
		if err := rows.Scan(&event.ID, &event.UserID, &event.Source, &occurredAt, &attributes); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		event.OccurredAt = fromMillis(occurredAt)
		if event.Attributes, err = decodeMap(attributes); err != nil {
			return nil, fmt.Errorf("corrupt activity record %s: %w", event.ID, err)
		}
		if event.Matches(filter) {
			events = append(events, event)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity: %w", err)
	}
	return events, nil
}
