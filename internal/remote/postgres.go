package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"badgehub/internal/database"
	"badgehub/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresAdapter implements Adapter on the remote PostgreSQL schema.
type PostgresAdapter struct {
	manager *database.Manager
	logger  *zap.Logger
}

var _ Adapter = (*PostgresAdapter)(nil)

// NewPostgresAdapter creates an adapter over an open manager.
func NewPostgresAdapter(manager *database.Manager, logger *zap.Logger) *PostgresAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAdapter{manager: manager, logger: logger}
}

func (a *PostgresAdapter) db() (*sql.DB, error) {
	db := a.manager.DB()
	if db == nil {
		return nil, fmt.Errorf("remote database is closed")
	}
	return db, nil
}

// ===============================
// WRITES
// ===============================

// UpsertAward keeps the first awarded_at and context; a replay is a no-op.
func (a *PostgresAdapter) UpsertAward(ctx context.Context, award models.Award) error {
	db, err := a.db()
	if err != nil {
		return err
	}
	contextJSON, err := jsonObject(award.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_badges (user_id, badge_id, awarded_at, context)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, badge_id) DO NOTHING`

	if _, err := db.ExecContext(ctx, query, award.UserID, award.BadgeID, award.AwardedAt.UTC(), contextJSON); err != nil {
		return a.wrap("upsert award", err)
	}
	return nil
}

// UpsertProgress only moves a row forward in time so that an older queued
// update replayed late cannot overwrite a newer one.
func (a *PostgresAdapter) UpsertProgress(ctx context.Context, progress models.Progress) error {
	db, err := a.db()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO badge_progress (user_id, badge_id, current, required, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, badge_id) DO UPDATE SET
			current = EXCLUDED.current,
			required = EXCLUDED.required,
			updated_at = EXCLUDED.updated_at
		WHERE badge_progress.updated_at <= EXCLUDED.updated_at`

	if _, err := db.ExecContext(ctx, query,
		progress.UserID, progress.BadgeID, progress.Current, progress.Required, progress.UpdatedAt.UTC(),
	); err != nil {
		return a.wrap("upsert progress", err)
	}
	return nil
}

// RecordAnalyticsEvent inserts the event keyed by its id
func (a *PostgresAdapter) RecordAnalyticsEvent(ctx context.Context, event models.AnalyticsEvent) error {
	db, err := a.db()
	if err != nil {
		return err
	}
	properties, err := jsonObject(event.Properties)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analytics_events (id, user_id, name, occurred_at, properties)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := db.ExecContext(ctx, query, event.ID, event.UserID, event.Name, event.OccurredAt.UTC(), properties); err != nil {
		return a.wrap("record analytics event", err)
	}
	return nil
}

// RecordActivity mirrors a local activity event keyed by its id
func (a *PostgresAdapter) RecordActivity(ctx context.Context, event models.Event) error {
	db, err := a.db()
	if err != nil {
		return err
	}
	attributes, err := jsonObject(event.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO activity_events (id, user_id, source, occurred_at, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := db.ExecContext(ctx, query, event.ID, event.UserID, event.Source, event.OccurredAt.UTC(), attributes); err != nil {
		return a.wrap("record activity", err)
	}
	return nil
}

// ===============================
// READS
// ===============================

// FetchRuleCatalog returns the active rules. A row whose evaluation
// cannot be decoded fails the whole fetch.
func (a *PostgresAdapter) FetchRuleCatalog(ctx context.Context) ([]models.Rule, error) {
	db, err := a.db()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT badge_id, name, description, icon, category, trigger_type, priority, evaluation
		FROM badge_rules
		WHERE is_active = TRUE
		ORDER BY badge_id ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, a.wrap("fetch rule catalog", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var (
			rule       models.Rule
			trigger    string
			priority   sql.NullInt64
			evaluation []byte
		)
		if err := rows.Scan(&rule.BadgeID, &rule.Name, &rule.Description, &rule.Icon, &rule.Category,
			&trigger, &priority, &evaluation); err != nil {
			return nil, a.wrap("scan rule", err)
		}
		rule.TriggerType = models.TriggerType(trigger)
		if priority.Valid {
			p := int(priority.Int64)
			rule.Priority = &p
		}
		if err := json.Unmarshal(evaluation, &rule.Evaluation); err != nil {
			return nil, fmt.Errorf("malformed evaluation for rule %s: %w", rule.BadgeID, err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, a.wrap("iterate rules", err)
	}
	return rules, nil
}

// GetEventsForUser reads the shared activity log. Filters compare the
// string form of each attribute, the same way the local log does.
func (a *PostgresAdapter) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	db, err := a.db()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, source, occurred_at, attributes
		FROM activity_events
		WHERE user_id = $1 AND ($2 = '' OR source = $2)
		ORDER BY occurred_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, userID, source)
	if err != nil {
		return nil, a.wrap("get events", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			event      models.Event
			attributes []byte
		)
		if err := rows.Scan(&event.ID, &event.UserID, &event.Source, &event.OccurredAt, &attributes); err != nil {
			return nil, a.wrap("scan event", err)
		}
		if len(attributes) > 0 {
			if err := json.Unmarshal(attributes, &event.Attributes); err != nil {
				return nil, fmt.Errorf("corrupt remote event %s: %w", event.ID, err)
			}
		}
		event.OccurredAt = event.OccurredAt.UTC()
		if event.Matches(filter) {
			events = append(events, event)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, a.wrap("iterate events", err)
	}
	return events, nil
}

// Ping checks connectivity
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	db, err := a.db()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close closes the underlying manager
func (a *PostgresAdapter) Close() error {
	return a.manager.Close()
}

// wrap annotates err and logs the PostgreSQL error code when there is one.
func (a *PostgresAdapter) wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		a.logger.Warn("Remote query rejected",
			zap.String("operation", op),
			zap.String("pg_code", string(pqErr.Code)),
			zap.String("pg_error", pqErr.Code.Name()),
			zap.String("message", pqErr.Message),
		)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func jsonObject(value map[string]interface{}) ([]byte, error) {
	if len(value) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}
