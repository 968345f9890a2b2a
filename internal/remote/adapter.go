// Package remote talks to the optional shared backend that mirrors the
// local store. Every write is an idempotent upsert keyed by its natural
// key, so replays from the offline queue are harmless.
package remote

import (
	"context"
	"errors"

	"badgehub/internal/models"
)

// ErrNotConfigured is returned by every call of an adapter that has no
// backend behind it.
var ErrNotConfigured = errors.New("remote backend is not configured")

// Adapter is the remote sync contract.
type Adapter interface {
	// UpsertAward writes the award keyed by (user_id, badge_id).
	UpsertAward(ctx context.Context, award models.Award) error
	UpsertProgress(ctx context.Context, progress models.Progress) error
	RecordAnalyticsEvent(ctx context.Context, event models.AnalyticsEvent) error
	RecordActivity(ctx context.Context, event models.Event) error

	FetchRuleCatalog(ctx context.Context) ([]models.Rule, error)
	GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error)

	Ping(ctx context.Context) error
	Close() error
}

// Unconfigured is the adapter used when no remote URL is set. It is a
// valid steady state: writes stay queued until a backend is configured.
type Unconfigured struct{}

var _ Adapter = Unconfigured{}

func (Unconfigured) UpsertAward(context.Context, models.Award) error {
	return ErrNotConfigured
}

func (Unconfigured) UpsertProgress(context.Context, models.Progress) error {
	return ErrNotConfigured
}

func (Unconfigured) RecordAnalyticsEvent(context.Context, models.AnalyticsEvent) error {
	return ErrNotConfigured
}

func (Unconfigured) RecordActivity(context.Context, models.Event) error {
	return ErrNotConfigured
}

func (Unconfigured) FetchRuleCatalog(context.Context) ([]models.Rule, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) GetEventsForUser(context.Context, string, string, map[string]string) ([]models.Event, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) Ping(context.Context) error {
	return ErrNotConfigured
}

func (Unconfigured) Close() error {
	return nil
}
