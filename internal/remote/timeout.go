package remote

import (
	"context"
	"time"

	"badgehub/internal/models"
)

// timeoutAdapter bounds every call so a hanging backend cannot stall the
// local award path.
type timeoutAdapter struct {
	next    Adapter
	timeout time.Duration
}

// WithTimeout wraps adapter so that each call gets its own deadline. A
// non-positive timeout returns adapter unchanged.
func WithTimeout(adapter Adapter, timeout time.Duration) Adapter {
	if timeout <= 0 {
		return adapter
	}
	return &timeoutAdapter{next: adapter, timeout: timeout}
}

func (a *timeoutAdapter) UpsertAward(ctx context.Context, award models.Award) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.UpsertAward(ctx, award)
}

func (a *timeoutAdapter) UpsertProgress(ctx context.Context, progress models.Progress) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.UpsertProgress(ctx, progress)
}

func (a *timeoutAdapter) RecordAnalyticsEvent(ctx context.Context, event models.AnalyticsEvent) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.RecordAnalyticsEvent(ctx, event)
}

func (a *timeoutAdapter) RecordActivity(ctx context.Context, event models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.RecordActivity(ctx, event)
}

func (a *timeoutAdapter) FetchRuleCatalog(ctx context.Context) ([]models.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.FetchRuleCatalog(ctx)
}

func (a *timeoutAdapter) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.GetEventsForUser(ctx, userID, source, filter)
}

func (a *timeoutAdapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.Ping(ctx)
}

func (a *timeoutAdapter) Close() error {
	return a.next.Close()
}
