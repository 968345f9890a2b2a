package services

import (
	"context"

	"badgehub/internal/events"
	"badgehub/internal/models"
	"badgehub/internal/queue"

	"go.uber.org/zap"
)

// AnalyticsEventBadgeAwarded is the analytics event name for new awards.
const AnalyticsEventBadgeAwarded = "badge_awarded"

// NewAnalyticsRecorder returns a bus handler that mirrors every
// badge.awarded event into an analytics.event queued operation.
func NewAnalyticsRecorder(q *queue.Queue, logger *zap.Logger) events.EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return events.NewTypedEventHandler("analytics_recorder", func(ctx context.Context, event *events.BadgeAwardedEvent) error {
		analytics := models.AnalyticsEvent{
			ID:         event.GetEventID(),
			UserID:     event.Award.UserID,
			Name:       AnalyticsEventBadgeAwarded,
			OccurredAt: event.Award.AwardedAt,
			Properties: map[string]interface{}{
				"badge_id": event.Award.BadgeID,
				"trigger":  string(event.TriggerType),
			},
		}

		op, err := queue.NewOperation(models.OperationAnalyticsEvent, analytics)
		if err != nil {
			return err
		}
		if err := q.Enqueue(ctx, op); err != nil {
			logger.Warn("Failed to queue analytics event",
				zap.String("user_id", analytics.UserID),
				zap.String("badge_id", event.Award.BadgeID),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
}
