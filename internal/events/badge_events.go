package events

import (
	"time"

	"badgehub/internal/models"
)

// Event types
const (
	EventTypeBadgeAwarded = "badge.awarded"
)

// BadgeAwardedEvent is published once for every award created by rule
// evaluation. Seeded awards do not publish it.
type BadgeAwardedEvent struct {
	BaseEvent
	Award       models.Award       `json:"award"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

// NewBadgeAwardedEvent creates a new BadgeAwardedEvent
func NewBadgeAwardedEvent(award models.Award, trigger models.TriggerType) *BadgeAwardedEvent {
	return &BadgeAwardedEvent{
		BaseEvent: BaseEvent{
			EventID:   GenerateEventID(),
			EventType: EventTypeBadgeAwarded,
			Timestamp: time.Now().UTC(),
			UserID:    award.UserID,
		},
		Award:       award,
		TriggerType: trigger,
	}
}
