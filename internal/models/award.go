package models

import "time"

// ContextKeyTrigger is the award context key holding the trigger type that
// produced the award. It is reserved; caller supplied values are dropped.
const ContextKeyTrigger = "trigger"

// Award records that a user unlocked a badge. At most one exists per
// (UserID, BadgeID); awards are never updated after creation.
type Award struct {
	UserID    string                 `json:"user_id" db:"user_id"`
	BadgeID   string                 `json:"badge_id" db:"badge_id"`
	AwardedAt time.Time              `json:"awarded_at" db:"awarded_at"`
	Context   map[string]interface{} `json:"context,omitempty" db:"context"`
}

// Progress is the last evaluation result of a badge a user has not
// unlocked yet.
type Progress struct {
	UserID    string    `json:"user_id" db:"user_id"`
	BadgeID   string    `json:"badge_id" db:"badge_id"`
	Current   int       `json:"current" db:"current"`
	Required  int       `json:"required" db:"required"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AwardSeed is a default award granted without evaluation to a user that
// has no awards yet (legacy and test accounts).
type AwardSeed struct {
	UserID  string                 `json:"user_id" yaml:"user_id" validate:"required,max=200"`
	BadgeID string                 `json:"badge_id" yaml:"badge_id" validate:"required,max=100"`
	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}
