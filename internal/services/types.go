package services

import (
	"time"

	"badgehub/internal/models"
)

// ===============================
// REQUEST TYPES
// ===============================

// RecordActivityRequest carries one activity event. TriggerType overrides
// the trigger derived from the event source.
type RecordActivityRequest struct {
	Event       models.Event       `json:"event"`
	TriggerType models.TriggerType `json:"trigger_type,omitempty" validate:"max=100"`
}

// ===============================
// RESPONSE TYPES
// ===============================

// RecordActivityResponse reports the stored event and the awards it earned.
type RecordActivityResponse struct {
	Event  models.Event   `json:"event"`
	Awards []models.Award `json:"awards"`
}

// CatalogResponse lists the active rules and where they came from.
type CatalogResponse struct {
	Source string        `json:"source"`
	Rules  []models.Rule `json:"rules"`
}

// FlushResponse summarizes one queue flush.
type FlushResponse struct {
	Succeeded int           `json:"succeeded"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
}

// SyncStatusResponse describes the offline queue.
type SyncStatusResponse struct {
	Pending      int    `json:"pending"`
	RemoteStatus string `json:"remote_status"`
	OldestError  string `json:"oldest_error,omitempty"`
}
