package models

import (
	"encoding/json"
	"time"
)

// OperationKind identifies what a queued operation writes to the remote.
type OperationKind string

const (
	OperationAwardUpsert    OperationKind = "award.upsert"
	OperationProgressUpsert OperationKind = "progress.upsert"
	OperationAnalyticsEvent OperationKind = "analytics.event"
	OperationActivityRecord OperationKind = "activity.record"
)

// QueuedOperation is a remote write that has not been confirmed yet. It is
// deleted only after the remote acknowledges it.
type QueuedOperation struct {
	ID         string          `json:"id" db:"id"`
	Kind       OperationKind   `json:"kind" db:"kind"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at" db:"enqueued_at"`
	Attempts   int             `json:"attempts" db:"attempts"`
	LastError  string          `json:"last_error,omitempty" db:"last_error"`
}

// AnalyticsEvent is the payload of an analytics.event operation.
type AnalyticsEvent struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Name       string                 `json:"name"`
	OccurredAt time.Time              `json:"occurred_at"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}
