package services

import (
	"context"

	"badgehub/internal/models"
)

// ===============================
// CORE SERVICE INTERFACES
// ===============================

// AwardService evaluates rules and grants badges
type AwardService interface {
	// EvaluateAndAward runs every rule listening on trigger for userID and
	// returns the awards this call created.
	EvaluateAndAward(ctx context.Context, userID string, trigger models.TriggerType, triggerContext map[string]interface{}) ([]models.Award, error)

	// RecordActivity appends an activity event and evaluates the trigger
	// it fires.
	RecordActivity(ctx context.Context, req *RecordActivityRequest) (*RecordActivityResponse, error)

	// Read side
	GetAwards(ctx context.Context, userID string) ([]models.Award, error)
	GetProgress(ctx context.Context, userID string) ([]models.Progress, error)
	GetCatalog(ctx context.Context) (*CatalogResponse, error)

	// SeedAwards stores default awards granted on a user's first evaluation.
	SeedAwards(ctx context.Context, seeds []models.AwardSeed) error
}

// SyncService drains the offline queue to the remote backend
type SyncService interface {
	Flush(ctx context.Context) (*FlushResponse, error)
	Status(ctx context.Context) (*SyncStatusResponse, error)
}

// ===============================
// COLLABORATOR INTERFACES
// ===============================

// RuleCatalog supplies the active rules.
type RuleCatalog interface {
	LoadRules(ctx context.Context) ([]models.Rule, error)
}

// RuleEvaluator decides a pass of rules for one user. Results line up
// with rules.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, rules []models.Rule, userID string, triggerContext map[string]interface{}) []models.EvaluationResult
}

// FlushNudger requests an early queue flush.
type FlushNudger interface {
	Nudge()
}
