package models

// TriggerType names an application event that causes rule evaluation.
type TriggerType string

const (
	TriggerStoryCompleted   TriggerType = "story_completed"
	TriggerChatMessage      TriggerType = "chat_message"
	TriggerQuizCompleted    TriggerType = "quiz_completed"
	TriggerSessionCompleted TriggerType = "session_completed"
	TriggerDashboardVisit   TriggerType = "dashboard_visit"
)

// DefaultPriority is the evaluation weight of a rule that declares no
// priority. Such rules sort as if they declared it.
const DefaultPriority = 999

// EvaluationKind tags the Evaluation union.
type EvaluationKind string

const (
	EvaluationCount    EvaluationKind = "count"
	EvaluationStreak   EvaluationKind = "streak"
	EvaluationMaxScore EvaluationKind = "max_score"
)

// DefaultScoreField is the trigger context key read by max_score rules
// that do not name a field.
const DefaultScoreField = "score"

// Evaluation is the tagged union of rule kinds:
//
//	count:     Source, Filter, Threshold
//	streak:    Threshold, optional Source (any activity when empty)
//	max_score: Threshold, optional Field (DefaultScoreField when empty)
type Evaluation struct {
	Kind      EvaluationKind    `json:"kind" yaml:"kind" validate:"required,oneof=count streak max_score"`
	Source    string            `json:"source,omitempty" yaml:"source,omitempty" validate:"required_if=Kind count,max=100"`
	Filter    map[string]string `json:"filter,omitempty" yaml:"filter,omitempty"`
	Field     string            `json:"field,omitempty" yaml:"field,omitempty" validate:"max=100"`
	Threshold int               `json:"threshold" yaml:"threshold" validate:"gte=1"`
}

// ScoreField returns the context key a max_score rule compares.
func (e Evaluation) ScoreField() string {
	if e.Field == "" {
		return DefaultScoreField
	}
	return e.Field
}

// Rule maps a trigger and an evaluation to a badge. Rules are loaded once
// and never mutated.
type Rule struct {
	BadgeID     string      `json:"badge_id" yaml:"badge_id" validate:"required,max=100"`
	Name        string      `json:"name" yaml:"name" validate:"max=200"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string      `json:"icon,omitempty" yaml:"icon,omitempty"`
	Category    string      `json:"category,omitempty" yaml:"category,omitempty"`
	TriggerType TriggerType `json:"trigger_type" yaml:"trigger_type" validate:"required,max=100"`

	// Priority orders evaluation within a trigger, lower first. A nil
	// priority evaluates with DefaultPriority.
	Priority *int `json:"priority,omitempty" yaml:"priority,omitempty"`

	Evaluation Evaluation `json:"evaluation" yaml:"evaluation"`
}

// EffectivePriority returns the rule's priority, or DefaultPriority.
func (r Rule) EffectivePriority() int {
	if r.Priority == nil {
		return DefaultPriority
	}
	return *r.Priority
}

// EvaluationResult is the outcome of evaluating one rule for one user.
type EvaluationResult struct {
	Awarded  bool `json:"awarded"`
	Current  int  `json:"current"`
	Required int  `json:"required"`
}
