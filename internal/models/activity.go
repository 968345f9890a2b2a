package models

import (
	"fmt"
	"time"
)

// Activity sources known to the bundled catalog. Feature plugins may record
// events under any other source name.
const (
	SourceChatMessages     = "chat_messages"
	SourceStoryCompletions = "story_completions"
	SourceQuizResults      = "quiz_results"
	SourceSessions         = "sessions"
	SourceDashboardVisits  = "dashboard_visits"
)

// Event is one entry of a user's activity history.
type Event struct {
	ID         string                 `json:"id" db:"id"`
	UserID     string                 `json:"user_id" db:"user_id" validate:"required,max=200"`
	Source     string                 `json:"source" db:"source" validate:"required,max=100"`
	OccurredAt time.Time              `json:"occurred_at" db:"occurred_at"`
	Attributes map[string]interface{} `json:"attributes,omitempty" db:"attributes"`
}

// Matches reports whether every filter entry equals the string form of the
// corresponding attribute.
func (e Event) Matches(filter map[string]string) bool {
	for key, want := range filter {
		got, ok := e.Attributes[key]
		if !ok || got == nil {
			return false
		}
		if AttributeString(got) != want {
			return false
		}
	}
	return true
}

// AttributeString renders an attribute value the way filters compare it.
// JSON numbers decode as float64, so integral floats drop their fraction.
func AttributeString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case float32:
		return AttributeString(float64(t))
	default:
		return fmt.Sprint(t)
	}
}

var sourceTriggers = map[string]TriggerType{
	SourceChatMessages:     TriggerChatMessage,
	SourceStoryCompletions: TriggerStoryCompleted,
	SourceQuizResults:      TriggerQuizCompleted,
	SourceSessions:         TriggerSessionCompleted,
	SourceDashboardVisits:  TriggerDashboardVisit,
}

// TriggerForSource returns the trigger fired by recording an event under
// source. Unknown sources trigger rules named after the source itself.
func TriggerForSource(source string) TriggerType {
	if trigger, ok := sourceTriggers[source]; ok {
		return trigger
	}
	return TriggerType(source)
}
