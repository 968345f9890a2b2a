// Package evaluator scores a single rule for a single user.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"badgehub/internal/activity"
	"badgehub/internal/models"

	"go.uber.org/zap"
)

// Evaluator computes rule results from activity history. It holds only
// read-only dependencies, so the same inputs always give the same result.
type Evaluator struct {
	source   activity.Source
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the clock used to find "today" for streaks.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone whose calendar days streaks count.
func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an evaluator reading from source. Streaks default to UTC.
func New(source activity.Source, opts ...Option) *Evaluator {
	e := &Evaluator{
		source:   source,
		location: time.UTC,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores rule for userID. Unreadable activity, a missing or
// invalid context value and unknown rule kinds all yield a not-awarded
// result with zero progress; they are never returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, rule models.Rule, userID string, triggerContext map[string]interface{}) models.EvaluationResult {
	eval := rule.Evaluation

	var (
		current int
		err     error
	)
	switch eval.Kind {
	case models.EvaluationCount:
		current, err = e.count(ctx, userID, eval)
	case models.EvaluationStreak:
		current, err = e.streak(ctx, userID, eval)
	case models.EvaluationMaxScore:
		current, err = maxScore(eval, triggerContext)
	default:
		err = fmt.Errorf("unknown evaluation kind %q", eval.Kind)
	}

	if err != nil {
		e.logger.Debug("Rule evaluation failed",
			zap.String("user_id", userID),
			zap.String("badge_id", rule.BadgeID),
			zap.String("kind", string(eval.Kind)),
			zap.Error(err),
		)
		return models.EvaluationResult{Awarded: false, Current: 0, Required: eval.Threshold}
	}

	return models.EvaluationResult{
		Awarded:  eval.Threshold > 0 && current >= eval.Threshold,
		Current:  current,
		Required: eval.Threshold,
	}
}

// EvaluateAll scores rules in order for one user. When the source supports
// snapshots, every backend is read at most once for the whole pass.
func (e *Evaluator) EvaluateAll(ctx context.Context, rules []models.Rule, userID string, triggerContext map[string]interface{}) []models.EvaluationResult {
	pass := e
	if snapshotter, ok := e.source.(activity.Snapshotter); ok {
		scoped := *e
		scoped.source = snapshotter.Snapshot(userID)
		pass = &scoped
	}

	results := make([]models.EvaluationResult, len(rules))
	for i, rule := range rules {
		results[i] = pass.Evaluate(ctx, rule, userID, triggerContext)
	}
	return results
}

func (e *Evaluator) count(ctx context.Context, userID string, eval models.Evaluation) (int, error) {
	if eval.Source == "" {
		return 0, errors.New("count rule has no source")
	}
	events, err := e.source.GetEventsForUser(ctx, userID, eval.Source, eval.Filter)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", eval.Source, err)
	}
	return len(events), nil
}

// streak counts consecutive calendar days with activity, walking back from
// today. A quiet today does not break the streak; the first quiet day
// before it does.
func (e *Evaluator) streak(ctx context.Context, userID string, eval models.Evaluation) (int, error) {
	events, err := e.source.GetEventsForUser(ctx, userID, eval.Source, eval.Filter)
	if err != nil {
		return 0, fmt.Errorf("read activity: %w", err)
	}

	active := make(map[string]struct{}, len(events))
	for _, ev := range events {
		active[dayKey(ev.OccurredAt.In(e.location))] = struct{}{}
	}

	now := e.now().In(e.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location)

	streak := 0
	if _, ok := active[dayKey(today)]; ok {
		streak++
	}
	for offset := 1; offset <= len(active); offset++ {
		if _, ok := active[dayKey(today.AddDate(0, 0, -offset))]; !ok {
			break
		}
		streak++
	}
	return streak, nil
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func maxScore(eval models.Evaluation, triggerContext map[string]interface{}) (int, error) {
	field := eval.ScoreField()
	raw, ok := triggerContext[field]
	if !ok || raw == nil {
		return 0, fmt.Errorf("trigger context has no %q", field)
	}
	score, err := toFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("trigger context %q: %w", field, err)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("trigger context %q is not finite", field)
	}
	return clampScore(score), nil
}

// clampScore floors score into [0, math.MaxInt].
func clampScore(score float64) int {
	switch {
	case score <= 0:
		return 0
	case score >= float64(math.MaxInt):
		return math.MaxInt
	default:
		return int(math.Floor(score))
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported score type %T", v)
	}
}
