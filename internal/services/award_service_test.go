package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"badgehub/internal/activity"
	"badgehub/internal/config"
	"badgehub/internal/database"
	"badgehub/internal/evaluator"
	"badgehub/internal/events"
	"badgehub/internal/models"
	"badgehub/internal/queue"
	"badgehub/internal/remote"
	"badgehub/internal/remote/remotetest"
	"badgehub/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type staticCatalog []models.Rule

func (c staticCatalog) LoadRules(context.Context) ([]models.Rule, error) {
	return append([]models.Rule(nil), c...), nil
}

// recordingEvaluator wraps an evaluator and records the badges it saw.
type recordingEvaluator struct {
	next   RuleEvaluator
	mu     sync.Mutex
	seen   []string
	before func(rule models.Rule)
}

func (r *recordingEvaluator) EvaluateAll(ctx context.Context, rules []models.Rule, userID string, triggerContext map[string]interface{}) []models.EvaluationResult {
	r.mu.Lock()
	before := r.before
	for _, rule := range rules {
		r.seen = append(r.seen, rule.BadgeID)
	}
	r.mu.Unlock()
	if before != nil {
		for _, rule := range rules {
			before(rule)
		}
	}
	return r.next.EvaluateAll(ctx, rules, userID, triggerContext)
}

func (r *recordingEvaluator) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

type fixture struct {
	store     *database.LocalStore
	repos     *repositories.Collection
	queue     *queue.Queue
	remote    *remotetest.Fake
	bus       events.EventBus
	evaluator *recordingEvaluator
	service   AwardService
	announced int32
}

func priority(p int) *int { return &p }

func countRule(badgeID string, trigger models.TriggerType, source string, threshold int, prio *int) models.Rule {
	return models.Rule{
		BadgeID:     badgeID,
		Name:        badgeID,
		TriggerType: trigger,
		Priority:    prio,
		Evaluation: models.Evaluation{
			Kind:      models.EvaluationCount,
			Source:    source,
			Threshold: threshold,
		},
	}
}

func newFixture(t *testing.T, rules ...models.Rule) *fixture {
	t.Helper()

	store, err := database.OpenLocal(config.LocalStoreConfig{
		Path: filepath.Join(t.TempDir(), "awards.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repos, err := repositories.NewCollection(store, nil)
	require.NoError(t, err)

	f := &fixture{
		store:  store,
		repos:  repos,
		queue:  queue.New(repos.Queue, queue.Config{OperationTimeout: time.Second}, nil),
		remote: remotetest.New(),
		bus:    events.NewEventBus(nil, nil),
	}
	f.evaluator = &recordingEvaluator{
		next: evaluator.New(activity.NewLocalSource(repos.Activity),
			evaluator.WithClock(func() time.Time { return testNow }),
		),
	}

	require.NoError(t, f.bus.Subscribe(events.EventTypeBadgeAwarded,
		events.NewTypedEventHandler("test_counter", func(ctx context.Context, event *events.BadgeAwardedEvent) error {
			atomic.AddInt32(&f.announced, 1)
			return nil
		}),
	))

	f.service = NewAwardService(repos, staticCatalog(rules), f.evaluator, f.queue, f.remote, f.bus, nil, nil,
		&AwardServiceConfig{
			RemoteTimeout: 200 * time.Millisecond,
			Clock:         func() time.Time { return testNow },
		},
	)
	return f
}

func (f *fixture) record(t *testing.T, userID, source string, at time.Time, attrs map[string]interface{}) {
	t.Helper()
	id := source + "-" + at.Format(time.RFC3339Nano)
	require.NoError(t, f.repos.Activity.Record(context.Background(), nil, &models.Event{
		ID:         id,
		UserID:     userID,
		Source:     source,
		OccurredAt: at,
		Attributes: attrs,
	}))
}

func (f *fixture) pendingKinds(t *testing.T) map[models.OperationKind]int {
	t.Helper()
	pending, err := f.queue.Pending(context.Background())
	require.NoError(t, err)
	kinds := make(map[models.OperationKind]int)
	for _, op := range pending {
		kinds[op.Kind]++
	}
	return kinds
}

func TestEvaluateAndAwardIsAtMostOnce(t *testing.T) {
	f := newFixture(t, countRule("first-words", models.TriggerChatMessage, models.SourceChatMessages, 1, nil))
	ctx := context.Background()
	f.record(t, "u1", models.SourceChatMessages, testNow.Add(-time.Minute), nil)

	awards, err := f.service.EvaluateAndAward(ctx, "u1", models.TriggerChatMessage, nil)
	require.NoError(t, err)
	require.Len(t, awards, 1)
	assert.Equal(t, "first-words", awards[0].BadgeID)
	assert.Equal(t, testNow, awards[0].AwardedAt)

	again, err := f.service.EvaluateAndAward(ctx, "u1", models.TriggerChatMessage, nil)
	require.NoError(t, err)
	assert.Empty(t, again)

	stored, err := f.service.GetAwards(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.announced))

	assert.True(t, f.remote.HasAward("u1", "first-words"))
	assert.Zero(t, f.pendingKinds(t)[models.OperationAwardUpsert], "pushed award must leave the outbox")
}

func TestConcurrentEvaluationAwardsOnce(t *testing.T) {
	f := newFixture(t,
		countRule("first-words", models.TriggerChatMessage, models.SourceChatMessages, 1, nil),
		countRule("chatterbox", models.TriggerChatMessage, models.SourceChatMessages, 1, priority(5)),
	)
	f.record(t, "u1", models.SourceChatMessages, testNow.Add(-time.Minute), nil)

	const callers = 16
	var (
		wg    sync.WaitGroup
		total int32
		errs  = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			awards, err := f.service.EvaluateAndAward(context.Background(), "u1", models.TriggerChatMessage, nil)
			if err != nil {
				errs <- err
				return
			}
			atomic.AddInt32(&total, int32(len(awards)))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&total))
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.announced))

	count, err := f.repos.Award.CountByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Zero(t, f.service.(*awardService).locks.size())
}

func TestRulesEvaluateInPriorityOrder(t *testing.T) {
	f := newFixture(t,
		countRule("c", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil),
		countRule("a", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, priority(2)),
		countRule("b", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, priority(1)),
		countRule("other", models.TriggerQuizCompleted, models.SourceQuizResults, 1, priority(0)),
	)
	f.record(t, "u1", models.SourceStoryCompletions, testNow.Add(-time.Hour), nil)

	awards, err := f.service.EvaluateAndAward(context.Background(), "u1", models.TriggerStoryCompleted, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, f.evaluator.order())
	assert.Equal(t, []string{"b", "a", "c"}, badgeIDs(awards))
}

func TestEqualPrioritiesKeepCatalogOrder(t *testing.T) {
	rules := []models.Rule{
		countRule("x", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, priority(3)),
		countRule("y", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, priority(3)),
		countRule("z", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, priority(models.DefaultPriority)),
		countRule("w", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil),
	}
	selected := selectRules(rules, models.TriggerStoryCompleted)

	ids := make([]string, len(selected))
	for i, rule := range selected {
		ids[i] = rule.BadgeID
	}
	assert.Equal(t, []string{"x", "y", "z", "w"}, ids)
}

func TestAwardSurvivesRemoteOutage(t *testing.T) {
	f := newFixture(t, countRule("first-story", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil))
	ctx := context.Background()
	f.record(t, "u1", models.SourceStoryCompletions, testNow.Add(-time.Minute), nil)
	f.remote.FailWrites(remotetest.ErrUnavailable)

	awards, err := f.service.EvaluateAndAward(ctx, "u1", models.TriggerStoryCompleted, map[string]interface{}{"storyId": "s-1"})
	require.NoError(t, err)
	require.Len(t, awards, 1)

	stored, err := f.repos.Award.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, f.remote.HasAward("u1", "first-story"))

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	var queued models.Award
	for _, op := range pending {
		if op.Kind == models.OperationAwardUpsert {
			require.NoError(t, json.Unmarshal(op.Payload, &queued))
		}
	}
	assert.Equal(t, "first-story", queued.BadgeID)
	assert.Equal(t, "s-1", queued.Context["storyId"])

	f.remote.FailWrites(nil)
	_, remaining, err := f.queue.Flush(ctx, f.remote)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.True(t, f.remote.HasAward("u1", "first-story"))
}

func TestSlowRemoteDoesNotBlockAward(t *testing.T) {
	f := newFixture(t, countRule("first-story", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil))
	f.record(t, "u1", models.SourceStoryCompletions, testNow.Add(-time.Minute), nil)
	f.remote.SetDelay(10 * time.Second)

	start := time.Now()
	awards, err := f.service.EvaluateAndAward(context.Background(), "u1", models.TriggerStoryCompleted, nil)
	require.NoError(t, err)
	assert.Len(t, awards, 1)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, f.pendingKinds(t)[models.OperationAwardUpsert])
}

func TestSelectRulesOrdersExtremePriorities(t *testing.T) {
	rules := []models.Rule{
		countRule("max", models.TriggerChatMessage, models.SourceChatMessages, 1, priority(math.MaxInt)),
		countRule("unset", models.TriggerChatMessage, models.SourceChatMessages, 1, nil),
		countRule("min", models.TriggerChatMessage, models.SourceChatMessages, 1, priority(math.MinInt)),
		countRule("after-default", models.TriggerChatMessage, models.SourceChatMessages, 1, priority(models.DefaultPriority+1)),
		countRule("other-trigger", models.TriggerQuizCompleted, models.SourceQuizResults, 1, priority(0)),
		countRule("before-default", models.TriggerChatMessage, models.SourceChatMessages, 1, priority(models.DefaultPriority-1)),
	}

	var order []string
	for _, rule := range selectRules(rules, models.TriggerChatMessage) {
		order = append(order, rule.BadgeID)
	}
	assert.Equal(t, []string{"min", "before-default", "unset", "after-default", "max"}, order)
}

func TestHangingRemoteCostsOneTimeoutPerCall(t *testing.T) {
	const remoteTimeout = 100 * time.Millisecond

	var rules []models.Rule
	for i := 0; i < 5; i++ {
		rules = append(rules, countRule(fmt.Sprintf("story-%d", i), models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil))
	}
	f := newFixture(t, rules...)
	f.record(t, "u1", models.SourceStoryCompletions, testNow.Add(-time.Minute), nil)
	f.remote.SetDelay(10 * time.Second)

	source := newActivitySource(f.repos.Activity, remote.WithTimeout(f.remote, remoteTimeout), func() bool { return true }, nil)
	service := NewAwardService(f.repos, staticCatalog(rules),
		evaluator.New(source, evaluator.WithClock(func() time.Time { return testNow })),
		f.queue, f.remote, f.bus, nil, nil,
		&AwardServiceConfig{RemoteTimeout: remoteTimeout, Clock: func() time.Time { return testNow }},
	)

	start := time.Now()
	awards, err := service.EvaluateAndAward(context.Background(), "u1", models.TriggerStoryCompleted, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, awards, 5)
	// One activity read and one push window, not one per rule or award.
	assert.Less(t, elapsed, 4*remoteTimeout)
	assert.Equal(t, 5, f.pendingKinds(t)[models.OperationAwardUpsert])
}

func TestCanceledEvaluationCommitsNothing(t *testing.T) {
	f := newFixture(t, countRule("first-story", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil))
	f.record(t, "u1", models.SourceStoryCompletions, testNow.Add(-time.Minute), nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.evaluator.before = func(models.Rule) { cancel() }

	awards, err := f.service.EvaluateAndAward(ctx, "u1", models.TriggerStoryCompleted, nil)
	require.Error(t, err)
	assert.Nil(t, awards)
	assert.True(t, IsErrorType(err, ErrorTypeCanceled))

	count, err := f.repos.Award.CountByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.pendingKinds(t))
	assert.Zero(t, atomic.LoadInt32(&f.announced))
}

func TestTriggerContextIsStampedAndNotMutated(t *testing.T) {
	f := newFixture(t, models.Rule{
		BadgeID:     "quiz-ace",
		TriggerType: models.TriggerQuizCompleted,
		Evaluation:  models.Evaluation{Kind: models.EvaluationMaxScore, Threshold: 90},
	})
	input := map[string]interface{}{"score": 95, "trigger": "spoofed"}

	awards, err := f.service.EvaluateAndAward(context.Background(), "u1", models.TriggerQuizCompleted, input)
	require.NoError(t, err)
	require.Len(t, awards, 1)

	assert.Equal(t, string(models.TriggerQuizCompleted), awards[0].Context[models.ContextKeyTrigger])
	assert.Equal(t, 95, awards[0].Context["score"])
	assert.Equal(t, "spoofed", input["trigger"])
}

func TestProgressTracksUnmetRules(t *testing.T) {
	f := newFixture(t,
		countRule("storyteller", models.TriggerStoryCompleted, models.SourceStoryCompletions, 5, priority(2)),
		countRule("first-story", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, priority(1)),
	)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		f.record(t, "u1", models.SourceStoryCompletions, testNow.Add(-time.Duration(i)*time.Hour), nil)
	}

	awards, err := f.service.EvaluateAndAward(ctx, "u1", models.TriggerStoryCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first-story"}, badgeIDs(awards))

	progress, err := f.service.GetProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, "storyteller", progress[0].BadgeID)
	assert.Equal(t, 4, progress[0].Current)
	assert.Equal(t, 5, progress[0].Required)

	// Unchanged progress is not queued again.
	before := f.pendingKinds(t)[models.OperationProgressUpsert]
	_, err = f.service.EvaluateAndAward(ctx, "u1", models.TriggerStoryCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, before, f.pendingKinds(t)[models.OperationProgressUpsert])

	f.record(t, "u1", models.SourceStoryCompletions, testNow.Add(-time.Minute), nil)
	awards, err = f.service.EvaluateAndAward(ctx, "u1", models.TriggerStoryCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"storyteller"}, badgeIDs(awards))

	progress, err = f.service.GetProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, progress)
}

func TestSeedsBootstrapFirstEvaluationOnly(t *testing.T) {
	f := newFixture(t, countRule("first-story", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil))
	ctx := context.Background()

	require.NoError(t, f.service.SeedAwards(ctx, []models.AwardSeed{
		{UserID: "legacy", BadgeID: "early-adopter", Context: map[string]interface{}{"source": "migration"}},
		{UserID: "legacy", BadgeID: "first-story"},
	}))

	awards, err := f.service.EvaluateAndAward(ctx, "legacy", models.TriggerStoryCompleted, nil)
	require.NoError(t, err)
	assert.Empty(t, awards, "seeded awards are not announced")
	assert.Zero(t, atomic.LoadInt32(&f.announced))

	stored, err := f.service.GetAwards(ctx, "legacy")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"early-adopter", "first-story"}, badgeIDs(stored))
	assert.Equal(t, 2, f.pendingKinds(t)[models.OperationAwardUpsert])

	// The seeded badge is owned, so its rule is skipped.
	assert.NotContains(t, f.evaluator.order(), "first-story")
}

func TestSeedAwardsRejectsInvalidSeed(t *testing.T) {
	f := newFixture(t)

	err := f.service.SeedAwards(context.Background(), []models.AwardSeed{{UserID: "u1"}})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, 0, GetServiceError(err).Details["index"])
}

func TestLocalStoreFailureSurfaces(t *testing.T) {
	f := newFixture(t, countRule("first-story", models.TriggerStoryCompleted, models.SourceStoryCompletions, 1, nil))
	require.NoError(t, f.store.Close())

	_, err := f.service.EvaluateAndAward(context.Background(), "u1", models.TriggerStoryCompleted, nil)
	require.Error(t, err)
	assert.True(t, IsLocalStoreError(err))
	assert.Zero(t, f.remote.AwardCalls())
}

func TestEvaluateAndAwardValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.EvaluateAndAward(context.Background(), " ", models.TriggerChatMessage, nil)
	assert.True(t, IsValidationError(err))

	_, err = f.service.EvaluateAndAward(context.Background(), "u1", "", nil)
	assert.True(t, IsValidationError(err))
}

func TestRecordActivityStoresAndEvaluates(t *testing.T) {
	f := newFixture(t, countRule("first-words", models.TriggerChatMessage, models.SourceChatMessages, 1, nil))
	ctx := context.Background()

	resp, err := f.service.RecordActivity(ctx, &RecordActivityRequest{
		Event: models.Event{
			UserID:     "u1",
			Source:     models.SourceChatMessages,
			Attributes: map[string]interface{}{"channel": "general"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Event.ID)
	assert.Equal(t, testNow, resp.Event.OccurredAt)
	assert.Equal(t, []string{"first-words"}, badgeIDs(resp.Awards))
	assert.Equal(t, "general", resp.Awards[0].Context["channel"])
	assert.Equal(t, 1, f.pendingKinds(t)[models.OperationActivityRecord])

	events, err := f.repos.Activity.ListForUser(ctx, "u1", models.SourceChatMessages, nil)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordActivityRejectsInvalidEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RecordActivity(context.Background(), &RecordActivityRequest{
		Event: models.Event{UserID: "u1"},
	})
	assert.True(t, IsValidationError(err))

	_, err = f.service.RecordActivity(context.Background(), nil)
	assert.True(t, IsValidationError(err))
}

func TestAnalyticsRecorderQueuesAwardEvents(t *testing.T) {
	f := newFixture(t, countRule("first-words", models.TriggerChatMessage, models.SourceChatMessages, 1, nil))
	require.NoError(t, f.bus.Subscribe(events.EventTypeBadgeAwarded, NewAnalyticsRecorder(f.queue, nil)))
	f.record(t, "u1", models.SourceChatMessages, testNow.Add(-time.Minute), nil)

	_, err := f.service.EvaluateAndAward(context.Background(), "u1", models.TriggerChatMessage, nil)
	require.NoError(t, err)

	pending, err := f.queue.Pending(context.Background())
	require.NoError(t, err)
	var analytics models.AnalyticsEvent
	for _, op := range pending {
		if op.Kind == models.OperationAnalyticsEvent {
			require.NoError(t, json.Unmarshal(op.Payload, &analytics))
		}
	}
	assert.Equal(t, AnalyticsEventBadgeAwarded, analytics.Name)
	assert.Equal(t, "u1", analytics.UserID)
	assert.Equal(t, "first-words", analytics.Properties["badge_id"])
	assert.Equal(t, string(models.TriggerChatMessage), analytics.Properties["trigger"])
}

func TestGetCatalogReportsSource(t *testing.T) {
	f := newFixture(t, countRule("first-words", models.TriggerChatMessage, models.SourceChatMessages, 1, nil))

	catalog, err := f.service.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, catalog.Rules, 1)
	assert.Equal(t, "", catalog.Source)
}
