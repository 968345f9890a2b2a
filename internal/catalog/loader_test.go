package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"badgehub/internal/cache"
	"badgehub/internal/models"
	"badgehub/internal/remote"
	"badgehub/internal/remote/remotetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func remoteRules() []models.Rule {
	return []models.Rule{
		{
			BadgeID:     "remote-only",
			Name:        "Remote Only",
			TriggerType: models.TriggerChatMessage,
			Priority:    intPtr(1),
			Evaluation:  models.Evaluation{Kind: models.EvaluationCount, Source: models.SourceChatMessages, Threshold: 2},
		},
	}
}

func TestBundledCatalogIsValid(t *testing.T) {
	rules, err := Bundled()
	require.NoError(t, err)
	require.NotEmpty(t, rules)

	triggers := map[models.TriggerType]bool{}
	for _, r := range rules {
		triggers[r.TriggerType] = true
	}
	for _, tt := range []models.TriggerType{
		models.TriggerStoryCompleted,
		models.TriggerChatMessage,
		models.TriggerQuizCompleted,
		models.TriggerSessionCompleted,
		models.TriggerDashboardVisit,
	} {
		assert.True(t, triggers[tt], "no bundled rule for %s", tt)
	}
}

func TestParseRejectsMalformedCatalog(t *testing.T) {
	_, err := Parse([]byte("rules: [}"))
	assert.Error(t, err)

	_, err = Parse([]byte("version: 1\nrules: []\n"))
	assert.Error(t, err)

	_, err = Parse([]byte(`
rules:
  - badge_id: broken
    trigger_type: chat_message
    evaluation:
      kind: count
      threshold: 0
`))
	assert.Error(t, err)
}

func TestLoadRulesFallsBackToBundled(t *testing.T) {
	fake := remotetest.New()
	fake.SetCatalog(nil, errors.New("connection refused"))

	loader := NewLoader(fake, nil, Options{}, nil)
	rules, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, rules)
	assert.Equal(t, SourceBundled, loader.Source())
}

func TestLoadRulesUnconfiguredRemote(t *testing.T) {
	loader := NewLoader(remote.Unconfigured{}, nil, Options{FetchRetries: 3}, nil)
	rules, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, rules)
	assert.Equal(t, SourceBundled, loader.Source())
}

func TestLoadRulesRejectsMalformedRemote(t *testing.T) {
	fake := remotetest.New()
	bad := remoteRules()
	bad[0].Evaluation.Threshold = 0
	fake.SetCatalog(bad, nil)

	loader := NewLoader(fake, nil, Options{FetchRetries: 2}, nil)
	rules, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceBundled, loader.Source())
	assert.NotEqual(t, "remote-only", rules[0].BadgeID)
	assert.Equal(t, 1, fake.CatalogHits())
}

func TestLoadRulesUsesRemoteAndCachesForProcessLifetime(t *testing.T) {
	fake := remotetest.New()
	fake.SetCatalog(remoteRules(), nil)

	loader := NewLoader(fake, nil, Options{}, nil)
	ctx := context.Background()

	rules, err := loader.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "remote-only", rules[0].BadgeID)
	assert.Equal(t, SourceRemote, loader.Source())

	rules[0].BadgeID = "mutated"
	fake.SetCatalog(nil, errors.New("gone"))

	again, err := loader.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, "remote-only", again[0].BadgeID)
	assert.Equal(t, 1, fake.CatalogHits())
}

func TestLoadRulesUsesLastKnownGoodFromSharedCache(t *testing.T) {
	shared := cache.NewMemoryCache(nil, nil)
	defer shared.Close()
	ctx := context.Background()

	healthy := remotetest.New()
	healthy.SetCatalog(remoteRules(), nil)
	_, err := NewLoader(healthy, shared, Options{}, nil).LoadRules(ctx)
	require.NoError(t, err)

	down := remotetest.New()
	down.SetCatalog(nil, errors.New("timeout"))
	loader := NewLoader(down, shared, Options{}, nil)

	rules, err := loader.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "remote-only", rules[0].BadgeID)
	assert.Equal(t, SourceCache, loader.Source())
}

func TestLoadRulesEvictsUnusableCachedCatalog(t *testing.T) {
	tests := []struct {
		name   string
		cached []byte
	}{
		{"corrupt json", []byte("{not json")},
		{"invalid rules", []byte(`[{"badge_id":"x","trigger_type":"chat_message","evaluation":{"kind":"count","threshold":0}}]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shared := cache.NewMemoryCache(nil, nil)
			defer shared.Close()
			ctx := context.Background()
			require.NoError(t, shared.Set(ctx, CacheKey, tt.cached, time.Hour))

			down := remotetest.New()
			down.SetCatalog(nil, errors.New("timeout"))
			loader := NewLoader(down, shared, Options{}, nil)

			_, err := loader.LoadRules(ctx)
			require.NoError(t, err)
			assert.Equal(t, SourceBundled, loader.Source())

			_, found := shared.Get(ctx, CacheKey)
			assert.False(t, found, "unusable entry is evicted")
		})
	}
}

func TestLoadRulesMockCatalogSkipsRemote(t *testing.T) {
	fake := remotetest.New()
	fake.SetCatalog(remoteRules(), nil)

	loader := NewLoader(fake, nil, Options{UseMockCatalog: true}, nil)
	_, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceBundled, loader.Source())
	assert.Zero(t, fake.CatalogHits())
}

func TestLoadRulesSingleFlight(t *testing.T) {
	fake := remotetest.New()
	fake.SetCatalog(remoteRules(), nil)
	fake.SetDelay(50 * time.Millisecond)

	loader := NewLoader(fake, nil, Options{}, nil)

	const callers = 16
	var wg sync.WaitGroup
	results := make([][]models.Rule, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = loader.LoadRules(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "remote-only", results[i][0].BadgeID)
	}
	assert.Equal(t, 1, fake.CatalogHits())
}

func TestLoadRulesCorruptBundleIsNotCached(t *testing.T) {
	loader := NewLoader(remote.Unconfigured{}, nil, Options{}, nil)
	loader.bundled = func() ([]models.Rule, error) { return nil, errors.New("truncated") }

	_, err := loader.LoadRules(context.Background())
	require.Error(t, err)
	assert.Equal(t, SourceNone, loader.Source())

	loader.bundled = Bundled
	rules, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, rules)
}

func TestLoadRulesCallerCancellation(t *testing.T) {
	fake := remotetest.New()
	fake.SetCatalog(remoteRules(), nil)
	fake.SetDelay(100 * time.Millisecond)

	loader := NewLoader(fake, nil, Options{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := loader.LoadRules(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rules, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote-only", rules[0].BadgeID)
	assert.Equal(t, 1, fake.CatalogHits())
}
