package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"badgehub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSource(events []models.Event, err error) Source {
	return SourceFunc(func(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
		if err != nil {
			return nil, err
		}
		return events, nil
	})
}

func TestCompositeSourceDeduplicatesByID(t *testing.T) {
	now := time.Now()
	local := staticSource([]models.Event{{ID: "e1", OccurredAt: now}, {ID: "e2", OccurredAt: now}}, nil)
	shared := staticSource([]models.Event{{ID: "e2", OccurredAt: now}, {ID: "e3", OccurredAt: now}}, nil)

	events, err := NewCompositeSource(nil, local, shared).GetEventsForUser(context.Background(), "u1", models.SourceSessions, nil)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestCompositeSourceReturnsPartialResults(t *testing.T) {
	local := staticSource([]models.Event{{ID: "e1"}}, nil)
	down := staticSource(nil, errors.New("remote timeout"))

	events, err := NewCompositeSource(nil, local, down).GetEventsForUser(context.Background(), "u1", "", nil)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCompositeSourceFailsWhenEverySourceFails(t *testing.T) {
	boom := errors.New("corrupt")
	_, err := NewCompositeSource(nil, staticSource(nil, boom), staticSource(nil, errors.New("down"))).
		GetEventsForUser(context.Background(), "u1", "", nil)
	assert.ErrorIs(t, err, boom)
}

func TestCompositeSourceNoData(t *testing.T) {
	events, err := NewCompositeSource(nil, staticSource(nil, nil)).GetEventsForUser(context.Background(), "u1", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestSnapshotReadsEachSourceOnce(t *testing.T) {
	now := time.Now()
	var calls int
	counting := SourceFunc(func(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
		calls++
		assert.Empty(t, source)
		assert.Nil(t, filter)
		return []models.Event{
			{ID: "s1", Source: models.SourceSessions, OccurredAt: now},
			{ID: "q1", Source: models.SourceQuizResults, OccurredAt: now, Attributes: map[string]interface{}{"passed": true}},
			{ID: "q2", Source: models.SourceQuizResults, OccurredAt: now, Attributes: map[string]interface{}{"passed": false}},
		}, nil
	})

	composite := NewCompositeSource(nil, counting)
	snapshot := composite.(Snapshotter).Snapshot("u1")
	ctx := context.Background()

	sessions, err := snapshot.GetEventsForUser(ctx, "u1", models.SourceSessions, nil)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	passed, err := snapshot.GetEventsForUser(ctx, "u1", models.SourceQuizResults, map[string]string{"passed": "true"})
	require.NoError(t, err)
	require.Len(t, passed, 1)
	assert.Equal(t, "q1", passed[0].ID)

	all, err := snapshot.GetEventsForUser(ctx, "u1", "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.Equal(t, 1, calls)
}

func TestSnapshotDoesNotRetryFailedSource(t *testing.T) {
	var remoteCalls int
	local := staticSource([]models.Event{{ID: "e1", Source: models.SourceSessions}}, nil)
	slow := SourceFunc(func(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
		remoteCalls++
		return nil, context.DeadlineExceeded
	})

	snapshot := NewCompositeSource(nil, local, slow).(Snapshotter).Snapshot("u1")
	for i := 0; i < 5; i++ {
		events, err := snapshot.GetEventsForUser(context.Background(), "u1", models.SourceSessions, nil)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	}
	assert.Equal(t, 1, remoteCalls)
}

func TestWhenAvailableSkipsDownSource(t *testing.T) {
	var calls int
	next := SourceFunc(func(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
		calls++
		return []models.Event{{ID: "e1"}}, nil
	})
	up := false
	gated := WhenAvailable(next, func() bool { return up })

	_, err := gated.GetEventsForUser(context.Background(), "u1", "", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, calls)

	up = true
	events, err := gated.GetEventsForUser(context.Background(), "u1", "", nil)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
