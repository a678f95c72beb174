package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-progress/config"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/memory"
)

func TestGetOverview_NewLearner(t *testing.T) {
	cat := newTestCatalog(t)
	h := NewGetOverviewHandler(cat, memory.NewStore(), nil, nil, newClock(), nil)

	res, err := h.Handle(context.Background(), GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 0, res.TotalXP)
	assert.Equal(t, 100, res.XPToNextLevel)
	assert.Equal(t, 0, res.LessonsCompleted)
	assert.Equal(t, 5, res.LessonsTotal)
	assert.Equal(t, 0, res.TopicsCompleted)
	assert.Equal(t, 2, res.TopicsTotal)
	assert.Zero(t, res.AverageScore)
	assert.Zero(t, res.CurrentStreak)
}

func TestGetOverview_Aggregates(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	store := memory.NewStore()

	seedAttempt(t, store, cat, "u1", "g1", 1, 80, testNow.AddDate(0, 0, -2))
	seedAttempt(t, store, cat, "u1", "g2", 1, 40, testNow.AddDate(0, 0, -1))
	seedAttempt(t, store, cat, "u1", "g2", 2, 90, testNow.AddDate(0, 0, -1))
	seedAttempt(t, store, cat, "u1", "g3", 1, 100, testNow.AddDate(0, 0, -1))

	err := store.Do(ctx, func(tx learning.Store) error {
		o, _ := tx.Overall().GetForUpdate(ctx, "u1")
		o.Award(150, testNow)
		if err := tx.Overall().Save(ctx, o); err != nil {
			return err
		}
		return tx.Streaks().Save(ctx, &learning.Streak{
			LearnerID:        "u1",
			CurrentStreak:    3,
			LongestStreak:    5,
			LastActivityDate: day(2024, 5, 7),
		})
	})
	require.NoError(t, err)

	h := NewGetOverviewHandler(cat, store, nil, nil, newClock(), nil)
	res, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Level)
	assert.Equal(t, 150, res.TotalXP)
	assert.Equal(t, 150, res.XPToNextLevel)
	assert.Equal(t, 3, res.LessonsCompleted)
	assert.Equal(t, 1, res.TopicsCompleted)
	assert.Equal(t, 60.0, res.CompletionPercentage)
	assert.Equal(t, 90.0, res.AverageScore)
	// four attempts of three minutes each
	assert.Equal(t, 12, res.TotalStudyMinutes)
	assert.Equal(t, 3, res.CurrentStreak)
	assert.Equal(t, 5, res.LongestStreak)
}

func TestGetOverview_BrokenStreakReadsAsZero(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Streaks().Save(ctx, &learning.Streak{
		LearnerID:        "u1",
		CurrentStreak:    4,
		LongestStreak:    4,
		LastActivityDate: day(2024, 5, 5),
	}))

	h := NewGetOverviewHandler(newTestCatalog(t), store, nil, nil, newClock(), nil)
	res, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.CurrentStreak)
	assert.Equal(t, 4, res.LongestStreak)

	s, err := store.Streaks().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, s.CurrentStreak, "reading must not reset the stored streak")
}

func TestGetOverview_Cache(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	store := memory.NewStore()
	cache := newFakeCache()
	h := NewGetOverviewHandler(cat, store, cache, flags{config.FeatureOverviewCache: true}, newClock(), nil)

	first, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	seedAttempt(t, store, cat, "u1", "g1", 1, 80, testNow)

	cached, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Same(t, first, cached)

	require.NoError(t, cache.Invalidate(ctx, "u1"))
	fresh, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.LessonsCompleted)
}

func TestGetOverview_ComputeBeforeInvalidationIsNotServed(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	store := memory.NewStore()
	cache := newFakeCache()
	h := NewGetOverviewHandler(cat, store, cache, nil, newClock(), nil)

	// the completion commits and invalidates after the overview was computed
	// but before it reaches the cache
	cache.beforeSet = func() {
		seedAttempt(t, store, cat, "u1", "g1", 1, 80, testNow)
		require.NoError(t, cache.Invalidate(ctx, "u1"))
	}
	stale, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, stale.LessonsCompleted)

	fresh, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.LessonsCompleted)
	assert.Equal(t, 2, cache.sets)

	cached, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Same(t, fresh, cached)
}

// gatedCatalog holds ListActiveTopics until release is closed, then fails
// with the caller's context error if there is one.
type gatedCatalog struct {
	learning.ContentCatalog
	entered chan struct{}
	release chan struct{}
}

func (c *gatedCatalog) ListActiveTopics(ctx context.Context) ([]*learning.Topic, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-c.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ContentCatalog.ListActiveTopics(ctx)
}

func TestGetOverview_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	cat := &gatedCatalog{
		ContentCatalog: newTestCatalog(t),
		entered:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
	h := NewGetOverviewHandler(cat, memory.NewStore(), nil, nil, newClock(), nil)

	type outcome struct {
		res *GetOverviewResult
		err error
	}
	run := func(ctx context.Context) <-chan outcome {
		out := make(chan outcome, 1)
		go func() {
			res, err := h.Handle(ctx, GetOverviewQuery{LearnerID: "u1"})
			out <- outcome{res, err}
		}()
		return out
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	first := run(firstCtx)
	<-cat.entered
	second := run(context.Background())
	time.Sleep(20 * time.Millisecond)

	cancel()
	got := <-first
	assert.ErrorIs(t, got.err, context.Canceled)

	close(cat.release)
	got = <-second
	require.NoError(t, got.err)
	assert.Equal(t, 5, got.res.LessonsTotal)
}

func TestGetOverview_CacheFlagOff(t *testing.T) {
	cache := newFakeCache()
	h := NewGetOverviewHandler(newTestCatalog(t), memory.NewStore(), cache, flags{}, newClock(), nil)

	_, err := h.Handle(context.Background(), GetOverviewQuery{LearnerID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, cache.gets)
	assert.Zero(t, cache.sets)
}

func TestGetOverview_Validation(t *testing.T) {
	h := NewGetOverviewHandler(newTestCatalog(t), memory.NewStore(), nil, nil, newClock(), nil)
	_, err := h.Handle(context.Background(), GetOverviewQuery{})
	assert.True(t, shared.IsValidation(err))
}
