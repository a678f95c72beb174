package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/internal/infrastructure/catalog"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

// Wednesday.
var testNow = time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type flags map[string]bool

func (f flags) Enabled(name, _ string) bool { return f[name] }

// fakeCache models the versioned Redis cache: entries written under a stale
// version are never returned.
type fakeCache struct {
	mu       sync.Mutex
	versions map[string]int64
	entries  map[string]cachedOverview
	gets     int
	sets     int

	// beforeSet runs once, ahead of the next Set.
	beforeSet func()
}

type cachedOverview struct {
	version  int64
	overview *GetOverviewResult
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		versions: make(map[string]int64),
		entries:  make(map[string]cachedOverview),
	}
}

func (c *fakeCache) Get(_ context.Context, learnerID string) (*GetOverviewResult, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v := c.versions[learnerID]
	if e, ok := c.entries[learnerID]; ok && e.version == v {
		return e.overview, v, nil
	}
	return nil, v, nil
}

func (c *fakeCache) Set(_ context.Context, learnerID string, version int64, o *GetOverviewResult) error {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[learnerID] = cachedOverview{version: version, overview: o}
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, learnerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[learnerID]++
	return nil
}

func newTestCatalog(t *testing.T) *catalog.Static {
	t.Helper()
	cat, err := catalog.NewStatic(
		[]*learning.Topic{
			{ID: "greetings", Name: "Greetings", Icon: "👋", Order: 1, Active: true},
			{ID: "speaking", Name: "Speaking", Order: 2, Active: true},
		},
		[]*learning.Lesson{
			{ID: "g1", TopicID: "greetings", Title: "Hello", Kind: learning.KindMatching, Order: 1, Active: true},
			{ID: "g2", TopicID: "greetings", Title: "Goodbye", Kind: learning.KindMatching, Order: 2, Active: true},
			{ID: "g3", TopicID: "greetings", Title: "Please", Kind: learning.KindMatching, Order: 3, Active: true},
			{ID: "s1", TopicID: "speaking", Title: "Vowels", Kind: learning.KindPronunciation, Order: 1, Active: true},
			{ID: "s2", TopicID: "speaking", Title: "Cafe", Kind: learning.KindConversation, Order: 2, Active: true},
		},
	)
	require.NoError(t, err)
	return cat
}

// seedAttempt stores a completed attempt and the matching lesson progress.
func seedAttempt(t *testing.T, s *memory.Store, cat *catalog.Static, learner, lesson string, number int, score float64, at time.Time) *learning.Attempt {
	t.Helper()
	ctx := context.Background()

	l, err := cat.GetLesson(ctx, learning.LessonID(lesson))
	require.NoError(t, err)

	a, err := learning.NewAttempt(shared.LearnerID(learner), l, number, at)
	require.NoError(t, err)
	passed := l.IsPassing(score)

	err = s.Do(ctx, func(tx learning.Store) error {
		if err := tx.Attempts().Create(ctx, a); err != nil {
			return err
		}
		require.NoError(t, a.Complete(score, passed, "", at.Add(3*time.Minute)))
		if err := tx.Attempts().MarkCompleted(ctx, a); err != nil {
			return err
		}

		p, err := tx.LessonProgress().GetForUpdate(ctx, a.LearnerID, l.ID)
		if err != nil {
			p = learning.NewLessonProgress(a.LearnerID, l, learning.StatusAvailable, at)
		}
		require.NoError(t, p.RecordStart(at))
		p.RecordResult(score, passed, at)
		return tx.LessonProgress().Save(ctx, p)
	})
	require.NoError(t, err)
	return a
}

func newClock() *timeutil.FixedClock {
	return timeutil.NewFixedClock(testNow)
}
