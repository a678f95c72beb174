package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

func TestConfig_PoolConfig(t *testing.T) {
	t.Run("requires url", func(t *testing.T) {
		_, err := Config{}.PoolConfig()
		assert.ErrorIs(t, err, ErrMissingURL)
	})

	t.Run("fills defaults", func(t *testing.T) {
		pc, err := Config{URL: "postgres://u:p@localhost:5432/progress?sslmode=disable"}.PoolConfig()
		require.NoError(t, err)
		assert.Equal(t, int32(10), pc.MaxConns)
		assert.Equal(t, int32(2), pc.MinConns)
		assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	})

	t.Run("min never exceeds max", func(t *testing.T) {
		pc, err := Config{URL: "postgres://localhost/progress", MaxConns: 1, MinConns: 5}.PoolConfig()
		require.NoError(t, err)
		assert.Equal(t, int32(1), pc.MaxConns)
		assert.Equal(t, int32(1), pc.MinConns)
	})
}

func TestMigrations_Embedded(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.Up, "version %d", m.Version)
		assert.NotEmpty(t, m.Down, "version %d", m.Version)
	}
	assert.Equal(t, "create_progress", migrations[0].Name)
}

func TestParseMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.up.sql":   {Data: []byte("CREATE TABLE b ();")},
		"m/001_a.up.sql":   {Data: []byte("CREATE TABLE a ();")},
		"m/001_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/README.md":      {Data: []byte("ignored")},
	}
	ms, err := parseMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, Migration{Version: 1, Name: "a", Up: "CREATE TABLE a ();", Down: "DROP TABLE a;"}, ms[0])
	assert.Equal(t, 2, ms[1].Version)
	assert.Empty(t, ms[1].Down)

	fsys["m/x_c.up.sql"] = &fstest.MapFile{Data: []byte("SELECT 1")}
	_, err = parseMigrations(fsys, "m")
	assert.ErrorIs(t, err, ErrMigrationFailed)
}

func TestMigrator_Pending(t *testing.T) {
	m := NewMigrator(nil, []Migration{{Version: 3}, {Version: 1}, {Version: 2}})

	pending := m.pending(map[int]time.Time{2: time.Now()})
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Version)
	assert.Equal(t, 3, pending[1].Version)
}

func TestErrorHelpers(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	deadlock := &pgconn.PgError{Code: "40P01"}

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(deadlock))
	assert.True(t, IsSerializationConflict(deadlock))
	assert.True(t, IsSerializationConflict(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsSerializationConflict(unique))

	assert.True(t, isTransient(deadlock))
	assert.True(t, isTransient(fmt.Errorf("taken: %w", shared.ErrConcurrentModification)))
	assert.False(t, isTransient(learning.ErrAttemptAlreadyCompleted))
}

func TestVocabularyItemsEncoding(t *testing.T) {
	data, err := encodeVocabularyItems(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	items := []learning.VocabularyOutcome{{VocabularyID: "hello", Correct: true}, {VocabularyID: "bye"}}
	data, err = encodeVocabularyItems(items)
	require.NoError(t, err)

	decoded, err := decodeVocabularyItems(data)
	require.NoError(t, err)
	assert.Equal(t, items, decoded)

	empty, err := decodeVocabularyItems([]byte(`[]`))
	require.NoError(t, err)
	assert.Nil(t, empty)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION (requires POSTGRES_TEST_URL)
// ══════════════════════════════════════════════════════════════════════════════

func newIntegrationStore(t *testing.T) (*Store, shared.LearnerID) {
	t.Helper()

	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnectionFromURL(ctx, url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	migrations, err := Migrations()
	require.NoError(t, err)
	_, err = NewMigrator(conn, migrations).Migrate(ctx)
	require.NoError(t, err)

	return NewStore(conn, nil), shared.LearnerID("it-" + learning.NewAttemptID().String())
}

func TestStore_AttemptLifecycle(t *testing.T) {
	store, learner := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	lesson := &learning.Lesson{ID: "it-lesson", TopicID: "it-topic", Kind: learning.KindMatching, Order: 1, Active: true}

	first, err := learning.NewAttempt(learner, lesson, 1, now)
	require.NoError(t, err)
	require.NoError(t, store.Attempts().Create(ctx, first))

	dup, err := learning.NewAttempt(learner, lesson, 1, now)
	require.NoError(t, err)
	err = store.Attempts().Create(ctx, dup)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)

	require.NoError(t, first.RecordMatching(learning.MatchingInput{Correct: 8, Total: 10},
		[]learning.VocabularyOutcome{{VocabularyID: "hello", Correct: true}}))
	require.NoError(t, store.Attempts().SaveInputs(ctx, first))

	require.NoError(t, first.Complete(80, true, "", now.Add(2*time.Minute)))
	require.NoError(t, store.Attempts().MarkCompleted(ctx, first))
	assert.ErrorIs(t, store.Attempts().MarkCompleted(ctx, first), learning.ErrAttemptAlreadyCompleted)

	got, err := store.Attempts().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, 80.0, got.Score())
	assert.Equal(t, 8, got.Matching.Correct)
	assert.Len(t, got.VocabularyItems, 1)

	stats, err := store.Attempts().Stats(ctx, learner)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PassedCount)
	assert.Equal(t, 120, stats.TotalDurationSeconds)
}

func TestStore_DailyAccumulateAndRollback(t *testing.T) {
	store, learner := newIntegrationStore(t)
	ctx := context.Background()
	day := shared.Day(time.Now())

	for i := 0; i < 2; i++ {
		_, err := store.DailyStats().Accumulate(ctx, learner, day, learning.DailyDelta{Minutes: 3, XP: 10, LessonCompleted: true})
		require.NoError(t, err)
	}

	boom := fmt.Errorf("boom")
	err := store.Do(ctx, func(tx learning.Store) error {
		if _, err := tx.DailyStats().Accumulate(ctx, learner, day, learning.DailyDelta{Minutes: 100}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stats, err := store.DailyStats().ListRange(ctx, learner, shared.LastNDays(day, 1))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Sessions)
	assert.Equal(t, 6, stats[0].MinutesStudied)
	assert.Equal(t, 20, stats[0].XPEarned)
	assert.Equal(t, 2, stats[0].LessonsCompleted)
}

func TestStore_StreakAndOverallCreatedOnLock(t *testing.T) {
	store, learner := newIntegrationStore(t)
	ctx := context.Background()
	today := shared.Day(time.Now())

	err := store.Do(ctx, func(tx learning.Store) error {
		streak, err := tx.Streaks().GetForUpdate(ctx, learner)
		if err != nil {
			return err
		}
		streak.Touch(today)
		if err := tx.Streaks().Save(ctx, streak); err != nil {
			return err
		}

		overall, err := tx.Overall().GetForUpdate(ctx, learner)
		if err != nil {
			return err
		}
		overall.Award(150, time.Now())
		return tx.Overall().Save(ctx, overall)
	})
	require.NoError(t, err)

	streak, err := store.Streaks().Get(ctx, learner)
	require.NoError(t, err)
	assert.Equal(t, 1, streak.CurrentStreak)
	assert.True(t, streak.LearnedOn(today))

	overall, err := store.Overall().Get(ctx, learner)
	require.NoError(t, err)
	assert.Equal(t, 150, overall.TotalXP.Int())
	assert.Equal(t, shared.Level(2), overall.Level)
}
