package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE & UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// Store implements learning.Store on the pool and learning.UnitOfWork on
// transactions of the same pool.
type Store struct {
	conn    *Connection
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewStore creates a store. Transactions that lose a race (unique attempt
// number taken, serialization failure, deadlock) are re-run from scratch.
func NewStore(conn *Connection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "postgres_store")

	retrier := retry.DatabaseRetrier().With(
		retry.WithRetryIf(isTransient),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying transaction",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	)
	return &Store{conn: conn, retrier: retrier, logger: logger}
}

func isTransient(err error) bool {
	return IsSerializationConflict(err) || errors.Is(err, shared.ErrConcurrentModification)
}

// Do implements learning.UnitOfWork.
func (s *Store) Do(ctx context.Context, fn func(tx learning.Store) error) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, ReadCommitted, func(tx pgx.Tx) error {
			return fn(repositories{q: tx})
		})
	})
}

// Ping implements the health checker contract.
func (s *Store) Ping(ctx context.Context) error { return s.conn.Ping(ctx) }

func (s *Store) pool() repositories { return repositories{q: s.conn} }

// Attempts implements learning.Store.
func (s *Store) Attempts() learning.AttemptRepository { return s.pool().Attempts() }

// LessonProgress implements learning.Store.
func (s *Store) LessonProgress() learning.LessonProgressRepository {
	return s.pool().LessonProgress()
}

// TopicProgress implements learning.Store.
func (s *Store) TopicProgress() learning.TopicProgressRepository {
	return s.pool().TopicProgress()
}

// Streaks implements learning.Store.
func (s *Store) Streaks() learning.StreakRepository { return s.pool().Streaks() }

// Overall implements learning.Store.
func (s *Store) Overall() learning.OverallProgressRepository { return s.pool().Overall() }

// DailyStats implements learning.Store.
func (s *Store) DailyStats() learning.DailyStatRepository { return s.pool().DailyStats() }

// Vocabulary implements learning.Store.
func (s *Store) Vocabulary() learning.VocabularyRepository { return s.pool().Vocabulary() }

// repositories binds every repository to one Querier.
type repositories struct{ q Querier }

func (r repositories) Attempts() learning.AttemptRepository { return &AttemptRepository{q: r.q} }
func (r repositories) LessonProgress() learning.LessonProgressRepository {
	return &LessonProgressRepository{q: r.q}
}
func (r repositories) TopicProgress() learning.TopicProgressRepository {
	return &TopicProgressRepository{q: r.q}
}
func (r repositories) Streaks() learning.StreakRepository { return &StreakRepository{q: r.q} }
func (r repositories) Overall() learning.OverallProgressRepository {
	return &OverallProgressRepository{q: r.q}
}
func (r repositories) DailyStats() learning.DailyStatRepository { return &DailyStatRepository{q: r.q} }
func (r repositories) Vocabulary() learning.VocabularyRepository {
	return &VocabularyRepository{q: r.q}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCAN HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// utcPtr normalizes nullable timestamps read from the database.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
