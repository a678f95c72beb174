package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgressRepository implements learning.LessonProgressRepository.
type LessonProgressRepository struct {
	q Querier
}

const lessonProgressColumns = `
	learner_id, lesson_id, topic_id, status, best_score, total_attempts,
	last_attempt_at, first_completed_at, updated_at`

// Get returns the record or ErrLessonProgressNotFound.
func (r *LessonProgressRepository) Get(ctx context.Context, learnerID shared.LearnerID, lessonID learning.LessonID) (*learning.LessonProgress, error) {
	return r.get(ctx, learnerID, lessonID, "")
}

// GetForUpdate is Get with a row lock.
func (r *LessonProgressRepository) GetForUpdate(ctx context.Context, learnerID shared.LearnerID, lessonID learning.LessonID) (*learning.LessonProgress, error) {
	return r.get(ctx, learnerID, lessonID, " FOR UPDATE")
}

func (r *LessonProgressRepository) get(ctx context.Context, learnerID shared.LearnerID, lessonID learning.LessonID, lock string) (*learning.LessonProgress, error) {
	query := `SELECT ` + lessonProgressColumns + `
		FROM lesson_progress WHERE learner_id = $1 AND lesson_id = $2` + lock
	return scanLessonProgress(r.q.QueryRow(ctx, query, learnerID.String(), lessonID.String()))
}

// Save upserts the record.
func (r *LessonProgressRepository) Save(ctx context.Context, p *learning.LessonProgress) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO lesson_progress (`+lessonProgressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (learner_id, lesson_id) DO UPDATE SET
			topic_id = EXCLUDED.topic_id,
			status = EXCLUDED.status,
			best_score = EXCLUDED.best_score,
			total_attempts = EXCLUDED.total_attempts,
			last_attempt_at = EXCLUDED.last_attempt_at,
			first_completed_at = EXCLUDED.first_completed_at,
			updated_at = EXCLUDED.updated_at`,
		p.LearnerID.String(), p.LessonID.String(), p.TopicID.String(), p.Status.String(),
		p.BestScore, p.TotalAttempts, p.LastAttemptAt, p.FirstCompletedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save lesson progress: %w", err)
	}
	return nil
}

// ListByLearner returns every lesson record of a learner.
func (r *LessonProgressRepository) ListByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*learning.LessonProgress, error) {
	return r.list(ctx, `WHERE learner_id = $1`, learnerID.String())
}

// ListByTopic returns the learner's records for lessons of one topic.
func (r *LessonProgressRepository) ListByTopic(ctx context.Context, learnerID shared.LearnerID, topicID learning.TopicID) ([]*learning.LessonProgress, error) {
	return r.list(ctx, `WHERE learner_id = $1 AND topic_id = $2`, learnerID.String(), topicID.String())
}

func (r *LessonProgressRepository) list(ctx context.Context, where string, args ...any) ([]*learning.LessonProgress, error) {
	rows, err := r.q.Query(ctx, `SELECT `+lessonProgressColumns+` FROM lesson_progress `+where+` ORDER BY lesson_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", err)
	}
	defer rows.Close()

	out := []*learning.LessonProgress{}
	for rows.Next() {
		p, err := scanLessonProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountCompleted counts completed lessons among lessonIDs.
func (r *LessonProgressRepository) CountCompleted(ctx context.Context, learnerID shared.LearnerID, lessonIDs []learning.LessonID) (int, error) {
	if len(lessonIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(lessonIDs))
	for i, id := range lessonIDs {
		ids[i] = id.String()
	}

	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM lesson_progress
		WHERE learner_id = $1 AND lesson_id = ANY($2) AND status = $3`,
		learnerID.String(), ids, learning.StatusCompleted.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed lessons: %w", err)
	}
	return n, nil
}

func scanLessonProgress(row pgx.Row) (*learning.LessonProgress, error) {
	var (
		p                       learning.LessonProgress
		learner, lesson, topic  string
		status                  string
		lastAt, firstCompletion *time.Time
		updatedAt               time.Time
	)
	err := row.Scan(&learner, &lesson, &topic, &status, &p.BestScore, &p.TotalAttempts,
		&lastAt, &firstCompletion, &updatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, learning.ErrLessonProgressNotFound
		}
		return nil, fmt.Errorf("failed to scan lesson progress: %w", err)
	}

	if p.Status, err = learning.ParseLessonStatus(status); err != nil {
		return nil, fmt.Errorf("lesson progress %s/%s: %w", learner, lesson, err)
	}
	p.LearnerID = shared.LearnerID(learner)
	p.LessonID = learning.LessonID(lesson)
	p.TopicID = learning.TopicID(topic)
	p.LastAttemptAt = utcPtr(lastAt)
	p.FirstCompletedAt = utcPtr(firstCompletion)
	p.UpdatedAt = updatedAt.UTC()
	return &p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// TopicProgressRepository implements learning.TopicProgressRepository.
type TopicProgressRepository struct {
	q Querier
}

const topicProgressColumns = `
	learner_id, topic_id, lessons_completed, lessons_total, best_score,
	practice_count, status, completed_at, updated_at`

// Get returns the record or ErrTopicProgressNotFound.
func (r *TopicProgressRepository) Get(ctx context.Context, learnerID shared.LearnerID, topicID learning.TopicID) (*learning.TopicProgress, error) {
	return scanTopicProgress(r.q.QueryRow(ctx,
		`SELECT `+topicProgressColumns+` FROM topic_progress WHERE learner_id = $1 AND topic_id = $2`,
		learnerID.String(), topicID.String()))
}

// GetForUpdate locks the record, inserting an empty one first if needed.
func (r *TopicProgressRepository) GetForUpdate(ctx context.Context, learnerID shared.LearnerID, topicID learning.TopicID) (*learning.TopicProgress, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO topic_progress (learner_id, topic_id, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (learner_id, topic_id) DO NOTHING`,
		learnerID.String(), topicID.String(), learning.TopicNotStarted.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure topic progress: %w", err)
	}
	return scanTopicProgress(r.q.QueryRow(ctx,
		`SELECT `+topicProgressColumns+` FROM topic_progress WHERE learner_id = $1 AND topic_id = $2 FOR UPDATE`,
		learnerID.String(), topicID.String()))
}

// Save upserts the record.
func (r *TopicProgressRepository) Save(ctx context.Context, t *learning.TopicProgress) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO topic_progress (`+topicProgressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (learner_id, topic_id) DO UPDATE SET
			lessons_completed = EXCLUDED.lessons_completed,
			lessons_total = EXCLUDED.lessons_total,
			best_score = EXCLUDED.best_score,
			practice_count = EXCLUDED.practice_count,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`,
		t.LearnerID.String(), t.TopicID.String(), t.LessonsCompleted, t.LessonsTotal, t.BestScore,
		t.PracticeCount, t.Status.String(), t.CompletedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save topic progress: %w", err)
	}
	return nil
}

// ListByLearner returns every topic record of a learner.
func (r *TopicProgressRepository) ListByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*learning.TopicProgress, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+topicProgressColumns+` FROM topic_progress WHERE learner_id = $1 ORDER BY topic_id`,
		learnerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list topic progress: %w", err)
	}
	defer rows.Close()

	out := []*learning.TopicProgress{}
	for rows.Next() {
		t, err := scanTopicProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTopicProgress(row pgx.Row) (*learning.TopicProgress, error) {
	var (
		t              learning.TopicProgress
		learner, topic string
		status         string
		completedAt    *time.Time
		updatedAt      time.Time
	)
	err := row.Scan(&learner, &topic, &t.LessonsCompleted, &t.LessonsTotal, &t.BestScore,
		&t.PracticeCount, &status, &completedAt, &updatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, learning.ErrTopicProgressNotFound
		}
		return nil, fmt.Errorf("failed to scan topic progress: %w", err)
	}
	t.LearnerID = shared.LearnerID(learner)
	t.TopicID = learning.TopicID(topic)
	t.Status = learning.TopicStatus(status)
	t.CompletedAt = utcPtr(completedAt)
	t.UpdatedAt = updatedAt.UTC()
	return &t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements learning.StreakRepository.
type StreakRepository struct {
	q Querier
}

// Get returns the streak or ErrStreakNotFound.
func (r *StreakRepository) Get(ctx context.Context, learnerID shared.LearnerID) (*learning.Streak, error) {
	return scanStreak(r.q.QueryRow(ctx, `
		SELECT learner_id, current_streak, longest_streak, last_activity_date, updated_at
		FROM streaks WHERE learner_id = $1`, learnerID.String()))
}

// GetForUpdate locks the streak, inserting an empty one first if needed, so
// concurrent completions of one learner queue on the same row.
func (r *StreakRepository) GetForUpdate(ctx context.Context, learnerID shared.LearnerID) (*learning.Streak, error) {
	_, err := r.q.Exec(ctx,
		`INSERT INTO streaks (learner_id) VALUES ($1) ON CONFLICT (learner_id) DO NOTHING`,
		learnerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to ensure streak: %w", err)
	}
	return scanStreak(r.q.QueryRow(ctx, `
		SELECT learner_id, current_streak, longest_streak, last_activity_date, updated_at
		FROM streaks WHERE learner_id = $1 FOR UPDATE`, learnerID.String()))
}

// Save upserts the streak.
func (r *StreakRepository) Save(ctx context.Context, s *learning.Streak) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO streaks (learner_id, current_streak, longest_streak, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (learner_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = EXCLUDED.updated_at`,
		s.LearnerID.String(), s.CurrentStreak, s.LongestStreak,
		nullableTime(shared.Day(s.LastActivityDate)), updatedOrNow(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	return nil
}

func scanStreak(row pgx.Row) (*learning.Streak, error) {
	var (
		s         learning.Streak
		learner   string
		last      *time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&learner, &s.CurrentStreak, &s.LongestStreak, &last, &updatedAt); err != nil {
		if IsNoRows(err) {
			return nil, learning.ErrStreakNotFound
		}
		return nil, fmt.Errorf("failed to scan streak: %w", err)
	}
	s.LearnerID = shared.LearnerID(learner)
	if last != nil {
		s.LastActivityDate = shared.Day(*last)
	}
	s.UpdatedAt = updatedAt.UTC()
	return &s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OVERALL PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// OverallProgressRepository implements learning.OverallProgressRepository.
type OverallProgressRepository struct {
	q Querier
}

// Get returns the state or ErrOverallNotFound.
func (r *OverallProgressRepository) Get(ctx context.Context, learnerID shared.LearnerID) (*learning.OverallProgress, error) {
	return scanOverall(r.q.QueryRow(ctx,
		`SELECT learner_id, total_xp, updated_at FROM overall_progress WHERE learner_id = $1`,
		learnerID.String()))
}

// GetForUpdate locks the state, creating it at 0 XP if needed.
func (r *OverallProgressRepository) GetForUpdate(ctx context.Context, learnerID shared.LearnerID) (*learning.OverallProgress, error) {
	_, err := r.q.Exec(ctx,
		`INSERT INTO overall_progress (learner_id) VALUES ($1) ON CONFLICT (learner_id) DO NOTHING`,
		learnerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to ensure overall progress: %w", err)
	}
	return scanOverall(r.q.QueryRow(ctx,
		`SELECT learner_id, total_xp, updated_at FROM overall_progress WHERE learner_id = $1 FOR UPDATE`,
		learnerID.String()))
}

// Save upserts the state. The level column always mirrors total_xp.
func (r *OverallProgressRepository) Save(ctx context.Context, o *learning.OverallProgress) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO overall_progress (learner_id, total_xp, level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (learner_id) DO UPDATE SET
			total_xp = EXCLUDED.total_xp,
			level = EXCLUDED.level,
			updated_at = EXCLUDED.updated_at`,
		o.LearnerID.String(), int64(o.TotalXP), o.TotalXP.Level().Int(), updatedOrNow(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save overall progress: %w", err)
	}
	return nil
}

// scanOverall derives Level from total_xp; the stored level is informational.
func scanOverall(row pgx.Row) (*learning.OverallProgress, error) {
	var (
		learner   string
		xp        int64
		updatedAt time.Time
	)
	if err := row.Scan(&learner, &xp, &updatedAt); err != nil {
		if IsNoRows(err) {
			return nil, learning.ErrOverallNotFound
		}
		return nil, fmt.Errorf("failed to scan overall progress: %w", err)
	}
	o := learning.NewOverallProgress(shared.LearnerID(learner))
	o.TotalXP = shared.XP(xp)
	o.Level = o.TotalXP.Level()
	o.UpdatedAt = updatedAt.UTC()
	return o, nil
}

func updatedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
