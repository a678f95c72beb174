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
// DAILY STAT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// DailyStatRepository implements learning.DailyStatRepository.
type DailyStatRepository struct {
	q Querier
}

const dailyStatColumns = `
	learner_id, stat_date, sessions, minutes_studied, lessons_completed, xp_earned,
	vocabulary_reviewed, pronunciation_exercises, conversation_turns`

// Accumulate adds delta to the day's row in a single statement, so
// concurrent completions never lose an increment.
func (r *DailyStatRepository) Accumulate(ctx context.Context, learnerID shared.LearnerID, date time.Time, delta learning.DailyDelta) (*learning.DailyStat, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	lessons := 0
	if delta.LessonCompleted {
		lessons = 1
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO daily_stats (`+dailyStatColumns+`)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (learner_id, stat_date) DO UPDATE SET
			sessions = daily_stats.sessions + 1,
			minutes_studied = daily_stats.minutes_studied + EXCLUDED.minutes_studied,
			lessons_completed = daily_stats.lessons_completed + EXCLUDED.lessons_completed,
			xp_earned = daily_stats.xp_earned + EXCLUDED.xp_earned,
			vocabulary_reviewed = daily_stats.vocabulary_reviewed + EXCLUDED.vocabulary_reviewed,
			pronunciation_exercises = daily_stats.pronunciation_exercises + EXCLUDED.pronunciation_exercises,
			conversation_turns = daily_stats.conversation_turns + EXCLUDED.conversation_turns
		RETURNING `+dailyStatColumns,
		learnerID.String(), shared.Day(date),
		delta.Minutes, lessons, delta.XP,
		delta.VocabularyReviewed, delta.PronunciationExercises, delta.ConversationTurns,
	)
	stat, err := scanDailyStat(row)
	if err != nil {
		return nil, fmt.Errorf("failed to accumulate daily stat: %w", err)
	}
	return stat, nil
}

// ListRange returns stored days of the range, newest first.
func (r *DailyStatRepository) ListRange(ctx context.Context, learnerID shared.LearnerID, rng shared.TimeRange) ([]*learning.DailyStat, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+dailyStatColumns+`
		FROM daily_stats
		WHERE learner_id = $1 AND stat_date BETWEEN $2 AND $3
		ORDER BY stat_date DESC`,
		learnerID.String(), shared.Day(rng.From), shared.Day(rng.To),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", err)
	}
	defer rows.Close()

	out := []*learning.DailyStat{}
	for rows.Next() {
		s, err := scanDailyStat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanDailyStat(row pgx.Row) (*learning.DailyStat, error) {
	var (
		s       learning.DailyStat
		learner string
		date    time.Time
	)
	err := row.Scan(&learner, &date, &s.Sessions, &s.MinutesStudied, &s.LessonsCompleted, &s.XPEarned,
		&s.VocabularyReviewed, &s.PronunciationExercises, &s.ConversationTurns)
	if err != nil {
		if IsNoRows(err) {
			return nil, learning.ErrDailyStatNotFound
		}
		return nil, fmt.Errorf("failed to scan daily stat: %w", err)
	}
	s.LearnerID = shared.LearnerID(learner)
	s.Date = shared.Day(date)
	return &s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VOCABULARY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// VocabularyRepository implements learning.VocabularyRepository.
type VocabularyRepository struct {
	q Querier
}

const vocabularyColumns = `
	learner_id, vocabulary_id, times_practiced, times_correct, mastered, last_practiced_at`

// GetForUpdate locks the word's row, creating an empty one if needed.
func (r *VocabularyRepository) GetForUpdate(ctx context.Context, learnerID shared.LearnerID, vocabularyID string) (*learning.VocabularyProgress, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO vocabulary_progress (learner_id, vocabulary_id)
		VALUES ($1, $2)
		ON CONFLICT (learner_id, vocabulary_id) DO NOTHING`,
		learnerID.String(), vocabularyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure vocabulary progress: %w", err)
	}
	return scanVocabulary(r.q.QueryRow(ctx, `
		SELECT `+vocabularyColumns+`
		FROM vocabulary_progress
		WHERE learner_id = $1 AND vocabulary_id = $2
		FOR UPDATE`,
		learnerID.String(), vocabularyID))
}

// Save upserts the word's statistics.
func (r *VocabularyRepository) Save(ctx context.Context, v *learning.VocabularyProgress) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO vocabulary_progress (`+vocabularyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (learner_id, vocabulary_id) DO UPDATE SET
			times_practiced = EXCLUDED.times_practiced,
			times_correct = EXCLUDED.times_correct,
			mastered = vocabulary_progress.mastered OR EXCLUDED.mastered,
			last_practiced_at = EXCLUDED.last_practiced_at`,
		v.LearnerID.String(), v.VocabularyID, v.TimesPracticed, v.TimesCorrect, v.Mastered,
		nullableTime(v.LastPracticedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save vocabulary progress: %w", err)
	}
	return nil
}

// List returns practiced words, most recently reviewed first.
func (r *VocabularyRepository) List(ctx context.Context, learnerID shared.LearnerID, masteredOnly bool, limit int) ([]*learning.VocabularyProgress, error) {
	query := `
		SELECT ` + vocabularyColumns + `
		FROM vocabulary_progress
		WHERE learner_id = $1 AND times_practiced > 0 AND (NOT $2::boolean OR mastered)
		ORDER BY last_practiced_at DESC NULLS LAST, vocabulary_id`
	args := []any{learnerID.String(), masteredOnly}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vocabulary: %w", err)
	}
	defer rows.Close()

	out := []*learning.VocabularyProgress{}
	for rows.Next() {
		v, err := scanVocabulary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Counts returns how many words were practiced and mastered.
func (r *VocabularyRepository) Counts(ctx context.Context, learnerID shared.LearnerID) (learning.VocabularyCounts, error) {
	var c learning.VocabularyCounts
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE times_practiced > 0),
		       COUNT(*) FILTER (WHERE mastered)
		FROM vocabulary_progress
		WHERE learner_id = $1`,
		learnerID.String(),
	).Scan(&c.Practiced, &c.Mastered)
	if err != nil {
		return learning.VocabularyCounts{}, fmt.Errorf("failed to count vocabulary: %w", err)
	}
	return c, nil
}

func scanVocabulary(row pgx.Row) (*learning.VocabularyProgress, error) {
	var (
		v       learning.VocabularyProgress
		learner string
		last    *time.Time
	)
	if err := row.Scan(&learner, &v.VocabularyID, &v.TimesPracticed, &v.TimesCorrect, &v.Mastered, &last); err != nil {
		if IsNoRows(err) {
			return nil, learning.ErrVocabularyNotFound
		}
		return nil, fmt.Errorf("failed to scan vocabulary progress: %w", err)
	}
	v.LearnerID = shared.LearnerID(learner)
	if last != nil {
		v.LastPracticedAt = last.UTC()
	}
	return &v, nil
}
