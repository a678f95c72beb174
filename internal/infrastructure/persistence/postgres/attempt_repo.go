package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AttemptRepository implements learning.AttemptRepository.
type AttemptRepository struct {
	q Querier
}

const attemptColumns = `
	id, learner_id, lesson_id, topic_id, kind, attempt_number,
	started_at, completed_at, duration_seconds,
	matching_correct, matching_total,
	pronunciation_score, intonation_score, stress_score,
	conversation_turns, conversation_words, grammar_errors, distinct_words,
	conversation_vocabulary, vocabulary_items,
	overall_score, passed, completed, feedback`

// vocabularyItemRow is the JSONB shape of a per-word matching outcome.
type vocabularyItemRow struct {
	VocabularyID string `json:"vocabulary_id"`
	Correct      bool   `json:"correct"`
}

func encodeVocabularyItems(items []learning.VocabularyOutcome) ([]byte, error) {
	rows := make([]vocabularyItemRow, len(items))
	for i, it := range items {
		rows[i] = vocabularyItemRow{VocabularyID: it.VocabularyID, Correct: it.Correct}
	}
	return json.Marshal(rows)
}

func decodeVocabularyItems(data []byte) ([]learning.VocabularyOutcome, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []vocabularyItemRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]learning.VocabularyOutcome, len(rows))
	for i, r := range rows {
		out[i] = learning.VocabularyOutcome{VocabularyID: r.VocabularyID, Correct: r.Correct}
	}
	return out, nil
}

func vocabularyOrEmpty(words []string) []string {
	if words == nil {
		return []string{}
	}
	return words
}

// Create inserts an open attempt. A taken attempt number surfaces as
// shared.ErrConcurrentModification so the transaction is re-run.
func (r *AttemptRepository) Create(ctx context.Context, a *learning.Attempt) error {
	items, err := encodeVocabularyItems(a.VocabularyItems)
	if err != nil {
		return fmt.Errorf("failed to encode vocabulary items: %w", err)
	}

	query := `INSERT INTO attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err = r.q.Exec(ctx, query,
		a.ID.String(), a.LearnerID.String(), a.LessonID.String(), a.TopicID.String(), a.Kind.String(), a.AttemptNumber,
		a.StartedAt, a.CompletedAt, a.DurationSeconds,
		a.Matching.Correct, a.Matching.Total,
		a.Pronunciation.Pronunciation, a.Pronunciation.Intonation, a.Pronunciation.Stress,
		a.Conversation.Turns, a.Conversation.WordCount, a.Conversation.GrammarErrors, a.Conversation.DistinctWords,
		vocabularyOrEmpty(a.ConversationVocabulary), items,
		a.OverallScore, a.Passed, a.Completed, a.Feedback,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("attempt number %d taken: %w", a.AttemptNumber, shared.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// GetByID returns an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id learning.AttemptID) (*learning.Attempt, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate returns an attempt and locks its row.
func (r *AttemptRepository) GetForUpdate(ctx context.Context, id learning.AttemptID) (*learning.Attempt, error) {
	return r.get(ctx, id, true)
}

func (r *AttemptRepository) get(ctx context.Context, id learning.AttemptID, forUpdate bool) (*learning.Attempt, error) {
	if !id.IsValid() {
		return nil, learning.ErrAttemptNotFound
	}
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanAttempt(r.q.QueryRow(ctx, query, id.String()))
}

// SaveInputs stores the raw inputs of an open attempt.
func (r *AttemptRepository) SaveInputs(ctx context.Context, a *learning.Attempt) error {
	items, err := encodeVocabularyItems(a.VocabularyItems)
	if err != nil {
		return fmt.Errorf("failed to encode vocabulary items: %w", err)
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE attempts SET
			matching_correct = $2,
			matching_total = $3,
			pronunciation_score = $4,
			intonation_score = $5,
			stress_score = $6,
			conversation_turns = $7,
			conversation_words = $8,
			grammar_errors = $9,
			distinct_words = $10,
			conversation_vocabulary = $11,
			vocabulary_items = $12
		WHERE id = $1 AND completed = FALSE`,
		a.ID.String(),
		a.Matching.Correct, a.Matching.Total,
		a.Pronunciation.Pronunciation, a.Pronunciation.Intonation, a.Pronunciation.Stress,
		a.Conversation.Turns, a.Conversation.WordCount, a.Conversation.GrammarErrors, a.Conversation.DistinctWords,
		vocabularyOrEmpty(a.ConversationVocabulary), items,
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt inputs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoUpdate(ctx, a.ID)
	}
	return nil
}

// MarkCompleted flips completed=false to true together with the result.
// The WHERE clause makes a second completion a no-op.
func (r *AttemptRepository) MarkCompleted(ctx context.Context, a *learning.Attempt) error {
	items, err := encodeVocabularyItems(a.VocabularyItems)
	if err != nil {
		return fmt.Errorf("failed to encode vocabulary items: %w", err)
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE attempts SET
			completed_at = $2,
			duration_seconds = $3,
			matching_correct = $4,
			matching_total = $5,
			pronunciation_score = $6,
			intonation_score = $7,
			stress_score = $8,
			conversation_turns = $9,
			conversation_words = $10,
			grammar_errors = $11,
			distinct_words = $12,
			conversation_vocabulary = $13,
			vocabulary_items = $14,
			overall_score = $15,
			passed = $16,
			feedback = $17,
			completed = TRUE
		WHERE id = $1 AND completed = FALSE`,
		a.ID.String(),
		a.CompletedAt, a.DurationSeconds,
		a.Matching.Correct, a.Matching.Total,
		a.Pronunciation.Pronunciation, a.Pronunciation.Intonation, a.Pronunciation.Stress,
		a.Conversation.Turns, a.Conversation.WordCount, a.Conversation.GrammarErrors, a.Conversation.DistinctWords,
		vocabularyOrEmpty(a.ConversationVocabulary), items,
		a.OverallScore, a.Passed, a.Feedback,
	)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoUpdate(ctx, a.ID)
	}
	return nil
}

// explainNoUpdate distinguishes a missing attempt from a closed one.
func (r *AttemptRepository) explainNoUpdate(ctx context.Context, id learning.AttemptID) error {
	var completed bool
	err := r.q.QueryRow(ctx, `SELECT completed FROM attempts WHERE id = $1`, id.String()).Scan(&completed)
	switch {
	case IsNoRows(err):
		return learning.ErrAttemptNotFound
	case err != nil:
		return fmt.Errorf("failed to read attempt state: %w", err)
	case completed:
		return learning.ErrAttemptAlreadyCompleted
	}
	return fmt.Errorf("attempt %s was not updated: %w", id, shared.ErrConcurrentModification)
}

// CountByLearnerLesson returns how many attempts the learner opened for a lesson.
func (r *AttemptRepository) CountByLearnerLesson(ctx context.Context, learnerID shared.LearnerID, lessonID learning.LessonID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE learner_id = $1 AND lesson_id = $2`,
		learnerID.String(), lessonID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

// List returns one page of attempts, newest first, and the total count.
func (r *AttemptRepository) List(ctx context.Context, filter learning.AttemptFilter) ([]*learning.Attempt, int, error) {
	const where = `
		WHERE learner_id = $1
		  AND ($2::text = '' OR lesson_id = $2)
		  AND (NOT $3::boolean OR completed)`
	args := []any{filter.LearnerID.String(), filter.LessonID.String(), filter.CompletedOnly}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM attempts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	query := `SELECT ` + attemptColumns + ` FROM attempts` + where + `
		ORDER BY started_at DESC, attempt_number DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.q.Query(ctx, query, append(args, filter.Pagination.Limit(), filter.Pagination.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*learning.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, 0, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return attempts, total, nil
}

// Stats aggregates completed attempts of a learner.
func (r *AttemptRepository) Stats(ctx context.Context, learnerID shared.LearnerID) (learning.AttemptStats, error) {
	var (
		avg      float64
		passed   int
		duration int64
	)
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(AVG(overall_score) FILTER (WHERE passed), 0),
		       COUNT(*) FILTER (WHERE passed),
		       COALESCE(SUM(duration_seconds), 0)
		FROM attempts
		WHERE learner_id = $1 AND completed`,
		learnerID.String(),
	).Scan(&avg, &passed, &duration)
	if err != nil {
		return learning.AttemptStats{}, fmt.Errorf("failed to aggregate attempts: %w", err)
	}
	return learning.AttemptStats{
		AveragePassedScore:   learning.RoundScore(avg),
		PassedCount:          passed,
		TotalDurationSeconds: int(duration),
	}, nil
}

// AveragePassedScoreByTopic returns the mean passed score per topic.
func (r *AttemptRepository) AveragePassedScoreByTopic(ctx context.Context, learnerID shared.LearnerID) (map[learning.TopicID]float64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT topic_id, AVG(overall_score)
		FROM attempts
		WHERE learner_id = $1 AND completed AND passed
		GROUP BY topic_id`,
		learnerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate topic scores: %w", err)
	}
	defer rows.Close()

	out := make(map[learning.TopicID]float64)
	for rows.Next() {
		var (
			topic string
			avg   float64
		)
		if err := rows.Scan(&topic, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan topic score: %w", err)
		}
		out[learning.TopicID(topic)] = learning.RoundScore(avg)
	}
	return out, rows.Err()
}

func scanAttempt(row pgx.Row) (*learning.Attempt, error) {
	var (
		a                                learning.Attempt
		id, learner, lesson, topic, kind string
		startedAt                        time.Time
		completedAt                      *time.Time
		vocabulary                       []string
		items                            []byte
	)
	err := row.Scan(
		&id, &learner, &lesson, &topic, &kind, &a.AttemptNumber,
		&startedAt, &completedAt, &a.DurationSeconds,
		&a.Matching.Correct, &a.Matching.Total,
		&a.Pronunciation.Pronunciation, &a.Pronunciation.Intonation, &a.Pronunciation.Stress,
		&a.Conversation.Turns, &a.Conversation.WordCount, &a.Conversation.GrammarErrors, &a.Conversation.DistinctWords,
		&vocabulary, &items,
		&a.OverallScore, &a.Passed, &a.Completed, &a.Feedback,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, learning.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to scan attempt: %w", err)
	}

	a.ID = learning.AttemptID(id)
	a.LearnerID = shared.LearnerID(learner)
	a.LessonID = learning.LessonID(lesson)
	a.TopicID = learning.TopicID(topic)
	a.Kind = learning.LessonKind(kind)
	a.StartedAt = startedAt.UTC()
	a.CompletedAt = utcPtr(completedAt)
	if len(vocabulary) > 0 {
		a.ConversationVocabulary = vocabulary
	}
	if a.VocabularyItems, err = decodeVocabularyItems(items); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary items: %w", err)
	}
	return &a, nil
}
