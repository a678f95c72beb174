package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET VOCABULARY PROGRESS QUERY
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultVocabularyLimit - число слов по умолчанию.
	DefaultVocabularyLimit = 50

	// MaxVocabularyLimit - максимальное число слов.
	MaxVocabularyLimit = 200
)

// GetVocabularyProgressQuery содержит параметры запроса.
type GetVocabularyProgressQuery struct {
	LearnerID    string
	MasteredOnly bool
	Limit        int
}

// Validate проверяет корректность параметров и выставляет значения по умолчанию.
func (q *GetVocabularyProgressQuery) Validate() error {
	if err := requireLearner("GetVocabularyProgress", q.LearnerID); err != nil {
		return err
	}
	if q.Limit == 0 {
		q.Limit = DefaultVocabularyLimit
	}
	if q.Limit < 1 || q.Limit > MaxVocabularyLimit {
		return shared.Validationf("query", "GetVocabularyProgress", "limit must be between 1 and %d", MaxVocabularyLimit)
	}
	return nil
}

// VocabularyDTO - статистика по слову.
type VocabularyDTO struct {
	VocabularyID   string `json:"vocabulary_id"`
	TimesPracticed int    `json:"times_practiced"`
	TimesCorrect   int    `json:"times_correct"`

	// MasteryPercentage - доля верных ответов, целое число процентов.
	MasteryPercentage int  `json:"mastery_percentage"`
	Mastered          bool `json:"mastered"`

	LastReviewed time.Time `json:"last_reviewed"`
}

// GetVocabularyProgressResult - результат запроса.
type GetVocabularyProgressResult struct {
	Words         []VocabularyDTO `json:"words"`
	TotalLearned  int             `json:"total_learned"`
	TotalMastered int             `json:"total_mastered"`
}

// GetVocabularyProgressHandler обрабатывает запрос.
type GetVocabularyProgressHandler struct {
	store  learning.Store
	logger *slog.Logger
}

// NewGetVocabularyProgressHandler создаёт новый обработчик.
func NewGetVocabularyProgressHandler(store learning.Store, logger *slog.Logger) *GetVocabularyProgressHandler {
	return &GetVocabularyProgressHandler{
		store:  store,
		logger: loggerOrDefault(logger, "get_vocabulary_progress"),
	}
}

// Handle выполняет запрос.
func (h *GetVocabularyProgressHandler) Handle(ctx context.Context, query GetVocabularyProgressQuery) (*GetVocabularyProgressResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	learnerID := shared.LearnerID(query.LearnerID)

	words, err := h.store.Vocabulary().List(ctx, learnerID, query.MasteredOnly, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_vocabulary_progress: %w", err)
	}
	counts, err := h.store.Vocabulary().Counts(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("get_vocabulary_progress: %w", err)
	}

	result := &GetVocabularyProgressResult{
		Words:         make([]VocabularyDTO, 0, len(words)),
		TotalLearned:  counts.Practiced,
		TotalMastered: counts.Mastered,
	}
	for _, w := range words {
		result.Words = append(result.Words, VocabularyDTO{
			VocabularyID:      w.VocabularyID,
			TimesPracticed:    w.TimesPracticed,
			TimesCorrect:      w.TimesCorrect,
			MasteryPercentage: int(math.Round(w.Accuracy())),
			Mastered:          w.Mastered,
			LastReviewed:      w.LastPracticedAt,
		})
	}
	return result, nil
}
