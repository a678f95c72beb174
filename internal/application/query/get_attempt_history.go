package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ATTEMPT HISTORY QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetAttemptHistoryQuery содержит параметры запроса истории попыток.
type GetAttemptHistoryQuery struct {
	LearnerID string

	// LessonID - необязательный фильтр по уроку.
	LessonID string

	// Page начинается с 1; PageSize по умолчанию 20, максимум 100.
	Page     int
	PageSize int
}

// Validate проверяет корректность параметров и выставляет значения по умолчанию.
func (q *GetAttemptHistoryQuery) Validate() error {
	if err := requireLearner("GetAttemptHistory", q.LearnerID); err != nil {
		return err
	}
	if q.Page < 0 || q.PageSize < 0 {
		return shared.Validationf("query", "GetAttemptHistory", "page and page_size cannot be negative")
	}
	p := shared.NewPagination(q.Page, q.PageSize)
	q.Page, q.PageSize = p.Page, p.PageSize
	return nil
}

// AttemptDTO - попытка в истории.
type AttemptDTO struct {
	AttemptID     string `json:"attempt_id"`
	LessonID      string `json:"lesson_id"`
	TopicID       string `json:"topic_id"`
	Kind          string `json:"kind"`
	AttemptNumber int    `json:"attempt_number"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	// OverallScore - nil для открытой попытки.
	OverallScore *float64 `json:"overall_score"`
	Passed       bool     `json:"passed"`
	Completed    bool     `json:"completed"`
	Feedback     string   `json:"feedback,omitempty"`

	ScoreBreakdown learning.ScoreBreakdown `json:"score_breakdown"`
}

// GetAttemptHistoryResult - страница истории.
type GetAttemptHistoryResult struct {
	Attempts []AttemptDTO `json:"attempts"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	HasMore  bool         `json:"has_more"`
}

// GetAttemptHistoryHandler обрабатывает запрос истории.
type GetAttemptHistoryHandler struct {
	store  learning.Store
	logger *slog.Logger
}

// NewGetAttemptHistoryHandler создаёт новый обработчик.
func NewGetAttemptHistoryHandler(store learning.Store, logger *slog.Logger) *GetAttemptHistoryHandler {
	return &GetAttemptHistoryHandler{
		store:  store,
		logger: loggerOrDefault(logger, "get_attempt_history"),
	}
}

// Handle выполняет запрос. Попытки возвращаются от новых к старым.
func (h *GetAttemptHistoryHandler) Handle(ctx context.Context, query GetAttemptHistoryQuery) (*GetAttemptHistoryResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	page := shared.NewPagination(query.Page, query.PageSize)
	attempts, total, err := h.store.Attempts().List(ctx, learning.AttemptFilter{
		LearnerID:  shared.LearnerID(query.LearnerID),
		LessonID:   learning.LessonID(query.LessonID),
		Pagination: page,
	})
	if err != nil {
		return nil, fmt.Errorf("get_attempt_history: %w", err)
	}

	result := &GetAttemptHistoryResult{
		Attempts: make([]AttemptDTO, 0, len(attempts)),
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.Offset()+len(attempts) < total,
	}
	for _, a := range attempts {
		result.Attempts = append(result.Attempts, AttemptDTO{
			AttemptID:       a.ID.String(),
			LessonID:        a.LessonID.String(),
			TopicID:         a.TopicID.String(),
			Kind:            a.Kind.String(),
			AttemptNumber:   a.AttemptNumber,
			StartedAt:       a.StartedAt,
			CompletedAt:     a.CompletedAt,
			DurationSeconds: a.DurationSeconds,
			OverallScore:    a.OverallScore,
			Passed:          a.Passed,
			Completed:       a.Completed,
			Feedback:        a.Feedback,
			ScoreBreakdown:  learning.BreakdownFor(a),
		})
	}
	return result, nil
}
