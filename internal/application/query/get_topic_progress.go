package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TOPIC PROGRESS QUERY
// Прогресс по всем активным темам и по урокам одной темы. Счётчики
// считаются по текущему каталогу, поэтому отключённые уроки не учитываются.
// ══════════════════════════════════════════════════════════════════════════════

// GetTopicProgressQuery содержит параметры запроса.
type GetTopicProgressQuery struct {
	LearnerID string
}

// Validate проверяет корректность параметров.
func (q *GetTopicProgressQuery) Validate() error {
	return requireLearner("GetTopicProgress", q.LearnerID)
}

// TopicProgressDTO - прогресс по теме.
type TopicProgressDTO struct {
	TopicID string `json:"topic_id"`
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`

	TotalLessons         int     `json:"total_lessons"`
	CompletedLessons     int     `json:"completed_lessons"`
	CompletionPercentage float64 `json:"completion_percentage"`

	// AverageScore - nil, если пройденных попыток по теме нет.
	AverageScore *float64 `json:"average_score"`

	Status string `json:"status"`
}

// GetTopicProgressResult - результат запроса.
type GetTopicProgressResult struct {
	Topics []TopicProgressDTO `json:"topics"`
}

// GetTopicProgressHandler обрабатывает запросы прогресса по темам и урокам.
type GetTopicProgressHandler struct {
	catalog learning.ContentCatalog
	store   learning.Store
	logger  *slog.Logger
}

// NewGetTopicProgressHandler создаёт новый обработчик.
func NewGetTopicProgressHandler(catalog learning.ContentCatalog, store learning.Store, logger *slog.Logger) *GetTopicProgressHandler {
	return &GetTopicProgressHandler{
		catalog: catalog,
		store:   store,
		logger:  loggerOrDefault(logger, "get_topic_progress"),
	}
}

// Handle выполняет запрос.
func (h *GetTopicProgressHandler) Handle(ctx context.Context, query GetTopicProgressQuery) (*GetTopicProgressResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	learnerID := shared.LearnerID(query.LearnerID)

	topics, err := h.catalog.ListActiveTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_topic_progress: %w", err)
	}

	progress, err := h.store.LessonProgress().ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("get_topic_progress: %w", err)
	}
	completed := make(map[learning.LessonID]bool, len(progress))
	for _, p := range progress {
		completed[p.LessonID] = p.IsCompleted()
	}

	averages, err := h.store.Attempts().AveragePassedScoreByTopic(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("get_topic_progress: %w", err)
	}

	result := &GetTopicProgressResult{Topics: make([]TopicProgressDTO, 0, len(topics))}
	for _, t := range topics {
		lessons, err := h.catalog.ListTopicLessons(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("get_topic_progress: %w", err)
		}

		done := 0
		for _, l := range lessons {
			if completed[l.ID] {
				done++
			}
		}

		dto := TopicProgressDTO{
			TopicID:              t.ID.String(),
			Name:                 t.Name,
			Icon:                 t.Icon,
			TotalLessons:         len(lessons),
			CompletedLessons:     done,
			CompletionPercentage: learning.Percentage(done, len(lessons)),
			Status:               learning.DeriveTopicStatus(done, len(lessons)).String(),
		}
		if avg, ok := averages[t.ID]; ok {
			a := avg
			dto.AverageScore = &a
		}
		result.Topics = append(result.Topics, dto)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSONS OF A TOPIC
// ══════════════════════════════════════════════════════════════════════════════

// GetLessonProgressQuery содержит параметры запроса прогресса по урокам темы.
type GetLessonProgressQuery struct {
	LearnerID string
	TopicID   string
}

// Validate проверяет корректность параметров.
func (q *GetLessonProgressQuery) Validate() error {
	if err := requireLearner("GetLessonProgress", q.LearnerID); err != nil {
		return err
	}
	if q.TopicID == "" {
		return shared.Validationf("query", "GetLessonProgress", "topic_id is required")
	}
	return nil
}

// LessonProgressDTO - прогресс по уроку.
type LessonProgressDTO struct {
	LessonID string `json:"lesson_id"`
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	Order    int    `json:"order"`

	Status        string   `json:"status"`
	BestScore     *float64 `json:"best_score"`
	TotalAttempts int      `json:"total_attempts"`

	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	FirstCompletedAt *time.Time `json:"first_completed_at,omitempty"`
}

// GetLessonProgressResult - результат запроса.
type GetLessonProgressResult struct {
	TopicID string              `json:"topic_id"`
	Lessons []LessonProgressDTO `json:"lessons"`
}

// HandleLessons возвращает прогресс по урокам темы в порядке уроков.
// Урок без записи показывается доступным, если он первый в теме, иначе закрытым.
func (h *GetTopicProgressHandler) HandleLessons(ctx context.Context, query GetLessonProgressQuery) (*GetLessonProgressResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	learnerID := shared.LearnerID(query.LearnerID)
	topicID := learning.TopicID(query.TopicID)

	if _, err := h.catalog.GetTopic(ctx, topicID); err != nil {
		return nil, fmt.Errorf("get_lesson_progress: %w", err)
	}
	lessons, err := h.catalog.ListTopicLessons(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("get_lesson_progress: %w", err)
	}

	rows, err := h.store.LessonProgress().ListByTopic(ctx, learnerID, topicID)
	if err != nil && !errors.Is(err, learning.ErrLessonProgressNotFound) {
		return nil, fmt.Errorf("get_lesson_progress: %w", err)
	}
	byLesson := make(map[learning.LessonID]*learning.LessonProgress, len(rows))
	for _, r := range rows {
		byLesson[r.LessonID] = r
	}

	result := &GetLessonProgressResult{
		TopicID: topicID.String(),
		Lessons: make([]LessonProgressDTO, 0, len(lessons)),
	}
	for i, l := range lessons {
		dto := LessonProgressDTO{
			LessonID: l.ID.String(),
			Title:    l.Title,
			Kind:     l.Kind.String(),
			Order:    l.Order,
			Status:   learning.StatusLocked.String(),
		}
		if i == 0 {
			dto.Status = learning.StatusAvailable.String()
		}
		if p, ok := byLesson[l.ID]; ok {
			dto.Status = p.Status.String()
			dto.BestScore = p.BestScore
			dto.TotalAttempts = p.TotalAttempts
			dto.LastAttemptAt = p.LastAttemptAt
			dto.FirstCompletedAt = p.FirstCompletedAt
		}
		result.Lessons = append(result.Lessons, dto)
	}
	return result, nil
}
