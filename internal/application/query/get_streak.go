package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STREAK QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetStreakQuery содержит параметры запроса серии.
type GetStreakQuery struct {
	LearnerID string
}

// Validate проверяет корректность параметров.
func (q *GetStreakQuery) Validate() error {
	return requireLearner("GetStreak", q.LearnerID)
}

// GetStreakResult - серия, как её видит ученик сегодня.
type GetStreakResult struct {
	// CurrentStreak - 0, если вчерашний день пропущен. Запрос ничего не
	// записывает: хранимая серия сбрасывается только следующей активностью.
	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`

	// LastActivityDate - YYYY-MM-DD; пусто, если активности не было.
	LastActivityDate string `json:"last_activity_date,omitempty"`

	LearnedToday       bool `json:"learned_today"`
	NeedsActivityToday bool `json:"needs_activity_today"`
}

// GetStreakHandler обрабатывает запрос серии.
type GetStreakHandler struct {
	store  learning.Store
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewGetStreakHandler создаёт новый обработчик.
func NewGetStreakHandler(store learning.Store, clock timeutil.Clock, logger *slog.Logger) *GetStreakHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	return &GetStreakHandler{
		store:  store,
		clock:  clock,
		logger: loggerOrDefault(logger, "get_streak"),
	}
}

// Handle выполняет запрос.
func (h *GetStreakHandler) Handle(ctx context.Context, query GetStreakQuery) (*GetStreakResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	streak, err := h.store.Streaks().Get(ctx, shared.LearnerID(query.LearnerID))
	if errors.Is(err, learning.ErrStreakNotFound) {
		streak = learning.NewStreak(shared.LearnerID(query.LearnerID))
	} else if err != nil {
		return nil, fmt.Errorf("get_streak: %w", err)
	}

	today := h.clock.Today()
	learned := streak.LearnedOn(today)

	result := &GetStreakResult{
		CurrentStreak:      streak.EffectiveCurrent(today),
		LongestStreak:      streak.LongestStreak,
		LearnedToday:       learned,
		NeedsActivityToday: !learned,
	}
	if !streak.LastActivityDate.IsZero() {
		result.LastActivityDate = timeutil.FormatDateStr(streak.LastActivityDate)
	}
	return result, nil
}
