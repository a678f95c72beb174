package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DAILY STATS QUERY
// Дневная статистика за последние N дней (от новых к старым) и недельная
// сводка с сравнением с прошлой неделей.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultHistoryDays - период по умолчанию.
	DefaultHistoryDays = 7

	// MaxHistoryDays - максимальный период.
	MaxHistoryDays = 30
)

// GetDailyStatsQuery содержит параметры запроса.
type GetDailyStatsQuery struct {
	LearnerID string

	// Days - число дней, включая сегодня (1-30, по умолчанию 7).
	Days int
}

// Validate проверяет корректность параметров и выставляет значения по умолчанию.
func (q *GetDailyStatsQuery) Validate() error {
	if err := requireLearner("GetDailyStats", q.LearnerID); err != nil {
		return err
	}
	if q.Days == 0 {
		q.Days = DefaultHistoryDays
	}
	if q.Days < 1 || q.Days > MaxHistoryDays {
		return shared.Validationf("query", "GetDailyStats", "days must be between 1 and %d", MaxHistoryDays)
	}
	return nil
}

// DailyStatDTO - статистика за день.
type DailyStatDTO struct {
	// Date - дата в формате YYYY-MM-DD.
	Date string `json:"date"`

	Sessions         int `json:"sessions"`
	MinutesStudied   int `json:"minutes_studied"`
	LessonsCompleted int `json:"lessons_completed"`
	XPEarned         int `json:"xp_earned"`

	VocabularyReviewed     int `json:"vocabulary_reviewed"`
	PronunciationExercises int `json:"pronunciation_exercises"`
	ConversationTurns      int `json:"conversation_turns"`
}

// GetDailyStatsResult - результат запроса.
type GetDailyStatsResult struct {
	Days []DailyStatDTO `json:"days"`

	// ─────────────────────────────────────────────────────────────────────────
	// Итоги периода
	// ─────────────────────────────────────────────────────────────────────────

	TotalMinutes int `json:"total_minutes"`
	TotalLessons int `json:"total_lessons"`
	TotalXP      int `json:"total_xp"`
	ActiveDays   int `json:"active_days"`
}

// GetDailyStatsHandler обрабатывает дневную и недельную статистику.
type GetDailyStatsHandler struct {
	store  learning.Store
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewGetDailyStatsHandler создаёт новый обработчик.
func NewGetDailyStatsHandler(store learning.Store, clock timeutil.Clock, logger *slog.Logger) *GetDailyStatsHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	return &GetDailyStatsHandler{
		store:  store,
		clock:  clock,
		logger: loggerOrDefault(logger, "get_daily_stats"),
	}
}

// Handle возвращает статистику за последние Days дней.
func (h *GetDailyStatsHandler) Handle(ctx context.Context, query GetDailyStatsQuery) (*GetDailyStatsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	learnerID := shared.LearnerID(query.LearnerID)
	period := shared.LastNDays(h.clock.Today(), query.Days)

	stats, err := h.store.DailyStats().ListRange(ctx, learnerID, period)
	if err != nil {
		return nil, fmt.Errorf("get_daily_stats: %w", err)
	}

	days := learning.FillDays(learnerID, period, stats)
	totals := learning.SumStats(days)

	result := &GetDailyStatsResult{
		Days:         make([]DailyStatDTO, 0, len(days)),
		TotalMinutes: totals.MinutesStudied,
		TotalLessons: totals.LessonsCompleted,
		TotalXP:      totals.XPEarned,
		ActiveDays:   totals.ActiveDays,
	}
	for _, d := range days {
		result.Days = append(result.Days, toDailyStatDTO(d))
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY
// ══════════════════════════════════════════════════════════════════════════════

// GetWeeklyStatsQuery содержит параметры недельной сводки.
type GetWeeklyStatsQuery struct {
	LearnerID string
}

// Validate проверяет корректность параметров.
func (q *GetWeeklyStatsQuery) Validate() error {
	return requireLearner("GetWeeklyStats", q.LearnerID)
}

// GetWeeklyStatsResult - итоги с понедельника по сегодня.
type GetWeeklyStatsResult struct {
	// WeekStart - понедельник текущей недели (YYYY-MM-DD).
	WeekStart string `json:"week_start"`

	LessonsCompleted   int `json:"lessons_completed"`
	VocabularyReviewed int `json:"vocabulary_reviewed"`
	MinutesStudied     int `json:"minutes_studied"`
	XPEarned           int `json:"xp_earned"`
	ActiveDays         int `json:"active_days"`

	// ─────────────────────────────────────────────────────────────────────────
	// Сравнение с тем же отрезком прошлой недели
	// ─────────────────────────────────────────────────────────────────────────

	LessonsChange int `json:"lessons_change_from_last_week"`
	MinutesChange int `json:"minutes_change_from_last_week"`
}

// HandleWeekly возвращает недельную сводку.
func (h *GetDailyStatsHandler) HandleWeekly(ctx context.Context, query GetWeeklyStatsQuery) (*GetWeeklyStatsResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	learnerID := shared.LearnerID(query.LearnerID)
	today := h.clock.Today()
	weekStart := timeutil.StartOfWeek(today)
	elapsed := shared.DaysBetween(weekStart, today)

	current := shared.TimeRange{From: weekStart, To: today}
	lastStart := weekStart.AddDate(0, 0, -7)
	previous := shared.TimeRange{From: lastStart, To: lastStart.AddDate(0, 0, elapsed)}

	thisWeek, err := h.store.DailyStats().ListRange(ctx, learnerID, current)
	if err != nil {
		return nil, fmt.Errorf("get_weekly_stats: %w", err)
	}
	lastWeek, err := h.store.DailyStats().ListRange(ctx, learnerID, previous)
	if err != nil {
		return nil, fmt.Errorf("get_weekly_stats: %w", err)
	}

	now, before := learning.SumStats(thisWeek), learning.SumStats(lastWeek)

	result := &GetWeeklyStatsResult{
		WeekStart:        timeutil.FormatDateStr(weekStart),
		LessonsCompleted: now.LessonsCompleted,
		MinutesStudied:   now.MinutesStudied,
		XPEarned:         now.XPEarned,
		ActiveDays:       now.ActiveDays,
		LessonsChange:    now.LessonsCompleted - before.LessonsCompleted,
		MinutesChange:    now.MinutesStudied - before.MinutesStudied,
	}
	for _, s := range thisWeek {
		result.VocabularyReviewed += s.VocabularyReviewed
	}
	return result, nil
}

func toDailyStatDTO(s *learning.DailyStat) DailyStatDTO {
	return DailyStatDTO{
		Date:                   shared.FormatDay(s.Date),
		Sessions:               s.Sessions,
		MinutesStudied:         s.MinutesStudied,
		LessonsCompleted:       s.LessonsCompleted,
		XPEarned:               s.XPEarned,
		VocabularyReviewed:     s.VocabularyReviewed,
		PronunciationExercises: s.PronunciationExercises,
		ConversationTurns:      s.ConversationTurns,
	}
}
