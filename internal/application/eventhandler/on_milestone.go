package eventhandler

import (
	"log/slog"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON MILESTONE HANDLER
// Журналирует заметные достижения: новый уровень, завершённую тему и
// круглые значения серии. Записи с msg "milestone reached" собираются
// аналитикой из логов.
// ═══════════════════════════════════════════════════════════════════════════

// MilestoneConfig содержит конфигурацию обработчика.
type MilestoneConfig struct {
	// StreakMilestones - значения серии, которые считаются достижением.
	StreakMilestones []int
}

// DefaultMilestoneConfig возвращает конфигурацию по умолчанию.
func DefaultMilestoneConfig() MilestoneConfig {
	return MilestoneConfig{
		StreakMilestones: []int{3, 7, 14, 30, 50, 100, 365},
	}
}

// OnMilestoneHandler обрабатывает события уровня, темы и серии.
type OnMilestoneHandler struct {
	logger *slog.Logger
	config MilestoneConfig
}

// NewOnMilestoneHandler создаёт новый обработчик.
func NewOnMilestoneHandler(logger *slog.Logger, config MilestoneConfig) *OnMilestoneHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnMilestoneHandler{
		logger: logger.With("handler", "on_milestone"),
		config: config,
	}
}

// Events возвращает типы событий, на которые подписывается обработчик.
func (h *OnMilestoneHandler) Events() []shared.EventType {
	return []shared.EventType{
		shared.EventLevelUp,
		shared.EventTopicCompleted,
		shared.EventStreakUpdated,
	}
}

// Handle реализует shared.EventHandler.
func (h *OnMilestoneHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case *shared.LevelUpEvent:
		h.reached(e.AggregateID(), "level", e.NewLevel, "total_xp", e.TotalXP)

	case *shared.TopicCompletedEvent:
		h.reached(e.AggregateID(), "topic", e.LessonsTotal, "topic_id", e.TopicID)

	case *shared.StreakUpdatedEvent:
		if h.isStreakMilestone(e.CurrentStreak) {
			h.reached(e.AggregateID(), "streak", e.CurrentStreak, "longest_streak", e.LongestStreak)
		}

	default:
		h.logger.Debug("ignoring event", "event_type", event.EventType())
	}
	return nil
}

func (h *OnMilestoneHandler) reached(learnerID, kind string, value int, extra ...any) {
	args := append([]any{
		"learner_id", learnerID,
		"milestone", kind,
		"value", value,
	}, extra...)
	h.logger.Info("milestone reached", args...)
}

func (h *OnMilestoneHandler) isStreakMilestone(streak int) bool {
	for _, m := range h.config.StreakMilestones {
		if streak == m {
			return true
		}
	}
	return false
}
