// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на уже зафиксированные изменения и выполняют
// побочные эффекты: сброс кэшей, журналирование достижений.
// Ошибка обработчика никогда не откатывает исходную операцию.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Повторно сбрасывает кэш обзора ученика после завершения попытки.
// Основной сброс синхронный, в CompleteAttemptHandler; этот обработчик
// закрывает случай, когда синхронный сброс не удался.
// ═══════════════════════════════════════════════════════════════════════════

// OverviewInvalidator удаляет кэшированный обзор ученика.
type OverviewInvalidator interface {
	Invalidate(ctx context.Context, learnerID string) error
}

// OnProgressChangedHandler обрабатывает события, меняющие обзор прогресса.
type OnProgressChangedHandler struct {
	cache   OverviewInvalidator
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnProgressChangedHandler создаёт новый обработчик.
func NewOnProgressChangedHandler(cache OverviewInvalidator, logger *slog.Logger) *OnProgressChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProgressChangedHandler{
		cache:   cache,
		logger:  logger.With("handler", "on_progress_changed"),
		timeout: 2 * time.Second,
	}
}

// Events возвращает типы событий, на которые подписывается обработчик.
func (h *OnProgressChangedHandler) Events() []shared.EventType {
	return []shared.EventType{shared.EventAttemptCompleted}
}

// Handle реализует shared.EventHandler.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	if h.cache == nil {
		return nil
	}

	learnerID := event.AggregateID()
	if learnerID == "" {
		h.logger.Warn("event without learner id", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, learnerID); err != nil {
		h.logger.Error("failed to invalidate overview",
			"learner_id", learnerID,
			"event_type", event.EventType(),
			"error", err,
		)
		return fmt.Errorf("invalidate overview: %w", err)
	}

	h.logger.Debug("overview invalidated",
		"learner_id", learnerID,
		"event_type", event.EventType(),
	)
	return nil
}
