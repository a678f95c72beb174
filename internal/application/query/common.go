// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"log/slog"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// OverviewCache - версионированный кэш вычисленных обзоров прогресса.
// Реализация: infrastructure/persistence/redis.OverviewCache.
//
// Каждый сброс переводит ученика на новую версию. Обзор, посчитанный по
// версии, прочитанной до сброса, записывается под старой версией и больше
// никогда не читается.
type OverviewCache interface {
	// Get возвращает текущую версию и обзор под ней (nil при промахе).
	Get(ctx context.Context, learnerID string) (*GetOverviewResult, int64, error)

	// Set сохраняет обзор под версией, полученной из Get до расчёта.
	Set(ctx context.Context, learnerID string, version int64, overview *GetOverviewResult) error

	// Invalidate переводит ученика на новую версию.
	Invalidate(ctx context.Context, learnerID string) error
}

// FeatureChecker сообщает, включён ли флаг для ученика.
type FeatureChecker interface {
	Enabled(feature, learnerID string) bool
}

func requireLearner(op, learnerID string) error {
	if learnerID == "" {
		return shared.Validationf("query", op, "learner_id is required")
	}
	return nil
}

func loggerOrDefault(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("handler", name)
}
