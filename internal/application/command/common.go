// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// AttemptConfig contains settings shared by the attempt handlers.
type AttemptConfig struct {
	// DefaultPassingScore applies to lessons without their own threshold.
	DefaultPassingScore float64
}

// DefaultAttemptConfig returns default configuration.
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{DefaultPassingScore: learning.DefaultPassingScore}
}

// PassingScore returns the lesson's threshold, falling back to the default.
func (c AttemptConfig) PassingScore(lesson *learning.Lesson) float64 {
	if lesson.PassingScore > 0 {
		return lesson.PassingScore
	}
	if c.DefaultPassingScore > 0 {
		return c.DefaultPassingScore
	}
	return learning.DefaultPassingScore
}

// FeatureChecker reports whether a feature flag is on for a learner.
// *config.FeatureFlags satisfies it.
type FeatureChecker interface {
	Enabled(feature, learnerID string) bool
}

// OverviewInvalidator drops a learner's cached progress overview.
// *redis.OverviewCache satisfies it.
type OverviewInvalidator interface {
	Invalidate(ctx context.Context, learnerID string) error
}

// allEnabled is used when no feature flags are wired.
type allEnabled struct{}

func (allEnabled) Enabled(string, string) bool { return true }

// publishAfterCommit publishes events of a committed transaction. Failures are
// logged only: the state change is already durable.
func publishAfterCommit(ctx context.Context, logger *slog.Logger, publisher shared.EventPublisher, events []shared.Event, correlationID string) {
	if publisher == nil || len(events) == 0 {
		return
	}
	shared.Correlate(events, correlationID)
	if err := shared.PublishAll(publisher, events); err != nil {
		logger.WarnContext(ctx, "failed to publish events",
			"count", len(events),
			"error", err,
		)
	}
}

func loggerOrDefault(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("handler", name)
}
