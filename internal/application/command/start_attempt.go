package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// START ATTEMPT COMMAND
// Opens a new attempt of a lesson and moves the lesson into progress.
// ══════════════════════════════════════════════════════════════════════════════

// StartAttemptCommand contains the data to open an attempt.
type StartAttemptCommand struct {
	// LearnerID is the authenticated caller.
	LearnerID string

	// LessonID is the catalog lesson to attempt.
	LessonID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c StartAttemptCommand) Validate() error {
	if c.LearnerID == "" {
		return shared.Validationf("command", "StartAttempt", "learner_id is required")
	}
	if c.LessonID == "" {
		return shared.Validationf("command", "StartAttempt", "lesson_id is required")
	}
	return nil
}

// StartAttemptResult contains the opened attempt.
type StartAttemptResult struct {
	AttemptID     string    `json:"attempt_id"`
	AttemptNumber int       `json:"attempt_number"`
	LessonID      string    `json:"lesson_id"`
	LessonKind    string    `json:"lesson_kind"`
	PassingScore  float64   `json:"passing_score"`
	LessonStatus  string    `json:"lesson_status"`
	StartedAt     time.Time `json:"started_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// StartAttemptHandler handles the StartAttemptCommand.
type StartAttemptHandler struct {
	catalog        learning.ContentCatalog
	uow            learning.UnitOfWork
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger
	config         AttemptConfig
}

// NewStartAttemptHandler creates a new StartAttemptHandler.
func NewStartAttemptHandler(
	catalog learning.ContentCatalog,
	uow learning.UnitOfWork,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
	config AttemptConfig,
) *StartAttemptHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	if config.DefaultPassingScore <= 0 {
		config = DefaultAttemptConfig()
	}
	return &StartAttemptHandler{
		catalog:        catalog,
		uow:            uow,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         loggerOrDefault(logger, "start_attempt"),
		config:         config,
	}
}

// Handle executes the start attempt command.
func (h *StartAttemptHandler) Handle(ctx context.Context, cmd StartAttemptCommand) (*StartAttemptResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	lesson, err := h.catalog.GetLesson(ctx, learning.LessonID(cmd.LessonID))
	if err != nil {
		return nil, fmt.Errorf("start_attempt: %w", err)
	}

	learnerID := shared.LearnerID(cmd.LearnerID)
	now := h.clock.Now()

	var (
		attempt  *learning.Attempt
		progress *learning.LessonProgress
	)
	err = h.uow.Do(ctx, func(tx learning.Store) error {
		p, err := tx.LessonProgress().GetForUpdate(ctx, learnerID, lesson.ID)
		switch {
		case errors.Is(err, learning.ErrLessonProgressNotFound):
			// No row yet: the lesson has never been locked for this learner.
			p = learning.NewLessonProgress(learnerID, lesson, learning.StatusAvailable, now)
		case err != nil:
			return fmt.Errorf("failed to load lesson progress: %w", err)
		}

		if err := p.RecordStart(now); err != nil {
			return err
		}
		progress = p

		count, err := tx.Attempts().CountByLearnerLesson(ctx, learnerID, lesson.ID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}

		a, err := learning.NewAttempt(learnerID, lesson, count+1, now)
		if err != nil {
			return err
		}
		attempt = a
		if err := tx.Attempts().Create(ctx, attempt); err != nil {
			return fmt.Errorf("failed to create attempt: %w", err)
		}
		if err := tx.LessonProgress().Save(ctx, progress); err != nil {
			return fmt.Errorf("failed to save lesson progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start_attempt: %w", err)
	}

	h.logger.InfoContext(ctx, "attempt started",
		"learner_id", cmd.LearnerID,
		"lesson_id", cmd.LessonID,
		"attempt_id", attempt.ID.String(),
		"attempt_number", attempt.AttemptNumber,
	)

	publishAfterCommit(ctx, h.logger, h.eventPublisher, []shared.Event{
		shared.NewAttemptStartedEvent(cmd.LearnerID, attempt.ID.String(), cmd.LessonID, attempt.AttemptNumber, now),
	}, cmd.CorrelationID)

	return &StartAttemptResult{
		AttemptID:     attempt.ID.String(),
		AttemptNumber: attempt.AttemptNumber,
		LessonID:      lesson.ID.String(),
		LessonKind:    lesson.Kind.String(),
		PassingScore:  h.config.PassingScore(lesson),
		LessonStatus:  progress.Status.String(),
		StartedAt:     attempt.StartedAt,
	}, nil
}
