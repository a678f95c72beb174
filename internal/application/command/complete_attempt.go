package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-progress/config"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE ATTEMPT COMMAND
// Scores an open attempt and applies every progress side effect in one
// transaction: lesson progress → unlock → topic recount → streak → XP →
// daily stats → vocabulary. Later steps depend on earlier results (the
// streak bonus uses the new streak), so the order is fixed.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteAttemptCommand closes an attempt. Raw inputs are optional: the
// supplied block overrides what was accumulated by the Record* commands.
type CompleteAttemptCommand struct {
	LearnerID string
	AttemptID string

	Matching      *learning.MatchingInput
	Pronunciation *learning.PronunciationInput
	Conversation  *learning.ConversationInput

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CompleteAttemptCommand) Validate() error {
	if err := validateAttemptRef("CompleteAttempt", c.LearnerID, c.AttemptID); err != nil {
		return err
	}
	supplied := 0
	for _, present := range []bool{c.Matching != nil, c.Pronunciation != nil, c.Conversation != nil} {
		if present {
			supplied++
		}
	}
	if supplied > 1 {
		return shared.Validationf("command", "CompleteAttempt", "only one kind of raw input may be supplied")
	}
	return nil
}

func (c CompleteAttemptCommand) inputs() learning.RawInputs {
	return learning.RawInputs{
		Matching:      c.Matching,
		Pronunciation: c.Pronunciation,
		Conversation:  c.Conversation,
	}
}

// XPBreakdown shows how the awarded XP was composed.
type XPBreakdown struct {
	Base        int `json:"base"`
	ScoreBonus  int `json:"score_bonus"`
	StreakBonus int `json:"streak_bonus"`
}

// AttemptSummary is the result of a completed attempt.
type AttemptSummary struct {
	AttemptID     string     `json:"attempt_id"`
	AttemptNumber int        `json:"attempt_number"`
	LessonID      string     `json:"lesson_id"`
	TopicID       string     `json:"topic_id"`
	LessonKind    string     `json:"lesson_kind"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`

	DurationSeconds int `json:"duration_seconds"`

	// Score
	OverallScore      float64                 `json:"overall_score"`
	PassingScore      float64                 `json:"passing_score"`
	Passed            bool                    `json:"passed"`
	IsNewBest         bool                    `json:"is_new_best"`
	PreviousBestScore *float64                `json:"previous_best_score"`
	Improvement       *float64                `json:"improvement,omitempty"`
	ScoreBreakdown    learning.ScoreBreakdown `json:"score_breakdown"`
	Feedback          string                  `json:"feedback"`

	// XP & level
	XPEarned      int         `json:"xp_earned"`
	XPBreakdown   XPBreakdown `json:"xp_breakdown"`
	TotalXP       int         `json:"total_xp"`
	NewLevel      int         `json:"new_level"`
	LeveledUp     bool        `json:"leveled_up"`
	XPToNextLevel int         `json:"xp_to_next_level"`

	// Streak
	CurrentStreak  int  `json:"current_streak"`
	LongestStreak  int  `json:"longest_streak"`
	StreakAdvanced bool `json:"streak_advanced"`

	// Curriculum
	UnlockedLessonID   string `json:"unlocked_lesson_id,omitempty"`
	TopicCompleted     bool   `json:"topic_completed"`
	VocabularyMastered int    `json:"vocabulary_mastered,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteAttemptHandler handles the CompleteAttemptCommand.
type CompleteAttemptHandler struct {
	catalog        learning.ContentCatalog
	uow            learning.UnitOfWork
	calculator     learning.ScoreCalculator
	eventPublisher shared.EventPublisher
	overview       OverviewInvalidator
	features       FeatureChecker
	clock          timeutil.Clock
	logger         *slog.Logger
	config         AttemptConfig
}

// NewCompleteAttemptHandler creates a new CompleteAttemptHandler. overview
// may be nil when no overview cache is wired.
func NewCompleteAttemptHandler(
	catalog learning.ContentCatalog,
	uow learning.UnitOfWork,
	eventPublisher shared.EventPublisher,
	overview OverviewInvalidator,
	features FeatureChecker,
	clock timeutil.Clock,
	logger *slog.Logger,
	config AttemptConfig,
) *CompleteAttemptHandler {
	if features == nil {
		features = allEnabled{}
	}
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	if config.DefaultPassingScore <= 0 {
		config = DefaultAttemptConfig()
	}
	return &CompleteAttemptHandler{
		catalog:        catalog,
		uow:            uow,
		calculator:     learning.NewScoreCalculator(),
		eventPublisher: eventPublisher,
		overview:       overview,
		features:       features,
		clock:          clock,
		logger:         loggerOrDefault(logger, "complete_attempt"),
		config:         config,
	}
}

// completion carries intermediate results out of the transaction.
type completion struct {
	attempt  *learning.Attempt
	lesson   *learning.Lesson
	outcome  learning.ResultOutcome
	unlocked *learning.Lesson
	topic    *learning.TopicProgress
	topicNew bool
	touch    learning.TouchResult
	award    learning.XPAward
	overall  *learning.OverallProgress
	level    learning.LevelChange
	mastered int
}

// Handle executes the complete attempt command.
func (h *CompleteAttemptHandler) Handle(ctx context.Context, cmd CompleteAttemptCommand) (*AttemptSummary, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	learnerID := shared.LearnerID(cmd.LearnerID)
	now := h.clock.Now()
	today := h.clock.Today()
	trackVocabulary := h.features.Enabled(config.FeatureVocabularyTracking, cmd.LearnerID)

	var c completion
	err := h.uow.Do(ctx, func(tx learning.Store) error {
		c = completion{}

		// 1. Attempt
		attempt, err := tx.Attempts().GetForUpdate(ctx, learning.AttemptID(cmd.AttemptID))
		if err != nil {
			return err
		}
		if !attempt.BelongsTo(learnerID) {
			return learning.ErrAttemptNotFound
		}
		if attempt.Completed {
			return learning.ErrAttemptAlreadyCompleted
		}
		if err := attempt.ApplyInputs(cmd.inputs()); err != nil {
			return err
		}

		lesson, err := h.catalog.GetLesson(ctx, attempt.LessonID)
		if err != nil {
			return err
		}
		c.lesson = lesson

		score, err := h.calculator.Calculate(attempt.Kind, attempt.Inputs())
		if err != nil {
			return err
		}
		passing := h.config.PassingScore(lesson)
		passed := score >= passing
		feedback := learning.FeedbackFor(attempt.Kind, score, passing)
		if err := attempt.Complete(score, passed, feedback, now); err != nil {
			return err
		}
		// Compare-and-set: only one transaction flips completed.
		if err := tx.Attempts().MarkCompleted(ctx, attempt); err != nil {
			return err
		}
		c.attempt = attempt
		score = attempt.Score()

		// 2. Lesson progress (+ unlock of the next lesson)
		progress, err := tx.LessonProgress().GetForUpdate(ctx, learnerID, lesson.ID)
		switch {
		case errors.Is(err, learning.ErrLessonProgressNotFound):
			progress = learning.NewLessonProgress(learnerID, lesson, learning.StatusInProgress, now)
		case err != nil:
			return fmt.Errorf("failed to load lesson progress: %w", err)
		}
		c.outcome = progress.RecordResult(score, passed, now)
		if err := tx.LessonProgress().Save(ctx, progress); err != nil {
			return fmt.Errorf("failed to save lesson progress: %w", err)
		}
		if passed {
			if c.unlocked, err = h.unlockNext(ctx, tx, learnerID, lesson, now); err != nil {
				return err
			}
		}

		// 3. Topic recount
		if c.topic, c.topicNew, err = h.recomputeTopic(ctx, tx, learnerID, lesson.TopicID, score, now); err != nil {
			return err
		}

		// 4. Streak
		streak, err := tx.Streaks().GetForUpdate(ctx, learnerID)
		if err != nil {
			return fmt.Errorf("failed to load streak: %w", err)
		}
		c.touch = streak.Touch(today)
		if c.touch.Advanced {
			if err := tx.Streaks().Save(ctx, streak); err != nil {
				return fmt.Errorf("failed to save streak: %w", err)
			}
		}

		// 5. XP / level
		c.award = learning.CalculateAward(attempt.Kind, score, c.touch)
		overall, err := tx.Overall().GetForUpdate(ctx, learnerID)
		if err != nil {
			return fmt.Errorf("failed to load overall progress: %w", err)
		}
		c.level = overall.Award(c.award.Total(), now)
		if err := tx.Overall().Save(ctx, overall); err != nil {
			return fmt.Errorf("failed to save overall progress: %w", err)
		}
		c.overall = overall

		// 6. Daily stats
		delta := learning.DeltaFor(attempt, c.award.Total(), trackVocabulary)
		if _, err := tx.DailyStats().Accumulate(ctx, learnerID, today, delta); err != nil {
			return fmt.Errorf("failed to accumulate daily stats: %w", err)
		}

		// 7. Vocabulary
		if trackVocabulary && attempt.Kind == learning.KindMatching {
			if c.mastered, err = h.recordVocabulary(ctx, tx, learnerID, attempt.VocabularyItems, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, learning.ErrAttemptAlreadyCompleted) {
			h.logger.InfoContext(ctx, "attempt already completed",
				"learner_id", cmd.LearnerID,
				"attempt_id", cmd.AttemptID,
			)
		}
		return nil, fmt.Errorf("complete_attempt: %w", err)
	}

	h.invalidateOverview(ctx, cmd.LearnerID)
	summary := h.summarize(c)

	h.logger.InfoContext(ctx, "attempt completed",
		"learner_id", cmd.LearnerID,
		"attempt_id", cmd.AttemptID,
		"lesson_id", summary.LessonID,
		"score", summary.OverallScore,
		"passed", summary.Passed,
		"xp_amount", summary.XPEarned,
		"current_streak", summary.CurrentStreak,
	)

	publishAfterCommit(ctx, h.logger, h.eventPublisher, h.events(cmd.LearnerID, c, now), cmd.CorrelationID)
	return summary, nil
}

// invalidateOverview runs before the summary is returned, so the learner's
// next overview read already reflects this attempt. A failure is only logged:
// the attempt.completed handler invalidates again, and the TTL bounds the rest.
func (h *CompleteAttemptHandler) invalidateOverview(ctx context.Context, learnerID string) {
	if h.overview == nil {
		return
	}
	if err := h.overview.Invalidate(ctx, learnerID); err != nil {
		h.logger.WarnContext(ctx, "failed to invalidate overview",
			"learner_id", learnerID,
			"error", err,
		)
	}
}

// unlockNext opens the lesson that follows passed in its topic. Re-passing a
// lesson never re-locks or duplicates anything.
func (h *CompleteAttemptHandler) unlockNext(ctx context.Context, tx learning.Store, learnerID shared.LearnerID, passed *learning.Lesson, now time.Time) (*learning.Lesson, error) {
	next, err := h.catalog.FindLessonByOrder(ctx, passed.TopicID, passed.Order+1)
	if errors.Is(err, learning.ErrLessonNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find next lesson: %w", err)
	}

	progress, err := tx.LessonProgress().GetForUpdate(ctx, learnerID, next.ID)
	switch {
	case errors.Is(err, learning.ErrLessonProgressNotFound):
		progress = learning.NewLessonProgress(learnerID, next, learning.StatusAvailable, now)
	case err != nil:
		return nil, fmt.Errorf("failed to load next lesson progress: %w", err)
	default:
		if !progress.Unlock(now) {
			return nil, nil
		}
	}

	if err := tx.LessonProgress().Save(ctx, progress); err != nil {
		return nil, fmt.Errorf("failed to save next lesson progress: %w", err)
	}
	return next, nil
}

// recomputeTopic recounts completed lessons among the active lessons of the
// topic. A full recount stays correct under out-of-order completions.
func (h *CompleteAttemptHandler) recomputeTopic(ctx context.Context, tx learning.Store, learnerID shared.LearnerID, topicID learning.TopicID, score float64, now time.Time) (*learning.TopicProgress, bool, error) {
	lessons, err := h.catalog.ListTopicLessons(ctx, topicID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list topic lessons: %w", err)
	}
	ids := make([]learning.LessonID, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}

	completed, err := tx.LessonProgress().CountCompleted(ctx, learnerID, ids)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count completed lessons: %w", err)
	}

	topic, err := tx.TopicProgress().GetForUpdate(ctx, learnerID, topicID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load topic progress: %w", err)
	}
	justCompleted := topic.Recount(completed, len(lessons), score, now)
	if err := tx.TopicProgress().Save(ctx, topic); err != nil {
		return nil, false, fmt.Errorf("failed to save topic progress: %w", err)
	}
	return topic, justCompleted, nil
}

func (h *CompleteAttemptHandler) recordVocabulary(ctx context.Context, tx learning.Store, learnerID shared.LearnerID, items []learning.VocabularyOutcome, now time.Time) (int, error) {
	mastered := 0
	for _, item := range items {
		v, err := tx.Vocabulary().GetForUpdate(ctx, learnerID, item.VocabularyID)
		if err != nil {
			return 0, fmt.Errorf("failed to load vocabulary progress: %w", err)
		}
		if v.Record(item.Correct, now) {
			mastered++
		}
		if err := tx.Vocabulary().Save(ctx, v); err != nil {
			return 0, fmt.Errorf("failed to save vocabulary progress: %w", err)
		}
	}
	return mastered, nil
}

func (h *CompleteAttemptHandler) summarize(c completion) *AttemptSummary {
	a := c.attempt
	s := &AttemptSummary{
		AttemptID:         a.ID.String(),
		AttemptNumber:     a.AttemptNumber,
		LessonID:          a.LessonID.String(),
		TopicID:           a.TopicID.String(),
		LessonKind:        a.Kind.String(),
		StartedAt:         a.StartedAt,
		CompletedAt:       a.CompletedAt,
		DurationSeconds:   a.DurationSeconds,
		OverallScore:      a.Score(),
		PassingScore:      h.config.PassingScore(c.lesson),
		Passed:            a.Passed,
		IsNewBest:         c.outcome.IsNewBest,
		PreviousBestScore: c.outcome.PreviousBest,
		Improvement:       c.outcome.Improvement,
		ScoreBreakdown:    learning.BreakdownFor(a),
		Feedback:          a.Feedback,
		XPEarned:          c.award.Total(),
		XPBreakdown: XPBreakdown{
			Base:        c.award.Base,
			ScoreBonus:  c.award.ScoreBonus,
			StreakBonus: c.award.StreakBonus,
		},
		TotalXP:            c.overall.TotalXP.Int(),
		NewLevel:           c.level.NewLevel.Int(),
		LeveledUp:          c.level.LeveledUp,
		XPToNextLevel:      c.overall.XPToNextLevel(),
		CurrentStreak:      c.touch.CurrentStreak,
		LongestStreak:      c.touch.LongestStreak,
		StreakAdvanced:     c.touch.Advanced,
		TopicCompleted:     c.topicNew,
		VocabularyMastered: c.mastered,
	}
	if c.unlocked != nil {
		s.UnlockedLessonID = c.unlocked.ID.String()
	}
	return s
}

func (h *CompleteAttemptHandler) events(learnerID string, c completion, now time.Time) []shared.Event {
	a := c.attempt
	events := []shared.Event{
		shared.NewAttemptCompletedEvent(learnerID, a.ID.String(), a.LessonID.String(), a.TopicID.String(),
			a.Score(), a.Passed, c.outcome.IsNewBest, now),
		shared.NewXPGainedEvent(learnerID, c.award.Total(), c.overall.TotalXP.Int(), a.Kind.String(), a.ID.String(), now),
	}
	if c.level.LeveledUp {
		events = append(events, shared.NewLevelUpEvent(learnerID, c.level.OldLevel.Int(), c.level.NewLevel.Int(), c.overall.TotalXP.Int(), now))
	}
	if c.touch.Advanced {
		events = append(events, shared.NewStreakUpdatedEvent(learnerID, c.touch.CurrentStreak, c.touch.LongestStreak, c.touch.Restarted, now))
	}
	if c.unlocked != nil {
		events = append(events, shared.NewLessonUnlockedEvent(learnerID, c.unlocked.ID.String(), a.LessonID.String(), now))
	}
	if c.topicNew {
		events = append(events, shared.NewTopicCompletedEvent(learnerID, c.topic.TopicID.String(), c.topic.LessonsTotal, now))
	}
	return events
}
