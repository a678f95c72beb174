package learning

import (
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// Learning domain errors. Each wraps a taxonomy kind from shared, so callers
// may match either the specific error or the kind (shared.IsNotFound, …).
var (
	// Catalog references
	ErrLessonNotFound = shared.NewDomainError("learning", "FindLesson", shared.ErrNotFound, "lesson not found or inactive")
	ErrTopicNotFound  = shared.NewDomainError("learning", "FindTopic", shared.ErrNotFound, "topic not found or inactive")

	// Attempt lifecycle
	ErrAttemptNotFound         = shared.NewDomainError("learning", "FindAttempt", shared.ErrNotFound, "attempt not found")
	ErrAttemptAlreadyCompleted = shared.NewDomainError("learning", "CompleteAttempt", shared.ErrInvalidState, "attempt already completed")
	ErrLessonLocked            = shared.NewDomainError("learning", "StartAttempt", shared.ErrInvalidState, "lesson is locked")

	// Raw input validation
	ErrScoreOutOfRange      = shared.NewDomainError("learning", "Validate", shared.ErrValueOutOfRange, "score must be between 0 and 100")
	ErrNegativeCount        = shared.NewDomainError("learning", "Validate", shared.ErrNegativeValue, "count cannot be negative")
	ErrCorrectExceedsTotal  = shared.NewDomainError("learning", "Validate", shared.ErrValidation, "correct answers exceed total")
	ErrDistinctExceedsWords = shared.NewDomainError("learning", "Validate", shared.ErrValidation, "distinct words exceed word count")
	ErrKindMismatch         = shared.NewDomainError("learning", "Validate", shared.ErrValidation, "input does not match lesson kind")
	ErrEmptyTurn            = shared.NewDomainError("learning", "Validate", shared.ErrValidation, "conversation turn is empty")

	// Progress records
	ErrLessonProgressNotFound = shared.NewDomainError("learning", "FindLessonProgress", shared.ErrNotFound, "lesson progress not found")
	ErrTopicProgressNotFound  = shared.NewDomainError("learning", "FindTopicProgress", shared.ErrNotFound, "topic progress not found")
	ErrStreakNotFound         = shared.NewDomainError("learning", "FindStreak", shared.ErrNotFound, "streak not found")
	ErrOverallNotFound        = shared.NewDomainError("learning", "FindOverallProgress", shared.ErrNotFound, "overall progress not found")
	ErrDailyStatNotFound      = shared.NewDomainError("learning", "FindDailyStat", shared.ErrNotFound, "daily stat not found")
	ErrVocabularyNotFound     = shared.NewDomainError("learning", "FindVocabulary", shared.ErrNotFound, "vocabulary progress not found")

	// Collaborators
	ErrSpeechUnavailable       = shared.NewDomainError("learning", "AnalyzeSpeech", shared.ErrUpstreamUnavailable, "speech analysis unavailable")
	ErrConversationUnavailable = shared.NewDomainError("learning", "Reply", shared.ErrUpstreamUnavailable, "conversation partner unavailable")
)
