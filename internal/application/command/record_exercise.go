package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-progress/config"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD EXERCISE COMMANDS
// Accumulate raw exercise results on an open attempt. Scoring happens only
// on completion; these commands store inputs and talk to collaborators.
// ══════════════════════════════════════════════════════════════════════════════

// VocabularyItem is the learner's answer for one word of a matching exercise.
type VocabularyItem struct {
	VocabularyID string `json:"vocabulary_id"`
	Correct      bool   `json:"correct"`
}

// RecordMatchingCommand stores the counters of a matching exercise.
type RecordMatchingCommand struct {
	LearnerID string
	AttemptID string
	Correct   int
	Total     int

	// Items are optional per-word outcomes.
	Items []VocabularyItem
}

// Validate validates the command.
func (c RecordMatchingCommand) Validate() error {
	if err := validateAttemptRef("RecordMatching", c.LearnerID, c.AttemptID); err != nil {
		return err
	}
	for i, item := range c.Items {
		if item.VocabularyID == "" {
			return shared.Validationf("command", "RecordMatching", "items[%d]: vocabulary_id is required", i)
		}
	}
	return learning.MatchingInput{Correct: c.Correct, Total: c.Total}.Validate()
}

// RecordMatchingResult echoes the stored counters.
type RecordMatchingResult struct {
	AttemptID     string  `json:"attempt_id"`
	Correct       int     `json:"correct"`
	Total         int     `json:"total"`
	Accuracy      float64 `json:"accuracy"`
	ItemsRecorded int     `json:"items_recorded"`
}

// RecordPronunciationCommand submits a recording for analysis.
type RecordPronunciationCommand struct {
	LearnerID    string
	AttemptID    string
	Audio        []byte
	ContentType  string
	ExpectedText string
}

// Validate validates the command.
func (c RecordPronunciationCommand) Validate() error {
	if err := validateAttemptRef("RecordPronunciation", c.LearnerID, c.AttemptID); err != nil {
		return err
	}
	if len(c.Audio) == 0 {
		return shared.Validationf("command", "RecordPronunciation", "audio is required")
	}
	return nil
}

// RecordPronunciationResult contains the analyzer's sub-scores. When the
// analyzer is unavailable Degraded is set and the scores are absent.
type RecordPronunciationResult struct {
	AttemptID     string   `json:"attempt_id"`
	Pronunciation *float64 `json:"pronunciation,omitempty"`
	Intonation    *float64 `json:"intonation,omitempty"`
	Stress        *float64 `json:"stress,omitempty"`
	Transcript    string   `json:"transcript,omitempty"`
	Degraded      bool     `json:"degraded"`
}

// RecordConversationTurnCommand submits one learner message.
type RecordConversationTurnCommand struct {
	LearnerID string
	AttemptID string
	Text      string
	History   []learning.ConversationMessage
}

// Validate validates the command.
func (c RecordConversationTurnCommand) Validate() error {
	if err := validateAttemptRef("RecordConversationTurn", c.LearnerID, c.AttemptID); err != nil {
		return err
	}
	if len(learning.Tokenize(c.Text)) == 0 {
		return learning.ErrEmptyTurn
	}
	return nil
}

// RecordConversationTurnResult contains the partner's reply and the running
// conversation metrics.
type RecordConversationTurnResult struct {
	AttemptID     string   `json:"attempt_id"`
	Reply         string   `json:"reply,omitempty"`
	GrammarErrors []string `json:"grammar_errors"`
	Turns         int      `json:"turns"`
	WordCount     int      `json:"word_count"`
	DistinctWords int      `json:"distinct_words"`
	Degraded      bool     `json:"degraded"`
}

func validateAttemptRef(op, learnerID, attemptID string) error {
	if learnerID == "" {
		return shared.Validationf("command", op, "learner_id is required")
	}
	if !learning.AttemptID(attemptID).IsValid() {
		return shared.Validationf("command", op, "attempt_id must be a UUID")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordExerciseHandler handles the three Record* commands.
type RecordExerciseHandler struct {
	catalog  learning.ContentCatalog
	uow      learning.UnitOfWork
	store    learning.Store
	speech   learning.SpeechAnalyzer
	partner  learning.ConversationPartner
	features FeatureChecker
	logger   *slog.Logger
}

// NewRecordExerciseHandler creates a new RecordExerciseHandler. speech and
// partner may be nil; the corresponding calls then run degraded.
func NewRecordExerciseHandler(
	catalog learning.ContentCatalog,
	uow learning.UnitOfWork,
	store learning.Store,
	speech learning.SpeechAnalyzer,
	partner learning.ConversationPartner,
	features FeatureChecker,
	logger *slog.Logger,
) *RecordExerciseHandler {
	if features == nil {
		features = allEnabled{}
	}
	return &RecordExerciseHandler{
		catalog:  catalog,
		uow:      uow,
		store:    store,
		speech:   speech,
		partner:  partner,
		features: features,
		logger:   loggerOrDefault(logger, "record_exercise"),
	}
}

// HandleMatching stores matching counters on the attempt.
func (h *RecordExerciseHandler) HandleMatching(ctx context.Context, cmd RecordMatchingCommand) (*RecordMatchingResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	items := make([]learning.VocabularyOutcome, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		items = append(items, learning.VocabularyOutcome{VocabularyID: it.VocabularyID, Correct: it.Correct})
	}
	in := learning.MatchingInput{Correct: cmd.Correct, Total: cmd.Total}

	err := h.update(ctx, cmd.LearnerID, cmd.AttemptID, func(a *learning.Attempt) error {
		return a.RecordMatching(in, items)
	})
	if err != nil {
		return nil, fmt.Errorf("record_matching: %w", err)
	}

	return &RecordMatchingResult{
		AttemptID:     cmd.AttemptID,
		Correct:       cmd.Correct,
		Total:         cmd.Total,
		Accuracy:      learning.RoundScore(learning.MatchingScore(cmd.Correct, cmd.Total)),
		ItemsRecorded: len(items),
	}, nil
}

// HandlePronunciation sends the recording to the speech analyzer and stores
// the returned sub-scores.
func (h *RecordExerciseHandler) HandlePronunciation(ctx context.Context, cmd RecordPronunciationCommand) (*RecordPronunciationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// Fail fast before spending an analyzer call.
	if _, err := h.loadOpen(ctx, h.store, cmd.LearnerID, cmd.AttemptID, learning.KindPronunciation); err != nil {
		return nil, fmt.Errorf("record_pronunciation: %w", err)
	}

	result := &RecordPronunciationResult{AttemptID: cmd.AttemptID}

	analysis, err := h.analyze(ctx, cmd)
	if err != nil {
		h.logger.WarnContext(ctx, "speech analysis unavailable, recording without scores",
			"learner_id", cmd.LearnerID,
			"attempt_id", cmd.AttemptID,
			"error", err,
		)
		result.Degraded = true
		return result, nil
	}

	err = h.update(ctx, cmd.LearnerID, cmd.AttemptID, func(a *learning.Attempt) error {
		return a.RecordPronunciation(analysis.Scores)
	})
	if err != nil {
		return nil, fmt.Errorf("record_pronunciation: %w", err)
	}

	result.Pronunciation = analysis.Scores.Pronunciation
	result.Intonation = analysis.Scores.Intonation
	result.Stress = analysis.Scores.Stress
	result.Transcript = analysis.Transcript
	return result, nil
}

func (h *RecordExerciseHandler) analyze(ctx context.Context, cmd RecordPronunciationCommand) (*learning.SpeechAnalysis, error) {
	if h.speech == nil {
		return nil, learning.ErrSpeechUnavailable
	}
	analysis, err := h.speech.Analyze(ctx, learning.SpeechRequest{
		Audio:        cmd.Audio,
		ContentType:  cmd.ContentType,
		ExpectedText: cmd.ExpectedText,
	})
	if err != nil {
		return nil, err
	}
	if err := analysis.Scores.Validate(); err != nil {
		return nil, shared.WrapError("learning", "AnalyzeSpeech", shared.ErrUpstreamUnavailable, "analyzer returned invalid scores", err)
	}
	return analysis, nil
}

// HandleConversationTurn asks the conversation partner for a reply and
// counts the turn. A failing partner still lets the turn count, with zero
// grammar errors.
func (h *RecordExerciseHandler) HandleConversationTurn(ctx context.Context, cmd RecordConversationTurnCommand) (*RecordConversationTurnResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	attempt, err := h.loadOpen(ctx, h.store, cmd.LearnerID, cmd.AttemptID, learning.KindConversation)
	if err != nil {
		return nil, fmt.Errorf("record_conversation_turn: %w", err)
	}

	result := &RecordConversationTurnResult{AttemptID: cmd.AttemptID, GrammarErrors: []string{}}

	if h.features.Enabled(config.FeatureAIFeedback, cmd.LearnerID) {
		reply, err := h.reply(ctx, attempt, cmd)
		if err != nil {
			h.logger.WarnContext(ctx, "conversation partner unavailable, counting turn locally",
				"learner_id", cmd.LearnerID,
				"attempt_id", cmd.AttemptID,
				"error", err,
			)
			result.Degraded = true
		} else {
			result.Reply = reply.Text
			if reply.GrammarErrors != nil {
				result.GrammarErrors = reply.GrammarErrors
			}
		}
	}

	err = h.update(ctx, cmd.LearnerID, cmd.AttemptID, func(a *learning.Attempt) error {
		if err := a.RecordConversationTurn(cmd.Text, len(result.GrammarErrors)); err != nil {
			return err
		}
		result.Turns = a.Conversation.Turns
		result.WordCount = a.Conversation.WordCount
		result.DistinctWords = a.Conversation.DistinctWords
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_conversation_turn: %w", err)
	}
	return result, nil
}

func (h *RecordExerciseHandler) reply(ctx context.Context, attempt *learning.Attempt, cmd RecordConversationTurnCommand) (*learning.ConversationReply, error) {
	if h.partner == nil {
		return nil, learning.ErrConversationUnavailable
	}
	req := learning.ConversationRequest{
		LessonID: attempt.LessonID,
		History:  cmd.History,
		Text:     cmd.Text,
	}
	if lesson, err := h.catalog.GetLesson(ctx, attempt.LessonID); err == nil {
		req.Instructions = lesson.Instructions
	}
	return h.partner.Reply(ctx, req)
}

// loadOpen returns the caller's open attempt of the expected kind. Foreign
// attempts are reported as not found.
func (h *RecordExerciseHandler) loadOpen(ctx context.Context, s learning.Store, learnerID, attemptID string, kind learning.LessonKind) (*learning.Attempt, error) {
	a, err := s.Attempts().GetForUpdate(ctx, learning.AttemptID(attemptID))
	if err != nil {
		return nil, err
	}
	if !a.BelongsTo(shared.LearnerID(learnerID)) {
		return nil, learning.ErrAttemptNotFound
	}
	if a.Completed {
		return nil, learning.ErrAttemptAlreadyCompleted
	}
	if a.Kind != kind {
		return nil, learning.ErrKindMismatch
	}
	return a, nil
}

// update applies fn to the locked attempt and stores its inputs.
func (h *RecordExerciseHandler) update(ctx context.Context, learnerID, attemptID string, fn func(a *learning.Attempt) error) error {
	start := time.Now()
	err := h.uow.Do(ctx, func(tx learning.Store) error {
		a, err := tx.Attempts().GetForUpdate(ctx, learning.AttemptID(attemptID))
		if err != nil {
			return err
		}
		if !a.BelongsTo(shared.LearnerID(learnerID)) {
			return learning.ErrAttemptNotFound
		}
		if err := fn(a); err != nil {
			return err
		}
		return tx.Attempts().SaveInputs(ctx, a)
	})
	if err == nil {
		h.logger.DebugContext(ctx, "attempt inputs saved",
			"learner_id", learnerID,
			"attempt_id", attemptID,
			"latency", time.Since(start),
		)
	}
	return err
}
