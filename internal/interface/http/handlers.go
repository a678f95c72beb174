package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/alem-hub/learner-progress/internal/application/command"
	"github.com/alem-hub/learner-progress/internal/application/query"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles GET /health. Degraded collaborators keep it at 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles GET /ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles GET /live.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

type startAttemptRequest struct {
	LessonID string `json:"lesson_id"`
}

type matchingRequest struct {
	Correct int                      `json:"correct"`
	Total   int                      `json:"total"`
	Items   []command.VocabularyItem `json:"items,omitempty"`
}

type conversationRequest struct {
	Text    string                         `json:"text"`
	History []learning.ConversationMessage `json:"history,omitempty"`
}

type pronunciationScores struct {
	Pronunciation *float64 `json:"pronunciation"`
	Intonation    *float64 `json:"intonation"`
	Stress        *float64 `json:"stress"`
}

type conversationCounts struct {
	Turns         int `json:"turns"`
	WordCount     int `json:"word_count"`
	GrammarErrors int `json:"grammar_errors"`
	DistinctWords int `json:"distinct_words"`
}

// completeAttemptRequest may override the accumulated inputs with one block.
type completeAttemptRequest struct {
	Matching      *matchingRequest     `json:"matching,omitempty"`
	Pronunciation *pronunciationScores `json:"pronunciation,omitempty"`
	Conversation  *conversationCounts  `json:"conversation,omitempty"`
}

func (req completeAttemptRequest) toCommand(learnerID, attemptID, correlationID string) command.CompleteAttemptCommand {
	cmd := command.CompleteAttemptCommand{
		LearnerID:     learnerID,
		AttemptID:     attemptID,
		CorrelationID: correlationID,
	}
	if m := req.Matching; m != nil {
		cmd.Matching = &learning.MatchingInput{Correct: m.Correct, Total: m.Total}
	}
	if p := req.Pronunciation; p != nil {
		cmd.Pronunciation = &learning.PronunciationInput{
			Pronunciation: p.Pronunciation,
			Intonation:    p.Intonation,
			Stress:        p.Stress,
		}
	}
	if c := req.Conversation; c != nil {
		cmd.Conversation = &learning.ConversationInput{
			Turns:         c.Turns,
			WordCount:     c.WordCount,
			GrammarErrors: c.GrammarErrors,
			DistinctWords: c.DistinctWords,
		}
	}
	return cmd
}

// decodeJSON reads a JSON body of at most MaxRequestBytes. An empty body
// leaves dst untouched.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := r.Body
	if s.config.MaxRequestBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes)
	}

	err := json.NewDecoder(body).Decode(dst)
	var maxBytes *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &maxBytes):
		return err
	default:
		return shared.Validationf("http", "DecodeJSON", "malformed JSON body: %v", err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleStartAttempt handles POST /api/v1/attempts
func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request, learnerID string) {
	var req startAttemptRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.StartAttempt.Handle(r.Context(), command.StartAttemptCommand{
		LearnerID:     learnerID,
		LessonID:      req.LessonID,
		CorrelationID: requestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

// handleRecordMatching handles POST /api/v1/attempts/{id}/matching
func (s *Server) handleRecordMatching(w http.ResponseWriter, r *http.Request, learnerID string) {
	var req matchingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.RecordExercise.HandleMatching(r.Context(), command.RecordMatchingCommand{
		LearnerID: learnerID,
		AttemptID: r.PathValue("id"),
		Correct:   req.Correct,
		Total:     req.Total,
		Items:     req.Items,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleRecordPronunciation handles POST /api/v1/attempts/{id}/pronunciation.
// The body is the raw recording; expected_text comes from the query string.
func (s *Server) handleRecordPronunciation(w http.ResponseWriter, r *http.Request, learnerID string) {
	body := r.Body
	if s.config.MaxAudioBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxAudioBytes)
	}
	audio, err := io.ReadAll(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		s.writeError(w, r, shared.Validationf("http", "RecordPronunciation", "send the recording as the raw request body"))
		return
	}

	result, err := s.deps.RecordExercise.HandlePronunciation(r.Context(), command.RecordPronunciationCommand{
		LearnerID:    learnerID,
		AttemptID:    r.PathValue("id"),
		Audio:        audio,
		ContentType:  contentType,
		ExpectedText: r.URL.Query().Get("expected_text"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleRecordConversation handles POST /api/v1/attempts/{id}/conversation
func (s *Server) handleRecordConversation(w http.ResponseWriter, r *http.Request, learnerID string) {
	var req conversationRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.RecordExercise.HandleConversationTurn(r.Context(), command.RecordConversationTurnCommand{
		LearnerID: learnerID,
		AttemptID: r.PathValue("id"),
		Text:      req.Text,
		History:   req.History,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleCompleteAttempt handles POST /api/v1/attempts/{id}/complete
func (s *Server) handleCompleteAttempt(w http.ResponseWriter, r *http.Request, learnerID string) {
	var req completeAttemptRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	cmd := req.toCommand(learnerID, r.PathValue("id"), requestID(r.Context()))
	summary, err := s.deps.CompleteAttempt.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Debug("attempt completed",
		logger.AttemptID(cmd.AttemptID),
		logger.XPAmount(summary.XPEarned),
	)
	writeJSON(w, r, http.StatusOK, summary)
}

// handleAttemptHistory handles GET /api/v1/attempts/history
func (s *Server) handleAttemptHistory(w http.ResponseWriter, r *http.Request, learnerID string) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "page_size", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.AttemptHistory.Handle(r.Context(), query.GetAttemptHistoryQuery{
		LearnerID: learnerID,
		LessonID:  r.URL.Query().Get("lesson_id"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{
		TotalCount: result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		HasMore:    result.HasMore,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleOverview handles GET /api/v1/progress/overview. ?fresh=true bypasses
// the cache.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request, learnerID string) {
	result, err := s.deps.Overview.Handle(r.Context(), query.GetOverviewQuery{
		LearnerID: learnerID,
		SkipCache: queryBool(r, "fresh"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleStreak handles GET /api/v1/progress/streak
func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request, learnerID string) {
	result, err := s.deps.Streak.Handle(r.Context(), query.GetStreakQuery{LearnerID: learnerID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleDaily handles GET /api/v1/progress/daily?days=N
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request, learnerID string) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.DailyStats.Handle(r.Context(), query.GetDailyStatsQuery{LearnerID: learnerID, Days: days})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleWeekly handles GET /api/v1/progress/weekly
func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request, learnerID string) {
	result, err := s.deps.DailyStats.HandleWeekly(r.Context(), query.GetWeeklyStatsQuery{LearnerID: learnerID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleTopics handles GET /api/v1/progress/topics
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request, learnerID string) {
	result, err := s.deps.TopicProgress.Handle(r.Context(), query.GetTopicProgressQuery{LearnerID: learnerID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleTopicLessons handles GET /api/v1/progress/topics/{id}/lessons
func (s *Server) handleTopicLessons(w http.ResponseWriter, r *http.Request, learnerID string) {
	result, err := s.deps.TopicProgress.HandleLessons(r.Context(), query.GetLessonProgressQuery{
		LearnerID: learnerID,
		TopicID:   r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleVocabulary handles GET /api/v1/progress/vocabulary?mastered=true&limit=N
func (s *Server) handleVocabulary(w http.ResponseWriter, r *http.Request, learnerID string) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Vocabulary.Handle(r.Context(), query.GetVocabularyProgressQuery{
		LearnerID:    learnerID,
		MasteredOnly: queryBool(r, "mastered"),
		Limit:        limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}
