package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-progress/internal/application/command"
	"github.com/alem-hub/learner-progress/internal/application/query"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/internal/infrastructure/catalog"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learner-progress/internal/interface/http/handlers"
	"github.com/alem-hub/learner-progress/pkg/logger"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

const testSecret = "test-secret"

type noopPublisher struct{}

func (noopPublisher) Publish(shared.Event) error { return nil }

type fakeSpeech struct {
	err error
}

func (f fakeSpeech) Analyze(context.Context, learning.SpeechRequest) (*learning.SpeechAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	score := 88.0
	return &learning.SpeechAnalysis{Scores: learning.PronunciationInput{Pronunciation: &score}, Transcript: "hello"}, nil
}

type stubHealth struct {
	status handlers.HealthStatus
}

func (s stubHealth) Check(context.Context) handlers.HealthStatus { return s.status }

func newTestServer(t *testing.T, mutate func(*Config, *Dependencies)) *Server {
	t.Helper()

	cat, err := catalog.NewStatic(
		[]*learning.Topic{{ID: "greetings", Name: "Greetings", Order: 1, Active: true}},
		[]*learning.Lesson{
			{ID: "g1", TopicID: "greetings", Kind: learning.KindMatching, Order: 1, Active: true},
			{ID: "g2", TopicID: "greetings", Kind: learning.KindMatching, Order: 2, Active: true},
			{ID: "p1", TopicID: "greetings", Kind: learning.KindPronunciation, Order: 3, Active: true},
		},
	)
	require.NoError(t, err)

	store := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	pub := noopPublisher{}

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	deps := Dependencies{
		StartAttempt:    command.NewStartAttemptHandler(cat, store, pub, clock, nil, command.AttemptConfig{}),
		RecordExercise:  command.NewRecordExerciseHandler(cat, store, store, fakeSpeech{}, nil, nil, nil),
		CompleteAttempt: command.NewCompleteAttemptHandler(cat, store, pub, nil, nil, clock, nil, command.AttemptConfig{}),
		Overview:        query.NewGetOverviewHandler(cat, store, nil, nil, clock, nil),
		Streak:          query.NewGetStreakHandler(store, clock, nil),
		DailyStats:      query.NewGetDailyStatsHandler(store, clock, nil),
		TopicProgress:   query.NewGetTopicProgressHandler(cat, store, nil),
		AttemptHistory:  query.NewGetAttemptHistoryHandler(store, nil),
		Vocabulary:      query.NewGetVocabularyProgressHandler(store, nil),
		Auth:            handlers.NewAuthenticator(handlers.AuthConfig{JWTSecret: testSecret}),
		Logger:          logger.New(logger.Options{Output: io.Discard}),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return NewServer(cfg, deps)
}

func tokenFor(t *testing.T, learnerID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   learnerID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func do(t *testing.T, s *Server, method, path, learner string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if learner != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, learner))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestServer_AttemptFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/attempts", "learner-1", map[string]string{"lesson_id": "g1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), env.RequestID)

	var started command.StartAttemptResult
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, 1, started.AttemptNumber)
	assert.Equal(t, "in_progress", started.LessonStatus)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/attempts/"+started.AttemptID+"/matching", "learner-1",
		map[string]any{"correct": 9, "total": 10, "items": []map[string]any{{"vocabulary_id": "hello", "correct": true}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = do(t, s, http.MethodPost, "/api/v1/attempts/"+started.AttemptID+"/complete", "learner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary command.AttemptSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.True(t, summary.Passed)
	assert.Equal(t, 90.0, summary.OverallScore)
	assert.Positive(t, summary.XPEarned)
	assert.Equal(t, "g2", summary.UnlockedLessonID)
	assert.Equal(t, 1, summary.CurrentStreak)

	// completing twice is a conflict
	rec, env = do(t, s, http.MethodPost, "/api/v1/attempts/"+started.AttemptID+"/complete", "learner-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "conflict", env.Error.Code)

	rec, env = do(t, s, http.MethodGet, "/api/v1/progress/overview", "learner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overview query.GetOverviewResult
	require.NoError(t, json.Unmarshal(env.Data, &overview))
	assert.Equal(t, 1, overview.LessonsCompleted)
	assert.Equal(t, 3, overview.LessonsTotal)
	assert.Equal(t, summary.TotalXP, overview.TotalXP)

	rec, env = do(t, s, http.MethodGet, "/api/v1/progress/streak", "learner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var streak query.GetStreakResult
	require.NoError(t, json.Unmarshal(env.Data, &streak))
	assert.Equal(t, 1, streak.CurrentStreak)
	assert.True(t, streak.LearnedToday)

	rec, env = do(t, s, http.MethodGet, "/api/v1/attempts/history?page_size=5", "learner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.TotalCount)
	assert.Equal(t, 5, env.Meta.PageSize)

	// another learner sees nothing of learner-1's attempt
	rec, _ = do(t, s, http.MethodPost, "/api/v1/attempts/"+started.AttemptID+"/complete", "learner-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ProgressQueries(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{
		"/api/v1/progress/daily?days=3",
		"/api/v1/progress/weekly",
		"/api/v1/progress/topics",
		"/api/v1/progress/topics/greetings/lessons",
		"/api/v1/progress/vocabulary?mastered=true",
	} {
		t.Run(path, func(t *testing.T) {
			rec, env := do(t, s, http.MethodGet, path, "learner-1", nil)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.True(t, env.Success)
		})
	}

	rec, env := do(t, s, http.MethodGet, "/api/v1/progress/daily?days=3", "learner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var daily query.GetDailyStatsResult
	require.NoError(t, json.Unmarshal(env.Data, &daily))
	assert.Len(t, daily.Days, 3)
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown lesson", http.MethodPost, "/api/v1/attempts", map[string]string{"lesson_id": "nope"}, http.StatusNotFound, "not_found"},
		{"attempt id not a uuid", http.MethodPost, "/api/v1/attempts/abc/complete", nil, http.StatusBadRequest, "validation_error"},
		{"missing lesson id", http.MethodPost, "/api/v1/attempts", map[string]string{}, http.StatusBadRequest, "validation_error"},
		{"malformed json", http.MethodPost, "/api/v1/attempts", []byte("{"), http.StatusBadRequest, "validation_error"},
		{"days out of range", http.MethodGet, "/api/v1/progress/daily?days=31", nil, http.StatusBadRequest, "validation_error"},
		{"days not a number", http.MethodGet, "/api/v1/progress/daily?days=x", nil, http.StatusBadRequest, "validation_error"},
		{"unknown attempt", http.MethodPost, "/api/v1/attempts/00000000-0000-0000-0000-000000000000/complete", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, s, tt.method, tt.path, "learner-1", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestServer_Authentication(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("missing credentials", func(t *testing.T) {
		rec, env := do(t, s, http.MethodGet, "/api/v1/progress/streak", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", env.Error.Code)
	})

	t.Run("wrong signature", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "learner-1"})
		signed, err := token.SignedString([]byte("other"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/progress/streak", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health is public", func(t *testing.T) {
		rec, env := do(t, s, http.MethodGet, "/live", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, env.Success)
	})
}

func TestServer_RecordPronunciation(t *testing.T) {
	s := newTestServer(t, nil)

	_, env := do(t, s, http.MethodPost, "/api/v1/attempts", "learner-1", map[string]string{"lesson_id": "p1"})
	var started command.StartAttemptResult
	require.NoError(t, json.Unmarshal(env.Data, &started))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/"+started.AttemptID+"/pronunciation?expected_text=hello", strings.NewReader("RIFF...."))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "learner-1"))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	var result command.RecordPronunciationResult
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.False(t, result.Degraded)
	require.NotNil(t, result.Pronunciation)
	assert.Equal(t, 88.0, *result.Pronunciation)
}

func TestServer_AudioTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.MaxAudioBytes = 4
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/abc/pronunciation", strings.NewReader("0123456789"))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "learner-1"))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_Health(t *testing.T) {
	t.Run("unhealthy", func(t *testing.T) {
		s := newTestServer(t, func(_ *Config, d *Dependencies) {
			d.HealthChecker = stubHealth{status: handlers.HealthStatus{Healthy: false, Ready: false, Message: "failing: postgres"}}
		})
		rec, _ := do(t, s, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		rec, _ = do(t, s, http.MethodGet, "/ready", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("degraded stays up", func(t *testing.T) {
		s := newTestServer(t, func(_ *Config, d *Dependencies) {
			d.HealthChecker = stubHealth{status: handlers.HealthStatus{Healthy: true, Ready: true, Degraded: true}}
		})
		rec, _ := do(t, s, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.RateLimitPerMinute = 2
	})
	t.Cleanup(s.rateLimiter.Stop)

	for i := 0; i < 2; i++ {
		rec, _ := do(t, s, http.MethodGet, "/api/v1/progress/streak", "learner-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := do(t, s, http.MethodGet, "/api/v1/progress/streak", "learner-1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", env.Error.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// limits are per learner
	rec, _ = do(t, s, http.MethodGet, "/api/v1/progress/streak", "learner-2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{learning.ErrLessonNotFound, http.StatusNotFound},
		{learning.ErrLessonLocked, http.StatusConflict},
		{learning.ErrScoreOutOfRange, http.StatusBadRequest},
		{learning.ErrNegativeCount, http.StatusBadRequest},
		{learning.ErrSpeechUnavailable, http.StatusServiceUnavailable},
		{shared.NewDomainError("auth", "x", shared.ErrForbidden, "no"), http.StatusForbidden},
		{shared.ErrConcurrentModification, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classifyError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.InDelta(t, float64(time.Minute), float64(wait), float64(time.Millisecond))

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "buckets are per key")

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "30", retryAfter(29*time.Second+time.Millisecond))
	assert.Equal(t, "1", retryAfter(0))
}
