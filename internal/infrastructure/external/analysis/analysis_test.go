package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/circuitbreaker"
)

func testConfig(url string) ClientConfig {
	cfg := DefaultClientConfig(url)
	cfg.APIKey = "secret"
	cfg.Timeout = time.Second
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return cfg
}

func TestSpeechClient_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		assert.Equal(t, "hello there", r.URL.Query().Get("expected_text"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("RIFF"), body)

		_, _ = w.Write([]byte(`{"pronunciation_score": 82.5, "intonation_score": null, "stress_score": 71, "transcript": "hello there"}`))
	}))
	defer srv.Close()

	client := NewSpeechClient(testConfig(srv.URL))
	got, err := client.Analyze(context.Background(), learning.SpeechRequest{
		Audio:        []byte("RIFF"),
		ContentType:  "audio/wav",
		ExpectedText: "hello there",
	})
	require.NoError(t, err)

	require.NotNil(t, got.Scores.Pronunciation)
	assert.Equal(t, 82.5, *got.Scores.Pronunciation)
	assert.Nil(t, got.Scores.Intonation)
	require.NotNil(t, got.Scores.Stress)
	assert.Equal(t, 71.0, *got.Scores.Stress)
	assert.Equal(t, "hello there", got.Transcript)
}

func TestConversationClient_Reply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reply", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req replyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lesson-3", req.LessonID)
		assert.Equal(t, "I goed to school", req.Text)
		assert.NotNil(t, req.History)

		_, _ = w.Write([]byte(`{"reply": "Where did you go after school?", "grammar_errors": ["goed -> went"]}`))
	}))
	defer srv.Close()

	client := NewConversationClient(testConfig(srv.URL))
	got, err := client.Reply(context.Background(), learning.ConversationRequest{
		LessonID: "lesson-3",
		Text:     "I goed to school",
	})
	require.NoError(t, err)
	assert.Equal(t, "Where did you go after school?", got.Text)
	assert.Equal(t, []string{"goed -> went"}, got.GrammarErrors)
}

func TestConversationClient_EmptyGrammarErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply": "Nice!"}`))
	}))
	defer srv.Close()

	got, err := NewConversationClient(testConfig(srv.URL)).Reply(context.Background(), learning.ConversationRequest{LessonID: "l", Text: "hi"})
	require.NoError(t, err)
	assert.NotNil(t, got.GrammarErrors)
	assert.Empty(t, got.GrammarErrors)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"reply": "ok"}`))
	}))
	defer srv.Close()

	got, err := NewConversationClient(testConfig(srv.URL)).Reply(context.Background(), learning.ConversationRequest{LessonID: "l", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "unsupported audio"}`))
	}))
	defer srv.Close()

	client := NewSpeechClient(testConfig(srv.URL))
	_, err := client.Analyze(context.Background(), learning.SpeechRequest{Audio: []byte("x")})
	require.Error(t, err)

	assert.True(t, shared.IsUpstreamUnavailable(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "unsupported audio", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())

	// 4xx does not count against the breaker
	assert.Equal(t, circuitbreaker.StateClosed, client.State())
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Minute
	client := NewSpeechClient(cfg)

	for i := 0; i < 2; i++ {
		_, err := client.Analyze(context.Background(), learning.SpeechRequest{Audio: []byte("x")})
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.State())

	_, err := client.Analyze(context.Background(), learning.SpeechRequest{Audio: []byte("x")})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewSpeechClient(ClientConfig{}).Analyze(context.Background(), learning.SpeechRequest{})
	assert.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
}

func TestAPIError_Temporary(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Temporary())
	assert.True(t, (&APIError{StatusCode: 503}).Temporary())
	assert.False(t, (&APIError{StatusCode: 404}).Temporary())
	assert.Equal(t, "api error 500", (&APIError{StatusCode: 500}).Error())
}
