package analysis

import (
	"context"
	"net/http"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
)

// SpeechClient implements learning.SpeechAnalyzer.
//
// Wire contract:
//
//	POST {base}/v1/analyze?expected_text=...   body: raw audio
//	200 {"pronunciation_score": 82.5, "intonation_score": null,
//	     "stress_score": 71, "transcript": "hello there"}
type SpeechClient struct {
	*client
}

// NewSpeechClient creates a speech-analysis client.
func NewSpeechClient(cfg ClientConfig) *SpeechClient {
	return &SpeechClient{client: newClient("speech-analysis", cfg)}
}

type speechResponse struct {
	Pronunciation *float64 `json:"pronunciation_score"`
	Intonation    *float64 `json:"intonation_score"`
	Stress        *float64 `json:"stress_score"`
	Transcript    string   `json:"transcript"`
}

// Analyze uploads the recording and returns the sub-scores. Scores the
// service did not produce stay nil.
func (c *SpeechClient) Analyze(ctx context.Context, req learning.SpeechRequest) (*learning.SpeechAnalysis, error) {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var resp speechResponse
	err := c.do(ctx, request{
		op:          "AnalyzeSpeech",
		method:      http.MethodPost,
		path:        "/v1/analyze",
		query:       map[string]string{"expected_text": req.ExpectedText},
		body:        req.Audio,
		contentType: contentType,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &learning.SpeechAnalysis{
		Scores: learning.PronunciationInput{
			Pronunciation: resp.Pronunciation,
			Intonation:    resp.Intonation,
			Stress:        resp.Stress,
		},
		Transcript: resp.Transcript,
	}, nil
}
