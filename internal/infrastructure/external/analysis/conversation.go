package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
)

// ConversationClient implements learning.ConversationPartner.
//
// Wire contract:
//
//	POST {base}/v1/reply
//	{"lesson_id": "...", "instructions": "...", "history": [{"role": "learner", "text": "..."}], "text": "..."}
//	200 {"reply": "...", "grammar_errors": ["..."]}
type ConversationClient struct {
	*client
}

// NewConversationClient creates a conversation-partner client.
func NewConversationClient(cfg ClientConfig) *ConversationClient {
	return &ConversationClient{client: newClient("conversation-partner", cfg)}
}

type replyRequest struct {
	LessonID     string                         `json:"lesson_id"`
	Instructions string                         `json:"instructions,omitempty"`
	History      []learning.ConversationMessage `json:"history"`
	Text         string                         `json:"text"`
}

type replyResponse struct {
	Reply         string   `json:"reply"`
	GrammarErrors []string `json:"grammar_errors"`
}

// Reply sends the learner's turn with its history and returns the partner's answer.
func (c *ConversationClient) Reply(ctx context.Context, req learning.ConversationRequest) (*learning.ConversationReply, error) {
	history := req.History
	if history == nil {
		history = []learning.ConversationMessage{}
	}
	body, err := json.Marshal(replyRequest{
		LessonID:     req.LessonID.String(),
		Instructions: req.Instructions,
		History:      history,
		Text:         req.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal reply request: %w", err)
	}

	var resp replyResponse
	err = c.do(ctx, request{
		op:          "Reply",
		method:      http.MethodPost,
		path:        "/v1/reply",
		body:        body,
		contentType: "application/json",
	}, &resp)
	if err != nil {
		return nil, err
	}

	errs := resp.GrammarErrors
	if errs == nil {
		errs = []string{}
	}
	return &learning.ConversationReply{Text: resp.Reply, GrammarErrors: errs}, nil
}
