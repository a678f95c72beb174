package learning

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// EXTERNAL COLLABORATORS
// Ядро зависит только от этих портов. Реализации - в infrastructure/external.
// ══════════════════════════════════════════════════════════════════════════════

// SpeechRequest - запись ученика и ожидаемый текст.
type SpeechRequest struct {
	Audio        []byte
	ContentType  string
	ExpectedText string
}

// SpeechAnalysis - нормализованные подоценки 0-100. Отсутствующая
// подоценка равна nil.
type SpeechAnalysis struct {
	Scores     PronunciationInput
	Transcript string
}

// SpeechAnalyzer - внешний анализатор произношения.
type SpeechAnalyzer interface {
	Analyze(ctx context.Context, req SpeechRequest) (*SpeechAnalysis, error)
}

// ConversationMessage - одна реплика истории диалога.
type ConversationMessage struct {
	Role string `json:"role"` // "learner" или "partner"
	Text string `json:"text"`
}

// ConversationRequest - запрос к собеседнику.
type ConversationRequest struct {
	LessonID     LessonID
	Instructions string
	History      []ConversationMessage
	Text         string
}

// ConversationReply - ответ собеседника и найденные в реплике ошибки.
type ConversationReply struct {
	Text          string
	GrammarErrors []string
}

// ConversationPartner - внешний собеседник-ИИ.
type ConversationPartner interface {
	Reply(ctx context.Context, req ConversationRequest) (*ConversationReply, error)
}
