package learning

import (
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE CALCULATOR
// Pure functions: raw exercise inputs in, 0-100 score out. Rounding to one
// decimal happens only in Calculate, so every consumer sees the same value.
// ══════════════════════════════════════════════════════════════════════════════

const (
	MinScore = 0.0
	MaxScore = 100.0

	conversationFluencyWeight    = 0.4
	conversationGrammarWeight    = 0.3
	conversationVocabularyWeight = 0.3
)

// MatchingInput - результат упражнения на сопоставление.
type MatchingInput struct {
	Correct int
	Total   int
}

// Validate проверяет счётчики.
func (in MatchingInput) Validate() error {
	if in.Correct < 0 || in.Total < 0 {
		return ErrNegativeCount
	}
	if in.Correct > in.Total {
		return ErrCorrectExceedsTotal
	}
	return nil
}

// PronunciationInput - нормализованные подоценки анализатора речи.
// nil означает, что подоценка отсутствует (анализатор не ответил).
type PronunciationInput struct {
	Pronunciation *float64
	Intonation    *float64
	Stress        *float64
}

// Validate проверяет, что присутствующие подоценки лежат в [0,100].
func (in PronunciationInput) Validate() error {
	for _, v := range in.present() {
		if !inRange(v) {
			return ErrScoreOutOfRange
		}
	}
	return nil
}

// Present возвращает число присутствующих подоценок.
func (in PronunciationInput) Present() int { return len(in.present()) }

func (in PronunciationInput) present() []float64 {
	values := make([]float64, 0, 3)
	for _, p := range []*float64{in.Pronunciation, in.Intonation, in.Stress} {
		if p != nil {
			values = append(values, *p)
		}
	}
	return values
}

// ConversationInput - накопленные метрики диалога.
type ConversationInput struct {
	Turns         int
	WordCount     int
	GrammarErrors int
	DistinctWords int
}

// Validate проверяет счётчики. Если число слов передано, различных слов
// не может быть больше.
func (in ConversationInput) Validate() error {
	if in.Turns < 0 || in.WordCount < 0 || in.GrammarErrors < 0 || in.DistinctWords < 0 {
		return ErrNegativeCount
	}
	if in.WordCount > 0 && in.DistinctWords > in.WordCount {
		return ErrDistinctExceedsWords
	}
	return nil
}

// ErrorRate - доля грамматических ошибок на слово.
func (in ConversationInput) ErrorRate() float64 {
	if in.WordCount == 0 {
		return 0
	}
	return float64(in.GrammarErrors) / float64(in.WordCount)
}

// RawInputs объединяет входные данные всех типов уроков. Используется
// только поле, соответствующее типу урока.
type RawInputs struct {
	Matching      *MatchingInput
	Pronunciation *PronunciationInput
	Conversation  *ConversationInput
}

// ConversationComponents - составляющие итоговой оценки диалога.
type ConversationComponents struct {
	Fluency    float64
	Grammar    float64
	Vocabulary float64
}

// MatchingScore = 100 * correct / total; total = 0 даёт 0.
func MatchingScore(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clampScore(100 * float64(correct) / float64(total))
}

// PronunciationScore - среднее присутствующих подоценок; без подоценок 0.
func PronunciationScore(in PronunciationInput) float64 {
	values := in.present()
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return clampScore(sum / float64(len(values)))
}

// ConversationScores вычисляет составляющие оценки диалога.
func ConversationScores(in ConversationInput) ConversationComponents {
	return ConversationComponents{
		Fluency:    clampScore(math.Max(90-in.ErrorRate()*100, 0)),
		Grammar:    clampScore(math.Max(100-float64(in.GrammarErrors)*10, 0)),
		Vocabulary: clampScore(math.Min(float64(in.DistinctWords)*5, 100)),
	}
}

// ConversationScore = 0.4*fluency + 0.3*grammar + 0.3*vocabulary.
// Пустой диалог даёт 66: беглость 90, грамматика 100, словарь 0.
func ConversationScore(in ConversationInput) float64 {
	c := ConversationScores(in)
	return clampScore(conversationFluencyWeight*c.Fluency +
		conversationGrammarWeight*c.Grammar +
		conversationVocabularyWeight*c.Vocabulary)
}

// RoundScore округляет оценку до одного знака после запятой.
func RoundScore(v float64) float64 {
	return math.Round(v*10) / 10
}

// ScoreCalculator выбирает формулу по типу урока.
type ScoreCalculator struct{}

// NewScoreCalculator создаёт калькулятор.
func NewScoreCalculator() ScoreCalculator { return ScoreCalculator{} }

// Calculate валидирует входные данные и возвращает округлённую оценку.
// Отсутствующий блок входных данных для своего типа даёт 0.
func (ScoreCalculator) Calculate(kind LessonKind, in RawInputs) (float64, error) {
	switch kind {
	case KindMatching:
		if in.Matching == nil {
			return 0, nil
		}
		if err := in.Matching.Validate(); err != nil {
			return 0, err
		}
		return RoundScore(MatchingScore(in.Matching.Correct, in.Matching.Total)), nil

	case KindPronunciation:
		if in.Pronunciation == nil {
			return 0, nil
		}
		if err := in.Pronunciation.Validate(); err != nil {
			return 0, err
		}
		return RoundScore(PronunciationScore(*in.Pronunciation)), nil

	case KindConversation:
		if in.Conversation == nil {
			return 0, nil
		}
		if err := in.Conversation.Validate(); err != nil {
			return 0, err
		}
		return RoundScore(ConversationScore(*in.Conversation)), nil
	}
	return 0, ErrKindMismatch
}

func clampScore(v float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, v))
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= MinScore && v <= MaxScore
}
