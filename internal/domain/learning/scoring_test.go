package learning

import (
	"testing"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestMatchingScore(t *testing.T) {
	tests := []struct {
		name           string
		correct, total int
		want           float64
	}{
		{"empty exercise", 0, 0, 0},
		{"all correct", 10, 10, 100},
		{"half", 5, 10, 50},
		{"none", 0, 7, 0},
		{"thirds", 1, 3, 100.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MatchingScore(tt.correct, tt.total), 1e-9)
		})
	}
}

func TestPronunciationScore_AveragesPresentSubScores(t *testing.T) {
	assert.Equal(t, 0.0, PronunciationScore(PronunciationInput{}))
	assert.Equal(t, 80.0, PronunciationScore(PronunciationInput{Pronunciation: ptr(80)}))
	assert.Equal(t, 70.0, PronunciationScore(PronunciationInput{Pronunciation: ptr(80), Stress: ptr(60)}))
	assert.InDelta(t, 73.333, PronunciationScore(PronunciationInput{
		Pronunciation: ptr(80), Intonation: ptr(80), Stress: ptr(60),
	}), 0.001)
}

func TestConversationScores(t *testing.T) {
	in := ConversationInput{Turns: 3, WordCount: 50, GrammarErrors: 2, DistinctWords: 30}
	c := ConversationScores(in)

	assert.InDelta(t, 86.0, c.Fluency, 1e-9) // 90 - 0.04*100
	assert.InDelta(t, 80.0, c.Grammar, 1e-9)
	assert.InDelta(t, 100.0, c.Vocabulary, 1e-9)
	assert.InDelta(t, 0.4*86+0.3*80+0.3*100, ConversationScore(in), 1e-9)
}

func TestConversationScores_ClampAtZero(t *testing.T) {
	in := ConversationInput{Turns: 1, WordCount: 5, GrammarErrors: 15, DistinctWords: 2}
	c := ConversationScores(in)

	assert.Equal(t, 0.0, c.Fluency)
	assert.Equal(t, 0.0, c.Grammar)
	assert.Equal(t, 10.0, c.Vocabulary)
}

func TestConversationScore_NoWords(t *testing.T) {
	// 0.4*90 + 0.3*100 + 0.3*0
	assert.InDelta(t, 66.0, ConversationScore(ConversationInput{}), 1e-9)
	assert.InDelta(t, 66.0, ConversationScore(ConversationInput{Turns: 2}), 1e-9)
	// 0.4*90 + 0.3*100 + 0.3*50
	assert.InDelta(t, 81.0, ConversationScore(ConversationInput{DistinctWords: 10}), 1e-9)
}

func TestScoreCalculator_Calculate(t *testing.T) {
	calc := NewScoreCalculator()

	score, err := calc.Calculate(KindMatching, RawInputs{Matching: &MatchingInput{Correct: 2, Total: 3}})
	require.NoError(t, err)
	assert.Equal(t, 66.7, score)

	score, err = calc.Calculate(KindPronunciation, RawInputs{Pronunciation: &PronunciationInput{
		Pronunciation: ptr(80), Intonation: ptr(80), Stress: ptr(60),
	}})
	require.NoError(t, err)
	assert.Equal(t, 73.3, score)

	score, err = calc.Calculate(KindConversation, RawInputs{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score, "absent block")

	score, err = calc.Calculate(KindConversation, RawInputs{Conversation: &ConversationInput{}})
	require.NoError(t, err)
	assert.Equal(t, 66.0, score)

	score, err = calc.Calculate(KindConversation, RawInputs{Conversation: &ConversationInput{DistinctWords: 10}})
	require.NoError(t, err)
	assert.Equal(t, 81.0, score)
}

func TestScoreCalculator_Validation(t *testing.T) {
	calc := NewScoreCalculator()

	_, err := calc.Calculate(KindMatching, RawInputs{Matching: &MatchingInput{Correct: 4, Total: 3}})
	assert.ErrorIs(t, err, ErrCorrectExceedsTotal)

	_, err = calc.Calculate(KindMatching, RawInputs{Matching: &MatchingInput{Correct: -1, Total: 3}})
	assert.ErrorIs(t, err, ErrNegativeCount)

	_, err = calc.Calculate(KindPronunciation, RawInputs{Pronunciation: &PronunciationInput{Stress: ptr(101)}})
	assert.ErrorIs(t, err, ErrScoreOutOfRange)

	_, err = calc.Calculate(KindConversation, RawInputs{Conversation: &ConversationInput{WordCount: 3, DistinctWords: 5}})
	assert.ErrorIs(t, err, ErrDistinctExceedsWords)
	assert.True(t, shared.IsValidation(err))

	_, err = calc.Calculate(LessonKind("dictation"), RawInputs{})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestRoundScore(t *testing.T) {
	assert.Equal(t, 66.7, RoundScore(66.666))
	assert.Equal(t, 90.0, RoundScore(89.96))
	assert.Equal(t, 0.0, RoundScore(0.04))
}
