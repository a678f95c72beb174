package learning

import "fmt"

// ══════════════════════════════════════════════════════════════════════════════
// FEEDBACK
// ══════════════════════════════════════════════════════════════════════════════

// FeedbackBand - словесная оценка результата.
type FeedbackBand string

const (
	BandExcellent FeedbackBand = "excellent"
	BandGood      FeedbackBand = "good"
	BandKeepGoing FeedbackBand = "keep_going"
	BandReview    FeedbackBand = "review"
)

// BandFor определяет полосу по оценке и порогу прохождения.
func BandFor(score, passingScore float64) FeedbackBand {
	switch {
	case score >= HighScoreThreshold:
		return BandExcellent
	case score >= passingScore:
		return BandGood
	case score >= 50:
		return BandKeepGoing
	default:
		return BandReview
	}
}

var feedbackText = map[LessonKind]map[FeedbackBand]string{
	KindMatching: {
		BandExcellent: "Excellent! You know these words very well.",
		BandGood:      "Good job! Most of the words are familiar to you.",
		BandKeepGoing: "Keep practicing, you are getting there.",
		BandReview:    "Review the word list and try again.",
	},
	KindPronunciation: {
		BandExcellent: "Excellent pronunciation!",
		BandGood:      "Good pronunciation. Pay a little more attention to stress.",
		BandKeepGoing: "Keep practicing. Listen to the example and repeat slowly.",
		BandReview:    "Listen to the example again and focus on each sound.",
	},
	KindConversation: {
		BandExcellent: "Excellent conversation! Your answers were fluent and correct.",
		BandGood:      "Good conversation. Watch out for small grammar mistakes.",
		BandKeepGoing: "Keep going. Try using longer sentences and new words.",
		BandReview:    "Review the lesson phrases and try the conversation again.",
	},
}

// FeedbackFor возвращает текст обратной связи.
func FeedbackFor(kind LessonKind, score, passingScore float64) string {
	band := BandFor(score, passingScore)
	if texts, ok := feedbackText[kind]; ok {
		return texts[band]
	}
	return fmt.Sprintf("Score: %.1f", score)
}

// ScoreBreakdown - составляющие итоговой оценки для показа ученику.
type ScoreBreakdown struct {
	Kind LessonKind `json:"kind"`

	Correct  *int     `json:"correct,omitempty"`
	Total    *int     `json:"total,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`

	Pronunciation *float64 `json:"pronunciation,omitempty"`
	Intonation    *float64 `json:"intonation,omitempty"`
	Stress        *float64 `json:"stress,omitempty"`

	Fluency    *float64 `json:"fluency,omitempty"`
	Grammar    *float64 `json:"grammar,omitempty"`
	Vocabulary *float64 `json:"vocabulary,omitempty"`
	Turns      *int     `json:"turns,omitempty"`
}

// BreakdownFor собирает разбивку по сырым данным попытки.
func BreakdownFor(a *Attempt) ScoreBreakdown {
	b := ScoreBreakdown{Kind: a.Kind}
	switch a.Kind {
	case KindMatching:
		c, t := a.Matching.Correct, a.Matching.Total
		acc := RoundScore(MatchingScore(c, t))
		b.Correct, b.Total, b.Accuracy = &c, &t, &acc
	case KindPronunciation:
		b.Pronunciation = roundedPtr(a.Pronunciation.Pronunciation)
		b.Intonation = roundedPtr(a.Pronunciation.Intonation)
		b.Stress = roundedPtr(a.Pronunciation.Stress)
	case KindConversation:
		turns := a.Conversation.Turns
		b.Turns = &turns
		if a.Conversation.WordCount > 0 {
			c := ConversationScores(a.Conversation)
			f, g, v := RoundScore(c.Fluency), RoundScore(c.Grammar), RoundScore(c.Vocabulary)
			b.Fluency, b.Grammar, b.Vocabulary = &f, &g, &v
		}
	}
	return b
}

func roundedPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := RoundScore(*v)
	return &r
}
