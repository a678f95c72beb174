package learning

import (
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// MasteryThreshold - число верных ответов, после которого слово считается выученным.
const MasteryThreshold = 5

// VocabularyProgress - статистика ученика по одному слову.
type VocabularyProgress struct {
	LearnerID    shared.LearnerID
	VocabularyID string

	TimesPracticed int
	TimesCorrect   int
	Mastered       bool

	LastPracticedAt time.Time
}

// NewVocabularyProgress создаёт пустую запись.
func NewVocabularyProgress(learnerID shared.LearnerID, vocabularyID string) *VocabularyProgress {
	return &VocabularyProgress{LearnerID: learnerID, VocabularyID: vocabularyID}
}

// Record учитывает одну встречу слова. Возвращает true, если слово
// стало выученным именно сейчас. Выученное слово не "разучивается".
func (v *VocabularyProgress) Record(correct bool, now time.Time) bool {
	v.TimesPracticed++
	if correct {
		v.TimesCorrect++
	}
	v.LastPracticedAt = now.UTC()
	if !v.Mastered && v.TimesCorrect >= MasteryThreshold {
		v.Mastered = true
		return true
	}
	return false
}

// Accuracy - доля верных ответов в процентах.
func (v *VocabularyProgress) Accuracy() float64 {
	return Percentage(v.TimesCorrect, v.TimesPracticed)
}

// VocabularyCounts - сводка по словарю ученика.
type VocabularyCounts struct {
	Practiced int
	Mastered  int
}
