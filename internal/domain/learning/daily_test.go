package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

func TestDailyStat_Accumulate(t *testing.T) {
	s := NewDailyStat("learner-1", fixedNow)
	s.Accumulate(DailyDelta{Minutes: 3, XP: 75, LessonCompleted: true, PronunciationExercises: 1})
	s.Accumulate(DailyDelta{Minutes: 2, XP: 50})

	assert.Equal(t, 2, s.Sessions)
	assert.Equal(t, 5, s.MinutesStudied)
	assert.Equal(t, 125, s.XPEarned)
	assert.Equal(t, 1, s.LessonsCompleted)
	assert.Equal(t, 1, s.PronunciationExercises)
}

func TestDailyDelta_Validate(t *testing.T) {
	assert.NoError(t, DailyDelta{}.Validate())
	assert.ErrorIs(t, DailyDelta{Minutes: -1}.Validate(), ErrNegativeCount)
}

func TestDeltaFor(t *testing.T) {
	a := newTestAttempt(t, KindMatching)
	items := []VocabularyOutcome{{VocabularyID: "v1", Correct: true}, {VocabularyID: "v2"}}
	_ = a.RecordMatching(MatchingInput{Correct: 1, Total: 2}, items)
	_ = a.Complete(50, false, "", fixedNow.Add(59*time.Second))

	d := DeltaFor(a, 50, true)
	assert.Equal(t, 0, d.Minutes)
	assert.Equal(t, 2, d.VocabularyReviewed)
	assert.False(t, d.LessonCompleted)

	assert.Equal(t, 0, DeltaFor(a, 50, false).VocabularyReviewed)
}

func TestFillDays(t *testing.T) {
	r := shared.LastNDays(fixedNow, 3)
	stored := []*DailyStat{{LearnerID: "learner-1", Date: shared.Day(fixedNow.AddDate(0, 0, -1)), Sessions: 2}}

	days := FillDays("learner-1", r, stored)
	assert.Len(t, days, 3)
	assert.Equal(t, shared.Day(fixedNow), days[0].Date)
	assert.Equal(t, 0, days[0].Sessions)
	assert.Equal(t, 2, days[1].Sessions)
	assert.Equal(t, shared.Day(fixedNow.AddDate(0, 0, -2)), days[2].Date)

	totals := SumStats(days)
	assert.Equal(t, 2, totals.Sessions)
	assert.Equal(t, 1, totals.ActiveDays)
}

func TestVocabularyProgress_Mastery(t *testing.T) {
	v := NewVocabularyProgress("learner-1", "v1")
	for i := 0; i < MasteryThreshold-1; i++ {
		assert.False(t, v.Record(true, fixedNow))
	}
	assert.False(t, v.Record(false, fixedNow))
	assert.True(t, v.Record(true, fixedNow))
	assert.True(t, v.Mastered)
	assert.False(t, v.Record(false, fixedNow))
	assert.True(t, v.Mastered)
	assert.Equal(t, 7, v.TimesPracticed)
}

func TestFeedbackFor(t *testing.T) {
	assert.Equal(t, BandExcellent, BandFor(95, 70))
	assert.Equal(t, BandGood, BandFor(70, 70))
	assert.Equal(t, BandKeepGoing, BandFor(55, 70))
	assert.Equal(t, BandReview, BandFor(10, 70))
	assert.NotEmpty(t, FeedbackFor(KindPronunciation, 95, 70))
}
