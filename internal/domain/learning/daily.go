package learning

import (
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY STATS
// ══════════════════════════════════════════════════════════════════════════════

// DailyStat - агрегат активности ученика за один календарный день.
// Все счётчики только растут.
type DailyStat struct {
	LearnerID shared.LearnerID

	// Date - UTC полночь дня (shared.Day).
	Date time.Time

	Sessions         int
	MinutesStudied   int
	LessonsCompleted int
	XPEarned         int

	VocabularyReviewed     int
	PronunciationExercises int
	ConversationTurns      int
}

// NewDailyStat создаёт пустую запись за день.
func NewDailyStat(learnerID shared.LearnerID, date time.Time) *DailyStat {
	return &DailyStat{LearnerID: learnerID, Date: shared.Day(date)}
}

// DailyDelta - приращение за одну завершённую попытку.
type DailyDelta struct {
	Minutes         int
	XP              int
	LessonCompleted bool

	VocabularyReviewed     int
	PronunciationExercises int
	ConversationTurns      int
}

// Validate запрещает отрицательные приращения.
func (d DailyDelta) Validate() error {
	if d.Minutes < 0 || d.XP < 0 || d.VocabularyReviewed < 0 ||
		d.PronunciationExercises < 0 || d.ConversationTurns < 0 {
		return ErrNegativeCount
	}
	return nil
}

// DeltaFor собирает приращение по завершённой попытке. Пословные результаты
// учитываются только при trackVocabulary.
func DeltaFor(a *Attempt, xp int, trackVocabulary bool) DailyDelta {
	d := DailyDelta{
		Minutes:         a.DurationMinutes(),
		XP:              xp,
		LessonCompleted: a.Passed,
	}
	switch a.Kind {
	case KindMatching:
		if trackVocabulary {
			d.VocabularyReviewed = len(a.VocabularyItems)
		}
	case KindPronunciation:
		d.PronunciationExercises = 1
	case KindConversation:
		d.ConversationTurns = a.Conversation.Turns
	}
	return d
}

// Accumulate добавляет приращение; каждая попытка - одна сессия.
func (s *DailyStat) Accumulate(d DailyDelta) {
	s.Sessions++
	s.MinutesStudied += d.Minutes
	s.XPEarned += d.XP
	if d.LessonCompleted {
		s.LessonsCompleted++
	}
	s.VocabularyReviewed += d.VocabularyReviewed
	s.PronunciationExercises += d.PronunciationExercises
	s.ConversationTurns += d.ConversationTurns
}

// IsActive возвращает true, если в этот день была хоть одна сессия.
func (s *DailyStat) IsActive() bool {
	return s.Sessions > 0
}

// FillDays возвращает по записи на каждый день диапазона, от новых к старым.
// Дни без активности заполняются нулями.
func FillDays(learnerID shared.LearnerID, r shared.TimeRange, stats []*DailyStat) []*DailyStat {
	byDay := make(map[string]*DailyStat, len(stats))
	for _, s := range stats {
		byDay[shared.FormatDay(s.Date)] = s
	}

	n := r.Days()
	out := make([]*DailyStat, 0, n)
	for i := 0; i < n; i++ {
		day := r.To.AddDate(0, 0, -i)
		if s, ok := byDay[shared.FormatDay(day)]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, NewDailyStat(learnerID, day))
	}
	return out
}

// StatTotals - сумма записей за период.
type StatTotals struct {
	Sessions         int
	MinutesStudied   int
	LessonsCompleted int
	XPEarned         int
	ActiveDays       int
}

// SumStats складывает записи.
func SumStats(stats []*DailyStat) StatTotals {
	var t StatTotals
	for _, s := range stats {
		t.Sessions += s.Sessions
		t.MinutesStudied += s.MinutesStudied
		t.LessonsCompleted += s.LessonsCompleted
		t.XPEarned += s.XPEarned
		if s.IsActive() {
			t.ActiveDays++
		}
	}
	return t
}
