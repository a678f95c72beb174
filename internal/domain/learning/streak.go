package learning

import (
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (Серия активных дней)
// ══════════════════════════════════════════════════════════════════════════════

// Streak представляет серию дней с учебной активностью.
type Streak struct {
	// LearnerID - идентификатор ученика.
	LearnerID shared.LearnerID

	// CurrentStreak - текущая серия дней.
	CurrentStreak int

	// LongestStreak - лучшая серия дней; не убывает.
	LongestStreak int

	// LastActivityDate - дата последней активности (UTC полночь).
	// Нулевое значение означает, что активности ещё не было.
	LastActivityDate time.Time

	UpdatedAt time.Time
}

// NewStreak создаёт пустую серию.
func NewStreak(learnerID shared.LearnerID) *Streak {
	return &Streak{LearnerID: learnerID}
}

// TouchResult - результат отметки активности.
type TouchResult struct {
	CurrentStreak int
	LongestStreak int

	// Advanced - серия изменилась (продлена или начата заново).
	Advanced bool

	// Restarted - серия была прервана и начата с 1.
	Restarted bool

	// PreviousStreak - значение серии до отметки.
	PreviousStreak int
}

// Touch отмечает активность в день today.
func (s *Streak) Touch(today time.Time) TouchResult {
	day := shared.Day(today)
	res := TouchResult{PreviousStreak: s.CurrentStreak}

	// Первая активность
	if s.LastActivityDate.IsZero() {
		s.CurrentStreak = 1
		if s.LongestStreak < 1 {
			s.LongestStreak = 1
		}
		s.LastActivityDate = day
		s.UpdatedAt = day
		res.CurrentStreak, res.LongestStreak, res.Advanced = s.CurrentStreak, s.LongestStreak, true
		return res
	}

	switch diff := shared.DaysBetween(s.LastActivityDate, day); {
	case diff <= 0:
		// Тот же день (или запоздалая отметка) - ничего не меняем
		res.CurrentStreak, res.LongestStreak = s.CurrentStreak, s.LongestStreak
		return res
	case diff == 1:
		// Следующий день - продолжаем серию
		s.CurrentStreak++
	default:
		// Пропущены дни - начинаем заново
		s.CurrentStreak = 1
		res.Restarted = true
	}

	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
	s.LastActivityDate = day
	s.UpdatedAt = day

	res.CurrentStreak, res.LongestStreak, res.Advanced = s.CurrentStreak, s.LongestStreak, true
	return res
}

// LearnedOn проверяет, была ли активность в день today.
func (s *Streak) LearnedOn(today time.Time) bool {
	return !s.LastActivityDate.IsZero() && shared.DaysBetween(s.LastActivityDate, today) == 0
}

// IsBroken проверяет, прервана ли серия на день today (пропущен вчерашний день).
func (s *Streak) IsBroken(today time.Time) bool {
	if s.LastActivityDate.IsZero() {
		return false
	}
	return shared.DaysBetween(s.LastActivityDate, today) > 1
}

// EffectiveCurrent - серия, как её видит ученик на день today: прерванная
// серия показывается как 0. Хранимое значение не меняется.
func (s *Streak) EffectiveCurrent(today time.Time) int {
	if s.IsBroken(today) {
		return 0
	}
	return s.CurrentStreak
}
