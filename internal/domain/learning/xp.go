package learning

import (
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP / LEVEL ENGINE
// ══════════════════════════════════════════════════════════════════════════════

const (
	BaseXPMatching      = 50
	BaseXPPronunciation = 75
	BaseXPConversation  = 100

	PerfectScoreBonus  = 50
	HighScoreBonus     = 25
	HighScoreThreshold = 90.0

	// StreakBonusPerDay умножается на новую длину серии.
	StreakBonusPerDay = 5
)

// BaseXP возвращает базовый XP за тип урока.
func BaseXP(kind LessonKind) int {
	switch kind {
	case KindPronunciation:
		return BaseXPPronunciation
	case KindConversation:
		return BaseXPConversation
	default:
		return BaseXPMatching
	}
}

// ScoreBonus: +50 за ровно 100, +25 за ≥ 90, иначе 0.
func ScoreBonus(score float64) int {
	switch {
	case score == MaxScore:
		return PerfectScoreBonus
	case score >= HighScoreThreshold:
		return HighScoreBonus
	default:
		return 0
	}
}

// AwardXp = базовый XP + бонус за оценку (без бонуса за серию).
func AwardXp(kind LessonKind, score float64) int {
	return BaseXP(kind) + ScoreBonus(score)
}

// StreakBonus начисляется только в день, когда серия действительно изменилась.
func StreakBonus(touch TouchResult) int {
	if !touch.Advanced {
		return 0
	}
	return touch.CurrentStreak * StreakBonusPerDay
}

// XPAward - разбивка начисления за попытку.
type XPAward struct {
	Base        int
	ScoreBonus  int
	StreakBonus int
}

// Total возвращает сумму начисления.
func (a XPAward) Total() int {
	return a.Base + a.ScoreBonus + a.StreakBonus
}

// CalculateAward считает начисление после отметки серии.
func CalculateAward(kind LessonKind, score float64, touch TouchResult) XPAward {
	return XPAward{
		Base:        BaseXP(kind),
		ScoreBonus:  ScoreBonus(score),
		StreakBonus: StreakBonus(touch),
	}
}

// XpThreshold(L) = sum(i*100 for i in 1..L-1).
func XpThreshold(level int) int {
	return shared.Level(level).Threshold()
}

// LevelFromXp - наибольший L, для которого XpThreshold(L) <= xp.
func LevelFromXp(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return shared.XP(xp).Level().Int()
}

// XpToNextLevel = max(XpThreshold(level+1) - xp, 0).
func XpToNextLevel(level, xp int) int {
	return shared.XPToNextLevel(shared.Level(level), shared.XP(xp))
}
