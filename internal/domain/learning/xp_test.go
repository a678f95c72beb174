package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAwardXp(t *testing.T) {
	tests := []struct {
		kind  LessonKind
		score float64
		want  int
	}{
		{KindMatching, 50, 50},
		{KindMatching, 90, 75},
		{KindMatching, 100, 100},
		{KindPronunciation, 89.9, 75},
		{KindPronunciation, 99.9, 100},
		{KindConversation, 100, 150},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AwardXp(tt.kind, tt.score), "%s %.1f", tt.kind, tt.score)
	}
}

func TestStreakBonus_OnlyWhenAdvanced(t *testing.T) {
	assert.Equal(t, 15, StreakBonus(TouchResult{CurrentStreak: 3, Advanced: true}))
	assert.Equal(t, 0, StreakBonus(TouchResult{CurrentStreak: 3, Advanced: false}))

	award := CalculateAward(KindConversation, 95, TouchResult{CurrentStreak: 2, Advanced: true})
	assert.Equal(t, XPAward{Base: 100, ScoreBonus: 25, StreakBonus: 10}, award)
	assert.Equal(t, 135, award.Total())
}

func TestXpThreshold(t *testing.T) {
	assert.Equal(t, 0, XpThreshold(1))
	assert.Equal(t, 100, XpThreshold(2))
	assert.Equal(t, 300, XpThreshold(3))
	assert.Equal(t, 600, XpThreshold(4))
	assert.Equal(t, 4500, XpThreshold(10))
}

func TestLevelFromXp(t *testing.T) {
	assert.Equal(t, 1, LevelFromXp(0))
	assert.Equal(t, 1, LevelFromXp(99))
	assert.Equal(t, 2, LevelFromXp(100))
	assert.Equal(t, 2, LevelFromXp(150))
	assert.Equal(t, 3, LevelFromXp(300))
	assert.Equal(t, 1, LevelFromXp(-5))

	prev := LevelFromXp(0)
	for xp := 1; xp <= 10000; xp += 7 {
		level := LevelFromXp(xp)
		assert.GreaterOrEqual(t, level, prev)
		prev = level
	}
}

func TestXpToNextLevel(t *testing.T) {
	assert.Equal(t, 100, XpToNextLevel(1, 0))
	assert.Equal(t, 150, XpToNextLevel(2, 150))
	assert.Equal(t, 0, XpToNextLevel(1, 500))
}

func TestOverallProgress_Award(t *testing.T) {
	o := NewOverallProgress("learner-1")
	assert.Equal(t, 1, o.Level.Int())
	assert.Equal(t, 100, o.XPToNextLevel())

	change := o.Award(150, fixedNow)
	assert.True(t, change.LeveledUp)
	assert.Equal(t, 1, change.OldLevel.Int())
	assert.Equal(t, 2, change.NewLevel.Int())
	assert.Equal(t, 150, o.TotalXP.Int())
	assert.Equal(t, 150, o.XPToNextLevel())

	change = o.Award(-40, fixedNow)
	assert.False(t, change.LeveledUp)
	assert.Equal(t, 150, o.TotalXP.Int())
	assert.Equal(t, o.TotalXP.Level(), o.Level)
}
