package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelThresholds(t *testing.T) {
	tests := []struct {
		xp    XP
		level Level
		toGo  int
	}{
		{0, 1, 100},
		{99, 1, 1},
		{100, 2, 200},
		{299, 2, 1},
		{300, 3, 300},
		{600, 4, 400},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, tt.xp.Level(), "xp %d", tt.xp)
		assert.Equal(t, tt.toGo, XPToNextLevel(tt.xp.Level(), tt.xp), "xp %d", tt.xp)
	}
	assert.Equal(t, 0, XPToNextLevel(1, 500))
}

func TestXP_AddIgnoresNegative(t *testing.T) {
	assert.Equal(t, XP(50), XP(50).Add(-10))
	assert.Equal(t, XP(60), XP(50).Add(10))
}

func TestDays(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*3600)
	late := time.Date(2024, 3, 10, 23, 30, 0, 0, almaty)

	assert.Equal(t, "2024-03-10", FormatDay(late))
	assert.Equal(t, 1, DaysBetween(late, late.Add(time.Hour)))
	assert.Equal(t, -1, DaysBetween(late.Add(time.Hour), late))
	assert.True(t, Day(time.Time{}).IsZero())

	r := LastNDays(late, 7)
	assert.Equal(t, 7, r.Days())
	assert.Equal(t, "2024-03-04..2024-03-10", r.String())
	assert.True(t, r.Contains(Day(late)))
	assert.False(t, r.Contains(Day(late).AddDate(0, 0, 1)))
	assert.Equal(t, 1, LastNDays(late, 0).Days())
	assert.Zero(t, TimeRange{}.Days())
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, Pagination{Page: 1, PageSize: 20}, p)
	assert.Zero(t, p.Offset())

	p = NewPagination(3, 500)
	assert.Equal(t, 100, p.Limit())
	assert.Equal(t, 200, p.Offset())
}

func TestCorrelate(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	lvl := NewLevelUpEvent("u1", 1, 2, 120, at)
	events := []Event{lvl, NewXPGainedEvent("u1", 20, 120, "matching", "a1", at)}

	Correlate(events, "req-7")

	assert.Equal(t, "req-7", lvl.CorrelationID)
	xp, ok := events[1].(*XPGainedEvent)
	require.True(t, ok)
	assert.Equal(t, "req-7", xp.CorrelationID)
	assert.Equal(t, EventLevelUp, lvl.EventType())
	assert.Equal(t, "u1", lvl.AggregateID())
	assert.Equal(t, at, lvl.OccurredAt())
}
