package shared

import (
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ИДЕНТИФИКАТОРЫ
// ══════════════════════════════════════════════════════════════════════════════

// LearnerID - идентификатор ученика. Учениками владеет сервис идентификации,
// поэтому принимается любая непустая строка.
type LearnerID string

// IsValid проверяет, что идентификатор не пустой и не из одних пробелов.
func (id LearnerID) IsValid() bool { return strings.TrimSpace(string(id)) != "" }

// String возвращает идентификатор как есть.
func (id LearnerID) String() string { return string(id) }

// ══════════════════════════════════════════════════════════════════════════════
// ОПЫТ И УРОВНИ
// ══════════════════════════════════════════════════════════════════════════════

// XP - накопленный опыт. Только растёт.
type XP int

// MinXP - стартовый баланс.
const MinXP XP = 0

// Int возвращает опыт как int для DTO и SQL.
func (x XP) Int() int { return int(x) }

// Add прибавляет amount; неположительные значения игнорируются.
func (x XP) Add(amount int) XP {
	return x + XP(max(amount, 0))
}

// Level - наибольший уровень, порог которого не превышает x.
func (x XP) Level() Level {
	l := MinLevel
	for int(x) >= (l + 1).Threshold() {
		l++
	}
	return l
}

// Level всегда выводится из XP и отдельно не хранится.
type Level int

// MinLevel - уровень ученика без опыта.
const MinLevel Level = 1

// Int возвращает номер уровня как int.
func (l Level) Int() int { return int(l) }

// Threshold - опыт, нужный для уровня l: 100 * (1 + 2 + ... + (l-1)).
// Уровень 2 начинается со 100, уровень 3 - с 300, уровень 4 - с 600.
func (l Level) Threshold() int {
	if l <= MinLevel {
		return 0
	}
	n := int(l - 1)
	return 50 * n * (n + 1)
}

// XPToNextLevel - сколько опыта не хватает до уровня level+1, не меньше нуля.
func XPToNextLevel(level Level, xp XP) int {
	return max((level+1).Threshold()-int(xp), 0)
}

// ══════════════════════════════════════════════════════════════════════════════
// КАЛЕНДАРНЫЕ ДНИ
// ══════════════════════════════════════════════════════════════════════════════

const dayLayout = "2006-01-02"

// Day приводит t к календарной дате в его собственной зоне и возвращает её
// как полночь UTC. Серии и дневная статистика хранятся по таким значениям,
// так что арифметика дней не зависит от перехода на летнее время.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween - число календарных дней от a до b со знаком.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)) / (24 * time.Hour))
}

// FormatDay печатает день как YYYY-MM-DD.
func FormatDay(t time.Time) string { return Day(t).Format(dayLayout) }

// TimeRange - отрезок дней, обе границы включены.
type TimeRange struct {
	From, To time.Time
}

// LastNDays - n дней, заканчивая today включительно. n < 1 считается за 1.
func LastNDays(today time.Time, n int) TimeRange {
	to := Day(today)
	return TimeRange{From: to.AddDate(0, 0, 1-max(n, 1)), To: to}
}

func (r TimeRange) IsValid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.To.Before(r.From)
}

// Days - число дней в отрезке, 0 для некорректного.
func (r TimeRange) Days() int {
	if !r.IsValid() {
		return 0
	}
	return DaysBetween(r.From, r.To) + 1
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s..%s", FormatDay(r.From), FormatDay(r.To))
}

// ══════════════════════════════════════════════════════════════════════════════
// ПАГИНАЦИЯ
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination - страница истории, нумерация с 1.
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination подставляет значения по умолчанию и ограничивает размер
// страницы.
func NewPagination(page, pageSize int) Pagination {
	p := Pagination{Page: max(page, 1), PageSize: pageSize}
	p.PageSize = p.Limit()
	return p
}

func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return defaultPageSize
	case p.PageSize > maxPageSize:
		return maxPageSize
	}
	return p.PageSize
}

func (p Pagination) Offset() int {
	return max(p.Page-1, 0) * p.Limit()
}
