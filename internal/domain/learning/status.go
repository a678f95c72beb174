package learning

import (
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON STATUS (state machine)
// ══════════════════════════════════════════════════════════════════════════════

// LessonStatus - статус урока для конкретного ученика.
//
// Переходы:
//
//	Locked      → Available   только явной разблокировкой
//	Available   → InProgress  при старте попытки
//	InProgress  → InProgress  при старте или непройденной попытке
//	InProgress  → Completed   при первой попытке с проходным баллом
//	Completed   → Completed   терминальный статус
type LessonStatus string

const (
	StatusLocked     LessonStatus = "locked"
	StatusAvailable  LessonStatus = "available"
	StatusInProgress LessonStatus = "in_progress"
	StatusCompleted  LessonStatus = "completed"
)

// IsValid проверяет, что статус входит в закрытое перечисление.
func (s LessonStatus) IsValid() bool {
	switch s {
	case StatusLocked, StatusAvailable, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// String возвращает строковое представление.
func (s LessonStatus) String() string { return string(s) }

// ParseLessonStatus разбирает сохранённое значение статуса.
func ParseLessonStatus(s string) (LessonStatus, error) {
	status := LessonStatus(s)
	if !status.IsValid() {
		return "", shared.NewDomainError("learning", "ParseLessonStatus", shared.ErrInvalidInput, "unknown lesson status "+s)
	}
	return status, nil
}

// rank задаёт порядок статусов: статус никогда не движется назад.
func (s LessonStatus) rank() int {
	switch s {
	case StatusLocked:
		return 0
	case StatusAvailable:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// OnStart возвращает статус после старта попытки.
func (s LessonStatus) OnStart() (LessonStatus, error) {
	switch s {
	case StatusLocked:
		return s, ErrLessonLocked
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusAvailable, StatusInProgress:
		return StatusInProgress, nil
	}
	return s, shared.NewDomainError("learning", "OnStart", shared.ErrStateTransition, "unknown lesson status "+string(s))
}

// OnResult возвращает статус после завершения попытки.
func (s LessonStatus) OnResult(passed bool) LessonStatus {
	if passed || s == StatusCompleted {
		return StatusCompleted
	}
	return StatusInProgress
}

// OnUnlock возвращает статус после разблокировки и признак изменения.
func (s LessonStatus) OnUnlock() (LessonStatus, bool) {
	if s == StatusLocked {
		return StatusAvailable, true
	}
	return s, false
}

// CanTransitionTo проверяет, что переход не регрессирует статус.
func (s LessonStatus) CanTransitionTo(next LessonStatus) bool {
	return next.IsValid() && next.rank() >= s.rank()
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC STATUS
// ══════════════════════════════════════════════════════════════════════════════

// TopicStatus всегда выводится из счётчиков и никогда не задаётся напрямую.
type TopicStatus string

const (
	TopicNotStarted TopicStatus = "not_started"
	TopicInProgress TopicStatus = "in_progress"
	TopicCompleted  TopicStatus = "completed"
)

// String возвращает строковое представление.
func (s TopicStatus) String() string { return string(s) }

// DeriveTopicStatus: Completed, если пройдены все уроки; InProgress, если
// пройден хотя бы один; иначе NotStarted. Тема без активных уроков
// считается не начатой.
func DeriveTopicStatus(completed, total int) TopicStatus {
	switch {
	case total > 0 && completed >= total:
		return TopicCompleted
	case completed > 0:
		return TopicInProgress
	default:
		return TopicNotStarted
	}
}
