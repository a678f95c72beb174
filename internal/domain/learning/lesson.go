package learning

import (
	"context"
	"strings"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT (read-only view of the catalog)
// ══════════════════════════════════════════════════════════════════════════════

// DefaultPassingScore применяется, если у урока не задан порог прохождения.
const DefaultPassingScore = 70.0

// LessonID - идентификатор урока в каталоге.
type LessonID string

// String возвращает строковое представление.
func (id LessonID) String() string { return string(id) }

// IsValid проверяет, что ID не пустой.
func (id LessonID) IsValid() bool { return strings.TrimSpace(string(id)) != "" }

// TopicID - идентификатор темы в каталоге.
type TopicID string

// String возвращает строковое представление.
func (id TopicID) String() string { return string(id) }

// IsValid проверяет, что ID не пустой.
func (id TopicID) IsValid() bool { return strings.TrimSpace(string(id)) != "" }

// LessonKind определяет, какая формула ScoreCalculator применяется к уроку.
type LessonKind string

const (
	// KindMatching - сопоставление слов и переводов.
	KindMatching LessonKind = "vocabulary_matching"

	// KindPronunciation - оценка произношения внешним анализатором речи.
	KindPronunciation LessonKind = "pronunciation"

	// KindConversation - диалог с собеседником-ИИ.
	KindConversation LessonKind = "conversation"
)

// IsValid проверяет, что тип урока известен.
func (k LessonKind) IsValid() bool {
	switch k {
	case KindMatching, KindPronunciation, KindConversation:
		return true
	}
	return false
}

// String возвращает строковое представление.
func (k LessonKind) String() string { return string(k) }

// ParseLessonKind разбирает тип урока. Принимает короткое "matching"
// как синоним "vocabulary_matching".
func ParseLessonKind(s string) (LessonKind, error) {
	k := LessonKind(strings.ToLower(strings.TrimSpace(s)))
	if k == "matching" {
		k = KindMatching
	}
	if !k.IsValid() {
		return "", shared.Validationf("learning", "ParseLessonKind", "unknown lesson kind %q", s)
	}
	return k, nil
}

// Lesson - урок, как его видит ядро прогресса.
type Lesson struct {
	ID      LessonID
	TopicID TopicID
	Title   string
	Kind    LessonKind

	// Order - позиция урока внутри темы, начиная с 1.
	Order int

	// PassingScore - порог прохождения; 0 означает DefaultPassingScore.
	PassingScore float64

	EstimatedMinutes int
	Instructions     string
	Active           bool
}

// EffectivePassingScore возвращает порог с учётом значения по умолчанию.
func (l *Lesson) EffectivePassingScore() float64 {
	if l.PassingScore <= 0 {
		return DefaultPassingScore
	}
	return l.PassingScore
}

// IsPassing сообщает, проходит ли оценка порог урока.
func (l *Lesson) IsPassing(score float64) bool {
	return score >= l.EffectivePassingScore()
}

// Topic - тема, объединяющая упорядоченные уроки.
type Topic struct {
	ID     TopicID
	Name   string
	Icon   string
	Order  int
	Active bool
}

// ContentCatalog - каталог тем и уроков. Ядро только читает его.
type ContentCatalog interface {
	// GetLesson возвращает активный урок или ErrLessonNotFound.
	GetLesson(ctx context.Context, id LessonID) (*Lesson, error)

	// GetTopic возвращает активную тему или ErrTopicNotFound.
	GetTopic(ctx context.Context, id TopicID) (*Topic, error)

	// ListTopicLessons возвращает активные уроки темы, упорядоченные по Order.
	ListTopicLessons(ctx context.Context, topicID TopicID) ([]*Lesson, error)

	// FindLessonByOrder ищет активный урок темы с точным порядковым номером.
	// Возвращает ErrLessonNotFound, если такого нет.
	FindLessonByOrder(ctx context.Context, topicID TopicID, order int) (*Lesson, error)

	// ListActiveTopics возвращает активные темы, упорядоченные по Order.
	ListActiveTopics(ctx context.Context) ([]*Topic, error)

	// CountActiveLessons возвращает число активных уроков во всех темах.
	CountActiveLessons(ctx context.Context) (int, error)
}
