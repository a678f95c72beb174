// Package shared - общие типы домена: идентификаторы, опыт и уровни,
// календарные дни, ошибки и доменные события.
package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType - имя доменного события, оно же ключ подписки на шине.
type EventType string

const (
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptCompleted EventType = "attempt.completed"

	EventXPGained      EventType = "progress.xp_gained"
	EventLevelUp       EventType = "progress.level_up"
	EventStreakUpdated EventType = "progress.streak_updated"

	EventLessonUnlocked EventType = "lesson.unlocked"
	EventTopicCompleted EventType = "topic.completed"
)

// Event - то, что публикуется на шине. AggregateID у событий прогресса
// всегда идентификатор ученика.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]any
}

// ══════════════════════════════════════════════════════════════════════════════
// МЕТАДАННЫЕ
// ══════════════════════════════════════════════════════════════════════════════

// Meta - общая часть всех событий. Встраивается в каждое событие, поэтому
// указатель на событие получает EventType, OccurredAt, AggregateID и
// SetCorrelationID.
type Meta struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	LearnerID     string    `json:"learner_id"`
	At            time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func newMeta(t EventType, learnerID string, at time.Time) Meta {
	return Meta{ID: uuid.NewString(), Type: t, LearnerID: learnerID, At: at}
}

func (m *Meta) EventType() EventType  { return m.Type }
func (m *Meta) OccurredAt() time.Time { return m.At }
func (m *Meta) AggregateID() string   { return m.LearnerID }

// SetCorrelationID связывает событие с запросом, который его вызвал.
func (m *Meta) SetCorrelationID(id string) { m.CorrelationID = id }

// Correlate проставляет id всем событиям, которые это поддерживают.
func Correlate(events []Event, id string) {
	if id == "" {
		return
	}
	for _, e := range events {
		if c, ok := e.(interface{ SetCorrelationID(string) }); ok {
			c.SetCorrelationID(id)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ПОПЫТКИ
// ══════════════════════════════════════════════════════════════════════════════

type AttemptStartedEvent struct {
	Meta
	AttemptID     string `json:"attempt_id"`
	LessonID      string `json:"lesson_id"`
	AttemptNumber int    `json:"attempt_number"`
}

func NewAttemptStartedEvent(learnerID, attemptID, lessonID string, number int, at time.Time) *AttemptStartedEvent {
	return &AttemptStartedEvent{
		Meta:          newMeta(EventAttemptStarted, learnerID, at),
		AttemptID:     attemptID,
		LessonID:      lessonID,
		AttemptNumber: number,
	}
}

func (e *AttemptStartedEvent) Payload() map[string]any {
	return map[string]any{"attempt_id": e.AttemptID, "lesson_id": e.LessonID, "attempt_number": e.AttemptNumber}
}

// AttemptCompletedEvent публикуется после оценки и закрытия попытки.
type AttemptCompletedEvent struct {
	Meta
	AttemptID string  `json:"attempt_id"`
	LessonID  string  `json:"lesson_id"`
	TopicID   string  `json:"topic_id"`
	Score     float64 `json:"score"`
	Passed    bool    `json:"passed"`
	IsNewBest bool    `json:"is_new_best"`
}

func NewAttemptCompletedEvent(learnerID, attemptID, lessonID, topicID string, score float64, passed, isNewBest bool, at time.Time) *AttemptCompletedEvent {
	return &AttemptCompletedEvent{
		Meta:      newMeta(EventAttemptCompleted, learnerID, at),
		AttemptID: attemptID,
		LessonID:  lessonID,
		TopicID:   topicID,
		Score:     score,
		Passed:    passed,
		IsNewBest: isNewBest,
	}
}

func (e *AttemptCompletedEvent) Payload() map[string]any {
	return map[string]any{
		"attempt_id":  e.AttemptID,
		"lesson_id":   e.LessonID,
		"topic_id":    e.TopicID,
		"score":       e.Score,
		"passed":      e.Passed,
		"is_new_best": e.IsNewBest,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ПРОГРЕСС
// ══════════════════════════════════════════════════════════════════════════════

// XPGainedEvent - начисление опыта. Source - тип урока, за который он дан.
type XPGainedEvent struct {
	Meta
	Amount    int    `json:"amount"`
	NewTotal  int    `json:"new_total"`
	Source    string `json:"source"`
	AttemptID string `json:"attempt_id"`
}

func NewXPGainedEvent(learnerID string, amount, newTotal int, source, attemptID string, at time.Time) *XPGainedEvent {
	return &XPGainedEvent{
		Meta:      newMeta(EventXPGained, learnerID, at),
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
		AttemptID: attemptID,
	}
}

func (e *XPGainedEvent) Payload() map[string]any {
	return map[string]any{"amount": e.Amount, "new_total": e.NewTotal, "source": e.Source, "attempt_id": e.AttemptID}
}

type LevelUpEvent struct {
	Meta
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
	TotalXP  int `json:"total_xp"`
}

func NewLevelUpEvent(learnerID string, oldLevel, newLevel, totalXP int, at time.Time) *LevelUpEvent {
	return &LevelUpEvent{
		Meta:     newMeta(EventLevelUp, learnerID, at),
		OldLevel: oldLevel,
		NewLevel: newLevel,
		TotalXP:  totalXP,
	}
}

func (e *LevelUpEvent) Payload() map[string]any {
	return map[string]any{"old_level": e.OldLevel, "new_level": e.NewLevel, "total_xp": e.TotalXP}
}

// StreakUpdatedEvent - серия продлилась или началась заново.
type StreakUpdatedEvent struct {
	Meta
	CurrentStreak int  `json:"current_streak"`
	LongestStreak int  `json:"longest_streak"`
	Restarted     bool `json:"restarted"`
}

func NewStreakUpdatedEvent(learnerID string, current, longest int, restarted bool, at time.Time) *StreakUpdatedEvent {
	return &StreakUpdatedEvent{
		Meta:          newMeta(EventStreakUpdated, learnerID, at),
		CurrentStreak: current,
		LongestStreak: longest,
		Restarted:     restarted,
	}
}

func (e *StreakUpdatedEvent) Payload() map[string]any {
	return map[string]any{"current_streak": e.CurrentStreak, "longest_streak": e.LongestStreak, "restarted": e.Restarted}
}

// ══════════════════════════════════════════════════════════════════════════════
// ПРОГРАММА
// ══════════════════════════════════════════════════════════════════════════════

// LessonUnlockedEvent - сдача урока UnlockedByID открыла урок LessonID.
type LessonUnlockedEvent struct {
	Meta
	LessonID     string `json:"lesson_id"`
	UnlockedByID string `json:"unlocked_by_id"`
}

func NewLessonUnlockedEvent(learnerID, lessonID, unlockedByID string, at time.Time) *LessonUnlockedEvent {
	return &LessonUnlockedEvent{
		Meta:         newMeta(EventLessonUnlocked, learnerID, at),
		LessonID:     lessonID,
		UnlockedByID: unlockedByID,
	}
}

func (e *LessonUnlockedEvent) Payload() map[string]any {
	return map[string]any{"lesson_id": e.LessonID, "unlocked_by_id": e.UnlockedByID}
}

// TopicCompletedEvent публикуется один раз, когда завершён последний урок
// темы.
type TopicCompletedEvent struct {
	Meta
	TopicID      string `json:"topic_id"`
	LessonsTotal int    `json:"lessons_total"`
}

func NewTopicCompletedEvent(learnerID, topicID string, total int, at time.Time) *TopicCompletedEvent {
	return &TopicCompletedEvent{
		Meta:         newMeta(EventTopicCompleted, learnerID, at),
		TopicID:      topicID,
		LessonsTotal: total,
	}
}

func (e *TopicCompletedEvent) Payload() map[string]any {
	return map[string]any{"topic_id": e.TopicID, "lessons_total": e.LessonsTotal}
}

// ══════════════════════════════════════════════════════════════════════════════
// ШИНА
// ══════════════════════════════════════════════════════════════════════════════

type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	// SubscribeAll получает события всех типов.
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}

// PublishAll публикует события по порядку и возвращает первую ошибку, не
// останавливаясь на ней.
func PublishAll(publisher EventPublisher, events []Event) error {
	if publisher == nil {
		return nil
	}
	var first error
	for _, e := range events {
		if err := publisher.Publish(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
