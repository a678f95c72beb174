package learning

import (
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgress - сводка по паре (ученик, урок).
type LessonProgress struct {
	LearnerID shared.LearnerID
	LessonID  LessonID
	TopicID   TopicID

	// Status - статус урока; только вперёд, см. LessonStatus.
	Status LessonStatus

	// BestScore - лучшая оценка; никогда не уменьшается.
	BestScore *float64

	// TotalAttempts - число начатых попыток.
	TotalAttempts int

	LastAttemptAt *time.Time

	// FirstCompletedAt - момент первой проходной попытки; ставится один раз.
	FirstCompletedAt *time.Time

	UpdatedAt time.Time
}

// NewLessonProgress создаёт запись с заданным начальным статусом.
func NewLessonProgress(learnerID shared.LearnerID, lesson *Lesson, status LessonStatus, now time.Time) *LessonProgress {
	return &LessonProgress{
		LearnerID: learnerID,
		LessonID:  lesson.ID,
		TopicID:   lesson.TopicID,
		Status:    status,
		UpdatedAt: now.UTC(),
	}
}

// RecordStart учитывает старт попытки: статус → InProgress (Completed
// остаётся Completed), счётчик попыток +1.
func (p *LessonProgress) RecordStart(now time.Time) error {
	next, err := p.Status.OnStart()
	if err != nil {
		return err
	}
	at := now.UTC()
	p.Status = next
	p.TotalAttempts++
	p.LastAttemptAt = &at
	p.UpdatedAt = at
	return nil
}

// ResultOutcome - что изменилось после учёта результата попытки.
type ResultOutcome struct {
	// PreviousBest - лучшая оценка до этой попытки (nil, если её не было).
	PreviousBest *float64

	IsNewBest bool

	// Improvement = score - PreviousBest, nil без предыдущей оценки.
	Improvement *float64

	// FirstCompletion - попытка впервые перевела урок в Completed.
	FirstCompletion bool
}

// RecordResult учитывает завершённую попытку. Предыдущий лучший результат
// читается до обновления BestScore.
func (p *LessonProgress) RecordResult(score float64, passed bool, now time.Time) ResultOutcome {
	at := now.UTC()
	out := ResultOutcome{}

	if p.BestScore != nil {
		prev := *p.BestScore
		out.PreviousBest = &prev
		diff := RoundScore(score - prev)
		out.Improvement = &diff
	}
	out.IsNewBest = out.PreviousBest == nil || score > *out.PreviousBest

	if out.IsNewBest {
		best := score
		p.BestScore = &best
	}

	wasCompleted := p.Status == StatusCompleted
	p.Status = p.Status.OnResult(passed)
	if passed && p.FirstCompletedAt == nil {
		p.FirstCompletedAt = &at
		out.FirstCompletion = !wasCompleted
	}

	p.LastAttemptAt = &at
	p.UpdatedAt = at
	return out
}

// Unlock переводит Locked → Available. Возвращает true, если статус изменился.
func (p *LessonProgress) Unlock(now time.Time) bool {
	next, changed := p.Status.OnUnlock()
	if changed {
		p.Status = next
		p.UpdatedAt = now.UTC()
	}
	return changed
}

// IsCompleted возвращает true для пройденного урока.
func (p *LessonProgress) IsCompleted() bool {
	return p.Status == StatusCompleted
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// TopicProgress - сводка по паре (ученик, тема).
type TopicProgress struct {
	LearnerID shared.LearnerID
	TopicID   TopicID

	// LessonsCompleted всегда пересчитывается из LessonProgress.
	LessonsCompleted int
	LessonsTotal     int

	BestScore     *float64
	PracticeCount int

	Status      TopicStatus
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NewTopicProgress создаёт пустую сводку по теме.
func NewTopicProgress(learnerID shared.LearnerID, topicID TopicID) *TopicProgress {
	return &TopicProgress{
		LearnerID: learnerID,
		TopicID:   topicID,
		Status:    TopicNotStarted,
	}
}

// Recount заменяет счётчики результатом полного пересчёта и выводит статус.
// Возвращает true, если тема только что стала Completed.
func (t *TopicProgress) Recount(completed, total int, score float64, now time.Time) bool {
	at := now.UTC()
	wasCompleted := t.Status == TopicCompleted

	t.LessonsCompleted = completed
	t.LessonsTotal = total
	t.PracticeCount++
	if t.BestScore == nil || score > *t.BestScore {
		s := score
		t.BestScore = &s
	}
	t.Status = DeriveTopicStatus(completed, total)
	t.UpdatedAt = at

	if t.Status == TopicCompleted && t.CompletedAt == nil {
		t.CompletedAt = &at
	}
	return t.Status == TopicCompleted && !wasCompleted
}

// CompletionPercentage - доля пройденных уроков, один знак после запятой.
func (t *TopicProgress) CompletionPercentage() float64 {
	return Percentage(t.LessonsCompleted, t.LessonsTotal)
}

// ══════════════════════════════════════════════════════════════════════════════
// OVERALL PROGRESS (XP и уровень)
// ══════════════════════════════════════════════════════════════════════════════

// OverallProgress - геймификационное состояние ученика.
type OverallProgress struct {
	LearnerID shared.LearnerID

	// TotalXP - только растёт.
	TotalXP shared.XP

	// Level - кэш shared.XP.Level(); пересчитывается в Award.
	Level shared.Level

	UpdatedAt time.Time
}

// NewOverallProgress создаёт состояние нового ученика: 0 XP, уровень 1.
func NewOverallProgress(learnerID shared.LearnerID) *OverallProgress {
	return &OverallProgress{
		LearnerID: learnerID,
		TotalXP:   shared.MinXP,
		Level:     shared.MinLevel,
	}
}

// LevelChange - результат начисления XP.
type LevelChange struct {
	OldLevel  shared.Level
	NewLevel  shared.Level
	LeveledUp bool
}

// Award начисляет XP и сразу пересчитывает уровень.
func (o *OverallProgress) Award(amount int, now time.Time) LevelChange {
	old := o.TotalXP.Level()
	o.TotalXP = o.TotalXP.Add(amount)
	o.Level = o.TotalXP.Level()
	o.UpdatedAt = now.UTC()
	return LevelChange{OldLevel: old, NewLevel: o.Level, LeveledUp: o.Level > old}
}

// XPToNextLevel возвращает недостающий до следующего уровня XP.
func (o *OverallProgress) XPToNextLevel() int {
	return shared.XPToNextLevel(o.TotalXP.Level(), o.TotalXP)
}

// Percentage возвращает part/total*100 с одним знаком; total = 0 даёт 0.
func Percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return RoundScore(float64(part) / float64(total) * 100)
}
