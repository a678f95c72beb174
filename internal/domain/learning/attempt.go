package learning

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT (одна попытка ученика пройти урок)
// ══════════════════════════════════════════════════════════════════════════════

// AttemptID - идентификатор попытки (UUID).
type AttemptID string

// NewAttemptID генерирует новый идентификатор.
func NewAttemptID() AttemptID {
	return AttemptID(uuid.NewString())
}

// String возвращает строковое представление.
func (id AttemptID) String() string { return string(id) }

// IsValid проверяет формат UUID.
func (id AttemptID) IsValid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

// VocabularyOutcome - результат по одному слову в упражнении на сопоставление.
type VocabularyOutcome struct {
	VocabularyID string
	Correct      bool
}

// Attempt - попытка прохождения урока.
//
// Жизненный цикл: открыта → (накопление сырых данных) → закрыта.
// OverallScore и Passed выставляются ровно один раз, в Complete.
type Attempt struct {
	// ID - идентификатор попытки.
	ID AttemptID

	// LearnerID - владелец попытки.
	LearnerID shared.LearnerID

	// LessonID и TopicID - урок и его тема на момент старта.
	LessonID LessonID
	TopicID  TopicID

	// Kind - тип урока, определяет формулу оценки.
	Kind LessonKind

	// AttemptNumber - номер попытки для пары (ученик, урок), начиная с 1.
	// Назначается при создании и больше не меняется.
	AttemptNumber int

	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationSeconds int

	// Сырые данные упражнений.
	Matching      MatchingInput
	Pronunciation PronunciationInput
	Conversation  ConversationInput

	// ConversationVocabulary - множество различных слов ученика в диалоге.
	ConversationVocabulary []string

	// VocabularyItems - пословные результаты сопоставления (необязательно).
	VocabularyItems []VocabularyOutcome

	// OverallScore - итоговая оценка, nil до завершения.
	OverallScore *float64

	Passed    bool
	Completed bool
	Feedback  string
}

// NewAttempt создаёт открытую попытку.
func NewAttempt(learnerID shared.LearnerID, lesson *Lesson, attemptNumber int, now time.Time) (*Attempt, error) {
	if !learnerID.IsValid() {
		return nil, shared.NewDomainError("learning", "NewAttempt", shared.ErrInvalidID, "learner ID is required")
	}
	if lesson == nil {
		return nil, ErrLessonNotFound
	}
	if attemptNumber < 1 {
		return nil, shared.NewDomainError("learning", "NewAttempt", shared.ErrValueOutOfRange, "attempt number must be positive")
	}
	return &Attempt{
		ID:            NewAttemptID(),
		LearnerID:     learnerID,
		LessonID:      lesson.ID,
		TopicID:       lesson.TopicID,
		Kind:          lesson.Kind,
		AttemptNumber: attemptNumber,
		StartedAt:     now.UTC(),
	}, nil
}

// BelongsTo проверяет владельца попытки.
func (a *Attempt) BelongsTo(learnerID shared.LearnerID) bool {
	return a.LearnerID == learnerID
}

// IsOpen возвращает true, пока попытка не завершена.
func (a *Attempt) IsOpen() bool {
	return !a.Completed
}

func (a *Attempt) ensureOpen(kind LessonKind) error {
	if a.Completed {
		return ErrAttemptAlreadyCompleted
	}
	if a.Kind != kind {
		return ErrKindMismatch
	}
	return nil
}

// RecordMatching сохраняет результат сопоставления.
func (a *Attempt) RecordMatching(in MatchingInput, items []VocabularyOutcome) error {
	if err := a.ensureOpen(KindMatching); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	a.Matching = in
	if items != nil {
		a.VocabularyItems = append([]VocabularyOutcome(nil), items...)
	}
	return nil
}

// RecordPronunciation сохраняет подоценки произношения. Присутствующие
// подоценки заменяют ранее сохранённые, отсутствующие не стирают их.
func (a *Attempt) RecordPronunciation(in PronunciationInput) error {
	if err := a.ensureOpen(KindPronunciation); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if in.Pronunciation != nil {
		a.Pronunciation.Pronunciation = in.Pronunciation
	}
	if in.Intonation != nil {
		a.Pronunciation.Intonation = in.Intonation
	}
	if in.Stress != nil {
		a.Pronunciation.Stress = in.Stress
	}
	return nil
}

// RecordConversationTurn учитывает одну реплику ученика.
func (a *Attempt) RecordConversationTurn(text string, grammarErrors int) error {
	if err := a.ensureOpen(KindConversation); err != nil {
		return err
	}
	if grammarErrors < 0 {
		return ErrNegativeCount
	}
	words := Tokenize(text)
	if len(words) == 0 {
		return ErrEmptyTurn
	}

	seen := make(map[string]struct{}, len(a.ConversationVocabulary)+len(words))
	for _, w := range a.ConversationVocabulary {
		seen[w] = struct{}{}
	}
	for _, w := range words {
		if _, ok := seen[w]; !ok {
			seen[w] = struct{}{}
			a.ConversationVocabulary = append(a.ConversationVocabulary, w)
		}
	}
	sort.Strings(a.ConversationVocabulary)

	a.Conversation.Turns++
	a.Conversation.WordCount += len(words)
	a.Conversation.GrammarErrors += grammarErrors
	a.Conversation.DistinctWords = len(a.ConversationVocabulary)
	return nil
}

// ApplyInputs переносит переданные при завершении данные поверх
// накопленных. Поддерживается только блок своего типа.
func (a *Attempt) ApplyInputs(in RawInputs) error {
	if a.Completed {
		return ErrAttemptAlreadyCompleted
	}
	switch a.Kind {
	case KindMatching:
		if in.Pronunciation != nil || in.Conversation != nil {
			return ErrKindMismatch
		}
		if in.Matching != nil {
			if err := in.Matching.Validate(); err != nil {
				return err
			}
			a.Matching = *in.Matching
		}
	case KindPronunciation:
		if in.Matching != nil || in.Conversation != nil {
			return ErrKindMismatch
		}
		if in.Pronunciation != nil {
			return a.RecordPronunciation(*in.Pronunciation)
		}
	case KindConversation:
		if in.Matching != nil || in.Pronunciation != nil {
			return ErrKindMismatch
		}
		if in.Conversation != nil {
			if err := in.Conversation.Validate(); err != nil {
				return err
			}
			a.Conversation = *in.Conversation
		}
	}
	return nil
}

// Inputs возвращает накопленные данные в форме для ScoreCalculator.
func (a *Attempt) Inputs() RawInputs {
	switch a.Kind {
	case KindMatching:
		m := a.Matching
		return RawInputs{Matching: &m}
	case KindPronunciation:
		p := a.Pronunciation
		return RawInputs{Pronunciation: &p}
	case KindConversation:
		c := a.Conversation
		return RawInputs{Conversation: &c}
	}
	return RawInputs{}
}

// Complete закрывает попытку. Повторный вызов возвращает
// ErrAttemptAlreadyCompleted и ничего не меняет.
func (a *Attempt) Complete(score float64, passed bool, feedback string, now time.Time) error {
	if a.Completed {
		return ErrAttemptAlreadyCompleted
	}
	if !inRange(score) {
		return ErrScoreOutOfRange
	}

	completedAt := now.UTC()
	if completedAt.Before(a.StartedAt) {
		completedAt = a.StartedAt
	}
	s := RoundScore(score)

	a.CompletedAt = &completedAt
	a.DurationSeconds = int(completedAt.Sub(a.StartedAt).Seconds())
	a.OverallScore = &s
	a.Passed = passed
	a.Completed = true
	a.Feedback = feedback
	return nil
}

// DurationMinutes - длительность в целых минутах.
func (a *Attempt) DurationMinutes() int {
	return a.DurationSeconds / 60
}

// Score возвращает итоговую оценку или 0 для открытой попытки.
func (a *Attempt) Score() float64 {
	if a.OverallScore == nil {
		return 0
	}
	return *a.OverallScore
}

// Tokenize разбивает реплику на слова в нижнем регистре без пунктуации.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '\'' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	words := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'-")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
