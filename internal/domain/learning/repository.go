package learning

import (
	"context"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища. Реализации находятся в infrastructure/persistence.
// Методы *ForUpdate блокируют запись до конца транзакции UnitOfWork.
// ══════════════════════════════════════════════════════════════════════════════

// AttemptFilter - параметры выборки истории попыток.
type AttemptFilter struct {
	LearnerID shared.LearnerID

	// LessonID - необязательный фильтр по уроку.
	LessonID LessonID

	// CompletedOnly - только завершённые попытки.
	CompletedOnly bool

	Pagination shared.Pagination
}

// AttemptStats - агрегаты по всем попыткам ученика.
type AttemptStats struct {
	// AveragePassedScore - средняя оценка пройденных попыток; 0, если их нет.
	AveragePassedScore float64
	PassedCount        int

	// TotalDurationSeconds - суммарная длительность завершённых попыток.
	TotalDurationSeconds int
}

// AttemptRepository хранит попытки.
type AttemptRepository interface {
	// Create сохраняет новую попытку.
	// Возвращает shared.ErrConcurrentModification, если номер попытки уже занят.
	Create(ctx context.Context, attempt *Attempt) error

	// GetByID возвращает попытку или ErrAttemptNotFound.
	GetByID(ctx context.Context, id AttemptID) (*Attempt, error)

	// GetForUpdate возвращает попытку с блокировкой строки.
	GetForUpdate(ctx context.Context, id AttemptID) (*Attempt, error)

	// SaveInputs сохраняет накопленные сырые данные открытой попытки.
	// Возвращает ErrAttemptAlreadyCompleted для закрытой попытки.
	SaveInputs(ctx context.Context, attempt *Attempt) error

	// MarkCompleted атомарно переводит completed=false → true и сохраняет
	// результат. Если попытка уже закрыта, возвращает
	// ErrAttemptAlreadyCompleted и ничего не меняет.
	MarkCompleted(ctx context.Context, attempt *Attempt) error

	// CountByLearnerLesson возвращает число попыток пары (ученик, урок).
	CountByLearnerLesson(ctx context.Context, learnerID shared.LearnerID, lessonID LessonID) (int, error)

	// List возвращает страницу попыток (новые первыми) и общее число.
	List(ctx context.Context, filter AttemptFilter) ([]*Attempt, int, error)

	// Stats возвращает агрегаты по попыткам ученика.
	Stats(ctx context.Context, learnerID shared.LearnerID) (AttemptStats, error)

	// AveragePassedScoreByTopic - средняя оценка пройденных попыток по темам.
	// Темы без пройденных попыток в результат не попадают.
	AveragePassedScoreByTopic(ctx context.Context, learnerID shared.LearnerID) (map[TopicID]float64, error)
}

// LessonProgressRepository хранит прогресс по урокам.
type LessonProgressRepository interface {
	// Get возвращает запись или ErrLessonProgressNotFound.
	Get(ctx context.Context, learnerID shared.LearnerID, lessonID LessonID) (*LessonProgress, error)

	// GetForUpdate - Get с блокировкой строки.
	GetForUpdate(ctx context.Context, learnerID shared.LearnerID, lessonID LessonID) (*LessonProgress, error)

	// Save создаёт или обновляет запись.
	Save(ctx context.Context, progress *LessonProgress) error

	// ListByLearner возвращает все записи ученика.
	ListByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*LessonProgress, error)

	// ListByTopic возвращает записи ученика по урокам темы.
	ListByTopic(ctx context.Context, learnerID shared.LearnerID, topicID TopicID) ([]*LessonProgress, error)

	// CountCompleted считает уроки со статусом Completed среди lessonIDs.
	CountCompleted(ctx context.Context, learnerID shared.LearnerID, lessonIDs []LessonID) (int, error)
}

// TopicProgressRepository хранит сводки по темам.
type TopicProgressRepository interface {
	// Get возвращает запись или ErrTopicProgressNotFound.
	Get(ctx context.Context, learnerID shared.LearnerID, topicID TopicID) (*TopicProgress, error)

	// GetForUpdate возвращает запись с блокировкой; отсутствующая запись
	// создаётся пустой.
	GetForUpdate(ctx context.Context, learnerID shared.LearnerID, topicID TopicID) (*TopicProgress, error)

	Save(ctx context.Context, progress *TopicProgress) error

	ListByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*TopicProgress, error)
}

// StreakRepository хранит серии.
type StreakRepository interface {
	// Get возвращает серию или ErrStreakNotFound.
	Get(ctx context.Context, learnerID shared.LearnerID) (*Streak, error)

	// GetForUpdate возвращает серию с блокировкой; отсутствующая серия
	// создаётся пустой, так что параллельные завершения сериализуются.
	GetForUpdate(ctx context.Context, learnerID shared.LearnerID) (*Streak, error)

	Save(ctx context.Context, streak *Streak) error
}

// OverallProgressRepository хранит XP и уровень.
type OverallProgressRepository interface {
	// Get возвращает состояние или ErrOverallNotFound.
	Get(ctx context.Context, learnerID shared.LearnerID) (*OverallProgress, error)

	// GetForUpdate возвращает состояние с блокировкой, создавая его при отсутствии.
	GetForUpdate(ctx context.Context, learnerID shared.LearnerID) (*OverallProgress, error)

	Save(ctx context.Context, progress *OverallProgress) error
}

// DailyStatRepository хранит дневные агрегаты.
type DailyStatRepository interface {
	// Accumulate атомарно добавляет приращение к записи за день,
	// создавая её при первой активности. Возвращает итоговое состояние.
	Accumulate(ctx context.Context, learnerID shared.LearnerID, date time.Time, delta DailyDelta) (*DailyStat, error)

	// ListRange возвращает существующие записи за диапазон дней.
	ListRange(ctx context.Context, learnerID shared.LearnerID, r shared.TimeRange) ([]*DailyStat, error)
}

// VocabularyRepository хранит статистику по словам.
type VocabularyRepository interface {
	// GetForUpdate возвращает запись с блокировкой, создавая её при отсутствии.
	GetForUpdate(ctx context.Context, learnerID shared.LearnerID, vocabularyID string) (*VocabularyProgress, error)

	Save(ctx context.Context, progress *VocabularyProgress) error

	// List возвращает слова ученика, недавно повторённые первыми.
	List(ctx context.Context, learnerID shared.LearnerID, masteredOnly bool, limit int) ([]*VocabularyProgress, error)

	Counts(ctx context.Context, learnerID shared.LearnerID) (VocabularyCounts, error)
}

// Store объединяет репозитории одной транзакции (или одного соединения).
type Store interface {
	Attempts() AttemptRepository
	LessonProgress() LessonProgressRepository
	TopicProgress() TopicProgressRepository
	Streaks() StreakRepository
	Overall() OverallProgressRepository
	DailyStats() DailyStatRepository
	Vocabulary() VocabularyRepository
}

// UnitOfWork выполняет fn в одной транзакции: либо применяются все
// изменения, либо ни одного.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx Store) error) error
}
