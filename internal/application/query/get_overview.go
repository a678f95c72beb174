package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/learner-progress/config"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET OVERVIEW QUERY
// Сводка прогресса ученика: уровень, XP, уроки и темы, средняя оценка,
// словарь и серия. Независимые агрегаты читаются параллельно.
// ══════════════════════════════════════════════════════════════════════════════

// GetOverviewQuery содержит параметры запроса обзора.
type GetOverviewQuery struct {
	// LearnerID - ученик.
	LearnerID string

	// SkipCache - пересчитать, не заглядывая в кэш.
	SkipCache bool
}

// Validate проверяет корректность параметров.
func (q *GetOverviewQuery) Validate() error {
	return requireLearner("GetOverview", q.LearnerID)
}

// GetOverviewResult - обзор прогресса.
type GetOverviewResult struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Уровень
	// ─────────────────────────────────────────────────────────────────────────

	Level         int `json:"level"`
	TotalXP       int `json:"total_xp"`
	XPToNextLevel int `json:"xp_to_next_level"`

	// ─────────────────────────────────────────────────────────────────────────
	// Учебная программа
	// ─────────────────────────────────────────────────────────────────────────

	LessonsCompleted int `json:"lessons_completed"`
	LessonsTotal     int `json:"lessons_total"`
	TopicsCompleted  int `json:"topics_completed"`
	TopicsTotal      int `json:"topics_total"`

	// CompletionPercentage - доля пройденных уроков, один знак.
	CompletionPercentage float64 `json:"completion_percentage"`

	// AverageScore - средняя оценка пройденных попыток; 0, если их нет.
	AverageScore float64 `json:"average_score"`

	TotalStudyMinutes int `json:"total_study_minutes"`

	// ─────────────────────────────────────────────────────────────────────────
	// Словарь и серия
	// ─────────────────────────────────────────────────────────────────────────

	VocabularyLearned  int `json:"vocabulary_learned"`
	VocabularyMastered int `json:"vocabulary_mastered"`

	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`

	// GeneratedAt - время расчёта (для кэшированных ответов - время кэширования).
	GeneratedAt time.Time `json:"generated_at"`
}

// overviewComputeTimeout ограничивает общий расчёт обзора.
const overviewComputeTimeout = 10 * time.Second

// GetOverviewHandler обрабатывает запрос обзора.
type GetOverviewHandler struct {
	catalog  learning.ContentCatalog
	store    learning.Store
	cache    OverviewCache
	features FeatureChecker
	clock    timeutil.Clock
	logger   *slog.Logger

	// group схлопывает параллельные пересчёты одного ученика.
	group singleflight.Group
}

// NewGetOverviewHandler создаёт новый обработчик. cache может быть nil.
func NewGetOverviewHandler(
	catalog learning.ContentCatalog,
	store learning.Store,
	cache OverviewCache,
	features FeatureChecker,
	clock timeutil.Clock,
	logger *slog.Logger,
) *GetOverviewHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(nil)
	}
	return &GetOverviewHandler{
		catalog:  catalog,
		store:    store,
		cache:    cache,
		features: features,
		clock:    clock,
		logger:   loggerOrDefault(logger, "get_overview"),
	}
}

// Handle выполняет запрос.
func (h *GetOverviewHandler) Handle(ctx context.Context, query GetOverviewQuery) (*GetOverviewResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	useCache := h.cache != nil && (h.features == nil || h.features.Enabled(config.FeatureOverviewCache, query.LearnerID))

	var version int64
	if useCache {
		cached, v, err := h.cache.Get(ctx, query.LearnerID)
		switch {
		case err != nil:
			// версия неизвестна: считаем без записи в кэш
			h.logger.WarnContext(ctx, "overview cache read failed",
				"learner_id", query.LearnerID,
				"error", err,
			)
			useCache = false
		case cached != nil && !query.SkipCache:
			return cached, nil
		}
		version = v
	}

	// Ключ включает версию: запрос после сброса не присоединяется к расчёту,
	// начатому до него. Расчёт не зависит от отмены контекста первого
	// запроса, иначе она оборвала бы всех ожидающих.
	key := query.LearnerID + ":" + strconv.FormatInt(version, 10)
	ch := h.group.DoChan(key, func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), overviewComputeTimeout)
		defer cancel()
		return h.compute(cctx, shared.LearnerID(query.LearnerID))
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get_overview: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, fmt.Errorf("get_overview: %w", res.Err)
	}
	result := res.Val.(*GetOverviewResult)

	if useCache {
		if err := h.cache.Set(ctx, query.LearnerID, version, result); err != nil {
			h.logger.WarnContext(ctx, "overview cache write failed",
				"learner_id", query.LearnerID,
				"error", err,
			)
		}
	}
	return result, nil
}

func (h *GetOverviewHandler) compute(ctx context.Context, learnerID shared.LearnerID) (*GetOverviewResult, error) {
	var (
		overall  *learning.OverallProgress
		streak   *learning.Streak
		stats    learning.AttemptStats
		vocab    learning.VocabularyCounts
		progress []*learning.LessonProgress
		topics   []*learning.Topic
		lessons  = make(map[learning.TopicID][]*learning.Lesson)
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o, err := h.store.Overall().Get(gctx, learnerID)
		if errors.Is(err, learning.ErrOverallNotFound) {
			o, err = learning.NewOverallProgress(learnerID), nil
		}
		overall = o
		return err
	})
	g.Go(func() error {
		s, err := h.store.Streaks().Get(gctx, learnerID)
		if errors.Is(err, learning.ErrStreakNotFound) {
			s, err = learning.NewStreak(learnerID), nil
		}
		streak = s
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = h.store.Attempts().Stats(gctx, learnerID)
		return err
	})
	g.Go(func() error {
		var err error
		vocab, err = h.store.Vocabulary().Counts(gctx, learnerID)
		return err
	})
	g.Go(func() error {
		var err error
		progress, err = h.store.LessonProgress().ListByLearner(gctx, learnerID)
		return err
	})
	g.Go(func() error {
		var err error
		if topics, err = h.catalog.ListActiveTopics(gctx); err != nil {
			return err
		}
		for _, t := range topics {
			ls, err := h.catalog.ListTopicLessons(gctx, t.ID)
			if err != nil {
				return err
			}
			lessons[t.ID] = ls
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	completed := make(map[learning.LessonID]bool, len(progress))
	for _, p := range progress {
		if p.IsCompleted() {
			completed[p.LessonID] = true
		}
	}

	result := &GetOverviewResult{
		Level:              overall.TotalXP.Level().Int(),
		TotalXP:            overall.TotalXP.Int(),
		XPToNextLevel:      overall.XPToNextLevel(),
		TopicsTotal:        len(topics),
		AverageScore:       stats.AveragePassedScore,
		TotalStudyMinutes:  stats.TotalDurationSeconds / 60,
		VocabularyLearned:  vocab.Practiced,
		VocabularyMastered: vocab.Mastered,
		CurrentStreak:      streak.EffectiveCurrent(h.clock.Today()),
		LongestStreak:      streak.LongestStreak,
		GeneratedAt:        h.clock.Now(),
	}

	for _, t := range topics {
		done := 0
		for _, l := range lessons[t.ID] {
			if completed[l.ID] {
				done++
			}
		}
		result.LessonsTotal += len(lessons[t.ID])
		result.LessonsCompleted += done
		if learning.DeriveTopicStatus(done, len(lessons[t.ID])) == learning.TopicCompleted {
			result.TopicsCompleted++
		}
	}
	result.CompletionPercentage = learning.Percentage(result.LessonsCompleted, result.LessonsTotal)

	return result, nil
}
