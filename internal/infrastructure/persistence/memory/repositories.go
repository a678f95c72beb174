package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPTS
// ══════════════════════════════════════════════════════════════════════════════

type attemptRepo struct{ v *view }

func cloneAttempt(a learning.Attempt) *learning.Attempt {
	c := a
	c.ConversationVocabulary = append([]string(nil), a.ConversationVocabulary...)
	c.VocabularyItems = append([]learning.VocabularyOutcome(nil), a.VocabularyItems...)
	return &c
}

func (r *attemptRepo) Create(ctx context.Context, attempt *learning.Attempt) error {
	return r.v.with(func(st *state) error {
		if _, ok := st.attempts[attempt.ID]; ok {
			return fmt.Errorf("attempt %s: %w", attempt.ID, shared.ErrAlreadyExists)
		}
		for _, a := range st.attempts {
			if a.LearnerID == attempt.LearnerID && a.LessonID == attempt.LessonID &&
				a.AttemptNumber == attempt.AttemptNumber {
				return fmt.Errorf("attempt number %d taken: %w", attempt.AttemptNumber, shared.ErrConcurrentModification)
			}
		}
		st.attempts[attempt.ID] = *cloneAttempt(*attempt)
		return nil
	})
}

func (r *attemptRepo) GetByID(ctx context.Context, id learning.AttemptID) (*learning.Attempt, error) {
	var out *learning.Attempt
	err := r.v.with(func(st *state) error {
		a, ok := st.attempts[id]
		if !ok {
			return learning.ErrAttemptNotFound
		}
		out = cloneAttempt(a)
		return nil
	})
	return out, err
}

// GetForUpdate is GetByID: transactions are already serialized.
func (r *attemptRepo) GetForUpdate(ctx context.Context, id learning.AttemptID) (*learning.Attempt, error) {
	return r.GetByID(ctx, id)
}

func (r *attemptRepo) SaveInputs(ctx context.Context, attempt *learning.Attempt) error {
	return r.v.with(func(st *state) error {
		stored, ok := st.attempts[attempt.ID]
		if !ok {
			return learning.ErrAttemptNotFound
		}
		if stored.Completed {
			return learning.ErrAttemptAlreadyCompleted
		}
		stored.Matching = attempt.Matching
		stored.Pronunciation = attempt.Pronunciation
		stored.Conversation = attempt.Conversation
		stored.ConversationVocabulary = append([]string(nil), attempt.ConversationVocabulary...)
		stored.VocabularyItems = append([]learning.VocabularyOutcome(nil), attempt.VocabularyItems...)
		st.attempts[attempt.ID] = stored
		return nil
	})
}

func (r *attemptRepo) MarkCompleted(ctx context.Context, attempt *learning.Attempt) error {
	return r.v.with(func(st *state) error {
		stored, ok := st.attempts[attempt.ID]
		if !ok {
			return learning.ErrAttemptNotFound
		}
		if stored.Completed {
			return learning.ErrAttemptAlreadyCompleted
		}
		st.attempts[attempt.ID] = *cloneAttempt(*attempt)
		return nil
	})
}

func (r *attemptRepo) CountByLearnerLesson(ctx context.Context, learnerID shared.LearnerID, lessonID learning.LessonID) (int, error) {
	n := 0
	err := r.v.with(func(st *state) error {
		for _, a := range st.attempts {
			if a.LearnerID == learnerID && a.LessonID == lessonID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *attemptRepo) List(ctx context.Context, filter learning.AttemptFilter) ([]*learning.Attempt, int, error) {
	var matched []*learning.Attempt
	err := r.v.with(func(st *state) error {
		for _, a := range st.attempts {
			if a.LearnerID != filter.LearnerID {
				continue
			}
			if filter.LessonID != "" && a.LessonID != filter.LessonID {
				continue
			}
			if filter.CompletedOnly && !a.Completed {
				continue
			}
			matched = append(matched, cloneAttempt(a))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].AttemptNumber > matched[j].AttemptNumber
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	offset := filter.Pagination.Offset()
	if offset >= total {
		return []*learning.Attempt{}, total, nil
	}
	end := offset + filter.Pagination.Limit()
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *attemptRepo) Stats(ctx context.Context, learnerID shared.LearnerID) (learning.AttemptStats, error) {
	var stats learning.AttemptStats
	err := r.v.with(func(st *state) error {
		sum := 0.0
		for _, a := range st.attempts {
			if a.LearnerID != learnerID || !a.Completed {
				continue
			}
			stats.TotalDurationSeconds += a.DurationSeconds
			if a.Passed {
				stats.PassedCount++
				sum += a.Score()
			}
		}
		if stats.PassedCount > 0 {
			stats.AveragePassedScore = learning.RoundScore(sum / float64(stats.PassedCount))
		}
		return nil
	})
	return stats, err
}

func (r *attemptRepo) AveragePassedScoreByTopic(ctx context.Context, learnerID shared.LearnerID) (map[learning.TopicID]float64, error) {
	out := make(map[learning.TopicID]float64)
	err := r.v.with(func(st *state) error {
		sums := make(map[learning.TopicID]float64)
		counts := make(map[learning.TopicID]int)
		for _, a := range st.attempts {
			if a.LearnerID != learnerID || !a.Completed || !a.Passed {
				continue
			}
			sums[a.TopicID] += a.Score()
			counts[a.TopicID]++
		}
		for topic, n := range counts {
			out[topic] = learning.RoundScore(sums[topic] / float64(n))
		}
		return nil
	})
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON & TOPIC PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

type lessonProgressRepo struct{ v *view }

func (r *lessonProgressRepo) Get(ctx context.Context, learnerID shared.LearnerID, lessonID learning.LessonID) (*learning.LessonProgress, error) {
	var out *learning.LessonProgress
	err := r.v.with(func(st *state) error {
		p, ok := st.lessonProgress[pairKey{learnerID, string(lessonID)}]
		if !ok {
			return learning.ErrLessonProgressNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *lessonProgressRepo) GetForUpdate(ctx context.Context, learnerID shared.LearnerID, lessonID learning.LessonID) (*learning.LessonProgress, error) {
	return r.Get(ctx, learnerID, lessonID)
}

func (r *lessonProgressRepo) Save(ctx context.Context, progress *learning.LessonProgress) error {
	return r.v.with(func(st *state) error {
		st.lessonProgress[pairKey{progress.LearnerID, string(progress.LessonID)}] = *progress
		return nil
	})
}

func (r *lessonProgressRepo) list(learnerID shared.LearnerID, keep func(p learning.LessonProgress) bool) ([]*learning.LessonProgress, error) {
	var out []*learning.LessonProgress
	err := r.v.with(func(st *state) error {
		for k, p := range st.lessonProgress {
			if k.learner != learnerID || !keep(p) {
				continue
			}
			p := p
			out = append(out, &p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, err
}

func (r *lessonProgressRepo) ListByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*learning.LessonProgress, error) {
	return r.list(learnerID, func(learning.LessonProgress) bool { return true })
}

func (r *lessonProgressRepo) ListByTopic(ctx context.Context, learnerID shared.LearnerID, topicID learning.TopicID) ([]*learning.LessonProgress, error) {
	return r.list(learnerID, func(p learning.LessonProgress) bool { return p.TopicID == topicID })
}

func (r *lessonProgressRepo) CountCompleted(ctx context.Context, learnerID shared.LearnerID, lessonIDs []learning.LessonID) (int, error) {
	n := 0
	err := r.v.with(func(st *state) error {
		for _, id := range lessonIDs {
			if p, ok := st.lessonProgress[pairKey{learnerID, string(id)}]; ok && p.IsCompleted() {
				n++
			}
		}
		return nil
	})
	return n, err
}

type topicProgressRepo struct{ v *view }

func (r *topicProgressRepo) Get(ctx context.Context, learnerID shared.LearnerID, topicID learning.TopicID) (*learning.TopicProgress, error) {
	var out *learning.TopicProgress
	err := r.v.with(func(st *state) error {
		p, ok := st.topicProgress[pairKey{learnerID, string(topicID)}]
		if !ok {
			return learning.ErrTopicProgressNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *topicProgressRepo) GetForUpdate(ctx context.Context, learnerID shared.LearnerID, topicID learning.TopicID) (*learning.TopicProgress, error) {
	p, err := r.Get(ctx, learnerID, topicID)
	if err == learning.ErrTopicProgressNotFound {
		return learning.NewTopicProgress(learnerID, topicID), nil
	}
	return p, err
}

func (r *topicProgressRepo) Save(ctx context.Context, progress *learning.TopicProgress) error {
	return r.v.with(func(st *state) error {
		st.topicProgress[pairKey{progress.LearnerID, string(progress.TopicID)}] = *progress
		return nil
	})
}

func (r *topicProgressRepo) ListByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*learning.TopicProgress, error) {
	var out []*learning.TopicProgress
	err := r.v.with(func(st *state) error {
		for k, p := range st.topicProgress {
			if k.learner == learnerID {
				p := p
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK & OVERALL
// ══════════════════════════════════════════════════════════════════════════════

type streakRepo struct{ v *view }

func (r *streakRepo) Get(ctx context.Context, learnerID shared.LearnerID) (*learning.Streak, error) {
	var out *learning.Streak
	err := r.v.with(func(st *state) error {
		s, ok := st.streaks[learnerID]
		if !ok {
			return learning.ErrStreakNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *streakRepo) GetForUpdate(ctx context.Context, learnerID shared.LearnerID) (*learning.Streak, error) {
	s, err := r.Get(ctx, learnerID)
	if err == learning.ErrStreakNotFound {
		return learning.NewStreak(learnerID), nil
	}
	return s, err
}

func (r *streakRepo) Save(ctx context.Context, streak *learning.Streak) error {
	return r.v.with(func(st *state) error {
		st.streaks[streak.LearnerID] = *streak
		return nil
	})
}

type overallRepo struct{ v *view }

func (r *overallRepo) Get(ctx context.Context, learnerID shared.LearnerID) (*learning.OverallProgress, error) {
	var out *learning.OverallProgress
	err := r.v.with(func(st *state) error {
		o, ok := st.overall[learnerID]
		if !ok {
			return learning.ErrOverallNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

func (r *overallRepo) GetForUpdate(ctx context.Context, learnerID shared.LearnerID) (*learning.OverallProgress, error) {
	o, err := r.Get(ctx, learnerID)
	if err == learning.ErrOverallNotFound {
		return learning.NewOverallProgress(learnerID), nil
	}
	return o, err
}

func (r *overallRepo) Save(ctx context.Context, progress *learning.OverallProgress) error {
	return r.v.with(func(st *state) error {
		st.overall[progress.LearnerID] = *progress
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY STATS & VOCABULARY
// ══════════════════════════════════════════════════════════════════════════════

type dailyRepo struct{ v *view }

func (r *dailyRepo) Accumulate(ctx context.Context, learnerID shared.LearnerID, date time.Time, delta learning.DailyDelta) (*learning.DailyStat, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	var out *learning.DailyStat
	err := r.v.with(func(st *state) error {
		key := pairKey{learnerID, shared.FormatDay(date)}
		s, ok := st.daily[key]
		if !ok {
			s = *learning.NewDailyStat(learnerID, date)
		}
		s.Accumulate(delta)
		st.daily[key] = s
		out = &s
		return nil
	})
	return out, err
}

func (r *dailyRepo) ListRange(ctx context.Context, learnerID shared.LearnerID, rng shared.TimeRange) ([]*learning.DailyStat, error) {
	var out []*learning.DailyStat
	err := r.v.with(func(st *state) error {
		for k, s := range st.daily {
			if k.learner == learnerID && rng.Contains(s.Date) {
				s := s
				out = append(out, &s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, err
}

type vocabularyRepo struct{ v *view }

func (r *vocabularyRepo) GetForUpdate(ctx context.Context, learnerID shared.LearnerID, vocabularyID string) (*learning.VocabularyProgress, error) {
	var out *learning.VocabularyProgress
	err := r.v.with(func(st *state) error {
		p, ok := st.vocabulary[pairKey{learnerID, vocabularyID}]
		if !ok {
			out = learning.NewVocabularyProgress(learnerID, vocabularyID)
			return nil
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *vocabularyRepo) Save(ctx context.Context, progress *learning.VocabularyProgress) error {
	return r.v.with(func(st *state) error {
		st.vocabulary[pairKey{progress.LearnerID, progress.VocabularyID}] = *progress
		return nil
	})
}

func (r *vocabularyRepo) List(ctx context.Context, learnerID shared.LearnerID, masteredOnly bool, limit int) ([]*learning.VocabularyProgress, error) {
	var out []*learning.VocabularyProgress
	err := r.v.with(func(st *state) error {
		for k, p := range st.vocabulary {
			if k.learner != learnerID || (masteredOnly && !p.Mastered) {
				continue
			}
			p := p
			out = append(out, &p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastPracticedAt.Equal(out[j].LastPracticedAt) {
			return out[i].VocabularyID < out[j].VocabularyID
		}
		return out[i].LastPracticedAt.After(out[j].LastPracticedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *vocabularyRepo) Counts(ctx context.Context, learnerID shared.LearnerID) (learning.VocabularyCounts, error) {
	var c learning.VocabularyCounts
	err := r.v.with(func(st *state) error {
		for k, p := range st.vocabulary {
			if k.learner != learnerID {
				continue
			}
			c.Practiced++
			if p.Mastered {
				c.Mastered++
			}
		}
		return nil
	})
	return c, err
}
