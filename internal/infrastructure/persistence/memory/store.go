// Package memory provides an in-process implementation of the learning
// repositories. Transactions are serialized by a single lock and applied to
// a private copy of the state, which replaces the live state only on success,
// so a failed UnitOfWork leaves nothing behind.
package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// Store implements learning.Store and learning.UnitOfWork.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Do runs fn against a snapshot and commits it when fn succeeds.
func (s *Store) Do(ctx context.Context, fn func(tx learning.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&view{st: snapshot, lock: noopLocker{}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

func (s *Store) live() *view { return &view{st: nil, store: s, lock: &s.mu} }

// Attempts implements learning.Store.
func (s *Store) Attempts() learning.AttemptRepository { return &attemptRepo{s.live()} }

// LessonProgress implements learning.Store.
func (s *Store) LessonProgress() learning.LessonProgressRepository {
	return &lessonProgressRepo{s.live()}
}

// TopicProgress implements learning.Store.
func (s *Store) TopicProgress() learning.TopicProgressRepository {
	return &topicProgressRepo{s.live()}
}

// Streaks implements learning.Store.
func (s *Store) Streaks() learning.StreakRepository { return &streakRepo{s.live()} }

// Overall implements learning.Store.
func (s *Store) Overall() learning.OverallProgressRepository { return &overallRepo{s.live()} }

// DailyStats implements learning.Store.
func (s *Store) DailyStats() learning.DailyStatRepository { return &dailyRepo{s.live()} }

// Vocabulary implements learning.Store.
func (s *Store) Vocabulary() learning.VocabularyRepository { return &vocabularyRepo{s.live()} }

// Ping implements the health checker contract.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// view binds repositories either to a transaction snapshot (st != nil) or to
// the live state of a store, guarded by its lock.
type view struct {
	st    *state
	store *Store
	lock  sync.Locker
}

func (v *view) Attempts() learning.AttemptRepository { return &attemptRepo{v} }
func (v *view) LessonProgress() learning.LessonProgressRepository {
	return &lessonProgressRepo{v}
}
func (v *view) TopicProgress() learning.TopicProgressRepository { return &topicProgressRepo{v} }
func (v *view) Streaks() learning.StreakRepository              { return &streakRepo{v} }
func (v *view) Overall() learning.OverallProgressRepository     { return &overallRepo{v} }
func (v *view) DailyStats() learning.DailyStatRepository        { return &dailyRepo{v} }
func (v *view) Vocabulary() learning.VocabularyRepository       { return &vocabularyRepo{v} }

// with runs fn on the bound state under the appropriate lock.
func (v *view) with(fn func(st *state) error) error {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.st != nil {
		return fn(v.st)
	}
	return fn(v.store.state)
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

type state struct {
	attempts       map[learning.AttemptID]learning.Attempt
	lessonProgress map[pairKey]learning.LessonProgress
	topicProgress  map[pairKey]learning.TopicProgress
	streaks        map[shared.LearnerID]learning.Streak
	overall        map[shared.LearnerID]learning.OverallProgress
	daily          map[pairKey]learning.DailyStat
	vocabulary     map[pairKey]learning.VocabularyProgress
}

// pairKey identifies learner-owned records: (learner, lesson|topic|date|word).
type pairKey struct {
	learner shared.LearnerID
	id      string
}

func newState() *state {
	return &state{
		attempts:       make(map[learning.AttemptID]learning.Attempt),
		lessonProgress: make(map[pairKey]learning.LessonProgress),
		topicProgress:  make(map[pairKey]learning.TopicProgress),
		streaks:        make(map[shared.LearnerID]learning.Streak),
		overall:        make(map[shared.LearnerID]learning.OverallProgress),
		daily:          make(map[pairKey]learning.DailyStat),
		vocabulary:     make(map[pairKey]learning.VocabularyProgress),
	}
}

// clone copies the maps; values are copied again on every read and write,
// so the snapshot never aliases live records.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.attempts {
		c.attempts[k] = v
	}
	for k, v := range s.lessonProgress {
		c.lessonProgress[k] = v
	}
	for k, v := range s.topicProgress {
		c.topicProgress[k] = v
	}
	for k, v := range s.streaks {
		c.streaks[k] = v
	}
	for k, v := range s.overall {
		c.overall[k] = v
	}
	for k, v := range s.daily {
		c.daily[k] = v
	}
	for k, v := range s.vocabulary {
		c.vocabulary[k] = v
	}
	return c
}
