package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-progress/internal/application/query"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/internal/infrastructure/catalog"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
)

var testStart = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

// recordingPublisher keeps published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fakeSpeech struct {
	analysis *learning.SpeechAnalysis
	err      error
	calls    int
}

func (f *fakeSpeech) Analyze(_ context.Context, _ learning.SpeechRequest) (*learning.SpeechAnalysis, error) {
	f.calls++
	return f.analysis, f.err
}

type fakePartner struct {
	reply *learning.ConversationReply
	err   error
	last  learning.ConversationRequest
}

func (f *fakePartner) Reply(_ context.Context, req learning.ConversationRequest) (*learning.ConversationReply, error) {
	f.last = req
	return f.reply, f.err
}

// overviewCache is a versioned in-memory query.OverviewCache.
type overviewCache struct {
	mu            sync.Mutex
	versions      map[string]int64
	entries       map[string]*query.GetOverviewResult
	invalidations int
	err           error
}

func newOverviewCache() *overviewCache {
	return &overviewCache{
		versions: make(map[string]int64),
		entries:  make(map[string]*query.GetOverviewResult),
	}
}

func entryKey(learnerID string, version int64) string {
	return fmt.Sprintf("%s:%d", learnerID, version)
}

func (c *overviewCache) Get(_ context.Context, learnerID string) (*query.GetOverviewResult, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.versions[learnerID]
	return c.entries[entryKey(learnerID, v)], v, nil
}

func (c *overviewCache) Set(_ context.Context, learnerID string, version int64, o *query.GetOverviewResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey(learnerID, version)] = o
	return nil
}

func (c *overviewCache) Invalidate(_ context.Context, learnerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.invalidations++
	c.versions[learnerID]++
	return nil
}

type flags map[string]bool

func (f flags) Enabled(name, _ string) bool { return f[name] }

var errUpstream = errors.New("upstream down")

// fixture wires every command handler against the in-memory store and a
// catalog with one three-lesson topic per kind.
type fixture struct {
	store     *memory.Store
	catalog   *catalog.Static
	clock     *timeutil.FixedClock
	publisher *recordingPublisher
	speech    *fakeSpeech
	partner   *fakePartner

	start    *StartAttemptHandler
	record   *RecordExerciseHandler
	complete *CompleteAttemptHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	topics := []*learning.Topic{
		{ID: "greetings", Name: "Greetings", Order: 1, Active: true},
		{ID: "speaking", Name: "Speaking", Order: 2, Active: true},
	}
	lessons := []*learning.Lesson{
		{ID: "g1", TopicID: "greetings", Kind: learning.KindMatching, Order: 1, Active: true},
		{ID: "g2", TopicID: "greetings", Kind: learning.KindMatching, Order: 2, Active: true},
		{ID: "g3", TopicID: "greetings", Kind: learning.KindMatching, Order: 3, PassingScore: 90, Active: true},
		{ID: "s1", TopicID: "speaking", Kind: learning.KindPronunciation, Order: 1, Active: true},
		{ID: "s2", TopicID: "speaking", Kind: learning.KindConversation, Order: 2, Instructions: "Order a coffee", Active: true},
	}
	cat, err := catalog.NewStatic(topics, lessons)
	require.NoError(t, err)

	f := &fixture{
		store:     memory.NewStore(),
		catalog:   cat,
		clock:     timeutil.NewFixedClock(testStart),
		publisher: &recordingPublisher{},
		speech:    &fakeSpeech{},
		partner:   &fakePartner{},
	}
	features := flags{"progress.vocabulary_tracking": true, "attempts.ai_feedback": true}

	f.start = NewStartAttemptHandler(cat, f.store, f.publisher, f.clock, nil, AttemptConfig{})
	f.record = NewRecordExerciseHandler(cat, f.store, f.store, f.speech, f.partner, features, nil)
	f.complete = NewCompleteAttemptHandler(cat, f.store, f.publisher, nil, features, f.clock, nil, AttemptConfig{})
	return f
}

func (f *fixture) startAttempt(t *testing.T, learner, lesson string) *StartAttemptResult {
	t.Helper()
	res, err := f.start.Handle(context.Background(), StartAttemptCommand{LearnerID: learner, LessonID: lesson})
	require.NoError(t, err)
	return res
}

func (f *fixture) completeMatching(t *testing.T, learner, lesson string, correct, total int) *AttemptSummary {
	t.Helper()
	started := f.startAttempt(t, learner, lesson)
	f.clock.Advance(2 * time.Minute)
	summary, err := f.complete.Handle(context.Background(), CompleteAttemptCommand{
		LearnerID: learner,
		AttemptID: started.AttemptID,
		Matching:  &learning.MatchingInput{Correct: correct, Total: total},
	})
	require.NoError(t, err)
	return summary
}

func ptr(v float64) *float64 { return &v }
