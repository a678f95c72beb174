// Package catalog provides read-only implementations of learning.ContentCatalog.
// The catalog is owned by the content team; this service only needs a lookup
// index over topics and lessons, loaded once at startup.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
)

// Static is an immutable in-memory catalog. Inactive topics and lessons are
// kept so that historical attempts still resolve their metadata, but every
// lookup method filters them out.
type Static struct {
	topics  map[learning.TopicID]*learning.Topic
	lessons map[learning.LessonID]*learning.Lesson

	// byTopic holds active lessons per active topic, sorted by Order.
	byTopic map[learning.TopicID][]*learning.Lesson

	// ordered holds active topics sorted by Order.
	ordered []*learning.Topic
}

// NewStatic builds an index and validates references between lessons and topics.
func NewStatic(topics []*learning.Topic, lessons []*learning.Lesson) (*Static, error) {
	c := &Static{
		topics:  make(map[learning.TopicID]*learning.Topic, len(topics)),
		lessons: make(map[learning.LessonID]*learning.Lesson, len(lessons)),
		byTopic: make(map[learning.TopicID][]*learning.Lesson),
	}

	for _, t := range topics {
		if !t.ID.IsValid() {
			return nil, fmt.Errorf("catalog: topic with empty id")
		}
		if _, dup := c.topics[t.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate topic %q", t.ID)
		}
		c.topics[t.ID] = t
		if t.Active {
			c.ordered = append(c.ordered, t)
		}
	}

	type slot struct {
		topic learning.TopicID
		order int
	}
	taken := make(map[slot]learning.LessonID)

	for _, l := range lessons {
		if !l.ID.IsValid() {
			return nil, fmt.Errorf("catalog: lesson with empty id")
		}
		if _, dup := c.lessons[l.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate lesson %q", l.ID)
		}
		topic, ok := c.topics[l.TopicID]
		if !ok {
			return nil, fmt.Errorf("catalog: lesson %q references unknown topic %q", l.ID, l.TopicID)
		}
		if !l.Kind.IsValid() {
			return nil, fmt.Errorf("catalog: lesson %q has unknown kind %q", l.ID, l.Kind)
		}
		if l.Order < 1 {
			return nil, fmt.Errorf("catalog: lesson %q must have order >= 1", l.ID)
		}
		if l.PassingScore < 0 || l.PassingScore > learning.MaxScore {
			return nil, fmt.Errorf("catalog: lesson %q passing score out of range", l.ID)
		}
		c.lessons[l.ID] = l

		if !l.Active || !topic.Active {
			continue
		}
		key := slot{l.TopicID, l.Order}
		if other, dup := taken[key]; dup {
			return nil, fmt.Errorf("catalog: lessons %q and %q share order %d in topic %q", other, l.ID, l.Order, l.TopicID)
		}
		taken[key] = l.ID
		c.byTopic[l.TopicID] = append(c.byTopic[l.TopicID], l)
	}

	sort.SliceStable(c.ordered, func(i, j int) bool { return c.ordered[i].Order < c.ordered[j].Order })
	for _, ls := range c.byTopic {
		sort.Slice(ls, func(i, j int) bool { return ls[i].Order < ls[j].Order })
	}
	return c, nil
}

// GetLesson implements learning.ContentCatalog.
func (c *Static) GetLesson(_ context.Context, id learning.LessonID) (*learning.Lesson, error) {
	l, ok := c.lessons[id]
	if !ok || !l.Active || !c.topics[l.TopicID].Active {
		return nil, learning.ErrLessonNotFound
	}
	cp := *l
	return &cp, nil
}

// GetTopic implements learning.ContentCatalog.
func (c *Static) GetTopic(_ context.Context, id learning.TopicID) (*learning.Topic, error) {
	t, ok := c.topics[id]
	if !ok || !t.Active {
		return nil, learning.ErrTopicNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTopicLessons implements learning.ContentCatalog.
func (c *Static) ListTopicLessons(ctx context.Context, topicID learning.TopicID) ([]*learning.Lesson, error) {
	if _, err := c.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	src := c.byTopic[topicID]
	out := make([]*learning.Lesson, len(src))
	for i, l := range src {
		cp := *l
		out[i] = &cp
	}
	return out, nil
}

// FindLessonByOrder implements learning.ContentCatalog.
func (c *Static) FindLessonByOrder(_ context.Context, topicID learning.TopicID, order int) (*learning.Lesson, error) {
	for _, l := range c.byTopic[topicID] {
		if l.Order == order {
			cp := *l
			return &cp, nil
		}
	}
	return nil, learning.ErrLessonNotFound
}

// ListActiveTopics implements learning.ContentCatalog.
func (c *Static) ListActiveTopics(_ context.Context) ([]*learning.Topic, error) {
	out := make([]*learning.Topic, len(c.ordered))
	for i, t := range c.ordered {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

// CountActiveLessons implements learning.ContentCatalog.
func (c *Static) CountActiveLessons(_ context.Context) (int, error) {
	n := 0
	for _, ls := range c.byTopic {
		n += len(ls)
	}
	return n, nil
}
