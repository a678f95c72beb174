package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/infrastructure/catalog"
)

// LoadCatalog reads the topics and lessons tables into an immutable
// in-memory catalog. The catalog is small and changes only on deploy, so
// it is read once at startup.
func LoadCatalog(ctx context.Context, q Querier) (*catalog.Static, error) {
	topics, err := loadTopics(ctx, q)
	if err != nil {
		return nil, err
	}
	lessons, err := loadLessons(ctx, q)
	if err != nil {
		return nil, err
	}
	return catalog.NewStatic(topics, lessons)
}

func loadTopics(ctx context.Context, q Querier) ([]*learning.Topic, error) {
	rows, err := q.Query(ctx, `SELECT id, name, icon, sort_order, active FROM topics ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load topics: %w", err)
	}
	defer rows.Close()

	var topics []*learning.Topic
	for rows.Next() {
		var (
			t  learning.Topic
			id string
		)
		if err := rows.Scan(&id, &t.Name, &t.Icon, &t.Order, &t.Active); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		t.ID = learning.TopicID(id)
		topics = append(topics, &t)
	}
	return topics, rows.Err()
}

func loadLessons(ctx context.Context, q Querier) ([]*learning.Lesson, error) {
	rows, err := q.Query(ctx, `
		SELECT id, topic_id, title, kind, sort_order, passing_score,
		       estimated_minutes, instructions, active
		FROM lessons
		ORDER BY topic_id, sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*learning.Lesson
	for rows.Next() {
		var (
			l               learning.Lesson
			id, topic, kind string
		)
		if err := rows.Scan(&id, &topic, &l.Title, &kind, &l.Order, &l.PassingScore,
			&l.EstimatedMinutes, &l.Instructions, &l.Active); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		if l.Kind, err = learning.ParseLessonKind(kind); err != nil {
			return nil, fmt.Errorf("lesson %q: %w", id, err)
		}
		l.ID = learning.LessonID(id)
		l.TopicID = learning.TopicID(topic)
		lessons = append(lessons, &l)
	}
	return lessons, rows.Err()
}
