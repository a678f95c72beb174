package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/learner-progress/internal/domain/learning"
)

// yamlDocument is the on-disk catalog layout:
//
//	topics:
//	  - id: greetings
//	    name: Greetings
//	    order: 1
//	    lessons:
//	      - id: greetings-words
//	        kind: vocabulary_matching
//	        order: 1
//	        passing_score: 70
type yamlDocument struct {
	Topics []yamlTopic `yaml:"topics"`
}

type yamlTopic struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	Icon    string       `yaml:"icon"`
	Order   int          `yaml:"order"`
	Active  *bool        `yaml:"active"`
	Lessons []yamlLesson `yaml:"lessons"`
}

type yamlLesson struct {
	ID               string  `yaml:"id"`
	Title            string  `yaml:"title"`
	Kind             string  `yaml:"kind"`
	Order            int     `yaml:"order"`
	PassingScore     float64 `yaml:"passing_score"`
	EstimatedMinutes int     `yaml:"estimated_minutes"`
	Instructions     string  `yaml:"instructions"`
	Active           *bool   `yaml:"active"`
}

// LoadYAML reads a catalog file.
func LoadYAML(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read %s: %w", path, err)
	}
	c, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// ParseYAML builds a catalog from YAML. Omitted "active" means active.
func ParseYAML(data []byte) (*Static, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	var (
		topics  []*learning.Topic
		lessons []*learning.Lesson
	)
	for _, t := range doc.Topics {
		topics = append(topics, &learning.Topic{
			ID:     learning.TopicID(t.ID),
			Name:   t.Name,
			Icon:   t.Icon,
			Order:  t.Order,
			Active: activeOrDefault(t.Active),
		})
		for _, l := range t.Lessons {
			kind, err := learning.ParseLessonKind(l.Kind)
			if err != nil {
				return nil, fmt.Errorf("lesson %q: %w", l.ID, err)
			}
			lessons = append(lessons, &learning.Lesson{
				ID:               learning.LessonID(l.ID),
				TopicID:          learning.TopicID(t.ID),
				Title:            l.Title,
				Kind:             kind,
				Order:            l.Order,
				PassingScore:     l.PassingScore,
				EstimatedMinutes: l.EstimatedMinutes,
				Instructions:     l.Instructions,
				Active:           activeOrDefault(l.Active),
			})
		}
	}
	return NewStatic(topics, lessons)
}

func activeOrDefault(v *bool) bool {
	return v == nil || *v
}
