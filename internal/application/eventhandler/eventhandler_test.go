package eventhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

var at = time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)

type recordingInvalidator struct {
	learners []string
	err      error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, learnerID string) error {
	r.learners = append(r.learners, learnerID)
	return r.err
}

func TestOnProgressChanged_InvalidatesLearner(t *testing.T) {
	inv := &recordingInvalidator{}
	h := NewOnProgressChangedHandler(inv, nil)

	err := h.Handle(shared.NewAttemptCompletedEvent("u1", "a1", "l1", "t1", 80, true, true, at))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, inv.learners)
	assert.Equal(t, []shared.EventType{shared.EventAttemptCompleted}, h.Events())
}

func TestOnProgressChanged_ReportsCacheFailure(t *testing.T) {
	inv := &recordingInvalidator{err: errors.New("redis down")}
	h := NewOnProgressChangedHandler(inv, nil)

	err := h.Handle(shared.NewAttemptCompletedEvent("u1", "a1", "l1", "t1", 80, true, true, at))
	assert.Error(t, err)
}

func TestOnProgressChanged_NilCache(t *testing.T) {
	h := NewOnProgressChangedHandler(nil, nil)
	assert.NoError(t, h.Handle(shared.NewAttemptCompletedEvent("u1", "a1", "l1", "t1", 80, true, true, at)))
}

func milestones(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == "milestone reached" {
			out = append(out, rec)
		}
	}
	return out
}

func TestOnMilestone(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewOnMilestoneHandler(logger, DefaultMilestoneConfig())

	require.NoError(t, h.Handle(shared.NewLevelUpEvent("u1", 1, 2, 120, at)))
	require.NoError(t, h.Handle(shared.NewTopicCompletedEvent("u1", "greetings", 3, at)))
	require.NoError(t, h.Handle(shared.NewStreakUpdatedEvent("u1", 7, 7, false, at)))
	require.NoError(t, h.Handle(shared.NewStreakUpdatedEvent("u1", 8, 8, false, at)))
	require.NoError(t, h.Handle(shared.NewXPGainedEvent("u1", 10, 130, "matching", "a1", at)))

	got := milestones(t, &buf)
	require.Len(t, got, 3)
	assert.Equal(t, "level", got[0]["milestone"])
	assert.EqualValues(t, 2, got[0]["value"])
	assert.Equal(t, "topic", got[1]["milestone"])
	assert.Equal(t, "greetings", got[1]["topic_id"])
	assert.Equal(t, "streak", got[2]["milestone"])
	assert.EqualValues(t, 7, got[2]["value"])
}
