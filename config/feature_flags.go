package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Feature flag names.
const (
	// Per-word statistics from matching exercises
	FeatureVocabularyTracking = "progress.vocabulary_tracking"

	// Cache computed overviews in Redis
	FeatureOverviewCache = "progress.overview_cache"

	// Fan domain events out to other instances through Redis pub/sub
	FeatureRedisFanout = "events.redis_fanout"

	// Ask the conversation partner for replies and grammar feedback
	FeatureAIFeedback = "attempts.ai_feedback"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one flag. Rollout is the share of learners (0-100) that see
// it; 0 is off and 100 is on for everyone.
type Feature struct {
	Name        string
	Description string
	Rollout     int
}

func defaultFeatures() []Feature {
	return []Feature{
		{FeatureVocabularyTracking, "Track per-word mastery from matching exercises", 100},
		{FeatureOverviewCache, "Serve progress overviews from Redis", 100},
		{FeatureRedisFanout, "Publish domain events to Redis pub/sub", 0},
		{FeatureAIFeedback, "Conversation partner replies and grammar checks", 100},
	}
}

// FeatureFlags evaluates flags per learner. A learner lands in a rollout
// bucket by a stable hash of flag name and learner ID, so partial rollouts
// are sticky.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]Feature
	overrides map[string]map[string]bool // learner -> flag -> on
}

// NewFeatureFlags returns the built-in defaults.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]Feature),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range defaultFeatures() {
		ff.features[f.Name] = f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME> environment overrides to the
// defaults. The value is a bool or a rollout percent:
//
//	FEATURE_PROGRESS_OVERVIEW_CACHE=false
//	FEATURE_ATTEMPTS_AI_FEEDBACK=25
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.features {
		if pct, ok := parseRollout(os.Getenv(envKey(name))); ok {
			f.Rollout = pct
			ff.features[name] = f
		}
	}
	return ff
}

// envKey maps "progress.overview_cache" to FEATURE_PROGRESS_OVERVIEW_CACHE.
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

func parseRollout(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if on, err := strconv.ParseBool(v); err == nil {
		if on {
			return 100, true
		}
		return 0, true
	}
	if pct, err := strconv.Atoi(v); err == nil && pct >= 0 && pct <= 100 {
		return pct, true
	}
	return 0, false
}

// Enabled reports whether name is on for learnerID. Learner overrides win;
// unknown flags are off. With an empty learnerID a partial rollout counts
// as on.
func (ff *FeatureFlags) Enabled(name, learnerID string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[learnerID][name]; ok {
		return on
	}
	f, ok := ff.features[name]
	switch {
	case !ok || f.Rollout <= 0:
		return false
	case f.Rollout >= 100 || learnerID == "":
		return true
	}
	return bucket(name, learnerID) < f.Rollout
}

func bucket(name, learnerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(learnerID))
	return int(h.Sum32() % 100)
}

// SetLearnerOverride forces name on or off for one learner.
func (ff *FeatureFlags) SetLearnerOverride(learnerID, name string, on bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.overrides[learnerID] == nil {
		ff.overrides[learnerID] = make(map[string]bool)
	}
	ff.overrides[learnerID][name] = on
}

// ClearLearnerOverrides drops every override of learnerID.
func (ff *FeatureFlags) ClearLearnerOverrides(learnerID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.overrides, learnerID)
}

// SetRolloutPercent changes the rollout of a known flag.
func (ff *FeatureFlags) SetRolloutPercent(name string, pct int) error {
	if pct < 0 || pct > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.Rollout = pct
	ff.features[name] = f
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// Features returns a copy of all flags.
func (ff *FeatureFlags) Features() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, f)
	}
	return out
}
