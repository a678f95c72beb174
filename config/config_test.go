package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 70.0, cfg.Progress.DefaultPassingScore)
	assert.Equal(t, "Asia/Almaty", cfg.Progress.Timezone)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Address())
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Features.Enabled(FeatureOverviewCache, ""))
	assert.False(t, cfg.Features.Enabled(FeatureRedisFanout, ""))
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("HTTP_PORT", "9000")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "HTTP_PORT=7000\nPROGRESS_DEFAULT_PASSING_SCORE=80\nPROGRESS_OVERVIEW_CACHE_TTL=30s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PROGRESS_DEFAULT_PASSING_SCORE")
		os.Unsetenv("PROGRESS_OVERVIEW_CACHE_TTL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 80.0, cfg.Progress.DefaultPassingScore)
	assert.Equal(t, 30*time.Second, cfg.Progress.OverviewCacheTTL)
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PROGRESS_DEFAULT_PASSING_SCORE", "150")

	_, err := Load(filepath.Join(t.TempDir(), "none.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET is required")
	assert.Contains(t, err.Error(), "PROGRESS_DEFAULT_PASSING_SCORE must be 0-100")
}

func TestLoad_MalformedValuesAreReported(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("REDIS_DIAL_TIMEOUT", "5")

	_, err := Load(filepath.Join(t.TempDir(), "none.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `HTTP_PORT="eighty"`)
	assert.Contains(t, err.Error(), `REDIS_DIAL_TIMEOUT="5"`)
}

func TestLoad_DatabaseURLFromParts(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "progress")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_SSLMODE", "disable")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://progress:pw@db:5432/postgres?sslmode=disable", cfg.Database.URL)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PROGRESS_TIMEZONE", "Mars/Olympus")

	_, err := Load(filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}

func TestFeatureFlags_EnvOverrideAndRollout(t *testing.T) {
	t.Setenv("FEATURE_ATTEMPTS_AI_FEEDBACK", "false")
	t.Setenv("FEATURE_EVENTS_REDIS_FANOUT", "50")

	ff := LoadFeatureFlags()
	assert.False(t, ff.Enabled(FeatureAIFeedback, "learner-1"))

	// rollout is stable per learner
	first := ff.Enabled(FeatureRedisFanout, "learner-42")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ff.Enabled(FeatureRedisFanout, "learner-42"))
	}
}

func TestFeatureFlags_Overrides(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureVocabularyTracking))
	assert.False(t, ff.Enabled(FeatureVocabularyTracking, "learner-1"))

	ff.SetLearnerOverride("learner-1", FeatureVocabularyTracking, true)
	assert.True(t, ff.Enabled(FeatureVocabularyTracking, "learner-1"))
	assert.False(t, ff.Enabled(FeatureVocabularyTracking, "learner-2"))

	ff.ClearLearnerOverrides("learner-1")
	assert.False(t, ff.Enabled(FeatureVocabularyTracking, "learner-1"))

	require.NoError(t, ff.EnableFeature(FeatureVocabularyTracking))
	assert.True(t, ff.Enabled(FeatureVocabularyTracking, "learner-2"))

	assert.ErrorIs(t, ff.SetRolloutPercent("unknown", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureAIFeedback, 101), ErrInvalidRolloutPercent)
	assert.False(t, ff.Enabled("unknown", ""))
}

func TestFeatureFlags_PartialRolloutSplitsLearners(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureRedisFanout, 50))

	on := 0
	for i := 0; i < 1000; i++ {
		if ff.Enabled(FeatureRedisFanout, fmt.Sprintf("learner-%d", i)) {
			on++
		}
	}
	assert.InDelta(t, 500, on, 150)
	assert.True(t, ff.Enabled(FeatureRedisFanout, ""))

	var nilFlags *FeatureFlags
	assert.False(t, nilFlags.Enabled(FeatureRedisFanout, "learner-1"))
	assert.Len(t, ff.Features(), 4)
}
