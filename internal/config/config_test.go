package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDataDir, EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.PoolSize)
	assert.False(t, cfg.WatchRegistry)
	assert.Equal(t, SummaryModel{Provider: "builtin-ai", Model: "gemma3:1b", WhisperModel: "large-v3"}, cfg.DefaultSummaryModel)
	assert.Equal(t, TranscriptModel{Provider: "parakeet", Model: "parakeet-tdt-0.6b-v3-int8"}, cfg.DefaultTranscriptModel)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesProvidedFields(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_dir": "/srv/meetvault",
		"pool_size": 0,
		"watch_registry": true,
		"default_transcript_model": {"provider": "whisper", "model": "small"}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/meetvault", cfg.DataDir)
	assert.Equal(t, 5, cfg.PoolSize, "non-positive pool size falls back to the default")
	assert.True(t, cfg.WatchRegistry)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, TranscriptModel{Provider: "whisper", Model: "small"}, cfg.DefaultTranscriptModel)
	assert.Equal(t, "builtin-ai", cfg.DefaultSummaryModel.Provider)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "/from/file", "log_level": "warn"}`), 0644))

	t.Setenv(EnvDataDir, "/from/env")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogPath, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "", cfg.LogPath)
}

func TestSaveAndReload(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.LegacyDatabase = "/old/meeting_minutes.sqlite"
	cfg.PoolSize = 3
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
