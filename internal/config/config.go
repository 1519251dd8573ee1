// Package config loads the meetvault application configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/natefinch/atomic"
)

const appName = "meetvault"

// Environment overrides, applied after the config file.
const (
	EnvDataDir  = "MEETVAULT_DATA_DIR"
	EnvLogLevel = "MEETVAULT_LOG_LEVEL"
	EnvLogPath  = "MEETVAULT_LOG_PATH"
)

// SummaryModel is the summary model seeded on a fresh install.
type SummaryModel struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	WhisperModel string `json:"whisper_model"`
}

// TranscriptModel is the transcription model seeded on a fresh install.
type TranscriptModel struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Config holds configuration for meetvault
type Config struct {
	DataDir        string `json:"data_dir"`                  // App data directory holding workspaces/
	LogLevel       string `json:"log_level"`                 // debug, info, warn, error, none
	LogPath        string `json:"log_path"`                  // Log file; empty logs nowhere
	LegacyDatabase string `json:"legacy_database,omitempty"` // Override for the pre-workspace database path
	PoolSize       int    `json:"pool_size"`                 // Max connections per database
	WatchRegistry  bool   `json:"watch_registry"`            // Reload workspaces.json when it changes on disk

	DefaultSummaryModel    SummaryModel    `json:"default_summary_model"`
	DefaultTranscriptModel TranscriptModel `json:"default_transcript_model"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "linux":
		if dataHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dataHome != "" {
			return filepath.Join(dataHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "share", appName)
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", appName)
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "share", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		LogPath:  filepath.Join(defaultStateDir(), appName+".log"),
		PoolSize: 5,
		DefaultSummaryModel: SummaryModel{
			Provider:     "builtin-ai",
			Model:        "gemma3:1b",
			WhisperModel: "large-v3",
		},
		DefaultTranscriptModel: TranscriptModel{
			Provider: "parakeet",
			Model:    "parakeet-tdt-0.6b-v3-int8",
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		// Unmarshal into default config (overrides only provided fields)
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	config.applyEnv()

	// Ensure critical fields have defaults if still empty
	defaults := DefaultConfig()
	if config.DataDir == "" {
		config.DataDir = defaults.DataDir
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.PoolSize <= 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.DefaultSummaryModel.Provider == "" {
		config.DefaultSummaryModel = defaults.DefaultSummaryModel
	}
	if config.DefaultTranscriptModel.Provider == "" {
		config.DefaultTranscriptModel = defaults.DefaultTranscriptModel
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		c.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvLogPath); ok {
		c.LogPath = strings.TrimSpace(v)
	}
}

// Save writes the configuration to path, replacing any previous file
// atomically.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
