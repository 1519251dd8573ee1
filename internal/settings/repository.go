// Package settings reads and writes the model configuration kept in the
// global database. These rows are shared by every workspace.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codefionn/meetvault/internal/logger"
)

// rowID is the single settings row the desktop app has always used.
const rowID = "1"

// ModelConfig is the summary model selection.
type ModelConfig struct {
	Provider       string
	Model          string
	WhisperModel   string
	OllamaEndpoint *string
}

// TranscriptConfig is the transcription model selection.
type TranscriptConfig struct {
	Provider string
	Model    string
}

// Repository wraps the global pool.
type Repository struct {
	db *sql.DB
}

// NewRepository returns a repository over db, normally Manager.GlobalPool().
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveModelConfig upserts the summary model selection. API keys stored in
// the same row are left as they are.
func (r *Repository) SaveModelConfig(ctx context.Context, cfg ModelConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (id, provider, model, whisperModel, ollamaEndpoint)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			whisperModel = excluded.whisperModel,
			ollamaEndpoint = excluded.ollamaEndpoint
	`, rowID, cfg.Provider, cfg.Model, cfg.WhisperModel, cfg.OllamaEndpoint)
	if err != nil {
		return fmt.Errorf("failed to save model config: %w", err)
	}
	return nil
}

// SaveTranscriptConfig upserts the transcription model selection.
func (r *Repository) SaveTranscriptConfig(ctx context.Context, cfg TranscriptConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transcript_settings (id, provider, model)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model
	`, rowID, cfg.Provider, cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to save transcript config: %w", err)
	}
	return nil
}

// ModelConfig returns the saved summary model, or nil if none was saved.
func (r *Repository) ModelConfig(ctx context.Context) (*ModelConfig, error) {
	var cfg ModelConfig
	var endpoint sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT provider, model, whisperModel, ollamaEndpoint FROM settings WHERE id = ?", rowID,
	).Scan(&cfg.Provider, &cfg.Model, &cfg.WhisperModel, &endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}
	if endpoint.Valid {
		cfg.OllamaEndpoint = &endpoint.String
	}
	return &cfg, nil
}

// TranscriptConfig returns the saved transcription model, or nil if none
// was saved.
func (r *Repository) TranscriptConfig(ctx context.Context) (*TranscriptConfig, error) {
	var cfg TranscriptConfig
	err := r.db.QueryRowContext(ctx,
		"SELECT provider, model FROM transcript_settings WHERE id = ?", rowID,
	).Scan(&cfg.Provider, &cfg.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript config: %w", err)
	}
	return &cfg, nil
}

// InitializeFreshDatabase seeds the default model selections for a fresh
// install. Failures are logged per row and the first one is returned after
// both writes were attempted.
func (r *Repository) InitializeFreshDatabase(ctx context.Context, model ModelConfig, transcript TranscriptConfig) error {
	log := logger.Global().WithPrefix("settings")

	var errs []error
	if err := r.SaveModelConfig(ctx, model); err != nil {
		log.Error("Failed to set default summary model config: %v", err)
		errs = append(errs, err)
	}
	if err := r.SaveTranscriptConfig(ctx, transcript); err != nil {
		log.Error("Failed to set default transcription model config: %v", err)
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}

	log.Info("Fresh database initialized with default models: %s/%s, %s/%s",
		model.Provider, model.Model, transcript.Provider, transcript.Model)
	return nil
}
