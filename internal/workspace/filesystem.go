package workspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/codefionn/meetvault/internal/logger"
)

// On-disk names inside the workspaces root and each workspace directory.
const (
	RootDirName      = "workspaces"
	RegistryFileName = "workspaces.json"
	GlobalDBFileName = "global.sqlite"
	ManifestFileName = "manifest.json"
	ConfigFileName   = "config.json"
	DBFileName       = "db.sqlite"
	AudioDirName     = "audio"
	NotesDirName     = "notes"
)

func wsLog() *logger.Logger {
	return logger.Global().WithPrefix("workspace")
}

// CreateWorkspaceDir creates {root}/{id} with its audio/ and notes/
// subdirectories. Existing directories are left as they are.
func CreateWorkspaceDir(root, id string) (string, error) {
	dir := filepath.Join(root, id)

	if err := os.MkdirAll(filepath.Join(dir, AudioDirName), 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace audio dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, NotesDirName), 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace notes dir: %w", err)
	}

	wsLog().Debug("Created workspace directory: %s", dir)
	return dir, nil
}

// WriteManifest writes manifest to {dir}/manifest.json.
func WriteManifest(dir string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}

	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads {dir}/manifest.json.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest at %s: %w", path, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest at %s: %w", path, err)
	}
	return &manifest, nil
}

// WriteDefaultConfig writes an empty JSON object to {dir}/config.json.
func WriteDefaultConfig(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{}"), 0644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// SaveRegistry replaces {root}/workspaces.json atomically: the document is
// written to a temporary file in root and renamed over the registry, so
// readers only ever see a complete old or a complete new registry.
func SaveRegistry(root string, registry *Registry) error {
	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize registry: %w", err)
	}

	if err := atomic.WriteFile(filepath.Join(root, RegistryFileName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}

	wsLog().Debug("Saved workspace registry with %d entries", len(registry.Workspaces))
	return nil
}

// LoadRegistry reads {root}/workspaces.json. A missing file yields an empty
// registry; an unreadable or malformed file is an error.
func LoadRegistry(root string) (*Registry, error) {
	data, err := os.ReadFile(filepath.Join(root, RegistryFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			wsLog().Info("No registry file found, using empty registry")
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	registry := NewRegistry()
	if err := json.Unmarshal(data, registry); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if registry.Workspaces == nil {
		registry.Workspaces = []Entry{}
	}

	wsLog().Debug("Loaded workspace registry with %d entries", len(registry.Workspaces))
	return registry, nil
}

// RebuildRegistryFromDisk reconstructs a registry by scanning root for
// UUID-named directories that hold a readable manifest. Anything else is
// skipped with a warning. The scan only reads; nothing on disk is changed.
// Entries are ordered by manifest creation time, then id.
func RebuildRegistryFromDisk(root string) (*Registry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspaces root: %w", err)
	}

	type found struct {
		entry     Entry
		createdAt string
	}
	var workspaces []found

	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}

		name := dirEntry.Name()
		if _, err := uuid.Parse(name); err != nil {
			wsLog().Debug("Skipping non-workspace directory %s", name)
			continue
		}

		dir := filepath.Join(root, name)
		if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
			wsLog().Warn("Workspace directory %s has no manifest.json, skipping", dir)
			continue
		}

		manifest, err := ReadManifest(dir)
		if err != nil {
			wsLog().Warn("Failed to read manifest in %s: %v", dir, err)
			continue
		}

		workspaces = append(workspaces, found{
			entry:     Entry{ID: name, Name: manifest.Name, Icon: manifest.Icon},
			createdAt: manifest.CreatedAt,
		})
	}

	sort.SliceStable(workspaces, func(i, j int) bool {
		if workspaces[i].createdAt != workspaces[j].createdAt {
			return workspaces[i].createdAt < workspaces[j].createdAt
		}
		return workspaces[i].entry.ID < workspaces[j].entry.ID
	})

	registry := NewRegistry()
	for _, w := range workspaces {
		registry.Workspaces = append(registry.Workspaces, w.entry)
	}

	wsLog().Info("Rebuilt registry from disk: found %d workspaces", len(registry.Workspaces))
	return registry, nil
}
