// Package workspace owns the on-disk workspace layout and the manager that
// swaps the active per-workspace database at runtime.
//
// Each workspace lives in {appDataDir}/workspaces/{uuid}/ with its own
// db.sqlite, audio/ and notes/ folders and a manifest.json. The global
// database and the registry (workspaces.json) sit next to them.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/meetvault/internal/dbpool"
	"github.com/codefionn/meetvault/internal/logger"
	"github.com/codefionn/meetvault/internal/schema"
	"github.com/codefionn/meetvault/internal/version"
)

// Options tunes Init. The zero value is usable.
type Options struct {
	// PoolSize caps connections per database; zero means dbpool.DefaultMaxConns.
	PoolSize int
	// AppVersion is stamped into new manifests; empty means version.Version.
	AppVersion string
}

type activeWorkspace struct {
	id   string
	pool *dbpool.Pool
}

// Manager owns the always-open global pool, the single active workspace
// pool and the cached registry. Construct it once with Init and share the
// pointer; all methods are safe for concurrent use.
type Manager struct {
	root       string
	global     *dbpool.Pool
	poolSize   int
	appVersion string
	log        *logger.Logger

	// opMu serialises the writers: switch, create, repair and close.
	opMu sync.Mutex

	// activeMu guards active and previousID. The active id and pool are
	// always replaced together.
	activeMu   sync.RWMutex
	active     *activeWorkspace
	previousID string

	registryMu sync.RWMutex
	registry   *Registry

	now   func() time.Time
	newID func() string
}

// Init creates {appDataDir}/workspaces, opens and migrates global.sqlite and
// loads the registry. An absent or unreadable registry starts out empty.
// The returned manager has no active workspace.
func Init(ctx context.Context, appDataDir string, opts Options) (*Manager, error) {
	log := logger.Global().WithPrefix("workspace")
	root := filepath.Join(appDataDir, RootDirName)

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspaces root: %w", err)
	}

	global, err := dbpool.Open(ctx, dbpool.Options{
		Path:            filepath.Join(root, GlobalDBFileName),
		CreateIfMissing: true,
		WAL:             true,
		ForeignKeys:     true,
		MaxConns:        opts.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to global database: %w", err)
	}

	if err := schema.ApplyGlobal(ctx, global.DB()); err != nil {
		global.Close()
		return nil, err
	}

	registry, err := LoadRegistry(root)
	if err != nil {
		log.Warn("Registry unreadable, starting with an empty registry: %v", err)
		registry = NewRegistry()
	}

	appVersion := opts.AppVersion
	if appVersion == "" {
		appVersion = version.Version
	}

	log.Info("Workspace manager initialized: root=%s, %d workspaces in registry", root, len(registry.Workspaces))

	return &Manager{
		root:       root,
		global:     global,
		poolSize:   opts.PoolSize,
		appVersion: appVersion,
		log:        log,
		registry:   registry,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}, nil
}

// WorkspacesRoot returns {appDataDir}/workspaces.
func (m *Manager) WorkspacesRoot() string {
	return m.root
}

// WorkspaceDir returns the directory of workspace id.
func (m *Manager) WorkspaceDir(id string) string {
	return filepath.Join(m.root, id)
}

// ActivePool returns the active workspace database or ErrNoActiveWorkspace.
func (m *Manager) ActivePool() (*sql.DB, error) {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()

	if m.active == nil {
		return nil, ErrNoActiveWorkspace
	}
	return m.active.pool.DB(), nil
}

// GlobalPool returns the global settings database. It is open for the
// manager's whole lifetime.
func (m *Manager) GlobalPool() *sql.DB {
	return m.global.DB()
}

// ActiveWorkspaceID returns the active workspace id, if any.
func (m *Manager) ActiveWorkspaceID() (string, bool) {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()

	if m.active == nil {
		return "", false
	}
	return m.active.id, true
}

// PreviousWorkspaceID returns the workspace that was active when the most
// recent switch failed, so callers can retry it. It is cleared by the next
// successful switch.
func (m *Manager) PreviousWorkspaceID() (string, bool) {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	return m.previousID, m.previousID != ""
}

// LastActiveID returns the registry's last_active pointer.
func (m *Manager) LastActiveID() (string, bool) {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()

	if m.registry.LastActive == nil {
		return "", false
	}
	return *m.registry.LastActive, true
}

// ListWorkspaces returns a snapshot of the registry entries in display order.
func (m *Manager) ListWorkspaces() []Entry {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	return m.registry.Clone().Workspaces
}

// SwitchWorkspace closes the active pool and opens workspace id in its place.
//
// The previous pool is closed before the new one is opened. Until the new
// pool is installed ActivePool reports ErrNoActiveWorkspace; if the switch
// fails no workspace is active and PreviousWorkspaceID names the one that
// was. Errors closing the previous pool are logged and otherwise ignored.
//
// Once the new pool is installed the switch has succeeded: a failure to
// persist last_active is logged and the cached value still moves to id.
func (m *Manager) SwitchWorkspace(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.activeMu.Lock()
	previous := m.active
	m.active = nil
	if previous != nil {
		m.previousID = previous.id
	}
	m.activeMu.Unlock()

	if previous != nil {
		if err := previous.pool.Close(); err != nil {
			m.log.Warn("Failed to clean up previous workspace pool %s: %v", previous.id, err)
		}
	}

	dir, err := m.resolve(id)
	if err != nil {
		return err
	}

	pool, err := dbpool.Open(ctx, dbpool.Options{
		Path:            filepath.Join(dir, DBFileName),
		CreateIfMissing: true,
		WAL:             true,
		ForeignKeys:     true,
		MaxConns:        m.poolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to workspace database: %w", err)
	}

	if err := schema.ApplyWorkspace(ctx, pool.DB()); err != nil {
		if closeErr := pool.Close(); closeErr != nil {
			m.log.Warn("Failed to close workspace pool after schema error: %v", closeErr)
		}
		return err
	}

	m.activeMu.Lock()
	m.active = &activeWorkspace{id: id, pool: pool}
	m.previousID = ""
	m.activeMu.Unlock()

	m.registryMu.Lock()
	lastActive := id
	m.registry.LastActive = &lastActive
	err = SaveRegistry(m.root, m.registry)
	m.registryMu.Unlock()
	if err != nil {
		m.log.Warn("Failed to persist last active workspace %s: %v", id, err)
	}

	m.log.Info("Switched to workspace: %s", id)
	return nil
}

// resolve validates id and returns its directory.
func (m *Manager) resolve(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidWorkspaceID, id)
	}

	dir := m.WorkspaceDir(id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, dir)
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrManifestMissing, dir)
	}
	return dir, nil
}

// CreateWorkspace creates the directory tree, manifest and default config
// for a new workspace and appends it to the registry. It does not switch to
// the new workspace. The registry write is not transactional with the
// directory creation; an interrupted create leaves an orphan directory that
// RepairRegistry picks up.
func (m *Manager) CreateWorkspace(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("workspace name must not be empty")
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	id := m.newID()

	dir, err := CreateWorkspaceDir(m.root, id)
	if err != nil {
		return "", err
	}

	now := m.now().UTC().Format(time.RFC3339)
	appVersion := m.appVersion
	manifest := &Manifest{
		Version:      ManifestVersion,
		Name:         name,
		AppVersion:   &appVersion,
		CreatedAt:    now,
		LastModified: now,
	}
	if err := WriteManifest(dir, manifest); err != nil {
		return "", err
	}
	if err := WriteDefaultConfig(dir); err != nil {
		return "", err
	}

	m.registryMu.Lock()
	n := len(m.registry.Workspaces)
	m.registry.Workspaces = append(m.registry.Workspaces, Entry{ID: id, Name: name})
	err = SaveRegistry(m.root, m.registry)
	if err != nil {
		m.registry.Workspaces = m.registry.Workspaces[:n]
	}
	m.registryMu.Unlock()
	if err != nil {
		return "", err
	}

	m.log.Info("Created workspace %q: %s", name, id)
	return id, nil
}

// DiscardWorkspace removes workspace id from the registry and deletes its
// directory. The active workspace cannot be discarded.
func (m *Manager) DiscardWorkspace(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidWorkspaceID, id)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if active, ok := m.ActiveWorkspaceID(); ok && active == id {
		return fmt.Errorf("%w: %s", ErrWorkspaceActive, id)
	}

	m.registryMu.Lock()
	kept := make([]Entry, 0, len(m.registry.Workspaces))
	for _, e := range m.registry.Workspaces {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	updated := m.registry.Clone()
	updated.Workspaces = kept
	if updated.LastActive != nil && *updated.LastActive == id {
		updated.LastActive = nil
	}
	err := SaveRegistry(m.root, updated)
	if err == nil {
		m.registry = updated
	}
	m.registryMu.Unlock()
	if err != nil {
		return err
	}

	if err := os.RemoveAll(m.WorkspaceDir(id)); err != nil {
		return fmt.Errorf("failed to remove workspace directory: %w", err)
	}
	m.log.Info("Discarded workspace: %s", id)
	return nil
}

// ReloadRegistry replaces the cached registry with workspaces.json. On error
// the cache is left untouched.
func (m *Manager) ReloadRegistry() error {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	registry, err := LoadRegistry(m.root)
	if err != nil {
		return err
	}
	m.registry = registry
	return nil
}

// RepairRegistry rebuilds the registry from the workspace directories,
// keeps last_active when it still exists, saves it and replaces the cache.
func (m *Manager) RepairRegistry() (*Registry, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rebuilt, err := RebuildRegistryFromDisk(m.root)
	if err != nil {
		return nil, err
	}

	m.registryMu.Lock()
	defer m.registryMu.Unlock()

	if last := m.registry.LastActive; last != nil && rebuilt.Contains(*last) {
		rebuilt.LastActive = cloneString(last)
	}
	if err := SaveRegistry(m.root, rebuilt); err != nil {
		return nil, err
	}
	m.registry = rebuilt

	m.log.Info("Repaired registry: %d workspaces", len(rebuilt.Workspaces))
	return rebuilt.Clone(), nil
}

// CloseActiveWorkspace closes the active pool, if any, and clears the
// active id.
func (m *Manager) CloseActiveWorkspace() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.activeMu.Lock()
	previous := m.active
	m.active = nil
	m.activeMu.Unlock()

	if previous == nil {
		return nil
	}
	if err := previous.pool.Close(); err != nil {
		return fmt.Errorf("failed to clean up active workspace: %w", err)
	}
	m.log.Info("Active workspace closed")
	return nil
}

// Close closes the active workspace and the global pool.
func (m *Manager) Close() error {
	activeErr := m.CloseActiveWorkspace()
	if err := m.global.Close(); err != nil && !errors.Is(err, dbpool.ErrClosed) {
		return errors.Join(activeErr, fmt.Errorf("failed to close global database: %w", err))
	}
	return activeErr
}
