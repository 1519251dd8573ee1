package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	appDataDir := t.TempDir()
	m, err := Init(context.Background(), appDataDir, Options{AppVersion: "0.0.1-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, appDataDir
}

func TestInitCreatesLayout(t *testing.T) {
	m, appDataDir := newTestManager(t)

	assert.Equal(t, filepath.Join(appDataDir, RootDirName), m.WorkspacesRoot())
	assert.FileExists(t, filepath.Join(appDataDir, RootDirName, GlobalDBFileName))
	assert.Empty(t, m.ListWorkspaces())

	_, ok := m.ActiveWorkspaceID()
	assert.False(t, ok)

	_, err := m.ActivePool()
	assert.ErrorIs(t, err, ErrNoActiveWorkspace)

	var n int
	require.NoError(t, m.GlobalPool().QueryRow("SELECT COUNT(*) FROM settings").Scan(&n))
	assert.Zero(t, n)
}

func TestInitWithCorruptRegistryStartsEmpty(t *testing.T) {
	appDataDir := t.TempDir()
	root := filepath.Join(appDataDir, RootDirName)
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, RegistryFileName), []byte("{{{"), 0644))

	m, err := Init(context.Background(), appDataDir, Options{})
	require.NoError(t, err)
	defer m.Close()

	assert.Empty(t, m.ListWorkspaces())
}

func TestCreateWorkspaceDoesNotSwitch(t *testing.T) {
	m, _ := newTestManager(t)
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	m.now = func() time.Time { return fixed }

	id, err := m.CreateWorkspace("  Client A ")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	_, ok := m.ActiveWorkspaceID()
	assert.False(t, ok)

	assert.Equal(t, []Entry{{ID: id, Name: "Client A"}}, m.ListWorkspaces())

	dir := m.WorkspaceDir(id)
	assert.DirExists(t, filepath.Join(dir, AudioDirName))
	assert.DirExists(t, filepath.Join(dir, NotesDirName))
	assert.FileExists(t, filepath.Join(dir, ConfigFileName))
	assert.NoFileExists(t, filepath.Join(dir, DBFileName))

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "Client A", manifest.Name)
	assert.Equal(t, "2026-03-04T04:06:07Z", manifest.CreatedAt)
	assert.Equal(t, manifest.CreatedAt, manifest.LastModified)
	require.NotNil(t, manifest.AppVersion)
	assert.Equal(t, "0.0.1-test", *manifest.AppVersion)

	onDisk, err := LoadRegistry(m.WorkspacesRoot())
	require.NoError(t, err)
	assert.Equal(t, m.ListWorkspaces(), onDisk.Workspaces)
}

func TestCreateWorkspaceRejectsEmptyName(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateWorkspace("   ")
	require.Error(t, err)
	assert.Empty(t, m.ListWorkspaces())
}

func TestSwitchWorkspace(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateWorkspace("A")
	require.NoError(t, err)
	b, err := m.CreateWorkspace("B")
	require.NoError(t, err)

	require.NoError(t, m.SwitchWorkspace(ctx, a))
	got, ok := m.ActiveWorkspaceID()
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.FileExists(t, filepath.Join(m.WorkspaceDir(a), DBFileName))

	db, err := m.ActivePool()
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO meetings (id, title, created_at, updated_at) VALUES ('m1', 'Kickoff', '2026-01-01', '2026-01-01')`)
	require.NoError(t, err)

	require.NoError(t, m.SwitchWorkspace(ctx, b))
	got, _ = m.ActiveWorkspaceID()
	assert.Equal(t, b, got)

	// The old handle belongs to the closed pool.
	require.Error(t, db.Ping())

	db, err = m.ActivePool()
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM meetings").Scan(&n))
	assert.Zero(t, n, "workspace B must not see workspace A's meetings")

	last, ok := m.LastActiveID()
	require.True(t, ok)
	assert.Equal(t, b, last)

	onDisk, err := LoadRegistry(m.WorkspacesRoot())
	require.NoError(t, err)
	require.NotNil(t, onDisk.LastActive)
	assert.Equal(t, b, *onDisk.LastActive)

	_, hadPrevious := m.PreviousWorkspaceID()
	assert.False(t, hadPrevious)
}

func TestSwitchWorkspaceFailures(t *testing.T) {
	tests := []struct {
		name    string
		id      func(m *Manager) string
		wantErr error
	}{
		{
			name:    "not a uuid",
			id:      func(*Manager) string { return "../escape" },
			wantErr: ErrInvalidWorkspaceID,
		},
		{
			name:    "unknown uuid",
			id:      func(*Manager) string { return uuid.NewString() },
			wantErr: ErrWorkspaceNotFound,
		},
		{
			name: "directory without manifest",
			id: func(m *Manager) string {
				id := uuid.NewString()
				require.NoError(t, os.MkdirAll(m.WorkspaceDir(id), 0755))
				return id
			},
			wantErr: ErrManifestMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			ctx := context.Background()

			current, err := m.CreateWorkspace("Current")
			require.NoError(t, err)
			require.NoError(t, m.SwitchWorkspace(ctx, current))

			err = m.SwitchWorkspace(ctx, tt.id(m))
			require.ErrorIs(t, err, tt.wantErr)

			_, ok := m.ActiveWorkspaceID()
			assert.False(t, ok)
			_, err = m.ActivePool()
			assert.ErrorIs(t, err, ErrNoActiveWorkspace)

			previous, ok := m.PreviousWorkspaceID()
			require.True(t, ok)
			assert.Equal(t, current, previous)

			// Retrying the previous workspace restores it.
			require.NoError(t, m.SwitchWorkspace(ctx, previous))
			got, _ := m.ActiveWorkspaceID()
			assert.Equal(t, current, got)
			_, ok = m.PreviousWorkspaceID()
			assert.False(t, ok)
		})
	}
}

func TestCloseActiveWorkspace(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CloseActiveWorkspace())

	id, err := m.CreateWorkspace("A")
	require.NoError(t, err)
	require.NoError(t, m.SwitchWorkspace(ctx, id))
	require.NoError(t, m.CloseActiveWorkspace())

	_, ok := m.ActiveWorkspaceID()
	assert.False(t, ok)
	_, err = m.ActivePool()
	assert.ErrorIs(t, err, ErrNoActiveWorkspace)

	// last_active survives closing.
	last, ok := m.LastActiveID()
	require.True(t, ok)
	assert.Equal(t, id, last)
}

// blockRegistryWrites replaces workspaces.json with a non-empty directory
// so the atomic rename in SaveRegistry fails.
func blockRegistryWrites(t *testing.T, m *Manager) {
	t.Helper()
	path := filepath.Join(m.WorkspacesRoot(), RegistryFileName)
	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocked"), 0755))
}

func TestCreateWorkspaceSaveFailureLeavesCacheUnchanged(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.CreateWorkspace("A")
	require.NoError(t, err)

	blockRegistryWrites(t, m)

	_, err = m.CreateWorkspace("B")
	require.Error(t, err)

	entries := m.ListWorkspaces()
	require.Len(t, entries, 1)
	assert.Equal(t, a, entries[0].ID)
}

func TestSwitchWorkspaceSucceedsWhenLastActiveNotPersisted(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.CreateWorkspace("A")
	require.NoError(t, err)

	blockRegistryWrites(t, m)

	require.NoError(t, m.SwitchWorkspace(context.Background(), id))
	active, ok := m.ActiveWorkspaceID()
	require.True(t, ok)
	assert.Equal(t, id, active)
	last, ok := m.LastActiveID()
	require.True(t, ok)
	assert.Equal(t, id, last)
}

func TestDiscardWorkspace(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	keep, err := m.CreateWorkspace("Keep")
	require.NoError(t, err)
	gone, err := m.CreateWorkspace("Gone")
	require.NoError(t, err)
	require.NoError(t, m.SwitchWorkspace(ctx, gone))

	err = m.DiscardWorkspace(gone)
	require.ErrorIs(t, err, ErrWorkspaceActive)

	require.NoError(t, m.SwitchWorkspace(ctx, keep))
	require.NoError(t, m.DiscardWorkspace(gone))

	entries := m.ListWorkspaces()
	require.Len(t, entries, 1)
	assert.Equal(t, keep, entries[0].ID)
	assert.NoDirExists(t, m.WorkspaceDir(gone))

	loaded, err := LoadRegistry(m.WorkspacesRoot())
	require.NoError(t, err)
	assert.False(t, loaded.Contains(gone))

	require.ErrorIs(t, m.DiscardWorkspace("nope"), ErrInvalidWorkspaceID)
}

func TestDiscardWorkspaceClearsLastActive(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.CreateWorkspace("A")
	require.NoError(t, err)
	require.NoError(t, m.SwitchWorkspace(context.Background(), id))
	require.NoError(t, m.CloseActiveWorkspace())

	require.NoError(t, m.DiscardWorkspace(id))
	_, ok := m.LastActiveID()
	assert.False(t, ok)
}

func TestRepairRegistry(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateWorkspace("A")
	require.NoError(t, err)
	b, err := m.CreateWorkspace("B")
	require.NoError(t, err)
	require.NoError(t, m.SwitchWorkspace(ctx, b))

	// Orphan from an interrupted create.
	orphan := writeWorkspace(t, m.WorkspacesRoot(), "Orphan", "2999-01-01T00:00:00Z")

	require.NoError(t, os.WriteFile(filepath.Join(m.WorkspacesRoot(), RegistryFileName), []byte("corrupt"), 0644))

	repaired, err := m.RepairRegistry()
	require.NoError(t, err)

	ids := make([]string, 0, len(repaired.Workspaces))
	for _, e := range repaired.Workspaces {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{a, b, orphan}, ids)
	assert.Equal(t, orphan, ids[2])
	require.NotNil(t, repaired.LastActive)
	assert.Equal(t, b, *repaired.LastActive)

	onDisk, err := LoadRegistry(m.WorkspacesRoot())
	require.NoError(t, err)
	assert.Equal(t, repaired, onDisk)
	assert.Equal(t, repaired.Workspaces, m.ListWorkspaces())
}

func TestRepairRegistryDropsVanishedLastActive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreateWorkspace("Gone")
	require.NoError(t, err)
	require.NoError(t, m.SwitchWorkspace(ctx, id))
	require.NoError(t, m.CloseActiveWorkspace())
	require.NoError(t, os.RemoveAll(m.WorkspaceDir(id)))

	repaired, err := m.RepairRegistry()
	require.NoError(t, err)
	assert.Empty(t, repaired.Workspaces)
	assert.Nil(t, repaired.LastActive)
}

func TestReloadRegistryKeepsCacheOnError(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.CreateWorkspace("A")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(m.WorkspacesRoot(), RegistryFileName), []byte("nope"), 0644))
	require.Error(t, m.ReloadRegistry())
	assert.Equal(t, []Entry{{ID: id, Name: "A"}}, m.ListWorkspaces())
}

func TestActivePoolDuringSwitches(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateWorkspace("A")
	require.NoError(t, err)
	b, err := m.CreateWorkspace("B")
	require.NoError(t, err)
	require.NoError(t, m.SwitchWorkspace(ctx, a))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := m.ActivePool(); err != nil {
					assert.ErrorIs(t, err, ErrNoActiveWorkspace)
				}
				if id, ok := m.ActiveWorkspaceID(); ok {
					assert.Contains(t, []string{a, b}, id)
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		target := a
		if i%2 == 0 {
			target = b
		}
		require.NoError(t, m.SwitchWorkspace(ctx, target))
	}
	close(stop)
	wg.Wait()

	got, ok := m.ActiveWorkspaceID()
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	appDataDir := t.TempDir()
	m, err := Init(context.Background(), appDataDir, Options{})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
