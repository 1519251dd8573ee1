package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLegacyPaths(t *testing.T) {
	p := LegacyPaths("/data/meeting_minutes.sqlite")
	assert.Equal(t, Paths{
		DB:        "/data/meeting_minutes.sqlite",
		WAL:       "/data/meeting_minutes.sqlite-wal",
		SHM:       "/data/meeting_minutes.sqlite-shm",
		Backup:    "/data/meeting_minutes.sqlite.pre-workspace-backup",
		WALBackup: "/data/meeting_minutes.sqlite-wal.pre-workspace-backup",
		SHMBackup: "/data/meeting_minutes.sqlite-shm.pre-workspace-backup",
	}, p)
}

func TestDetectLegacyDatabase(t *testing.T) {
	root := t.TempDir()

	direct := filepath.Join(root, "direct", "export.db")
	touch(t, direct, "x")

	inDir := filepath.Join(root, "dir", ExternalDBFileName)
	touch(t, inDir, "x")

	inBackend := filepath.Join(root, "checkout", "backend", ExternalDBFileName)
	touch(t, inBackend, "x")

	notDB := filepath.Join(root, "notes.txt")
	touch(t, notDB, "x")

	tests := []struct {
		name     string
		selected string
		want     string
	}{
		{"db file", direct, direct},
		{"directory", filepath.Join(root, "dir"), inDir},
		{"repository root", filepath.Join(root, "checkout"), inBackend},
		{"other file", notDB, ""},
		{"empty directory", t.TempDir(), ""},
		{"missing", filepath.Join(root, "absent"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLegacyDatabase(tt.selected))
		})
	}
}

func TestCheckDefaultLegacyDatabase(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, CheckDefaultLegacyDatabase(dir))

	touch(t, filepath.Join(dir, ExternalDBFileName), "x")
	assert.Equal(t, filepath.Join(dir, ExternalDBFileName), CheckDefaultLegacyDatabase(dir))
}

func TestCheckDatabaseFile(t *testing.T) {
	dir := t.TempDir()

	full := filepath.Join(dir, "full.db")
	touch(t, full, "12345")
	empty := filepath.Join(dir, "empty.db")
	touch(t, empty, "")

	assert.Equal(t, &DatabaseFile{Exists: true, Size: 5}, CheckDatabaseFile(full))
	assert.Nil(t, CheckDatabaseFile(empty))
	assert.Nil(t, CheckDatabaseFile(dir))
	assert.Nil(t, CheckDatabaseFile(filepath.Join(dir, "missing.db")))
}

func TestImportLegacyDatabase(t *testing.T) {
	src := filepath.Join(t.TempDir(), "meeting_minutes.db")
	touch(t, src, "legacy-bytes")
	appDataDir := filepath.Join(t.TempDir(), "app")

	dst, err := ImportLegacyDatabase(src, appDataDir)
	require.NoError(t, err)
	assert.Equal(t, LegacyDBPath(appDataDir), dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "legacy-bytes", string(data))

	// Never overwrites an existing legacy database.
	_, err = ImportLegacyDatabase(src, appDataDir)
	require.Error(t, err)

	_, err = ImportLegacyDatabase(filepath.Join(t.TempDir(), "missing.db"), appDataDir)
	require.Error(t, err)
}
