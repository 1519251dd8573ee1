package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

const (
	// LegacyDBFileName is the single pre-workspace database the desktop app
	// kept directly in its data directory.
	LegacyDBFileName = "meeting_minutes.sqlite"

	// ExternalDBFileName is the database name used by the old Python backend.
	ExternalDBFileName = "meeting_minutes.db"

	// BackupSuffix is appended to every file step 1 backs up.
	BackupSuffix = ".pre-workspace-backup"
)

// Paths names the legacy database, its WAL sidecars and their backups.
type Paths struct {
	DB        string
	WAL       string
	SHM       string
	Backup    string
	WALBackup string
	SHMBackup string
}

// LegacyPaths derives the sidecar and backup paths for dbPath.
func LegacyPaths(dbPath string) Paths {
	return Paths{
		DB:        dbPath,
		WAL:       dbPath + "-wal",
		SHM:       dbPath + "-shm",
		Backup:    dbPath + BackupSuffix,
		WALBackup: dbPath + "-wal" + BackupSuffix,
		SHMBackup: dbPath + "-shm" + BackupSuffix,
	}
}

// LegacyDBPath returns where the legacy database lives under appDataDir.
func LegacyDBPath(appDataDir string) string {
	return filepath.Join(appDataDir, LegacyDBFileName)
}

// DatabaseFile describes a database found on disk.
type DatabaseFile struct {
	Exists bool  `json:"exists"`
	Size   int64 `json:"size"`
}

// CheckDatabaseFile reports path only if it is a regular, non-empty file.
// Anything else returns nil.
func CheckDatabaseFile(path string) *DatabaseFile {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			migLog().Error("Failed to read database metadata for %s: %v", path, err)
		}
		return nil
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	if info.Size() == 0 {
		migLog().Info("Database file %s exists but is empty", path)
		return nil
	}
	return &DatabaseFile{Exists: true, Size: info.Size()}
}

// DetectLegacyDatabase resolves a user-selected path to a legacy database.
// It accepts a .db file, a directory holding meeting_minutes.db, or a
// checkout whose backend/ directory holds it. It returns "" when nothing
// matches.
func DetectLegacyDatabase(selected string) string {
	info, err := os.Stat(selected)
	if err != nil {
		migLog().Info("No legacy database found at path: %s", selected)
		return ""
	}

	if info.Mode().IsRegular() && strings.EqualFold(filepath.Ext(selected), ".db") {
		migLog().Info("Direct .db file selected: %s", selected)
		return selected
	}

	if info.IsDir() {
		for _, candidate := range []string{
			filepath.Join(selected, ExternalDBFileName),
			filepath.Join(selected, "backend", ExternalDBFileName),
		} {
			if isRegularFile(candidate) {
				migLog().Info("Found legacy database: %s", candidate)
				return candidate
			}
		}
	}

	migLog().Info("No legacy database found at path: %s", selected)
	return ""
}

// CheckDefaultLegacyDatabase looks for meeting_minutes.db in appDataDir.
func CheckDefaultLegacyDatabase(appDataDir string) string {
	candidate := filepath.Join(appDataDir, ExternalDBFileName)
	if isRegularFile(candidate) {
		return candidate
	}
	return ""
}

// ImportLegacyDatabase copies an external database to the legacy location
// under appDataDir so the next startup migrates it. An existing legacy
// database is never overwritten.
func ImportLegacyDatabase(src, appDataDir string) (string, error) {
	if CheckDatabaseFile(src) == nil {
		return "", fmt.Errorf("failed to import %s: not a non-empty database file", src)
	}

	dst := LegacyDBPath(appDataDir)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("failed to import %s: %s already exists", src, dst)
	}

	if err := os.MkdirAll(appDataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("failed to import legacy database: %w", err)
	}

	migLog().Info("Imported legacy database %s to %s", src, dst)
	return dst, nil
}

// copyFile copies src to dst through a temporary file and rename, so dst
// is either absent or complete.
func copyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	return atomic.WriteFile(dst, f)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
