package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codefionn/meetvault/internal/dbpool"
	"github.com/codefionn/meetvault/internal/workspace"
)

// globalOnlyTables are removed from the workspace copy once their rows live
// in the global database.
var globalOnlyTables = []string{
	"settings",
	"transcript_settings",
	"licensing",
	"custom_openai_config",
	"_sqlx_migrations",
}

func (m *migration) openLegacy(ctx context.Context, readOnly bool) (*dbpool.Pool, error) {
	return dbpool.Open(ctx, dbpool.Options{
		Path:        m.paths.DB,
		WAL:         !readOnly,
		ForeignKeys: true,
		ReadOnly:    readOnly,
		MaxConns:    1,
	})
}

func (m *migration) openWorkspaceCopy(ctx context.Context, readOnly bool) (*dbpool.Pool, error) {
	return dbpool.Open(ctx, dbpool.Options{
		Path:        m.workspaceDB,
		WAL:         !readOnly,
		ForeignKeys: true,
		ReadOnly:    readOnly,
		MaxConns:    1,
	})
}

func closePool(p *dbpool.Pool) {
	if err := p.Close(); err != nil {
		migLog().Warn("Failed to close %s: %v", p.Path(), err)
	}
}

// backup copies the legacy database and any WAL sidecars next to
// themselves with the backup suffix.
func (m *migration) backup(ctx context.Context) error {
	if err := copyFile(m.paths.DB, m.paths.Backup); err != nil {
		return fmt.Errorf("failed to backup original database: %w", err)
	}
	m.report.BackupFiles = append(m.report.BackupFiles, m.paths.Backup)
	m.log.Info("Backed up database to %s", m.paths.Backup)

	sidecars := []struct{ src, dst string }{
		{m.paths.WAL, m.paths.WALBackup},
		{m.paths.SHM, m.paths.SHMBackup},
	}
	for _, sc := range sidecars {
		if _, err := os.Stat(sc.src); err != nil {
			continue
		}
		if err := copyFile(sc.src, sc.dst); err != nil {
			return fmt.Errorf("failed to backup %s: %w", filepath.Base(sc.src), err)
		}
		m.report.BackupFiles = append(m.report.BackupFiles, sc.dst)
		m.log.Info("Backed up %s to %s", filepath.Base(sc.src), sc.dst)
	}
	return nil
}

// checkpoint folds the WAL into the main legacy database file so a plain
// file copy carries every committed row.
func (m *migration) checkpoint(ctx context.Context) error {
	pool, err := m.openLegacy(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to open database for WAL checkpoint: %w", err)
	}
	defer closePool(pool)

	var busy, logFrames, checkpointed int
	err = pool.DB().QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	if busy != 0 {
		m.warn("WAL checkpoint could not complete, database busy (%d/%d frames)", checkpointed, logFrames)
	}
	m.log.Info("WAL checkpoint complete")
	return nil
}

func (m *migration) createWorkspace(ctx context.Context) error {
	id, err := m.target.CreateWorkspace(DefaultWorkspaceName)
	if err != nil {
		return fmt.Errorf("failed to create Default workspace: %w", err)
	}
	m.report.WorkspaceID = id
	m.workspaceDB = filepath.Join(m.target.WorkspaceDir(id), workspace.DBFileName)
	m.log.Info("Created Default workspace: %s", id)
	return nil
}

func (m *migration) copyDatabase(ctx context.Context) error {
	if err := copyFile(m.paths.DB, m.workspaceDB); err != nil {
		return fmt.Errorf("failed to copy database to workspace: %w", err)
	}
	m.log.Info("Copied database to %s", m.workspaceDB)
	return nil
}

// partitionGlobal moves the shared tables from the legacy database into
// the global database. licensing is optional.
func (m *migration) partitionGlobal(ctx context.Context) error {
	legacy, err := m.openLegacy(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to open original database for settings extraction: %w", err)
	}
	defer closePool(legacy)

	for _, table := range globalTables {
		if table.optional {
			present, err := hasTable(ctx, legacy.DB(), table.name)
			if err != nil || !present {
				m.log.Info("No %s table found in original database, skipping", table.name)
				continue
			}
		}

		n, err := copyTable(ctx, legacy.DB(), m.target.GlobalPool(), table)
		if err != nil {
			if table.optional {
				m.warn("failed to migrate %s: %v", table.name, err)
				continue
			}
			return err
		}
		m.report.CopiedRows[table.name] = n
		m.log.Info("Migrated %d %s rows", n, table.name)
	}
	return nil
}

func (m *migration) cleanWorkspace(ctx context.Context) error {
	pool, err := m.openWorkspaceCopy(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to open workspace database for cleaning: %w", err)
	}
	defer closePool(pool)

	for _, table := range globalOnlyTables {
		if _, err := pool.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop table %s from workspace database: %w", table, err)
		}
	}
	m.report.DroppedTables = append([]string(nil), globalOnlyTables...)
	m.log.Info("Dropped global-only tables from workspace database: %s", strings.Join(globalOnlyTables, ", "))
	return nil
}

// verifyMedia counts meetings whose recording folder is still reachable.
func (m *migration) verifyMedia(ctx context.Context) error {
	pool, err := m.openWorkspaceCopy(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to open workspace database for media verification: %w", err)
	}
	defer closePool(pool)

	rows, err := pool.DB().QueryContext(ctx,
		"SELECT id, folder_path FROM meetings WHERE folder_path IS NOT NULL AND folder_path != ''")
	if err != nil {
		return fmt.Errorf("failed to list meeting folders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, folder string
		if err := rows.Scan(&id, &folder); err != nil {
			return fmt.Errorf("failed to read meeting folder: %w", err)
		}
		m.report.MediaChecked++
		if _, err := os.Stat(folder); err == nil {
			m.report.MediaAccessible++
		} else {
			m.report.MediaInaccessible++
			m.log.Warn("Meeting %s has inaccessible folder_path: %s", id, folder)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list meeting folders: %w", err)
	}
	if m.report.MediaChecked == 0 {
		m.log.Info("No meetings reference a media folder")
		return errSkipped
	}

	m.log.Info("Media check: %d/%d accessible, %d inaccessible",
		m.report.MediaAccessible, m.report.MediaChecked, m.report.MediaInaccessible)
	if m.report.MediaInaccessible > 0 {
		m.warn("%d of %d meetings have inaccessible media folders", m.report.MediaInaccessible, m.report.MediaChecked)
	}
	return nil
}

func (m *migration) activate(ctx context.Context) error {
	if err := m.target.SwitchWorkspace(ctx, m.report.WorkspaceID); err != nil {
		return fmt.Errorf("failed to switch to Default workspace: %w", err)
	}
	m.log.Info("Switched to Default workspace")
	return nil
}

// verifyIntegrity compares meeting counts between the legacy database and
// the now active workspace.
func (m *migration) verifyIntegrity(ctx context.Context) error {
	active, err := m.target.ActivePool()
	if err != nil {
		return err
	}
	if err := active.QueryRowContext(ctx, "SELECT COUNT(*) FROM meetings").Scan(&m.report.WorkspaceMeetings); err != nil {
		return fmt.Errorf("failed to count workspace meetings: %w", err)
	}

	legacy, err := m.openLegacy(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to open original database for verification: %w", err)
	}
	defer closePool(legacy)

	if err := legacy.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM meetings").Scan(&m.report.LegacyMeetings); err != nil {
		return fmt.Errorf("failed to count original meetings: %w", err)
	}

	if m.report.LegacyMeetings != m.report.WorkspaceMeetings {
		m.warn("meeting count mismatch: original %d, workspace %d", m.report.LegacyMeetings, m.report.WorkspaceMeetings)
		return nil
	}
	m.log.Info("Data integrity verified: %d meetings in both original and workspace", m.report.WorkspaceMeetings)
	return nil
}
