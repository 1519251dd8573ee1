// Package migration converts a single-database installation into the
// workspace layout: the legacy database becomes the "Default" workspace and
// its shared settings move to the global database.
//
// The migration is a fixed sequence of named steps. A step either succeeds,
// finishes with warnings, is skipped, or fails. The first failure stops the
// run; everything else is collected into a Report. The legacy database and
// its backup are never deleted.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/meetvault/internal/logger"
)

// DefaultWorkspaceName is the name of the workspace the legacy data moves to.
const DefaultWorkspaceName = "Default"

// ErrMigrationAborted wraps the error of the step that stopped a run.
var ErrMigrationAborted = errors.New("migration aborted")

// Target is the workspace manager surface the migration drives.
type Target interface {
	CreateWorkspace(name string) (string, error)
	WorkspaceDir(id string) string
	GlobalPool() *sql.DB
	SwitchWorkspace(ctx context.Context, id string) error
	ActivePool() (*sql.DB, error)
}

// Outcome is how a step finished.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeWarning
	OutcomeSkipped
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeWarning:
		return "warning"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// StepResult records one executed step.
type StepResult struct {
	Index    int
	Name     string
	Outcome  Outcome
	Warnings []string
	Err      error
	Duration time.Duration
}

// Report summarises a run. Fields after Steps are filled in by the step
// that measures them and stay zero if the run stopped earlier.
type Report struct {
	LegacyPath  string
	WorkspaceID string
	Steps       []StepResult
	Warnings    []string

	BackupFiles       []string
	CopiedRows        map[string]int
	DroppedTables     []string
	MediaChecked      int
	MediaAccessible   int
	MediaInaccessible int
	LegacyMeetings    int
	WorkspaceMeetings int
}

// Failed returns the fatal step, if any.
func (r *Report) Failed() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFatal {
			return s, true
		}
	}
	return StepResult{}, false
}

type step struct {
	name string
	// advisory steps turn errors into warnings instead of aborting.
	advisory bool
	run      func(ctx context.Context) error
}

// errSkipped marks a step that had nothing to do.
var errSkipped = errors.New("skipped")

type migration struct {
	target Target
	paths  Paths
	report *Report
	log    *logger.Logger

	workspaceDB string
	warnings    []string
}

func (m *migration) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.log.Warn("%s", msg)
	m.warnings = append(m.warnings, msg)
}

func migLog() *logger.Logger {
	return logger.Global().WithPrefix("migration")
}

// Run migrates the legacy database at legacyPath into a new Default
// workspace of target and makes it active. On success the report names the
// new workspace. On failure the error wraps ErrMigrationAborted and the
// failing step's error; the report lists every step attempted so far.
func Run(ctx context.Context, target Target, legacyPath string) (*Report, error) {
	m := &migration{
		target: target,
		paths:  LegacyPaths(legacyPath),
		report: &Report{LegacyPath: legacyPath, CopiedRows: map[string]int{}},
		log:    migLog(),
	}

	steps := []step{
		{name: "backup", run: m.backup},
		{name: "checkpoint", run: m.checkpoint},
		{name: "create-workspace", run: m.createWorkspace},
		{name: "copy-database", run: m.copyDatabase},
		{name: "partition-global", run: m.partitionGlobal},
		{name: "clean-workspace", run: m.cleanWorkspace},
		{name: "verify-media", advisory: true, run: m.verifyMedia},
		{name: "activate", run: m.activate},
		{name: "verify-integrity", advisory: true, run: m.verifyIntegrity},
	}

	m.log.Info("Starting migration of existing database: %s", legacyPath)

	for i, s := range steps {
		m.log.Info("Step %d/%d: %s", i+1, len(steps), s.name)
		m.warnings = nil

		start := time.Now()
		err := s.run(ctx)
		result := StepResult{
			Index:    i + 1,
			Name:     s.name,
			Duration: time.Since(start),
		}

		switch {
		case errors.Is(err, errSkipped):
			result.Outcome = OutcomeSkipped
		case err != nil && !s.advisory:
			result.Outcome = OutcomeFatal
			result.Err = err
			m.report.Steps = append(m.report.Steps, result)
			m.log.Error("Step %d/%d (%s) failed: %v", i+1, len(steps), s.name, err)
			return m.report, fmt.Errorf("%w at step %d/%d (%s): %w", ErrMigrationAborted, i+1, len(steps), s.name, err)
		case err != nil:
			m.warn("%s: %v", s.name, err)
		}

		if len(m.warnings) > 0 {
			if result.Outcome == OutcomeSuccess {
				result.Outcome = OutcomeWarning
			}
			result.Warnings = m.warnings
			m.report.Warnings = append(m.report.Warnings, m.warnings...)
		}
		m.report.Steps = append(m.report.Steps, result)
	}

	m.log.Info("Migration complete. Default workspace ID: %s (%d warnings)", m.report.WorkspaceID, len(m.report.Warnings))
	return m.report, nil
}
