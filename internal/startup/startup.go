// Package startup brings the workspace layer up on application launch: it
// locks the data directory, opens the manager and makes sure exactly one
// workspace is active before returning.
package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codefionn/meetvault/internal/config"
	"github.com/codefionn/meetvault/internal/lockfile"
	"github.com/codefionn/meetvault/internal/logger"
	"github.com/codefionn/meetvault/internal/migration"
	"github.com/codefionn/meetvault/internal/settings"
	"github.com/codefionn/meetvault/internal/workspace"
)

// Path is the branch of the launch decision tree that was taken.
type Path string

const (
	PathFreshInstall      Path = "fresh-install"
	PathMigrated          Path = "migrated"
	PathMigrationFallback Path = "migration-fallback"
	PathResumed           Path = "resumed"
)

// Options configures Initialize.
type Options struct {
	DataDir string
	// LegacyDatabase overrides {DataDir}/meeting_minutes.sqlite.
	LegacyDatabase string
	PoolSize       int
	WatchRegistry  bool
	// Activity is recorded in the lock file.
	Activity string

	DefaultModel      settings.ModelConfig
	DefaultTranscript settings.TranscriptConfig
}

// OptionsFromConfig maps the application config onto Options.
func OptionsFromConfig(cfg *config.Config, activity string) Options {
	return Options{
		DataDir:        cfg.DataDir,
		LegacyDatabase: cfg.LegacyDatabase,
		PoolSize:       cfg.PoolSize,
		WatchRegistry:  cfg.WatchRegistry,
		Activity:       activity,
		DefaultModel: settings.ModelConfig{
			Provider:     cfg.DefaultSummaryModel.Provider,
			Model:        cfg.DefaultSummaryModel.Model,
			WhisperModel: cfg.DefaultSummaryModel.WhisperModel,
		},
		DefaultTranscript: settings.TranscriptConfig{
			Provider: cfg.DefaultTranscriptModel.Provider,
			Model:    cfg.DefaultTranscriptModel.Model,
		},
	}
}

// App is an initialised workspace layer. Close it on shutdown.
type App struct {
	Manager *workspace.Manager
	Watcher *workspace.RegistryWatcher

	// Path is how the active workspace was chosen.
	Path Path
	// Repaired is set when an empty registry was rebuilt from disk.
	Repaired bool
	// Migration is the migration report when one ran.
	Migration *migration.Report

	lock *lockfile.Lockfile
}

// Close stops the watcher, closes the manager and releases the lock.
func (a *App) Close() error {
	var errs []error
	if a.Watcher != nil {
		errs = append(errs, a.Watcher.Close())
	}
	if a.Manager != nil {
		errs = append(errs, a.Manager.Close())
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
	}
	return errors.Join(errs...)
}

// LockPath returns the lock file guarding dataDir.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "meetvault.lock")
}

// Initialize runs the launch decision tree:
//
//   - legacy database present and no workspaces: migrate it into "Default",
//     falling back to an empty Default workspace if the migration fails
//   - workspaces registered: switch to last_active, else the first one that
//     opens
//   - otherwise: fresh install, create and switch to "Default" and seed the
//     default model settings
//
// An empty registry is first repaired from the workspace directories so a
// lost workspaces.json never triggers a second migration.
func Initialize(ctx context.Context, opts Options) (*App, error) {
	log := logger.Global().WithPrefix("startup")

	if opts.DataDir == "" {
		return nil, errors.New("data directory must not be empty")
	}

	lock := lockfile.New(LockPath(opts.DataDir), opts.Activity)
	if err := lock.TryAcquire(); err != nil {
		return nil, err
	}

	mgr, err := workspace.Init(ctx, opts.DataDir, workspace.Options{PoolSize: opts.PoolSize})
	if err != nil {
		lock.Release()
		return nil, err
	}
	app := &App{Manager: mgr, lock: lock}

	if err := app.choose(ctx, opts, log); err != nil {
		app.Close()
		return nil, err
	}

	if opts.WatchRegistry {
		watcher, err := mgr.WatchRegistry(func(err error) {
			if err != nil {
				log.Error("Registry reload failed: %v", err)
			}
		})
		if err != nil {
			log.Warn("Registry watcher unavailable: %v", err)
		} else {
			app.Watcher = watcher
		}
	}

	active, _ := mgr.ActiveWorkspaceID()
	log.Info("Workspace layer ready (%s): active workspace %s", app.Path, active)
	return app, nil
}

func (a *App) choose(ctx context.Context, opts Options, log *logger.Logger) error {
	mgr := a.Manager

	if len(mgr.ListWorkspaces()) == 0 {
		rebuilt, err := workspace.RebuildRegistryFromDisk(mgr.WorkspacesRoot())
		if err != nil {
			log.Warn("Could not scan workspaces root: %v", err)
		} else if len(rebuilt.Workspaces) > 0 {
			log.Warn("Registry is empty but %d workspaces exist on disk, repairing", len(rebuilt.Workspaces))
			if _, err := mgr.RepairRegistry(); err != nil {
				return err
			}
			a.Repaired = true
		}
	}

	legacyPath := opts.LegacyDatabase
	if legacyPath == "" {
		legacyPath = migration.LegacyDBPath(opts.DataDir)
	}
	workspaces := mgr.ListWorkspaces()

	switch {
	case len(workspaces) == 0 && isFile(legacyPath):
		return a.migrate(ctx, opts, legacyPath, log)
	case len(workspaces) > 0:
		a.Path = PathResumed
		return resume(ctx, mgr, workspaces, log)
	default:
		a.Path = PathFreshInstall
		if err := createDefault(ctx, mgr); err != nil {
			return err
		}
		seedDefaults(ctx, mgr, opts, log)
		log.Info("Fresh install: created Default workspace")
		return nil
	}
}

// seedDefaults stores the default model selections for whichever settings
// rows the global database does not have yet.
func seedDefaults(ctx context.Context, mgr *workspace.Manager, opts Options, log *logger.Logger) {
	repo := settings.NewRepository(mgr.GlobalPool())
	model, err := repo.ModelConfig(ctx)
	if err != nil {
		log.Warn("Could not read model settings: %v", err)
		return
	}
	transcript, err := repo.TranscriptConfig(ctx)
	if err != nil {
		log.Warn("Could not read transcript settings: %v", err)
		return
	}

	switch {
	case model == nil && transcript == nil:
		if err := repo.InitializeFreshDatabase(ctx, opts.DefaultModel, opts.DefaultTranscript); err != nil {
			log.Warn("Default model settings not saved: %v", err)
		}
	case model == nil:
		if err := repo.SaveModelConfig(ctx, opts.DefaultModel); err != nil {
			log.Warn("Default summary model not saved: %v", err)
		}
	case transcript == nil:
		if err := repo.SaveTranscriptConfig(ctx, opts.DefaultTranscript); err != nil {
			log.Warn("Default transcription model not saved: %v", err)
		}
	}
}

func (a *App) migrate(ctx context.Context, opts Options, legacyPath string, log *logger.Logger) error {
	mgr := a.Manager

	report, err := migration.Run(ctx, mgr, legacyPath)
	a.Migration = report
	if err == nil {
		a.Path = PathMigrated
		return nil
	}

	log.Error("Migration failed, falling back to a Default workspace: %v", err)
	a.Path = PathMigrationFallback
	defer seedDefaults(ctx, mgr, opts, log)

	// The partial copy may still hold global-only tables. The legacy
	// database and its backup remain the recovery source.
	if report != nil && report.WorkspaceID != "" {
		if err := mgr.DiscardWorkspace(report.WorkspaceID); err != nil {
			log.Warn("Could not discard partially migrated workspace %s: %v", report.WorkspaceID, err)
		}
	}
	return createDefault(ctx, mgr)
}

// resume activates last_active, or failing that the first registered
// workspace that opens.
func resume(ctx context.Context, mgr *workspace.Manager, workspaces []workspace.Entry, log *logger.Logger) error {
	tried := ""
	if last, ok := mgr.LastActiveID(); ok {
		err := mgr.SwitchWorkspace(ctx, last)
		if err == nil {
			return nil
		}
		log.Warn("Could not reopen last active workspace %s: %v", last, err)
		tried = last
	}

	var lastErr error
	for _, entry := range workspaces {
		if entry.ID == tried {
			continue
		}
		err := mgr.SwitchWorkspace(ctx, entry.ID)
		if err == nil {
			return nil
		}
		log.Warn("Could not open workspace %s: %v", entry.ID, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no other workspace registered")
	}
	return fmt.Errorf("failed to activate any workspace: %w", lastErr)
}

func createDefault(ctx context.Context, mgr *workspace.Manager) error {
	id, err := mgr.CreateWorkspace(migration.DefaultWorkspaceName)
	if err != nil {
		return err
	}
	return mgr.SwitchWorkspace(ctx, id)
}

// WorkspaceLister is satisfied by *workspace.Manager.
type WorkspaceLister interface {
	ListWorkspaces() []workspace.Entry
}

// CheckFirstLaunch reports whether no workspace exists yet.
func CheckFirstLaunch(mgr WorkspaceLister) bool {
	return len(mgr.ListWorkspaces()) == 0
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
