package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codefionn/meetvault/internal/config"
	"github.com/codefionn/meetvault/internal/logger"
	"github.com/codefionn/meetvault/internal/migration"
	"github.com/codefionn/meetvault/internal/startup"
	"github.com/codefionn/meetvault/internal/version"
	"github.com/codefionn/meetvault/internal/workspace"
)

type cli struct {
	configPath string
	dataDir    string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "meetvault",
		Short: "Manage meeting workspaces",
		Long: `meetvault manages the per-workspace databases of the meeting notes app.

Every workspace keeps its meetings in its own SQLite database under
{data dir}/workspaces/{id}/. Settings shared by all workspaces live in
workspaces/global.sqlite. A single-database installation is migrated into
a "Default" workspace on first start.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", config.GetConfigPath(), "Configuration file (JSON)")
	root.PersistentFlags().StringVar(&c.dataDir, "data-dir", "", "App data directory (overrides config)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")

	root.AddCommand(
		c.statusCmd(),
		c.listCmd(),
		c.createCmd(),
		c.switchCmd(),
		c.rebuildCmd(),
		c.detectLegacyCmd(),
		c.dataDirCmd(),
	)
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("Configuration loaded: data_dir=%s, log_level=%s, log_path=%s", cfg.DataDir, cfg.LogLevel, cfg.LogPath)
	return nil
}

// open runs the full startup sequence for commands that need an active
// workspace.
func (c *cli) open(ctx context.Context, activity string) (*startup.App, error) {
	opts := startup.OptionsFromConfig(c.cfg, activity)
	// A one-shot command has no use for the watcher.
	opts.WatchRegistry = false
	return startup.Initialize(ctx, opts)
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Start the workspace layer and show the active workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), "meetvault status")
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Data dir:   %s\n", c.cfg.DataDir)
			fmt.Fprintf(out, "Startup:    %s\n", app.Path)
			if app.Repaired {
				fmt.Fprintln(out, color.YellowString("Registry was rebuilt from disk"))
			}

			active, _ := app.Manager.ActiveWorkspaceID()
			fmt.Fprintf(out, "Active:     %s\n", color.GreenString("%s (%s)", nameOf(app.Manager.ListWorkspaces(), active), active))

			if db, err := app.Manager.ActivePool(); err == nil {
				var meetings int
				if err := db.QueryRowContext(cmd.Context(), "SELECT COUNT(*) FROM meetings").Scan(&meetings); err == nil {
					fmt.Fprintf(out, "Meetings:   %d\n", meetings)
				}
			}

			if app.Migration != nil {
				printReport(out, app.Migration)
			}
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), "meetvault list")
			if err != nil {
				return err
			}
			defer app.Close()

			active, _ := app.Manager.ActiveWorkspaceID()
			printEntries(cmd.OutOrStdout(), app.Manager.ListWorkspaces(), active)
			return nil
		},
	}
}

func (c *cli) createCmd() *cobra.Command {
	var switchTo bool

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), "meetvault create")
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.Manager.CreateWorkspace(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if switchTo {
				if err := app.Manager.SwitchWorkspace(cmd.Context(), id); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&switchTo, "switch", false, "Make the new workspace the active one")
	return cmd
}

func (c *cli) switchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch ID",
		Short: "Make a workspace the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), "meetvault switch")
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Manager.SwitchWorkspace(cmd.Context(), args[0]); err != nil {
				if previous, ok := app.Manager.PreviousWorkspaceID(); ok {
					// Leave the last_active pointer on something that opens.
					if retryErr := app.Manager.SwitchWorkspace(cmd.Context(), previous); retryErr != nil {
						logger.Warn("Failed to restore workspace %s: %v", previous, retryErr)
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", color.GreenString(nameOf(app.Manager.ListWorkspaces(), args[0])))
			return nil
		},
	}
}

func (c *cli) rebuildCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the workspace registry from the workspace directories",
		Long: `Scan {data dir}/workspaces for workspace directories and print the registry
they describe. With --write the registry file is replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			root := workspaceRoot(c.cfg.DataDir)

			if !write {
				registry, err := workspace.RebuildRegistryFromDisk(root)
				if err != nil {
					return err
				}
				printEntries(out, registry.Workspaces, "")
				return nil
			}

			app, err := c.open(cmd.Context(), "meetvault rebuild")
			if err != nil {
				return err
			}
			defer app.Close()

			registry, err := app.Manager.RepairRegistry()
			if err != nil {
				return err
			}
			active, _ := app.Manager.ActiveWorkspaceID()
			printEntries(out, registry.Workspaces, active)
			fmt.Fprintln(out, color.GreenString("Registry written"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Replace workspaces.json with the rebuilt registry")
	return cmd
}

func (c *cli) detectLegacyCmd() *cobra.Command {
	var doImport bool

	cmd := &cobra.Command{
		Use:   "detect-legacy [PATH]",
		Short: "Find a pre-workspace database",
		Long: `Look for a legacy meeting_minutes database. PATH may be the .db file itself,
a directory holding meeting_minutes.db or a checkout with backend/meeting_minutes.db.
Without PATH the data directory is checked. With --import the database is copied
into the data directory so the next start migrates it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var found string
			if len(args) == 1 {
				found = migration.DetectLegacyDatabase(args[0])
			} else {
				found = migration.CheckDefaultLegacyDatabase(c.cfg.DataDir)
			}
			if found == "" {
				fmt.Fprintln(out, color.YellowString("No legacy database found"))
				return nil
			}

			info := migration.CheckDatabaseFile(found)
			if info == nil {
				fmt.Fprintf(out, "%s %s\n", found, color.YellowString("(empty)"))
				return nil
			}
			fmt.Fprintf(out, "%s (%d bytes)\n", found, info.Size)

			if doImport {
				dst, err := migration.ImportLegacyDatabase(found, c.cfg.DataDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Imported to %s\n", color.GreenString(dst))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&doImport, "import", false, "Copy the database into the data directory for migration")
	return cmd
}

func (c *cli) dataDirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "data-dir",
		Short: "Print the app data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.cfg.DataDir)
			return nil
		},
	}
}

func workspaceRoot(dataDir string) string {
	return filepath.Join(dataDir, workspace.RootDirName)
}

func nameOf(entries []workspace.Entry, id string) string {
	for _, e := range entries {
		if e.ID == id {
			return e.Name
		}
	}
	return id
}

func printEntries(out io.Writer, entries []workspace.Entry, active string) {
	if len(entries) == 0 {
		fmt.Fprintln(out, color.YellowString("No workspaces"))
		return
	}
	for _, e := range entries {
		marker := "  "
		line := fmt.Sprintf("%s  %s", e.ID, e.Name)
		if e.Icon != nil {
			line += " " + *e.Icon
		}
		if e.ID == active {
			marker = color.GreenString("* ")
			line = color.GreenString("%s", line)
		}
		fmt.Fprintln(out, marker+line)
	}
}

func printReport(out io.Writer, report *migration.Report) {
	fmt.Fprint(out, "\n"+color.CyanString("=== Migration ===\n"))
	for _, s := range report.Steps {
		status := color.GreenString(s.Outcome.String())
		switch s.Outcome {
		case migration.OutcomeWarning, migration.OutcomeSkipped:
			status = color.YellowString(s.Outcome.String())
		case migration.OutcomeFatal:
			status = color.RedString(s.Outcome.String())
		}
		fmt.Fprintf(out, "  %d %-18s %s\n", s.Index, s.Name, status)
		if s.Err != nil {
			fmt.Fprintf(out, "       %v\n", s.Err)
		}
	}
	tables := make([]string, 0, len(report.CopiedRows))
	for table := range report.CopiedRows {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Fprintf(out, "  copied %d %s rows\n", report.CopiedRows[table], table)
	}
	if report.MediaChecked > 0 {
		fmt.Fprintf(out, "  media: %d/%d accessible\n", report.MediaAccessible, report.MediaChecked)
	}
	for _, w := range report.Warnings {
		fmt.Fprintln(out, color.YellowString("  warning: %s", w))
	}
}
