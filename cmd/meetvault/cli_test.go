package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/meetvault/internal/config"
	"github.com/codefionn/meetvault/internal/migration"
)

func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvLogPath, "")
	color.NoColor = true

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(t.TempDir(), "config.json"),
		"--data-dir", dataDir,
		"--log-level", "none",
	}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestDataDirCommand(t *testing.T) {
	dataDir := t.TempDir()
	out, err := runCLI(t, dataDir, "data-dir")
	require.NoError(t, err)
	assert.Equal(t, dataDir+"\n", out)
}

func TestStatusFreshInstall(t *testing.T) {
	dataDir := t.TempDir()
	out, err := runCLI(t, dataDir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "fresh-install")
	assert.Contains(t, out, "Default")
	assert.Contains(t, out, "Meetings:   0")
}

func TestCreateListSwitch(t *testing.T) {
	dataDir := t.TempDir()

	out, err := runCLI(t, dataDir, "create", "Client", "A")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = runCLI(t, dataDir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id+"  Client A")
	assert.Contains(t, out, "* ")

	out, err = runCLI(t, dataDir, "switch", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Switched to Client A")

	out, err = runCLI(t, dataDir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "resumed")
	assert.Contains(t, out, "Client A ("+id+")")
}

func TestSwitchUnknownWorkspace(t *testing.T) {
	dataDir := t.TempDir()
	_, err := runCLI(t, dataDir, "switch", "not-a-uuid")
	require.Error(t, err)

	// The previously active workspace is restored for the next start.
	out, err := runCLI(t, dataDir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Default")
}

func TestRebuildCommand(t *testing.T) {
	dataDir := t.TempDir()
	_, err := runCLI(t, dataDir, "create", "Alpha")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "workspaces", "workspaces.json"), []byte("broken"), 0644))

	out, err := runCLI(t, dataDir, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "Default")

	raw, err := os.ReadFile(filepath.Join(dataDir, "workspaces", "workspaces.json"))
	require.NoError(t, err)
	assert.Equal(t, "broken", string(raw))

	out, err = runCLI(t, dataDir, "rebuild", "--write")
	require.NoError(t, err)
	assert.Contains(t, out, "Registry written")

	raw, err = os.ReadFile(filepath.Join(dataDir, "workspaces", "workspaces.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Alpha")
}

func TestDetectLegacyImport(t *testing.T) {
	dataDir := t.TempDir()
	checkout := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(checkout, "backend"), 0755))
	legacy := filepath.Join(checkout, "backend", migration.ExternalDBFileName)
	require.NoError(t, os.WriteFile(legacy, []byte("SQLite format 3\x00"), 0644))

	out, err := runCLI(t, dataDir, "detect-legacy", checkout, "--import")
	require.NoError(t, err)
	assert.Contains(t, out, legacy)
	assert.Contains(t, out, "Imported to")
	assert.FileExists(t, migration.LegacyDBPath(dataDir))

	out, err = runCLI(t, dataDir, "detect-legacy", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No legacy database found")
}
