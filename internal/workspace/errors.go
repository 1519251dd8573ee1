package workspace

import "errors"

var (
	// ErrNoActiveWorkspace is returned by ActivePool when no workspace is
	// selected, including the short window inside SwitchWorkspace.
	ErrNoActiveWorkspace = errors.New("no active workspace, select or create a workspace")

	// ErrWorkspaceNotFound means the workspace directory does not exist.
	ErrWorkspaceNotFound = errors.New("workspace directory does not exist")

	// ErrManifestMissing means the workspace directory has no manifest.json.
	ErrManifestMissing = errors.New("workspace missing manifest.json")

	// ErrInvalidWorkspaceID means the id is not a UUID.
	ErrInvalidWorkspaceID = errors.New("invalid workspace id")

	// ErrWorkspaceActive means the operation needs a workspace that is not
	// currently open.
	ErrWorkspaceActive = errors.New("workspace is active")
)
