// Package schema embeds the SQL scripts that create the global and
// per-workspace databases.
package schema

import (
	"context"
	_ "embed"

	"github.com/codefionn/meetvault/internal/dbpool"
)

var (
	//go:embed sql/global.sql
	Global string

	//go:embed sql/workspace.sql
	Workspace string
)

// ApplyGlobal runs the global schema script against db.
func ApplyGlobal(ctx context.Context, db dbpool.Execer) error {
	return dbpool.ExecScript(ctx, db, Global, "global")
}

// ApplyWorkspace runs the per-workspace schema script against db.
func ApplyWorkspace(ctx context.Context, db dbpool.Execer) error {
	return dbpool.ExecScript(ctx, db, Workspace, "workspace")
}
