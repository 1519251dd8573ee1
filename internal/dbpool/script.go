package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Execer is the subset of *sql.DB, *sql.Conn and *sql.Tx that ExecScript needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SplitStatements splits a schema script on ';' and drops chunks that are
// empty or contain only "--" comment lines. Scripts must not contain
// semicolons inside string literals or trigger bodies.
func SplitStatements(script string) []string {
	var statements []string
	for _, chunk := range strings.Split(script, ";") {
		trimmed := strings.TrimSpace(chunk)
		if trimmed == "" {
			continue
		}

		hasSQL := false
		for _, line := range strings.Split(trimmed, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				hasSQL = true
				break
			}
		}
		if hasSQL {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

// ExecScript runs every statement of script in order and stops at the first
// failure. label names the script in the returned error.
func ExecScript(ctx context.Context, db Execer, script, label string) error {
	for i, statement := range SplitStatements(script) {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to run %s schema statement %d: %w", label, i+1, err)
		}
	}
	return nil
}
