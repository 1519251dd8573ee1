package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type columnKind int

const (
	// textColumn is NOT NULL text; unreadable values become fallback.
	textColumn columnKind = iota
	// nullableTextColumn is optional text; unreadable values become NULL.
	nullableTextColumn
	// intColumn is integer; unreadable values become fallback.
	intColumn
)

type column struct {
	name     string
	kind     columnKind
	fallback any
}

func text(name string) column         { return column{name: name, kind: textColumn, fallback: ""} }
func nullableText(name string) column { return column{name: name, kind: nullableTextColumn} }
func integer(name string, fallback int64) column {
	return column{name: name, kind: intColumn, fallback: fallback}
}

type tableSpec struct {
	name     string
	optional bool
	columns  []column
}

// globalTables are copied from the legacy database into global.sqlite.
// Columns missing from an older legacy schema take their fallback value.
var globalTables = []tableSpec{
	{
		name: "settings",
		columns: []column{
			text("id"),
			text("provider"),
			text("model"),
			text("whisperModel"),
			nullableText("groqApiKey"),
			nullableText("openaiApiKey"),
			nullableText("anthropicApiKey"),
			nullableText("ollamaApiKey"),
			nullableText("openRouterApiKey"),
			nullableText("ollamaEndpoint"),
			nullableText("customOpenAIConfig"),
			nullableText("geminiApiKey"),
		},
	},
	{
		name: "transcript_settings",
		columns: []column{
			text("id"),
			text("provider"),
			text("model"),
			nullableText("whisperApiKey"),
			nullableText("deepgramApiKey"),
			nullableText("elevenLabsApiKey"),
			nullableText("groqApiKey"),
			nullableText("openaiApiKey"),
		},
	},
	{
		name:     "licensing",
		optional: true,
		columns: []column{
			text("license_key"),
			text("encrypted_key"),
			text("signature_hash"),
			text("activation_date"),
			text("expiry_date"),
			text("soft_expiry_date"),
			text("max_activation_time"),
			integer("duration", 0),
			text("generated_on"),
			integer("is_soft_expired", 0),
			integer("grace_period", 604800),
		},
	},
}

func (t tableSpec) insertSQL() string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", t.name, strings.Join(names, ", "), placeholders)
}

// convert maps a raw value read from the legacy row to what the global
// schema accepts.
func (c column) convert(raw any, present bool) any {
	switch c.kind {
	case textColumn, nullableTextColumn:
		if present {
			if s, ok := asText(raw); ok {
				return s
			}
		}
		if c.kind == nullableTextColumn {
			return nil
		}
		return c.fallback
	default:
		if present {
			if n, ok := asInt(raw); ok {
				return n
			}
		}
		return c.fallback
	}
}

func asText(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case time.Time:
		return v.Format("2006-01-02 15:04:05.999999999-07:00"), true
	default:
		return "", false
	}
}

func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func hasTable(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	return n > 0, err
}

// readRows returns every row of table as column name to value maps.
func readRows(ctx context.Context, db *sql.DB, table string) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s columns: %w", table, err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to read %s row: %w", table, err)
		}

		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return out, nil
}

// copyTable upserts every legacy row of table into dst in one transaction
// and returns the number of rows written.
func copyTable(ctx context.Context, src, dst *sql.DB, table tableSpec) (int, error) {
	rows, err := readRows(ctx, src, table.name)
	if err != nil {
		return 0, err
	}

	tx, err := dst.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin %s copy: %w", table.name, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, table.insertSQL())
	if err != nil {
		return 0, fmt.Errorf("failed to prepare %s insert: %w", table.name, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(table.columns))
		for i, c := range table.columns {
			raw, present := row[c.name]
			args[i] = c.convert(raw, present)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("failed to insert %s row: %w", table.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s copy: %w", table.name, err)
	}
	return len(rows), nil
}
