package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder renders the bind parameter for the 1-based argument index.
type Placeholder func(i int) string

// Dollar renders Postgres-style $n placeholders.
func Dollar(i int) string { return fmt.Sprintf("$%d", i) }

// Question renders SQLite-style ? placeholders.
func Question(int) string { return "?" }

// MergeConfig defines a single-row insert that fills in, but never blanks,
// existing values on conflict.
type MergeConfig struct {
	Table       string   // target table
	Columns     []string // all columns being inserted, in argument order
	ConflictKey string   // unique column
	MergeCols   []string // columns merged with COALESCE(EXCLUDED.col, table.col)
	Overwrite   []string // columns always replaced on conflict (e.g. updated_at)
	Returning   []string // columns returned after the write; nil = none
	Placeholder Placeholder
}

// MergeUpsertSQL builds
//
//	INSERT INTO t (cols) VALUES (...) ON CONFLICT (key) DO UPDATE SET
//	  col = COALESCE(EXCLUDED.col, t.col), ... [RETURNING ...]
//
// Columns outside MergeCols and Overwrite keep their stored value on
// conflict. When both are empty the conflict branch still touches the key so that
// RETURNING yields the existing row.
func MergeUpsertSQL(cfg MergeConfig) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: merge: no columns specified")
	}
	if cfg.ConflictKey == "" {
		return "", eris.New("db: merge: no conflict key specified")
	}
	ph := cfg.Placeholder
	if ph == nil {
		ph = Dollar
	}

	table := sanitizeTable(cfg.Table)
	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = ph(i + 1)
	}

	var setClauses []string
	for _, col := range cfg.MergeCols {
		c := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", c, c, table, c))
	}
	for _, col := range cfg.Overwrite {
		c := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	if len(setClauses) == 0 {
		k := pgx.Identifier{cfg.ConflictKey}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", k, k))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		pgx.Identifier{cfg.ConflictKey}.Sanitize(),
		strings.Join(setClauses, ", "),
	)
	if len(cfg.Returning) > 0 {
		query += " RETURNING " + quoteAndJoin(cfg.Returning)
	}
	return query, nil
}

// sanitizeTable handles schema-qualified table names like "crm.leads".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
