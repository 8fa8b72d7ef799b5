package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// InsertIgnoreSQL builds a single-row INSERT that silently skips rows
// violating the unique constraint on conflictKeys:
//
//	INSERT INTO "refs" ("kind", "name") VALUES ($1, $2) ON CONFLICT ("kind", "name") DO NOTHING
//
// Concurrent callers inserting the same natural key both succeed; the
// caller looks the row up afterwards.
func InsertIgnoreSQL(table string, columns, conflictKeys []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		sanitizeTable(table),
		quoteAndJoin(columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(conflictKeys),
	)
}

// sanitizeTable handles schema-qualified table names like "public.trials".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
