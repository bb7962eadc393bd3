package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the differences between the Postgres and SQLite
// backends. Queries are written with ? placeholders and rebound per dialect.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(value string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(value))) {
	case Postgres, "pgx", "postgresql":
		return Postgres, nil
	case SQLite, "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", value)
	}
}

func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) viewOptions() *sql.TxOptions {
	if d == Postgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return &sql.TxOptions{ReadOnly: true}
}

// lock takes a transaction-scoped lock. Postgres uses advisory locks so
// that every API process sharing the database serializes on the same keys;
// SQLite already admits a single writer and needs nothing more.
func (d Dialect) lock(ctx context.Context, q dbtx, key string, shared bool) error {
	if d != Postgres {
		return nil
	}
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if shared {
		query = `SELECT pg_advisory_xact_lock_shared(hashtextextended($1, 0))`
	}
	if _, err := q.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

func sqlitePath(databaseURL string) (string, bool) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return strings.TrimPrefix(databaseURL, "sqlite://"), true
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		return strings.TrimPrefix(databaseURL, "sqlite3://"), true
	case strings.HasPrefix(databaseURL, "file:"):
		return databaseURL, true
	default:
		return "", false
	}
}

// inClause renders "(?, ?, ?)" for n values.
func inClause(n int) string {
	if n <= 0 {
		return "(NULL)"
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}
