package storage

import (
	"fmt"
	"strings"
)

// Dialect abstracts database-specific SQL syntax differences.
// This allows the same business logic to work across SQLite and PostgreSQL.
type Dialect interface {
	// Name returns the dialect name (e.g., "sqlite", "postgres")
	Name() string

	// Placeholder returns a parameter placeholder for the given 1-based index.
	// SQLite uses ?, PostgreSQL uses $1, $2, etc.
	Placeholder(index int) string

	// TimestampType returns the column type for timestamps.
	// SQLite: "DATETIME"
	// PostgreSQL: "TIMESTAMPTZ" (with timezone)
	TimestampType() string

	// BoolType returns the column type for boolean values.
	// SQLite: "INTEGER" (0/1)
	// PostgreSQL: "BOOLEAN"
	BoolType() string

	// TimeType returns the column type for local times of day.
	// SQLite has no TIME type and stores the "HH:MM:SS" text.
	TimeType() string

	// CurrentTimestamp returns the SQL expression for current timestamp.
	CurrentTimestamp() string
}

// SQLiteDialect implements Dialect for SQLite.
type SQLiteDialect struct{}

var _ Dialect = (*SQLiteDialect)(nil)

func (d *SQLiteDialect) Name() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return "?"
}

func (d *SQLiteDialect) TimestampType() string {
	return "DATETIME"
}

func (d *SQLiteDialect) BoolType() string {
	return "INTEGER"
}

func (d *SQLiteDialect) TimeType() string {
	return "TEXT"
}

func (d *SQLiteDialect) CurrentTimestamp() string {
	return "CURRENT_TIMESTAMP"
}

// PostgresDialect implements Dialect for PostgreSQL.
type PostgresDialect struct{}

var _ Dialect = (*PostgresDialect)(nil)

func (d *PostgresDialect) Name() string { return "postgres" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) TimestampType() string {
	return "TIMESTAMPTZ"
}

func (d *PostgresDialect) BoolType() string {
	return "BOOLEAN"
}

func (d *PostgresDialect) TimeType() string {
	return "TIME"
}

func (d *PostgresDialect) CurrentTimestamp() string {
	return "NOW()"
}

// ConvertPlaceholders converts SQLite-style ? placeholders to PostgreSQL-style $n placeholders.
// This is useful when reusing queries written for SQLite.
func ConvertPlaceholders(query string) string {
	var result strings.Builder
	result.Grow(len(query) + 10)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			result.WriteByte(query[i])
		}
	}
	return result.String()
}
