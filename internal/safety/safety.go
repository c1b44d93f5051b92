// Package safety inspects pending migrations with the real PostgreSQL
// parser and flags operations that would take disruptive locks or destroy
// data on a live board-governance database. `up` refuses to run blocking
// findings unless --force is given.
package safety

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/boardvault/migrate/internal/migration"
	"github.com/boardvault/migrate/internal/parser"
)

// Severity grades a finding.
type Severity int

const (
	// Notice is informational only.
	Notice Severity = iota
	// Warning indicates a lock or scan worth scheduling around.
	Warning
	// Danger indicates data loss or a long exclusive lock; blocks `up`.
	Danger
)

// String returns the uppercase label for the severity.
func (s Severity) String() string {
	switch s {
	case Notice:
		return "NOTICE"
	case Warning:
		return "WARNING"
	case Danger:
		return "DANGER"
	default:
		return "UNKNOWN"
	}
}

// Finding is a single flagged operation inside a migration.
type Finding struct {
	Version    string   // migration version the finding belongs to
	Rule       string   // kebab-case rule identifier
	Severity   Severity // how bad it is
	Table      string   // affected table, if determinable
	Message    string   // what was detected
	Suggestion string   // safer alternative
}

// Blocking reports whether this finding should stop an unforced `up`.
func (f Finding) Blocking() bool {
	return f.Severity >= Danger
}

// Check parses each migration's up body and returns all findings, in
// migration order. A parse failure is an error: a migration the Postgres
// parser rejects would fail at execution time anyway.
func Check(migrations []migration.Migration) ([]Finding, error) {
	var findings []Finding

	for i := range migrations {
		m := &migrations[i]

		result, err := parser.Parse(m.UpSQL)
		if err != nil {
			return nil, fmt.Errorf("analyzing migration %s: %w", m.Version, err)
		}

		for _, stmt := range result.Stmts {
			findings = append(findings, checkStatement(m.Version, stmt)...)
		}
	}

	return findings, nil
}

// HasBlocking reports whether any finding blocks an unforced `up`.
func HasBlocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Blocking() {
			return true
		}
	}

	return false
}

// checkStatement dispatches a parsed statement to the built-in checks.
func checkStatement(version string, stmt *pg_query.RawStmt) []Finding {
	switch node := stmt.Stmt.Node.(type) {
	case *pg_query.Node_DropStmt:
		return checkDrop(version, node.DropStmt)
	case *pg_query.Node_TruncateStmt:
		return checkTruncate(version, node.TruncateStmt)
	case *pg_query.Node_IndexStmt:
		return checkIndex(version, node.IndexStmt)
	case *pg_query.Node_AlterTableStmt:
		return checkAlterTable(version, node.AlterTableStmt)
	default:
		return nil
	}
}
