package safety

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

func checkDrop(version string, drop *pg_query.DropStmt) []Finding {
	if drop == nil || drop.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
		return nil
	}

	return []Finding{{
		Version:    version,
		Rule:       "drop-table",
		Severity:   Danger,
		Table:      strings.Join(dropTableNames(drop), ", "),
		Message:    "DROP TABLE permanently deletes all rows and cannot be rolled back by this tool",
		Suggestion: "Confirm a backup exists and no application code still reads this table",
	}}
}

func checkTruncate(version string, trunc *pg_query.TruncateStmt) []Finding {
	if trunc == nil {
		return nil
	}

	var tables []string

	for _, rel := range trunc.Relations {
		rv, ok := rel.Node.(*pg_query.Node_RangeVar)
		if !ok {
			continue
		}

		tables = append(tables, tableName(rv.RangeVar))
	}

	return []Finding{{
		Version:    version,
		Rule:       "truncate-table",
		Severity:   Danger,
		Table:      strings.Join(tables, ", "),
		Message:    "TRUNCATE removes all data while holding an ACCESS EXCLUSIVE lock",
		Suggestion: "Confirm a backup exists before truncating production tables",
	}}
}

func checkIndex(version string, idx *pg_query.IndexStmt) []Finding {
	if idx == nil || idx.Concurrent {
		return nil
	}

	return []Finding{{
		Version:    version,
		Rule:       "create-index-not-concurrent",
		Severity:   Warning,
		Table:      tableName(idx.Relation),
		Message:    "CREATE INDEX without CONCURRENTLY blocks writes for the duration of the build",
		Suggestion: "Use CREATE INDEX CONCURRENTLY on tables that receive writes",
	}}
}

func checkAlterTable(version string, alt *pg_query.AlterTableStmt) []Finding {
	if alt == nil {
		return nil
	}

	var findings []Finding

	for _, cmdNode := range alt.Cmds {
		cmd, ok := cmdNode.Node.(*pg_query.Node_AlterTableCmd)
		if !ok {
			continue
		}

		switch cmd.AlterTableCmd.Subtype {
		case pg_query.AlterTableType_AT_AlterColumnType:
			findings = append(findings, Finding{
				Version:    version,
				Rule:       "alter-column-type",
				Severity:   Danger,
				Table:      tableName(alt.Relation),
				Message:    "ALTER COLUMN TYPE rewrites the whole table under an ACCESS EXCLUSIVE lock",
				Suggestion: "Add a new column, backfill, swap reads, then drop the old column",
			})
		case pg_query.AlterTableType_AT_SetNotNull:
			findings = append(findings, Finding{
				Version:    version,
				Rule:       "set-not-null",
				Severity:   Warning,
				Table:      tableName(alt.Relation),
				Message:    "SET NOT NULL scans the whole table while holding an exclusive lock",
				Suggestion: "Add a CHECK (col IS NOT NULL) NOT VALID constraint first, validate it, then set NOT NULL",
			})
		default:
		}
	}

	return findings
}

// tableName renders a possibly schema-qualified table name from a RangeVar.
func tableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "<unknown>"
	}

	if rv.Schemaname != "" {
		return rv.Schemaname + "." + rv.Relname
	}

	return rv.Relname
}

func dropTableNames(drop *pg_query.DropStmt) []string {
	var tables []string

	for _, obj := range drop.Objects {
		listNode, ok := obj.Node.(*pg_query.Node_List)
		if !ok {
			continue
		}

		var parts []string

		for _, item := range listNode.List.Items {
			if s, ok := item.Node.(*pg_query.Node_String_); ok {
				parts = append(parts, s.String_.Sval)
			}
		}

		if len(parts) > 0 {
			tables = append(tables, strings.Join(parts, "."))
		}
	}

	return tables
}
