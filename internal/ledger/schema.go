package ledger

// TableName is the ledger table recording migration outcomes.
const TableName = "schema_migrations"

// createSchemaSQL is the DDL for the ledger table. applied_at and
// rolled_back_at stay NULL until the corresponding transition happens.
const createSchemaSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version           TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    filename          TEXT NOT NULL,
    checksum_up       TEXT NOT NULL,
    checksum_down     TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    applied_at        TIMESTAMPTZ,
    rolled_back_at    TIMESTAMPTZ,
    execution_time_ms INTEGER NOT NULL DEFAULT 0,
    metadata          JSONB NOT NULL DEFAULT '{}'::jsonb
)`
