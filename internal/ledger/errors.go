package ledger

import "errors"

// ErrRecordNotFound indicates no ledger row exists for the given migration version.
var ErrRecordNotFound = errors.New("migration not found in schema_migrations")

// ErrChecksumMismatch indicates the recorded checksum differs from the file's.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// ErrTableCreation indicates the schema_migrations table could not be created.
var ErrTableCreation = errors.New("creating schema_migrations table")
