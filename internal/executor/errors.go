package executor

import "errors"

// ErrNoRollback indicates a migration has no DOWN section and cannot be rolled back.
var ErrNoRollback = errors.New("no rollback content")

// ErrNotApplied indicates a rollback was requested for a version that is not applied.
var ErrNotApplied = errors.New("migration is not in applied state")
