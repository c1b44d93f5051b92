//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardvault/migrate/internal/database"
	"github.com/boardvault/migrate/internal/executor"
	"github.com/boardvault/migrate/internal/ledger"
	"github.com/boardvault/migrate/internal/migration"
)

func makeMigrations() []migration.Migration {
	return []migration.Migration{
		makeMigration("20260101_001", "create_vaults",
			"CREATE TABLE vaults (id SERIAL PRIMARY KEY, name TEXT NOT NULL);",
			"DROP TABLE vaults;"),
		makeMigration("20260102_001", "create_documents",
			"CREATE TABLE documents (id SERIAL PRIMARY KEY, vault_id INTEGER REFERENCES vaults(id), title TEXT);",
			"DROP TABLE documents;"),
		makeMigration("20260103_001", "add_vault_owner",
			"ALTER TABLE vaults ADD COLUMN owner TEXT;",
			"ALTER TABLE vaults DROP COLUMN owner;"),
	}
}

func TestApply_pendingMigrations_allRecorded(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)
	migrations := makeMigrations()

	var events []executor.ProgressEvent
	exec := executor.New(pool, led,
		executor.WithProgressCallback(func(e executor.ProgressEvent) {
			events = append(events, e)
		}),
	)

	err := exec.Apply(ctx, migrations)
	require.NoError(t, err)

	applied, err := led.GetApplied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 3)

	assert.Equal(t, "20260101_001", applied[0].Version)
	assert.Equal(t, "20260102_001", applied[1].Version)
	assert.Equal(t, "20260103_001", applied[2].Version)

	for _, rec := range applied {
		assert.Equal(t, ledger.StatusApplied, rec.Status)
		assert.NotNil(t, rec.AppliedAt)
		assert.GreaterOrEqual(t, rec.ExecutionTimeMs, int64(0))
		assert.NotEmpty(t, rec.ChecksumUp)
	}

	// 3 starting + 3 completed = 6.
	require.Len(t, events, 6)

	for i := 0; i < 3; i++ {
		assert.Equal(t, executor.StatusStarting, events[i*2].Status)
		assert.Equal(t, executor.StatusCompleted, events[i*2+1].Status)
	}
}

func TestApply_alreadyApplied_skipped(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)
	migrations := makeMigrations()

	require.NoError(t, executor.New(pool, led).Apply(ctx, migrations))

	var events []executor.ProgressEvent
	exec := executor.New(pool, led,
		executor.WithProgressCallback(func(e executor.ProgressEvent) {
			events = append(events, e)
		}),
	)

	require.NoError(t, exec.Apply(ctx, migrations))
	require.Len(t, events, 3)

	for _, e := range events {
		assert.Equal(t, executor.StatusSkipped, e.Status)
	}
}

func TestApply_editedAppliedFile_returnsChecksumMismatch(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	migrations := makeMigrations()[:1]
	require.NoError(t, executor.New(pool, led).Apply(ctx, migrations))

	tampered := makeMigration("20260101_001", "create_vaults",
		"CREATE TABLE vaults (id SERIAL PRIMARY KEY);",
		"DROP TABLE vaults;")

	err := executor.New(pool, led).Apply(ctx, []migration.Migration{tampered})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrChecksumMismatch)
}

func TestApply_dryRun_leavesLedgerEmpty(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	var events []executor.ProgressEvent
	exec := executor.New(pool, led,
		executor.WithDryRun(true),
		executor.WithProgressCallback(func(e executor.ProgressEvent) {
			events = append(events, e)
		}),
	)

	require.NoError(t, exec.Apply(ctx, makeMigrations()))
	require.Len(t, events, 3)

	for _, e := range events {
		assert.Equal(t, executor.StatusDryRun, e.Status)
		assert.NotEmpty(t, e.SQL)
	}

	applied, err := led.GetApplied(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	// The schema itself is untouched.
	var exists bool
	err = pool.QueryRow(ctx,
		"SELECT to_regclass('vaults') IS NOT NULL",
	).Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestApply_failingMigration_marksFailedAndStops(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	migrations := []migration.Migration{
		makeMigration("20260101_001", "create_vaults",
			"CREATE TABLE vaults (id SERIAL PRIMARY KEY);",
			"DROP TABLE vaults;"),
		makeMigration("20260102_001", "bad_reference",
			"CREATE TABLE bad (id SERIAL, fk INTEGER REFERENCES nonexistent(id));",
			""),
		makeMigration("20260103_001", "never_reached",
			"CREATE TABLE unreached (id SERIAL);",
			""),
	}

	err := executor.New(pool, led).Apply(ctx, migrations)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executing migration 20260102_001")

	// First applied, second failed, third never claimed.
	rec, err := led.Get(ctx, "20260101_001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApplied, rec.Status)

	rec, err = led.Get(ctx, "20260102_001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, rec.Status)
	assert.Contains(t, rec.Metadata, "error")

	_, err = led.Get(ctx, "20260103_001")
	require.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestApply_continueOnError_appliesRemaining(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	migrations := []migration.Migration{
		makeMigration("20260101_001", "bad_reference",
			"CREATE TABLE bad (id SERIAL, fk INTEGER REFERENCES nonexistent(id));",
			""),
		makeMigration("20260102_001", "create_vaults",
			"CREATE TABLE vaults (id SERIAL PRIMARY KEY);",
			"DROP TABLE vaults;"),
	}

	err := executor.New(pool, led,
		executor.WithContinueOnError(true),
	).Apply(ctx, migrations)
	require.Error(t, err)

	rec, err := led.Get(ctx, "20260102_001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApplied, rec.Status)
}

func TestApply_failedTransaction_rolledBackAtomically(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	// The first statement succeeds, the second fails, so the whole body
	// must roll back and leave no trace of the first table.
	body := "CREATE TABLE half_done (id SERIAL PRIMARY KEY);\n" +
		"CREATE TABLE broken (id SERIAL, fk INTEGER REFERENCES nonexistent(id));"

	err := executor.New(pool, led).Apply(ctx, []migration.Migration{
		makeMigration("20260101_001", "half_done", body, ""),
	})
	require.Error(t, err)

	var exists bool
	err = pool.QueryRow(ctx, "SELECT to_regclass('half_done') IS NOT NULL").Scan(&exists)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestApply_concurrentIndex_executesOutsideTransaction(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	migrations := []migration.Migration{
		makeMigration("20260101_001", "create_items",
			"CREATE TABLE items (id SERIAL PRIMARY KEY, name TEXT);",
			"DROP TABLE items;"),
		makeMigration("20260102_001", "add_items_index",
			"CREATE INDEX CONCURRENTLY idx_items_name ON items (name);",
			"DROP INDEX idx_items_name;"),
	}

	err := executor.New(pool, led).Apply(ctx, migrations)
	require.NoError(t, err)

	applied, err := led.GetApplied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)

	var indexExists bool
	err = pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_indexes WHERE indexname = 'idx_items_name')",
	).Scan(&indexExists)
	require.NoError(t, err)
	assert.True(t, indexExists)
}

func TestRollback_lastApplied_revertsSchemaAndLedger(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)
	migrations := makeMigrations()

	require.NoError(t, executor.New(pool, led).Apply(ctx, migrations))

	// Roll back the most recent migration only.
	err := executor.New(pool, led).Rollback(ctx, []migration.Migration{migrations[2]})
	require.NoError(t, err)

	rec, err := led.Get(ctx, "20260103_001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRolledBack, rec.Status)
	assert.NotNil(t, rec.RolledBackAt)

	// The column the migration added is gone again.
	var hasOwner bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.columns
		 WHERE table_name = 'vaults' AND column_name = 'owner')`,
	).Scan(&hasOwner)
	require.NoError(t, err)
	assert.False(t, hasOwner)

	// Earlier migrations are untouched.
	applied, err := led.GetApplied(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
}

func TestRollback_thenReapply_succeeds(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	m := makeMigration("20260101_001", "create_vaults",
		"CREATE TABLE vaults (id SERIAL PRIMARY KEY);",
		"DROP TABLE vaults;")

	exec := executor.New(pool, led)

	require.NoError(t, exec.Apply(ctx, []migration.Migration{m}))
	require.NoError(t, exec.Rollback(ctx, []migration.Migration{m}))
	require.NoError(t, exec.Apply(ctx, []migration.Migration{m}))

	rec, err := led.Get(ctx, m.Version)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApplied, rec.Status)
}

func TestRollback_noDownSection_failsWithoutLedgerChange(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	m := makeMigration("20260101_001", "irreversible",
		"CREATE TABLE irreversible (id SERIAL);",
		"")

	exec := executor.New(pool, led)
	require.NoError(t, exec.Apply(ctx, []migration.Migration{m}))

	err := exec.Rollback(ctx, []migration.Migration{m})
	require.ErrorIs(t, err, executor.ErrNoRollback)

	rec, err := led.Get(ctx, m.Version)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApplied, rec.Status)
}

func TestRollback_notApplied_returnsError(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	m := makeMigration("20260101_001", "never_applied",
		"CREATE TABLE never_applied (id SERIAL);",
		"DROP TABLE never_applied;")

	err := executor.New(pool, led).Rollback(ctx, []migration.Migration{m})
	require.ErrorIs(t, err, executor.ErrNotApplied)
}

func TestRollback_failingDownBody_leavesStatusApplied(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	led := ledger.New(pool)

	m := makeMigration("20260101_001", "bad_down",
		"CREATE TABLE bad_down (id SERIAL);",
		"DROP TABLE does_not_exist;")

	exec := executor.New(pool, led)
	require.NoError(t, exec.Apply(ctx, []migration.Migration{m}))

	err := exec.Rollback(ctx, []migration.Migration{m})
	require.Error(t, err)

	rec, err := led.Get(ctx, m.Version)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApplied, rec.Status)
}

func TestApply_lockHeldElsewhere_failsFast(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	lock, err := database.TryAcquireLock(ctx, pool)
	require.NoError(t, err)
	defer lock.Release(ctx) //nolint:errcheck // test cleanup

	err = executor.New(pool, ledger.New(pool)).Apply(ctx, makeMigrations())
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrLockNotAcquired)
}

func TestApply_concurrentRuns_exactlyOnceApplied(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			exec := executor.New(pool, ledger.New(pool))
			errs[idx] = exec.Apply(ctx, makeMigrations())
		}(i)
	}

	wg.Wait()

	// At least one run wins; the loser fails on the advisory lock.
	successes := 0

	for _, err := range errs {
		if err == nil {
			successes++
		}
	}

	assert.GreaterOrEqual(t, successes, 1)

	applied, err := ledger.New(pool).GetApplied(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 3)
}
