package database

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// lockKey names the advisory lock guarding migration runs. Hashing a name
// rather than hardcoding a number keeps the lock ID stable across releases
// while making collisions with unrelated tooling unlikely.
const lockKey = "boardvault:schema_migrations"

// LockID returns the int64 advisory lock identifier derived from lockKey.
func LockID() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(lockKey))

	return int64(h.Sum64()) //nolint:gosec // deliberate wraparound into the signed lock space
}

// LockHandle wraps a dedicated pooled connection holding a session-level
// advisory lock. Call Release to unlock and return the connection.
type LockHandle struct {
	conn *pgxpool.Conn
	id   int64
}

// TryAcquireLock attempts to take the session-level migration lock.
// Returns ErrLockNotAcquired if another process already holds it, so a
// second concurrent `up` or `down` fails fast instead of double-applying.
func TryAcquireLock(ctx context.Context, pool *pgxpool.Pool) (*LockHandle, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}

	id := LockID()

	var acquired bool

	err = conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired)
	if err != nil {
		conn.Release()

		return nil, fmt.Errorf("executing pg_try_advisory_lock: %w", err)
	}

	if !acquired {
		conn.Release()

		return nil, ErrLockNotAcquired
	}

	return &LockHandle{conn: conn, id: id}, nil
}

// Release unlocks the advisory lock and returns the connection to the pool.
// Safe to call multiple times; subsequent calls are no-ops.
func (h *LockHandle) Release(ctx context.Context) error {
	if h == nil || h.conn == nil {
		return nil
	}

	_, err := h.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", h.id)
	h.conn.Release()
	h.conn = nil

	if err != nil {
		return fmt.Errorf("releasing advisory lock: %w", err)
	}

	return nil
}
