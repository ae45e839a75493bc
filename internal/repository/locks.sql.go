package repository

import (
	"context"
)

const acquireXactLock = `-- name: AcquireXactLock :exec
SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// AcquireXactLock blocks until the advisory lock for key is free. The lock
// is released when the surrounding transaction ends.
func (q *Queries) AcquireXactLock(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, acquireXactLock, key)
	return err
}
