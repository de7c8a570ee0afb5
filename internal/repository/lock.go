package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// runLockKey identifies the pipeline's session advisory lock.
const runLockKey int64 = 0x5354_4b50_4950_45

var ErrRunInProgress = errors.New("another pipeline run holds the lock")

// RunLock is a held session advisory lock. It pins one pool connection.
type RunLock struct {
	conn *pgxpool.Conn
}

// AcquireRunLock takes the run lock without waiting. It returns
// ErrRunInProgress when another session holds it.
func AcquireRunLock(ctx context.Context, pool *pgxpool.Pool) (*RunLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrRunInProgress
	}
	return &RunLock{conn: conn}, nil
}

// Release unlocks and returns the connection to the pool.
func (l *RunLock) Release(ctx context.Context) error {
	defer l.conn.Release()
	var ok bool
	if err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, runLockKey).Scan(&ok); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	if !ok {
		return errors.New("advisory unlock: lock was not held")
	}
	return nil
}
