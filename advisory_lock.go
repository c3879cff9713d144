package lib

import (
	"context"
	"database/sql"
	"errors"
	log "github.com/sirupsen/logrus"
	"hash/fnv"
)

var ErrMigrationLocked = errors.New("advisory lock is held by another session")

// MigrationLocker serializes runners. The lock lives on the given connection,
// which must stay checked out until release is called.
type MigrationLocker interface {
	Acquire(ctx context.Context, conn *sql.Conn, key string) (release func(), err error)
}

// PostgresAdvisoryLock takes a session-level advisory lock and fails fast
// with ErrMigrationLocked when another session already holds it.
type PostgresAdvisoryLock struct{}

func (PostgresAdvisoryLock) Acquire(ctx context.Context, conn *sql.Conn, key string) (func(), error) {
	lockID := AdvisoryLockID(key)

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrMigrationLocked
	}

	log.WithField("lock_id", lockID).Debug("Advisory lock acquired")
	release := func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			log.WithField("lock_id", lockID).Warnf("Unable to release the advisory lock: %s", err)
		}
	}

	return release, nil
}

type NoopLock struct{}

func (NoopLock) Acquire(ctx context.Context, _ *sql.Conn, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return func() {}, nil
}

// AdvisoryLockID maps a lock key to the bigint pg_advisory_lock expects, using FNV-1a.
func AdvisoryLockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
