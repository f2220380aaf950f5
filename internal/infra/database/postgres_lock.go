package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/infra/logger"
)

// renewFraction of the TTL passes between lease renewals.
const renewFraction = 3

// PostgresLocker is a lease table shared by every worker on the database.
// A held lease is renewed in the background until it is released or the
// context it was taken with ends; a lease that outlives its TTL after that
// is taken over by the next caller.
type PostgresLocker struct {
	db     *sql.DB
	logger *logrus.Entry
}

func NewPostgresLocker(db *sql.DB, logger *logrus.Entry) *PostgresLocker {
	return &PostgresLocker{db: db, logger: logger}
}

func (l *PostgresLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	owner := ulid.Make().String()
	query := `INSERT INTO dispatch_locks (key, owner, expires_at)
               VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
               ON CONFLICT (key) DO UPDATE
                   SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
                   WHERE dispatch_locks.expires_at < NOW()
               RETURNING owner`

	var got string
	err := l.db.QueryRowContext(ctx, query, key, owner, ttl.Milliseconds()).Scan(&got)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error taking lock %s: %w", key, err)
	}

	if got != owner {
		return nil, false, nil
	}

	hbCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(hbCtx, ttl/renewFraction, func(ctx context.Context) (bool, error) {
			return l.renew(ctx, key, owner, ttl)
		}, logger.ForLock(l.logger, key))
	}()

	unlock := func(ctx context.Context) error {
		stop()
		<-done
		if _, err := l.db.ExecContext(ctx, `DELETE FROM dispatch_locks WHERE key = $1 AND owner = $2`, key, owner); err != nil {
			return fmt.Errorf("error releasing lock %s: %w", key, err)
		}
		return nil
	}
	return unlock, true, nil
}

// renew pushes the lease expiry out by ttl. False when owner no longer holds key.
func (l *PostgresLocker) renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	res, err := l.db.ExecContext(ctx, `UPDATE dispatch_locks
               SET expires_at = NOW() + $3 * INTERVAL '1 millisecond'
               WHERE key = $1 AND owner = $2`, key, owner, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("error renewing lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error renewing lock %s: %w", key, err)
	}
	return n == 1, nil
}

// keepAlive calls renew every interval until ctx ends or the lease is lost.
// A failed renewal is retried on the next tick.
func keepAlive(ctx context.Context, every time.Duration, renew func(context.Context) (bool, error), log *logrus.Entry) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := renew(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.WithError(err).Warn("Failed to renew lock lease")
				continue
			}
			if !held {
				log.Error("Lock lease lost to another worker")
				return
			}
		}
	}
}
