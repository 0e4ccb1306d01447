// Package lock provides the per-(lead, stage) mutual exclusion used around
// the read-decide-write section of a reconcile run.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_backend/internal/cadence/ports"
	"crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another run holds the lock past the wait budget.
var ErrNotAcquired = errors.New("stage lock held by another reconcile run")

const (
	defaultRetryInterval = 50 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StageKey builds the lock key for one lead's stage.
func StageKey(tenantID, leadID, stageID uuid.UUID) string {
	return fmt.Sprintf("cadence:lock:%s:%s:%s", tenantID, leadID, stageID)
}

// RedisLocker is a token-based SET NX lock with expiry.
type RedisLocker struct {
	rdb           redis.UniversalClient
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
	log           *logger.Logger
}

// NewRedisLocker holds locks for at most ttl and waits up to wait to acquire one.
func NewRedisLocker(rdb redis.UniversalClient, ttl, wait time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:           rdb,
		ttl:           ttl,
		wait:          wait,
		retryInterval: defaultRetryInterval,
		log:           log,
	}
}

// Lock blocks until the key is acquired, the wait budget is spent or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire stage lock: %w", err)
		}
		if ok {
			return func() { l.release(ctx, key, token) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, key, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err(); err != nil && l.log != nil {
		l.log.Warn("failed to release stage lock", "key", key, "error", err)
	}
}

// NoopLocker never blocks. Use it when a single process owns reconciliation
// and the database unique index is the only guard needed.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

var (
	_ ports.StageLocker = (*RedisLocker)(nil)
	_ ports.StageLocker = NoopLocker{}
)
