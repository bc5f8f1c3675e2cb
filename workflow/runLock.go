package workflow

import (
	"context"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"github.com/bsm/redislock"
)

const syncRunLockKey = "hub:sync-run-lock"

// AcquireSyncRunLock takes the distributed sync-run lock so two runners never
// hit the remote rate budget at once. Without redis the lock degrades to a
// no-op; in that deployment a single scheduler owns the sync surface.
//
// The returned release function is always safe to call.
func AcquireSyncRunLock(ctx context.Context, ttl time.Duration) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}

	lock, err := locker.Obtain(ctx, syncRunLockKey, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(2*time.Second), 5),
	})
	if err != nil {
		return func() {}, err
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}
