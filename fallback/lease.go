package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseCoordinator grants cluster-wide mutual exclusion over fallback
// batch processing, so two Worker instances never lease and re-execute
// the same requestId concurrently (spec §5: "FallbackQueue is the only
// shared-write resource across worker instances requiring lease tokens
// with TTL").
type LeaseCoordinator struct {
	client *redis.Client
}

// NewLeaseCoordinator wraps an already-configured Redis client.
func NewLeaseCoordinator(client *redis.Client) *LeaseCoordinator {
	return &LeaseCoordinator{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Acquire takes a TTL'd lease on requestId, returning an owner token and
// true on success, or an empty token and false if another worker
// already holds it.
func (l *LeaseCoordinator) Acquire(ctx context.Context, requestID string, ttl time.Duration) (string, bool, error) {
	key := leaseKey(requestID)
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("fallback: acquiring lease on %s: %w", requestID, err)
	}
	if !ok {
		return "", false, nil
	}
	return owner, true, nil
}

// Release drops the lease on requestId, but only if owner still holds
// it (a Lua script makes the check-and-delete atomic, guarding against
// releasing a lease some other worker acquired after ours expired).
func (l *LeaseCoordinator) Release(ctx context.Context, requestID, owner string) error {
	key := leaseKey(requestID)
	if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("fallback: releasing lease on %s: %w", requestID, err)
	}
	return nil
}

func leaseKey(requestID string) string {
	return "xronox:fallback:lease:" + requestID
}
