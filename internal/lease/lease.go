// Package lease lets several drip instances agree on which one runs a
// periodic task tick.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease grants exclusive, expiring ownership of a named task.
type Lease interface {
	// Acquire takes or renews the lease on name for ttl. It reports false
	// when another owner holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release gives the lease up if this owner holds it.
	Release(ctx context.Context, name string) error
}

// Noop is a Lease that is always granted; single-instance deployments use it.
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (Noop) Release(context.Context, string) error                        { return nil }

// Renew the lease when we already own it, otherwise take it only if free.
var acquireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// DefaultKeyPrefix namespaces lease keys.
const DefaultKeyPrefix = "drip:lease:"

// RedisLease implements Lease with a single Redis key per task holding the
// owner's token.
type RedisLease struct {
	client redis.UniversalClient
	owner  string
	prefix string
}

// NewRedisLease creates a lease client. An empty owner gets a random token.
func NewRedisLease(client redis.UniversalClient, owner string) *RedisLease {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &RedisLease{client: client, owner: owner, prefix: DefaultKeyPrefix}
}

// Owner returns the token this instance holds leases with.
func (l *RedisLease) Owner() string {
	return l.owner
}

func (l *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lease %s: ttl must be positive", name)
	}
	n, err := acquireScript.Run(ctx, l.client, []string{l.prefix + name}, l.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, name string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

var (
	_ Lease = Noop{}
	_ Lease = (*RedisLease)(nil)
)
