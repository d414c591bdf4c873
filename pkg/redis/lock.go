package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another owner holds the lease.
var ErrLockHeld = errors.New("lock is held by another owner")

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lock is a single-owner lease on a key. It keeps periodic jobs such as retry
// sweeps from running on several replicas at once.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// NewLock creates a lock on key. The lease expires after ttl if never released.
func NewLock(client redis.UniversalClient, key string, ttl time.Duration) *Lock {
	return &Lock{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// TryAcquire takes the lease or returns ErrLockHeld.
func (l *Lock) TryAcquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

// Release drops the lease if this Lock still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %q: %w", l.key, err)
	}
	return nil
}

// Do runs fn while holding the lease. It returns ErrLockHeld without calling fn
// when another owner holds it.
func (l *Lock) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.TryAcquire(ctx); err != nil {
		return err
	}
	defer func() { _ = l.Release(context.WithoutCancel(ctx)) }()
	return fn(ctx)
}

// MarkOnce records key for ttl and reports whether this call was the first.
// Inbound receivers use it to drop replayed webhook IDs.
func MarkOnce(ctx context.Context, client redis.UniversalClient, key string, ttl time.Duration) (bool, error) {
	ok, err := client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark %q: %w", key, err)
	}
	return ok, nil
}

// Unmark removes a key recorded by MarkOnce.
func Unmark(ctx context.Context, client redis.UniversalClient, key string) error {
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("unmark %q: %w", key, err)
	}
	return nil
}
