package circuit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldState     = "state"
	fieldFailures  = "failures"
	fieldSuccesses = "successes"
	fieldOpenUntil = "open_until"
)

var halfOpenScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'open' then
	redis.call('HSET', KEYS[1], 'state', 'half_open')
end
return 1
`)

// RedisStore keeps one hash per destination so counters can be shared by every
// worker process. Keys expire after ttl of inactivity.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "hookrelay:circuit:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(dest string) string {
	return s.prefix + dest
}

func (s *RedisStore) Load(ctx context.Context, dest string) (Snapshot, error) {
	vals, err := s.client.HGetAll(ctx, s.key(dest)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{State: Closed}
	if st, ok := vals[fieldState]; ok && st != "" {
		snap.State = State(st)
	}
	snap.Failures, _ = strconv.Atoi(vals[fieldFailures])
	snap.Successes, _ = strconv.Atoi(vals[fieldSuccesses])
	if ms, err := strconv.ParseInt(vals[fieldOpenUntil], 10, 64); err == nil && ms > 0 {
		snap.OpenUntil = time.UnixMilli(ms)
	}
	return snap, nil
}

func (s *RedisStore) incr(ctx context.Context, dest, field string) (int, error) {
	key := s.key(dest)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, key, field, 1)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) IncrFailures(ctx context.Context, dest string) (int, error) {
	return s.incr(ctx, dest, fieldFailures)
}

func (s *RedisStore) IncrSuccesses(ctx context.Context, dest string) (int, error) {
	return s.incr(ctx, dest, fieldSuccesses)
}

func (s *RedisStore) set(ctx context.Context, dest string, values ...any) error {
	key := s.key(dest)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, values...)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) ResetFailures(ctx context.Context, dest string) error {
	return s.set(ctx, dest, fieldFailures, 0)
}

func (s *RedisStore) Open(ctx context.Context, dest string, until time.Time) error {
	return s.set(ctx, dest,
		fieldState, string(Open),
		fieldOpenUntil, until.UnixMilli(),
		fieldSuccesses, 0,
	)
}

func (s *RedisStore) HalfOpen(ctx context.Context, dest string) error {
	return halfOpenScript.Run(ctx, s.client, []string{s.key(dest)}).Err()
}

func (s *RedisStore) Close(ctx context.Context, dest string) error {
	return s.set(ctx, dest,
		fieldState, string(Closed),
		fieldFailures, 0,
		fieldSuccesses, 0,
		fieldOpenUntil, 0,
	)
}

func (s *RedisStore) Delete(ctx context.Context, dest string) error {
	return s.client.Del(ctx, s.key(dest)).Err()
}
