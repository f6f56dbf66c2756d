package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a token key only while the caller still owns it.
// Without the ownership check, a token that expired and was re-acquired by a
// competing attempt could be released by the stale holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis implements Store against a shared Redis instance. All operations are
// bounded by OpTimeout so no request handler blocks on a slow store.
type Redis struct {
	rdb *redis.Client

	// OpTimeout caps each store round trip. Zero disables the extra bound.
	OpTimeout time.Duration
}

// Options configures the Redis store client.
type Options struct {
	Addr      string
	Password  string
	DB        int
	OpTimeout time.Duration
}

// NewRedis connects a Store to the shared Redis instance. The connection is
// lazy; the first operation surfaces reachability problems as ErrUnavailable.
func NewRedis(opts Options) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		OpTimeout: opts.OpTimeout,
	}
}

// Ping verifies connectivity, for startup and health checks.
func (s *Redis) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Redis) Close() error { return s.rdb.Close() }

func (s *Redis) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.OpTimeout)
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Redis) TryAcquire(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.rdb.SetNX(ctx, key, val, ttl).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

func (s *Redis) Release(ctx context.Context, key, val string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := releaseScript.Run(ctx, s.rdb, []string{key}, val).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return wrapErr(err)
	}
	return nil
}

func (s *Redis) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return wrapErr(s.rdb.Set(ctx, key, val, ttl).Err())
}

func (s *Redis) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	return s.TryAcquire(ctx, key, val, ttl)
}

func (s *Redis) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	v, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", wrapErr(err)
	}
	return v, nil
}

func (s *Redis) GetDel(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	v, err := s.rdb.GetDel(ctx, key).Result()
	if err != nil {
		return "", wrapErr(err)
	}
	return v, nil
}

func (s *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return wrapErr(s.rdb.Del(ctx, keys...).Err())
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

func (s *Redis) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	pipe := s.rdb.TxPipeline()
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	pipe.HSet(ctx, key, args...)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return wrapErr(err)
}

func (s *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *Redis) ZAdd(ctx context.Context, key, member string, score float64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return wrapErr(s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *Redis) ZHead(ctx context.Context, key string, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	members, err := s.rdb.ZRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return members, nil
}

func (s *Redis) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr(s.rdb.ZRem(ctx, key, args...).Err())
}

func (s *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

func (s *Redis) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, member)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return wrapErr(err)
}

func (s *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

func (s *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	if n == 1 {
		// First hit in the window arms the TTL.
		if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return n, wrapErr(err)
		}
	}
	return n, nil
}

func (s *Redis) RPush(ctx context.Context, key, val string, ttl time.Duration, maxLen int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, val)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, -maxLen, -1)
	}
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return wrapErr(err)
}

func (s *Redis) LRange(ctx context.Context, key string, start int64) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	vals, err := s.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return vals, nil
}
