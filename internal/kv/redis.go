package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore runs on Redis. Atomic batches are MULTI/EXEC pipelines and
// Update uses WATCH for optimistic concurrency. Expiry is native.
type RedisStore struct {
	redisReader
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{
		redisReader: redisReader{c: client, timeout: opts.Timeout},
		client:      client,
	}
}

// OpenRedis connects to the server at url ("redis://host:6379/0") and checks
// it answers.
func OpenRedis(url string, opts Options) (*RedisStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Timeout > 0 {
		o.DialTimeout = opts.Timeout
		o.ReadTimeout = opts.Timeout
		o.WriteTimeout = opts.Timeout
	}
	client := redis.NewClient(o)

	ctx, cancel := bound(context.Background(), opts.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrUnavailable, err)
	}
	return NewRedis(client, opts), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Backend returns "Redis".
func (s *RedisStore) Backend() string {
	return "Redis"
}

// SupportsHighConcurrency returns true for Redis.
func (s *RedisStore) SupportsHighConcurrency() bool {
	return true
}

// Atomic sends every queued write inside one MULTI/EXEC.
func (s *RedisStore) Atomic(ctx context.Context, fn func(Pipeline)) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		fn(&redisPipe{ctx: ctx, p: p})
		return nil
	})
	if err != nil {
		return writeErr("exec", err)
	}
	return nil
}

// Update watches the given keys and runs fn. If a watched key changes
// before fn's pipeline executes, the result is ErrConflict.
func (s *RedisStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error, watch ...string) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	called := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		called = true
		return fn(ctx, &redisTx{redisReader: redisReader{c: tx}, tx: tx})
	}, watch...)
	if err != nil && !called {
		return readErr("watch", err)
	}
	return err
}

// redisCmds is the command subset shared by *redis.Client and *redis.Tx.
type redisCmds interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZCount(ctx context.Context, key, min, max string) *redis.IntCmd
	ZScore(ctx context.Context, key, member string) *redis.FloatCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

type redisReader struct {
	c       redisCmds
	timeout time.Duration
}

func (r redisReader) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, readErr("get "+key, err)
	}
	return v, true, nil
}

func (r redisReader) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	m, err := r.c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, readErr("hgetall "+key, err)
	}
	return m, nil
}

func (r redisReader) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := r.c.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, readErr("hgetall", err)
	}
	for i, cmd := range cmds {
		out[i] = cmd.Val()
		if out[i] == nil {
			out[i] = map[string]string{}
		}
	}
	return out, nil
}

func (r redisReader) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	n, err := r.c.ZCard(ctx, key).Result()
	if err != nil {
		return 0, readErr("zcard "+key, err)
	}
	return n, nil
}

func (r redisReader) ZCount(ctx context.Context, key string, rng ScoreRange) (int64, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	min, max := rng.redisBounds()
	n, err := r.c.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, readErr("zcount "+key, err)
	}
	return n, nil
}

func (r redisReader) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	score, err := r.c.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, readErr("zscore "+key, err)
	}
	return score, true, nil
}

func (r redisReader) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if start < 0 {
		start = 0
	}
	if stop >= 0 && stop < start {
		return []string{}, nil
	}
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	ids, err := r.c.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, readErr("zrevrange "+key, err)
	}
	return ids, nil
}

func (r redisReader) ZRangeByScore(ctx context.Context, key string, rng ScoreRange) ([]string, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	min, max := rng.redisBounds()
	ids, err := r.c.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, readErr("zrangebyscore "+key, err)
	}
	return ids, nil
}

func (r redisReader) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	members, err := r.c.SMembers(ctx, key).Result()
	if err != nil {
		return nil, readErr("smembers "+key, err)
	}
	sort.Strings(members)
	return members, nil
}

type redisTx struct {
	redisReader
	tx *redis.Tx
}

func (t *redisTx) Watch(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := t.tx.Watch(ctx, keys...).Err(); err != nil {
		return readErr("watch", err)
	}
	return nil
}

func (t *redisTx) Pipelined(ctx context.Context, fn func(Pipeline)) error {
	_, err := t.tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		fn(&redisPipe{ctx: ctx, p: p})
		return nil
	})
	if err != nil {
		return writeErr("exec", err)
	}
	return nil
}

type redisPipe struct {
	ctx context.Context
	p   redis.Pipeliner
}

func (p *redisPipe) HSet(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	args := make([]any, 0, 2*len(names))
	for _, f := range names {
		args = append(args, f, fields[f])
	}
	p.p.HSet(p.ctx, key, args...)
}

func (p *redisPipe) Set(key, value string) {
	p.p.Set(p.ctx, key, value, 0)
}

func (p *redisPipe) SetEx(key, value string, ttl time.Duration) {
	p.p.Set(p.ctx, key, value, ttl)
}

func (p *redisPipe) Expire(key string, ttl time.Duration) {
	p.p.PExpire(p.ctx, key, ttl)
}

func (p *redisPipe) Del(keys ...string) {
	if len(keys) > 0 {
		p.p.Del(p.ctx, keys...)
	}
}

func (p *redisPipe) ZAdd(key string, members ...Z) {
	if len(members) == 0 {
		return
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	p.p.ZAdd(p.ctx, key, zs...)
}

func (p *redisPipe) ZRem(key string, members ...string) {
	if len(members) > 0 {
		p.p.ZRem(p.ctx, key, toAny(members)...)
	}
}

func (p *redisPipe) ZRemRangeByScore(key string, r ScoreRange) {
	min, max := r.redisBounds()
	p.p.ZRemRangeByScore(p.ctx, key, min, max)
}

func (p *redisPipe) SAdd(key string, members ...string) {
	if len(members) > 0 {
		p.p.SAdd(p.ctx, key, toAny(members)...)
	}
}

func (p *redisPipe) SRem(key string, members ...string) {
	if len(members) > 0 {
		p.p.SRem(p.ctx, key, toAny(members)...)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func readErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func writeErr(op string, err error) error {
	var rerr redis.Error
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	case errors.As(err, &rerr):
		return fmt.Errorf("%w: %s: %w", ErrBatchFailed, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
}
