package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes, counts and records atomically. Scores are unix millis.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, count}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1}
`)

// RedisStore keeps windows in sorted sets so several front-ends share one
// budget per identity. Keys expire with their window, so Sweep has nothing
// to do.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

var _ Store = &RedisStore{}

func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "discordbridge:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Admit(ctx context.Context, identity string, now time.Time, window time.Duration, limit int) (bool, int, error) {
	ms := now.UnixMilli()
	member := strconv.FormatInt(ms, 10) + "-" + uuid.NewString()
	res, err := admitScript.Run(ctx, s.client, []string{s.prefix + identity},
		ms, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return false, 0, errors.Wrap(err, "redis rate limit script")
	}
	if len(res) != 2 {
		return false, 0, errors.Errorf("redis rate limit script: unexpected reply %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}

func (s *RedisStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}
