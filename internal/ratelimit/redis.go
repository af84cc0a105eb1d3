package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// takeScript prunes, counts and records in one round trip.
// KEYS[1] window key; ARGV: now ms, window ms, limit, member.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = 0
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, count, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisStore keeps windows in sorted sets so several processes share one limit
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore creates a store on top of a go-redis client
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error) {
	res, err := takeScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Count:      int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
