package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

const redisKeyPrefix = "aegis:rl:"

// fixedWindowScript atomically resets an elapsed window and adds cost.
// KEYS[1] = bucket hash key
// ARGV[1] = now (unix millis)
// ARGV[2] = window (millis)
// ARGV[3] = cost; 0 reads without writing
// ARGV[4] = key TTL (millis)
// Returns: {window_start, count} as strings
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local start = tonumber(redis.call('HGET', key, 'start'))
local count = tonumber(redis.call('HGET', key, 'count'))
if start == nil or count == nil or now - start >= window then
    start = now
    count = 0
end

if cost > 0 then
    count = count + cost
    redis.call('HSET', key, 'start', tostring(start), 'count', tostring(count))
    redis.call('PEXPIRE', key, ttl)
end

return {tostring(start), tostring(count)}
`)

// RedisBackend shares buckets across orchestrator replicas.
type RedisBackend struct {
	rdb     *redis.Client
	idleTTL time.Duration
}

func NewRedisBackend(rdb *redis.Client, idleTTL time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, idleTTL: idleTTL}
}

func (r *RedisBackend) Add(ctx context.Context, key string, cost float64, lim config.ScopeLimit, now time.Time) (Bucket, error) {
	return r.run(ctx, key, cost, lim, now)
}

func (r *RedisBackend) Peek(ctx context.Context, key string, lim config.ScopeLimit, now time.Time) (Bucket, error) {
	return r.run(ctx, key, 0, lim, now)
}

func (r *RedisBackend) run(ctx context.Context, key string, cost float64, lim config.ScopeLimit, now time.Time) (Bucket, error) {
	ttl := lim.Window + r.idleTTL
	res, err := fixedWindowScript.Run(ctx, r.rdb, []string{redisKeyPrefix + key},
		now.UnixMilli(), lim.Window.Milliseconds(), strconv.FormatFloat(cost, 'f', -1, 64), ttl.Milliseconds(),
	).StringSlice()
	if err != nil {
		return Bucket{}, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Bucket{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	startMs, err := strconv.ParseFloat(res[0], 64)
	if err != nil {
		return Bucket{}, fmt.Errorf("parse window start %q: %w", res[0], err)
	}
	count, err := strconv.ParseFloat(res[1], 64)
	if err != nil {
		return Bucket{}, fmt.Errorf("parse count %q: %w", res[1], err)
	}
	return Bucket{
		WindowStart: time.UnixMilli(int64(startMs)),
		Count:       count,
		LastSeen:    now,
	}, nil
}
