package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared, out-of-process Ledger. A single Lua script performs
// the load / rollover / check / commit sequence, so concurrent callers on
// the same key are linearized by Redis. Multi-instance deployments need
// this backend; the in-process Memory ledger cannot coordinate replicas.
type Redis struct {
	client    redis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var _ Ledger = (*Redis)(nil)

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithRedisKeyPrefix sets the Redis key prefix (default "stockcast:quota:").
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.keyPrefix = prefix }
}

// WithRedisClock overrides the clock, for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

// NewRedis creates a Redis-backed Ledger. The client must be a connected
// *redis.Client or *redis.ClusterClient.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		keyPrefix: "stockcast:quota:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// checkScript runs the whole admission check atomically over one hash.
// KEYS[1] = counter hash for the api key
// ARGV[1] = current minute window id
// ARGV[2] = current day window id
// ARGV[3] = minute limit
// ARGV[4] = day limit
//
// Returns {allowed, minute_remaining, day_remaining}. Window rollover is
// persisted even on rejection; the increments are committed only on
// admission, and always both together.
var checkScript = redis.NewScript(`
local key = KEYS[1]
local minute_window = ARGV[1]
local day_window = ARGV[2]
local minute_limit = tonumber(ARGV[3])
local day_limit = tonumber(ARGV[4])

local minute_count = 0
if redis.call("HGET", key, "minute_window") == minute_window then
    minute_count = tonumber(redis.call("HGET", key, "minute_count") or "0")
end

local day_count = 0
if redis.call("HGET", key, "day_window") == day_window then
    day_count = tonumber(redis.call("HGET", key, "day_count") or "0")
end

if minute_count + 1 > minute_limit or day_count + 1 > day_limit then
    -- Reject: adopt the new windows but leave both counts uncharged.
    redis.call("HSET", key,
        "minute_window", minute_window, "minute_count", tostring(minute_count),
        "day_window", day_window, "day_count", tostring(day_count))
    redis.call("EXPIRE", key, 172800)
    return {0, minute_limit - minute_count, day_limit - day_count}
end

minute_count = minute_count + 1
day_count = day_count + 1
redis.call("HSET", key,
    "minute_window", minute_window, "minute_count", tostring(minute_count),
    "day_window", day_window, "day_count", tostring(day_count))
redis.call("EXPIRE", key, 172800)
return {1, minute_limit - minute_count, day_limit - day_count}
`)

func (r *Redis) counterKey(keyID string) string {
	return r.keyPrefix + keyID
}

func (r *Redis) CheckAndIncrement(ctx context.Context, keyID string, minuteLimit, dayLimit int) (Decision, error) {
	now := r.now()

	res, err := checkScript.Run(ctx, r.client,
		[]string{r.counterKey(keyID)},
		fmt.Sprintf("%d", minuteWindow(now)), dayWindow(now), minuteLimit, dayLimit,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota: redis check: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("quota: unexpected script result length %d", len(res))
	}

	return Decision{
		Allowed:         res[0] == 1,
		MinuteRemaining: clampRemaining(int(res[1])),
		DayRemaining:    clampRemaining(int(res[2])),
	}, nil
}

// clampRemaining guards against limits lowered mid-window leaving a
// negative remainder.
func clampRemaining(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
