package budget

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
)

// incrementIfWithinScript performs compare-and-increment in one round trip.
// Returns {allowed, count}.
var incrementIfWithinScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if cur + delta > limit then
  return {0, cur}
end
local n = redis.call('INCRBY', KEYS[1], delta)
if redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return {1, n}
`)

// incrementClampedScript adds delta unconditionally, never below zero.
var incrementClampedScript = redis.NewScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if n < 0 then
  redis.call('SET', KEYS[1], 0)
  n = 0
end
if redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// RedisCounters implements Counters on Redis with Lua scripts.
type RedisCounters struct {
	client redis.UniversalClient
}

// NewRedisCounters wraps an existing client.
func NewRedisCounters(client redis.UniversalClient) *RedisCounters {
	return &RedisCounters{client: client}
}

// IncrementIfWithin implements Counters.
func (r *RedisCounters) IncrementIfWithin(ctx context.Context, key Key, delta, limit int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrementIfWithinScript.Run(ctx, r.client, []string{key.String()}, delta, limit, ttlSeconds(ttl)).Result()
	if err != nil {
		return 0, false, eris.Wrap(err, "budget: redis increment-if-within")
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, eris.Errorf("budget: unexpected redis reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	return count, allowed == 1, nil
}

// Increment implements Counters.
func (r *RedisCounters) Increment(ctx context.Context, key Key, delta int64, ttl time.Duration) (int64, error) {
	n, err := incrementClampedScript.Run(ctx, r.client, []string{key.String()}, delta, ttlSeconds(ttl)).Int64()
	if err != nil {
		return 0, eris.Wrap(err, "budget: redis increment")
	}
	return n, nil
}

// Get implements Counters.
func (r *RedisCounters) Get(ctx context.Context, key Key) (int64, error) {
	n, err := r.client.Get(ctx, key.String()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "budget: redis get")
	}
	return n, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
