package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRetention drops idle counters so abandoned phones do not accumulate.
const redisRetention = 24 * time.Hour

var windowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local retention = tonumber(ARGV[4])
local count = tonumber(redis.call("HGET", KEYS[1], "count"))
local start = tonumber(redis.call("HGET", KEYS[1], "start"))
if count == nil or start == nil then
  redis.call("HSET", KEYS[1], "count", 1, "start", now)
  redis.call("PEXPIRE", KEYS[1], retention)
  return {1, 0}
end
if count < max then
  redis.call("HINCRBY", KEYS[1], "count", 1)
  redis.call("PEXPIRE", KEYS[1], retention)
  return {1, 0}
end
local elapsed = now - start
if elapsed >= window then
  redis.call("HSET", KEYS[1], "count", 1, "start", now)
  redis.call("PEXPIRE", KEYS[1], retention)
  return {1, 0}
end
return {0, window - elapsed}
`)

// RedisStore shares limiter counters across processes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore builds a RedisStore with the given key prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "ledger:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	return &RedisStore{client: client, prefix: trimmedPrefix}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	if s == nil || s.client == nil {
		return Decision{Allowed: true}, nil
	}
	retention := redisRetention
	if policy.Window*2 > retention {
		retention = policy.Window * 2
	}
	fullKey := s.prefix + ":" + key
	rawResult, err := windowScript.Run(ctx, s.client, []string{fullKey},
		now.UnixMilli(), policy.MaxAttempts, policy.Window.Milliseconds(), retention.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter flag type: %T", values[0])
	}
	remainingMs, ok := values[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter remaining type: %T", values[1])
	}
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(remainingMs) * time.Millisecond}, nil
}
