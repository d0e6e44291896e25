package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills by elapsed redis time, then takes ARGV[4] tokens
// when that many are available. Returns {allowed, remaining, now_ms}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
else
  local delta = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), now}
`

var (
	errBucketNotConfigured = errors.New("rate limiter not configured")
	errBucketInvalidArgs   = errors.New("rate limiter requires a key, positive rate, burst and cost")
	errBucketBadReply      = errors.New("invalid rate limit script response")
)

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// AllowN takes cost tokens from the bucket at key, or none when fewer remain.
func (t *TokenBucket) AllowN(ctx context.Context, key string, rate float64, burst, cost int) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return &RateLimitResult{}, errBucketNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 || cost <= 0 {
		return &RateLimitResult{}, errBucketInvalidArgs
	}
	if cost > burst {
		return &RateLimitResult{Limit: burst}, nil
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		rate,
		burst,
		bucketTTL(rate, burst).Milliseconds(),
		cost,
	).Slice()
	if err != nil {
		return &RateLimitResult{}, err
	}
	return decodeBucketReply(reply, rate, burst, cost)
}

func decodeBucketReply(reply []interface{}, rate float64, burst, cost int) (*RateLimitResult, error) {
	if len(reply) < 3 {
		return &RateLimitResult{}, errBucketBadReply
	}
	allowed := toInt64(reply[0]) == 1
	remaining := toFloat64(reply[1])
	now := time.UnixMilli(toInt64(reply[2]))

	var retryAfter time.Duration
	if !allowed {
		if missing := float64(cost) - remaining; missing > 0 {
			retryAfter = time.Duration(missing / rate * float64(time.Second))
		}
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(math.Floor(remaining)),
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// bucketTTL keeps an idle bucket for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return int64(toFloat64(v))
	}
}

func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
