package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured = errors.New("rate limiter not configured")
	ErrInvalidBucket = errors.New("invalid rate limit bucket")
)

// takeScript refills KEYS[1] from Redis TIME and takes ARGV[3] tokens when
// enough are left. It returns {allowed, tokens, ts_ms}.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
end
ts = now

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), ts}
`

// Bucket refills Rate tokens per second up to Burst.
type Bucket struct {
	Rate  float64
	Burst int
}

func (b Bucket) validate(cost int) error {
	switch {
	case b.Rate <= 0:
		return fmt.Errorf("%w: rate must be positive", ErrInvalidBucket)
	case b.Burst <= 0:
		return fmt.Errorf("%w: burst must be positive", ErrInvalidBucket)
	case cost <= 0 || cost > b.Burst:
		return fmt.Errorf("%w: cost %d outside 1..%d", ErrInvalidBucket, cost, b.Burst)
	}
	return nil
}

// ttl keeps an idle bucket for twice the time a full refill takes.
func (b Bucket) ttl() time.Duration {
	if b.Rate <= 0 || b.Burst <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(float64(b.Burst)/b.Rate*2))
	return time.Duration(seconds) * time.Second
}

// retryAfter is how long until cost tokens are available again.
func (b Bucket) retryAfter(remaining float64, cost int) time.Duration {
	missing := float64(cost) - remaining
	if missing <= 0 || b.Rate <= 0 {
		return 0
	}
	return time.Duration(missing / b.Rate * float64(time.Second))
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket evaluates buckets atomically inside Redis so that every
// process sharing the client sees the same counts.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(takeScript),
	}
}

// Take removes cost tokens from the bucket stored at key.
func (t *TokenBucket) Take(ctx context.Context, key string, b Bucket, cost int) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidBucket)
	}
	if err := b.validate(cost); err != nil {
		return nil, err
	}

	res, err := t.script.Run(ctx, t.client, []string{key},
		b.Rate, b.Burst, cost, b.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	allowed := toInt(res[0]) == 1
	remaining := toFloat(res[1])
	retry := time.Duration(0)
	if !allowed {
		retry = b.retryAfter(remaining, cost)
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      b.Burst,
		Remaining:  int(remaining),
		ResetTime:  time.UnixMilli(toInt(res[2])).Add(retry),
		RetryAfter: retry,
	}, nil
}

// Redis converts Lua numbers to integers, so fractional tokens travel as
// strings.
func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
