package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// tokens is returned as a string; Lua numbers are truncated to integers
// on the way out of EVAL.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), ts}
`

var ErrInvalidLimiterArgs = errors.New("rate limiter key, rate and burst are required")

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter answers whether one more request under key fits its bucket.
type Limiter interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

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
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	if key == "" || rate <= 0 || burst <= 0 {
		return &RateLimitResult{}, ErrInvalidLimiterArgs
	}

	ttl := defaultBucketTTL(rate, burst)
	res, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, ttl.Milliseconds()).Slice()
	if err != nil {
		return &RateLimitResult{}, err
	}
	if len(res) < 3 {
		return &RateLimitResult{}, errors.New("invalid rate limit script response")
	}

	allowed := castToInt(res[0]) == 1
	tokens := castToFloat(res[1])
	ts := time.UnixMilli(castToInt(res[2]))
	return buildResult(allowed, tokens, rate, burst, ts), nil
}

type memoryBucket struct {
	tokens float64
	ts     time.Time
}

// MemoryBucket is the single-process token bucket used when no Redis is
// configured.
type MemoryBucket struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

func (m *MemoryBucket) Allow(_ context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	if key == "" || rate <= 0 || burst <= 0 {
		return &RateLimitResult{}, ErrInvalidLimiterArgs
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &memoryBucket{tokens: float64(burst), ts: now}
		m.buckets[key] = b
	} else {
		delta := now.Sub(b.ts).Seconds()
		if delta < 0 {
			delta = 0
		}
		b.tokens = math.Min(float64(burst), b.tokens+delta*rate)
		b.ts = now
	}

	allowed := false
	if b.tokens >= 1 {
		allowed = true
		b.tokens--
	}
	m.evict(now, rate, burst)
	return buildResult(allowed, b.tokens, rate, burst, now), nil
}

// evict drops buckets idle long enough to have refilled completely.
func (m *MemoryBucket) evict(now time.Time, rate float64, burst int) {
	if len(m.buckets) < 1024 {
		return
	}
	idle := defaultBucketTTL(rate, burst)
	for key, b := range m.buckets {
		if now.Sub(b.ts) > idle {
			delete(m.buckets, key)
		}
	}
}

func buildResult(allowed bool, tokens, rate float64, burst int, ts time.Time) *RateLimitResult {
	retryAfter := time.Duration(0)
	if !allowed {
		if needed := 1.0 - tokens; needed > 0 {
			retryAfter = time.Duration(needed / rate * float64(time.Second))
		}
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(tokens),
		ResetTime:  ts.Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

func defaultBucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		parsed, _ := strconv.ParseInt(val, 10, 64)
		return parsed
	default:
		return 0
	}
}

func castToFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		parsed, _ := strconv.ParseFloat(val, 64)
		return parsed
	default:
		return 0
	}
}
