// Package ratelimit implements the per-api-key sliding-window admission
// control described in spec §4.3: a 60-second window of request
// timestamps, admitting a request only while the window stays within the
// key's configured limit, with a retry-after hint derived from the oldest
// in-window entry.
//
// Grounded on the teacher's internal/policy/ratelimit/limiter.go
// (Config/New shape, per-key map behind a lock) adapted from a token
// bucket to an explicit timestamp-slice sliding window, because spec §4.3
// requires exposing "the age-out time of the oldest in-window entry" as
// the retry-after hint, which a token bucket cannot do. The distributed
// variant is grounded on jonesrussell-north-cloud's infrastructure/redis
// client-construction pattern and smallbiznis-smallbiznis-controlplane's
// go-redis usage.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for an api key under its configured
// per-minute limit.
type Limiter interface {
	Allow(ctx context.Context, apiKeyID string, limit int) (Decision, error)
}

// Config controls window size.
type Config struct {
	WindowSeconds int
}

func (c Config) window() time.Duration {
	if c.WindowSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// InProcess is a mutex-protected, single-process sliding-window limiter,
// used when no Redis address is configured (local/dev/test runs).
type InProcess struct {
	cfg Config
	mu  sync.Mutex
	hits map[string][]time.Time
	now func() time.Time
}

// NewInProcess constructs an in-process Limiter.
func NewInProcess(cfg Config) *InProcess {
	return &InProcess{cfg: cfg, hits: make(map[string][]time.Time), now: time.Now}
}

// Allow admits the request iff the key's in-window hit count would stay
// at or below limit; the increment is serialized by the mutex so bursts
// from one key can never admit above the configured limit.
func (l *InProcess) Allow(_ context.Context, apiKeyID string, limit int) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.cfg.window()
	cutoff := now.Add(-window)

	hits := l.hits[apiKeyID]
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}

	if len(kept) >= limit {
		retryAfter := kept[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.hits[apiKeyID] = kept
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	kept = append(kept, now)
	l.hits[apiKeyID] = kept
	return Decision{Allowed: true}, nil
}

// Redis is a cross-process sliding-window limiter backed by a sorted set
// per key: ZADD the current timestamp, ZREMRANGEBYSCORE evicts entries
// older than the window, ZCARD reports the in-window count. The three
// steps run inside a single EVAL so concurrent bursts across processes
// still serialize on Redis's single-threaded command execution.
type Redis struct {
	client *redis.Client
	cfg    Config
}

// NewRedis constructs a Limiter backed by the given client.
func NewRedis(client *redis.Client, cfg Config) *Redis {
	return &Redis{client: client, cfg: cfg}
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - windowMs)
local count = redis.call("ZCARD", key)

if count >= limit then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  local oldestScore = now
  if oldest[2] ~= nil then
    oldestScore = tonumber(oldest[2])
  end
  return {0, oldestScore + windowMs - now}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, windowMs)
return {1, 0}
`)

// Allow admits the request via the Lua script above.
func (l *Redis) Allow(ctx context.Context, apiKeyID string, limit int) (Decision, error) {
	now := time.Now().UnixMilli()
	windowMs := l.cfg.window().Milliseconds()
	member := fmt.Sprintf("%d-%d", now, limit)

	key := "ratelimit:" + apiKeyID
	res, err := slidingWindowScript.Run(ctx, l.client, []string{key}, now, windowMs, limit, member).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected result shape")
	}
	allowed, _ := res[0].(int64)
	retryMs, _ := res[1].(int64)
	return Decision{
		Allowed:    allowed == 1,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}
