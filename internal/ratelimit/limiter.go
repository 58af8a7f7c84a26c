// Package ratelimit enforces per-user, per-endpoint-class token buckets with
// tier-dependent capacity/refill, plus a per-tier cap on concurrent streaming
// connections. It mirrors the teacher's Redis+Lua rate limiter (one atomic
// script invocation per check) and adds an in-process golang.org/x/time/rate
// fallback for when Redis is unreachable, so a broker outage degrades limits
// to best-effort rather than failing every request open or closed.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

//go:embed token_bucket.lua
var tokenBucketScript string

// EndpointClass names the five limiter classes from §6's tier table.
type EndpointClass string

const (
	ClassCompile      EndpointClass = "compile"
	ClassExecute      EndpointClass = "execute"
	ClassChat         EndpointClass = "chat"
	ClassLogin        EndpointClass = "login"
	ClassRegistration EndpointClass = "registration"
)

// Tier is a subscription tier; Enterprise is unlimited (represented as a zero
// Capacity in BucketConfig, which Check treats as always-allow).
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// BucketConfig is one tier/class cell: capacity tokens, refilled at
// RefillPerSecond, plus the max concurrent stream connections for that tier.
type BucketConfig struct {
	Capacity         float64
	RefillPerSecond  float64
	MaxConcurrentStreams int
}

// DefaultTierConfigs mirrors the teacher's DefaultTierConfigs table, adapted
// from the workflow-complexity tiers (simple/standard/heavy) to the
// subscription tiers (free/pro/enterprise) this spec uses.
var DefaultTierConfigs = map[Tier]map[EndpointClass]BucketConfig{
	TierFree: {
		ClassCompile:      {Capacity: 20, RefillPerSecond: 20.0 / 60, MaxConcurrentStreams: 2},
		ClassExecute:      {Capacity: 10, RefillPerSecond: 10.0 / 60, MaxConcurrentStreams: 2},
		ClassChat:         {Capacity: 30, RefillPerSecond: 30.0 / 60, MaxConcurrentStreams: 2},
		ClassLogin:        {Capacity: 5, RefillPerSecond: 5.0 / 60, MaxConcurrentStreams: 0},
		ClassRegistration: {Capacity: 3, RefillPerSecond: 3.0 / 3600, MaxConcurrentStreams: 0},
	},
	TierPro: {
		ClassCompile:      {Capacity: 200, RefillPerSecond: 200.0 / 60, MaxConcurrentStreams: 10},
		ClassExecute:      {Capacity: 100, RefillPerSecond: 100.0 / 60, MaxConcurrentStreams: 10},
		ClassChat:         {Capacity: 300, RefillPerSecond: 300.0 / 60, MaxConcurrentStreams: 10},
		ClassLogin:        {Capacity: 20, RefillPerSecond: 20.0 / 60, MaxConcurrentStreams: 0},
		ClassRegistration: {Capacity: 10, RefillPerSecond: 10.0 / 3600, MaxConcurrentStreams: 0},
	},
	TierEnterprise: {
		ClassCompile:      {Capacity: 0},
		ClassExecute:      {Capacity: 0},
		ClassChat:         {Capacity: 0},
		ClassLogin:        {Capacity: 0},
		ClassRegistration: {Capacity: 0},
	},
}

// Result is what Check returns.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int64
}

// Logger is the minimal structured-logging surface the limiter needs.
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Limiter checks tiered token buckets via Redis+Lua, falling back to an
// in-process golang.org/x/time/rate limiter per (user, class) when Redis is
// unavailable.
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger

	fallbackMu sync.Mutex
	fallback   map[string]*rate.Limiter

	streamMu    sync.Mutex
	streamCount map[string]int
}

func New(redisClient *redis.Client, logger Logger) *Limiter {
	return &Limiter{
		redis:       redisClient,
		script:      redis.NewScript(tokenBucketScript),
		logger:      logger,
		fallback:    make(map[string]*rate.Limiter),
		streamCount: make(map[string]int),
	}
}

// Check enforces the token bucket for (userID, tier, class). A zero-capacity
// config (enterprise) always allows.
func (l *Limiter) Check(ctx context.Context, userID string, tier Tier, class EndpointClass) (Result, error) {
	cfg, ok := DefaultTierConfigs[tier][class]
	if !ok {
		cfg = DefaultTierConfigs[TierFree][class]
	}
	if cfg.Capacity <= 0 {
		return Result{Allowed: true}, nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s:%s", tier, class, userID)
	res, err := l.script.Run(ctx, l.redis, []string{key}, cfg.Capacity, cfg.RefillPerSecond, nowUnix(), 1).Result()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("ratelimit: redis unavailable, using in-process fallback", "error", err)
		}
		return l.checkFallback(key, cfg), nil
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result shape")
	}
	allowed := arr[0].(int64) == 1
	retryAfter := arr[2].(int64)
	return Result{Allowed: allowed, RetryAfterSeconds: maxInt64(retryAfter, 0)}, nil
}

func (l *Limiter) checkFallback(key string, cfg BucketConfig) Result {
	l.fallbackMu.Lock()
	defer l.fallbackMu.Unlock()
	lim, ok := l.fallback[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), int(cfg.Capacity))
		l.fallback[key] = lim
	}
	if lim.Allow() {
		return Result{Allowed: true}
	}
	return Result{Allowed: false, RetryAfterSeconds: 1}
}

// StreamOpen enforces the per-tier concurrent-stream-connection cap described
// in §6: it increments the counter only after the cap check succeeds, and
// rejects outright on cap-exceeded rather than queuing.
func (l *Limiter) StreamOpen(userID string, tier Tier) bool {
	limit := DefaultTierConfigs[tier][ClassExecute].MaxConcurrentStreams
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	if limit > 0 && l.streamCount[userID] >= limit {
		return false
	}
	l.streamCount[userID]++
	return true
}

// StreamClose decrements the open-stream counter for userID.
func (l *Limiter) StreamClose(userID string) {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	if l.streamCount[userID] > 0 {
		l.streamCount[userID]--
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func nowUnix() int64 {
	return time.Now().Unix()
}
