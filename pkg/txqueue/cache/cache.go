// Package cache implements the Fast Cache component (spec §4.B): sliding
// window admission counters and the priority queue position index, both
// backed by Redis. Every mutating primitive here is a single round-trip so
// that no in-process lock is ever required to keep it correct under
// horizontal scale-out (spec §9, "Atomicity without in-process locks").
package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/txgateway/submission/internal/errors"
	"github.com/txgateway/submission/pkg/txqueue/types"
)

// windowAdmitScript implements the atomic check-then-increment sliding
// window contract of spec §4.B: trim entries older than now-window, count
// what remains, and only if under budget add the new entry — all inside a
// single EVAL so no two concurrent callers can each observe remaining >= 1
// and both admit past max_requests.
//
// KEYS[1] = window key (a ZSET of request timestamps in milliseconds)
// ARGV[1] = now (ms)
// ARGV[2] = window_seconds
// ARGV[3] = max_requests
// ARGV[4] = member (a unique token for this request, to avoid score collisions)
//
// Returns {allowed (0/1), remaining, oldest_in_window_ms}.
const windowAdmitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2]) * 1000
local max_requests = tonumber(ARGV[3])
local member = ARGV[4]

local cutoff = now - window_ms
redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. cutoff)

local count = redis.call("ZCARD", key)
local allowed = 0
local remaining = max_requests - count

if count < max_requests then
	redis.call("ZADD", key, now, member)
	redis.call("PEXPIRE", key, window_ms)
	allowed = 1
	remaining = max_requests - count - 1
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local oldest_ms = now
if #oldest == 2 then
	oldest_ms = tonumber(oldest[2])
end

return {allowed, remaining, oldest_ms}
`

// priorityIndexKey is the single global sorted set keyed by
// (-priority, created_at) used for position lookups (spec §9: "a single
// global sorted structure ... is equally valid and simpler to query").
const priorityIndexKey = "txqueue:priority_index"

// Cache is the Fast Cache contract consumed by the Rate Limiter and Queue
// Coordinator.
type Cache interface {
	WindowAdmit(ctx context.Context, client string, maxRequests int64, windowSeconds int64, now time.Time) (types.Decision, error)
	PriorityIndexIncr(ctx context.Context, id string, priority int, createdAt time.Time) (int64, error)
	PriorityIndexReconcile(ctx context.Context, id string, priority int, createdAt time.Time) error
	PriorityIndexDecr(ctx context.Context, id string) error
}

// RedisCache is the Cache implementation backed by Redis.
type RedisCache struct {
	client       *redis.Client
	windowAdmit  *redis.Script
}

// New wraps an already-configured *redis.Client as a RedisCache.
func New(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:      client,
		windowAdmit: redis.NewScript(windowAdmitScript),
	}
}

func windowKey(client string) string {
	return fmt.Sprintf("txqueue:window:%s", client)
}

// WindowAdmit performs the atomic sliding-window check-and-increment.
// Failures here are fatal to the request per spec §4.C ("fail closed"):
// callers must not fall back to a permissive default on error.
func (c *RedisCache) WindowAdmit(ctx context.Context, client string, maxRequests, windowSeconds int64, now time.Time) (types.Decision, error) {
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uniqueSuffix())

	res, err := c.windowAdmit.Run(ctx, c.client, []string{windowKey(client)}, nowMs, windowSeconds, maxRequests, member).Result()
	if err != nil {
		return types.Decision{}, appErrors.NewUnavailable(err, "fast cache").WithDetails("window_admit")
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return types.Decision{}, appErrors.NewInternal(fmt.Errorf("unexpected window_admit result shape"), "fast cache")
	}

	allowed := toInt64(values[0]) == 1
	remaining := toInt64(values[1])
	oldestMs := toInt64(values[2])
	resetAt := time.UnixMilli(oldestMs).Add(time.Duration(windowSeconds) * time.Second)

	decision := types.Decision{
		Allowed:   allowed,
		Limit:     maxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if remaining < 0 {
		decision.Remaining = 0
	}
	if !allowed {
		decision.RetryAfter = time.Until(resetAt)
		if decision.RetryAfter < 0 {
			decision.RetryAfter = 0
		}
	}
	return decision, nil
}

// PriorityIndexIncr appends (id, priority, createdAt) to the global
// priority index and returns its 1-based position: the count of entries
// that sort ahead of it, plus one.
func (c *RedisCache) PriorityIndexIncr(ctx context.Context, id string, priority int, createdAt time.Time) (int64, error) {
	score := priorityScore(priority, createdAt)

	pipe := c.client.TxPipeline()
	addCmd := pipe.ZAdd(ctx, priorityIndexKey, redis.Z{Score: score, Member: id})
	rankCmd := pipe.ZRank(ctx, priorityIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, appErrors.NewUnavailable(err, "fast cache").WithDetails("priority_index_incr")
	}
	if err := addCmd.Err(); err != nil {
		return 0, appErrors.NewUnavailable(err, "fast cache").WithDetails("priority_index_incr")
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return 0, appErrors.NewUnavailable(err, "fast cache").WithDetails("priority_index_incr")
	}
	return rank + 1, nil
}

// PriorityIndexReconcile bulk-populates the index from a durable snapshot
// entry on cold cache (spec §4.B).
func (c *RedisCache) PriorityIndexReconcile(ctx context.Context, id string, priority int, createdAt time.Time) error {
	score := priorityScore(priority, createdAt)
	if err := c.client.ZAdd(ctx, priorityIndexKey, redis.Z{Score: score, Member: id}).Err(); err != nil {
		return appErrors.NewUnavailable(err, "fast cache").WithDetails("priority_index_reconcile")
	}
	return nil
}

// PriorityIndexDecr removes a served entry. Consumed by the downstream
// drain, never by the submission path (spec §4.B).
func (c *RedisCache) PriorityIndexDecr(ctx context.Context, id string) error {
	if err := c.client.ZRem(ctx, priorityIndexKey, id).Err(); err != nil {
		return appErrors.NewUnavailable(err, "fast cache").WithDetails("priority_index_decr")
	}
	return nil
}

// prioritySpacing separates adjacent priority buckets in the score. It must
// stay comfortably larger than any createdAt.UnixMilli() value so buckets
// never overlap, while keeping the combined score well under 2^53 (the
// largest integer a float64 represents exactly) so same-priority entries
// keep millisecond-accurate created_at ordering.
const prioritySpacing = 1e13

// priorityScore maps (priority, created_at) onto a single float64 sort key
// ordering by priority DESC, created_at ASC: higher priority must sort
// first, so its score component is negated.
func priorityScore(priority int, createdAt time.Time) float64 {
	return -float64(priority)*prioritySpacing + float64(createdAt.UnixMilli())
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(math.Round(n))
	default:
		return 0
	}
}

// uniqueSuffix disambiguates requests that land on the same millisecond, so
// the ZADD member is always distinct and never silently overwrites a
// concurrent entry's score.
func uniqueSuffix() string {
	return uuid.NewString()
}
