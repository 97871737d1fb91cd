// Package ratelimit implements the Rate Limiter component (spec §4.C):
// per-client admission decisions against policies sourced from the Durable
// Store, memoized with a TTL cache and coalesced under concurrent misses so
// the hot path never pays more than one store round-trip. Memoized policies
// expire by age only; the cache has no size bound and no LRU eviction.
package ratelimit

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/txgateway/submission/pkg/txqueue/cache"
	"github.com/txgateway/submission/pkg/txqueue/store"
	"github.com/txgateway/submission/pkg/txqueue/types"
)

// policyTTL bounds how long a resolved policy is trusted before the next
// check re-fetches it from the Durable Store (spec §4.C: "bounded LRU,
// TTL ≤ 60 s").
const policyTTL = 30 * time.Second

// Limiter is the Rate Limiter contract consumed by the Submission
// Orchestrator.
type Limiter interface {
	Check(ctx context.Context, client string, now time.Time) (types.Decision, error)
}

// RateLimiter resolves an effective policy per client and enforces it via
// the Fast Cache's atomic window_admit primitive.
type RateLimiter struct {
	store   store.Store
	cache   cache.Cache
	policies *gocache.Cache
	group   singleflight.Group
}

// New builds a RateLimiter over the given Durable Store and Fast Cache.
func New(st store.Store, ch cache.Cache) *RateLimiter {
	return &RateLimiter{
		store:    st,
		cache:    ch,
		policies: gocache.New(policyTTL, 2*policyTTL),
	}
}

// Check resolves client's effective policy and performs the atomic window
// admission. Policy lookup failures fall back to the Basic-tier default
// (spec §4.C); window_admit failures are fatal to the request (fail
// closed) and propagate unchanged.
func (l *RateLimiter) Check(ctx context.Context, client string, now time.Time) (types.Decision, error) {
	policy, err := l.resolvePolicy(ctx, client)
	if err != nil {
		return types.Decision{}, err
	}
	return l.cache.WindowAdmit(ctx, client, policy.MaxRequests, policy.WindowSeconds, now)
}

// resolvePolicy looks up the memoized policy for client, coalescing
// concurrent misses into a single store round-trip (spec §4.C).
func (l *RateLimiter) resolvePolicy(ctx context.Context, client string) (types.RatePolicy, error) {
	if cached, ok := l.policies.Get(client); ok {
		return cached.(types.RatePolicy), nil
	}

	result, err, _ := l.group.Do(client, func() (interface{}, error) {
		policy, err := l.store.GetRateLimit(ctx, client, types.LimitKindSubmission)
		if err != nil {
			// Store is unreachable: fall back to Basic rather than stall
			// the hot path or fail the request on an observability path.
			return types.DefaultPolicyFor(types.TierBasic), nil
		}
		if policy == nil {
			return types.DefaultPolicyFor(types.TierBasic), nil
		}
		return *policy, nil
	})
	if err != nil {
		return types.RatePolicy{}, err
	}

	resolved := result.(types.RatePolicy)
	l.policies.Set(client, resolved, gocache.DefaultExpiration)
	return resolved, nil
}
