// Package types holds the data model shared across the rate limiter, queue
// coordinator, durable store, and fast cache.
package types

import "time"

// Status is the lifecycle state of a Transaction. Transitions form a DAG
// rooted at StatusPending; a status never reverts to an earlier state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Tier names a rate-limit policy class. A client with no per-client policy
// override falls back to the Basic default.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// LimitKind identifies which sliding-window budget a policy governs.
// The only kind in use today is the tier-derived submission limit, but the
// (client, kind) key is kept general so new budgets can be added without a
// schema change.
type LimitKind string

const LimitKindSubmission LimitKind = "submission"

// Transaction is the durable record of one admitted submission.
//
// Identifier is assigned at admission and is immutable, as is CreatedAt and
// Priority. Status transitions are the only mutable lifecycle field on the
// hot path; retry bookkeeping and timestamps belong to the downstream drain,
// which this package does not implement.
type Transaction struct {
	ID            string
	ClientID      string
	Payload       []byte // opaque, well-formed JSON
	Priority      int    // 0..10, higher serves earlier
	Status        Status
	RetryCount    int
	MaxRetries    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ScheduledAt   *time.Time
	ProcessedAt   *time.Time
	ErrorMessage  string
}

// RatePolicy is a (max requests, window) budget for a (client, kind) pair.
type RatePolicy struct {
	ClientID      string    `db:"client_id"`
	Kind          LimitKind `db:"kind"`
	MaxRequests   int64     `db:"max_requests"`
	WindowSeconds int64     `db:"window_seconds"`
}

// DefaultPolicyFor returns the fixed default policy for a tier. Tier
// thresholds are compiled-in and do not change at runtime (spec Non-goal:
// no dynamic reconfiguration of tiers).
func DefaultPolicyFor(tier Tier) RatePolicy {
	switch tier {
	case TierPremium:
		return RatePolicy{Kind: LimitKindSubmission, MaxRequests: 100, WindowSeconds: 60}
	case TierEnterprise:
		return RatePolicy{Kind: LimitKindSubmission, MaxRequests: 500, WindowSeconds: 60}
	default:
		return RatePolicy{Kind: LimitKindSubmission, MaxRequests: 20, WindowSeconds: 60}
	}
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration // only meaningful when !Allowed
}

// AdmitResult is the outcome of a successful queue admission.
type AdmitResult struct {
	ID               string
	Position         int64 // 1-based
	EstimatedSeconds int64
	Status           Status
}
