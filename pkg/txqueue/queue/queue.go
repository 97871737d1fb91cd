// Package queue implements the Queue Coordinator component (spec §4.D):
// durable admission, priority-index maintenance, and ETA computation.
package queue

import (
	"context"
	"math"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	appErrors "github.com/txgateway/submission/internal/errors"
	"github.com/txgateway/submission/internal/logging"
	"github.com/txgateway/submission/pkg/txqueue/cache"
	"github.com/txgateway/submission/pkg/txqueue/metrics"
	"github.com/txgateway/submission/pkg/txqueue/store"
	"github.com/txgateway/submission/pkg/txqueue/types"
)

// maxInsertAttempts bounds the id-collision retry loop: one initial insert
// plus up to 3 retries (spec §4.D: "regenerate and retry up to 3 times;
// then surface Internal error").
const maxInsertAttempts = 4

// DefaultDrainRate is the downstream drain rate in transactions per second
// used solely for ETA arithmetic (spec §9, open question (b)).
const DefaultDrainRate = 50.0

// Coordinator is the Queue Coordinator contract consumed by the Submission
// Orchestrator.
type Coordinator interface {
	Admit(ctx context.Context, client string, payload []byte, priority int) (types.AdmitResult, error)
}

// QueueCoordinator is the Coordinator implementation.
type QueueCoordinator struct {
	store     store.Store
	cache     cache.Cache
	drainRate float64
	logger    logr.Logger
	metrics   *metrics.Metrics
}

// New builds a QueueCoordinator. drainRate must be positive; pass
// DefaultDrainRate absent an explicit override. m may be nil, in which case
// Admit skips recording metrics.
func New(st store.Store, ch cache.Cache, drainRate float64, logger logr.Logger, m *metrics.Metrics) *QueueCoordinator {
	if drainRate <= 0 {
		drainRate = DefaultDrainRate
	}
	return &QueueCoordinator{store: st, cache: ch, drainRate: drainRate, logger: logger, metrics: m}
}

// Admit persists tx and returns its queue position and ETA, per the
// algorithm in spec §4.D. The durable insert always happens before the
// index increment, preserving "enqueued iff durable" (spec §9(c)).
func (q *QueueCoordinator) Admit(ctx context.Context, client string, payload []byte, priority int) (types.AdmitResult, error) {
	now := time.Now().UTC()

	var tx *types.Transaction
	var err error
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		tx = &types.Transaction{
			ID:         uuid.NewString(),
			ClientID:   client,
			Payload:    payload,
			Priority:   priority,
			Status:     types.StatusPending,
			MaxRetries: 3,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err = q.store.InsertTransaction(ctx, tx)
		if err == nil {
			break
		}
		if !appErrors.IsType(err, appErrors.TypeConflict) {
			q.recordSubmission("error")
			return types.AdmitResult{}, err
		}
		q.logger.Info("transaction id collision, regenerating",
			logging.NewFields().Component("queue").Operation("admit").TransactionID(tx.ID).KeysAndValues()...)
	}
	if err != nil {
		q.recordSubmission("error")
		return types.AdmitResult{}, appErrors.NewInternal(err, "exhausted id collision retries")
	}

	position, indexErr := q.cache.PriorityIndexIncr(ctx, tx.ID, tx.Priority, tx.CreatedAt)
	if indexErr != nil {
		// The row is durable and eligible for downstream processing
		// regardless; fall back to the slow count-based position so the
		// "enqueued iff durable" invariant holds even when the cache is
		// degraded (spec §4.D).
		q.logger.Error(indexErr, "priority index increment failed, falling back to store count",
			logging.NewFields().Component("queue").Operation("admit").TransactionID(tx.ID).KeysAndValues()...)
		count, countErr := q.store.CountPendingAtOrAbove(ctx, tx.Priority, tx.CreatedAt)
		if countErr != nil {
			q.recordSubmission("error")
			return types.AdmitResult{}, countErr
		}
		position = count + 1
	}

	eta := int64(math.Ceil(float64(position) / q.drainRate))

	if q.metrics != nil {
		q.metrics.QueuePosition.Observe(float64(position))
	}
	q.recordSubmission("admitted")

	return types.AdmitResult{
		ID:               tx.ID,
		Position:         position,
		EstimatedSeconds: eta,
		Status:           types.StatusPending,
	}, nil
}

func (q *QueueCoordinator) recordSubmission(outcome string) {
	if q.metrics == nil {
		return
	}
	q.metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
}
