// Package store implements the Durable Store component (spec §4.A): the
// source of truth for transactions and rate-limit policies, backed by
// Postgres via database/sql and sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/txgateway/submission/internal/errors"
	"github.com/txgateway/submission/pkg/txqueue/types"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store is the Durable Store contract consumed by the Rate Limiter and
// Queue Coordinator.
type Store interface {
	InsertTransaction(ctx context.Context, tx *types.Transaction) error
	GetRateLimit(ctx context.Context, clientID string, kind types.LimitKind) (*types.RatePolicy, error)
	CountPendingAtOrAbove(ctx context.Context, priority int, createdBefore time.Time) (int64, error)
	UpsertRateLimit(ctx context.Context, policy types.RatePolicy) error
	HealthCheck(ctx context.Context) error
}

// PostgresStore is the Store implementation backed by Postgres.
type PostgresStore struct {
	db     *sqlx.DB
	logger logr.Logger
}

// New wraps an already-opened *sql.DB (expected to use the pgx stdlib
// driver) as a PostgresStore.
func New(db *sql.DB, logger logr.Logger) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "pgx"), logger: logger}
}

// InsertTransaction persists a new pending transaction row.
func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *types.Transaction) error {
	const q = `
		INSERT INTO transaction_queue
			(id, client_id, payload, priority, status, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, q,
		tx.ID, tx.ClientID, tx.Payload, tx.Priority, tx.Status,
		tx.RetryCount, tx.MaxRetries, tx.CreatedAt, tx.UpdatedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return appErrors.NewConflict("transaction id collision").WithDetails(tx.ID)
	}

	s.logger.Error(err, "failed to insert transaction", "transaction_id", tx.ID)
	return appErrors.NewUnavailable(err, "durable store").WithDetails("failed to insert transaction")
}

// GetRateLimit returns the policy for (clientID, kind), or (nil, nil) if
// no row exists — absence is not an error, per spec §4.A.
func (s *PostgresStore) GetRateLimit(ctx context.Context, clientID string, kind types.LimitKind) (*types.RatePolicy, error) {
	const q = `
		SELECT client_id, kind, max_requests, window_seconds
		FROM rate_limits
		WHERE client_id = $1 AND kind = $2`

	var p types.RatePolicy
	err := s.db.GetContext(ctx, &p, q, clientID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error(err, "failed to retrieve rate limit", "client_id", clientID)
		return nil, appErrors.NewUnavailable(err, "durable store").WithDetails("failed to retrieve rate limit")
	}
	return &p, nil
}

// CountPendingAtOrAbove returns the number of pending rows ordered strictly
// before (priority, createdBefore) under (priority DESC, created_at ASC).
// Used only for cache reconciliation (spec §4.A), never on the hot path.
func (s *PostgresStore) CountPendingAtOrAbove(ctx context.Context, priority int, createdBefore time.Time) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM transaction_queue
		WHERE status = 'pending'
		  AND (priority > $1 OR (priority = $1 AND created_at < $2))`

	var count int64
	if err := s.db.GetContext(ctx, &count, q, priority, createdBefore); err != nil {
		s.logger.Error(err, "failed to count pending transactions")
		return 0, appErrors.NewUnavailable(err, "durable store").WithDetails("failed to count pending")
	}
	return count, nil
}

// UpsertRateLimit is an administrative write, out of scope for the
// submission hot path (spec §4.A).
func (s *PostgresStore) UpsertRateLimit(ctx context.Context, policy types.RatePolicy) error {
	const q = `
		INSERT INTO rate_limits (client_id, kind, max_requests, window_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (client_id, kind) DO UPDATE
			SET max_requests = EXCLUDED.max_requests,
			    window_seconds = EXCLUDED.window_seconds,
			    updated_at = now()`

	if _, err := s.db.ExecContext(ctx, q, policy.ClientID, policy.Kind, policy.MaxRequests, policy.WindowSeconds); err != nil {
		s.logger.Error(err, "failed to upsert rate limit")
		return appErrors.NewUnavailable(err, "durable store").WithDetails("failed to upsert rate limit")
	}
	return nil
}

// HealthCheck verifies the database connection is reachable.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
