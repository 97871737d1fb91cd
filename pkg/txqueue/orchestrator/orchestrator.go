// Package orchestrator implements the Submission Orchestrator component
// (spec §4.E): composes the Rate Limiter then the Queue Coordinator under a
// single request deadline, and derives the rate-limit observability
// headers from the Decision.
package orchestrator

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appErrors "github.com/txgateway/submission/internal/errors"
	"github.com/txgateway/submission/internal/logging"
	"github.com/txgateway/submission/pkg/txqueue/metrics"
	"github.com/txgateway/submission/pkg/txqueue/queue"
	"github.com/txgateway/submission/pkg/txqueue/ratelimit"
	"github.com/txgateway/submission/pkg/txqueue/types"
)

// DefaultDeadline is the default submission deadline (spec §5: "default
// 500 ms, configurable").
const DefaultDeadline = 500 * time.Millisecond

var tracer = otel.Tracer("github.com/txgateway/submission/pkg/txqueue/orchestrator")

// Headers carries the rate-limit observability headers derived from a
// Decision, independent of any particular HTTP framework.
type Headers struct {
	Limit      int64
	Remaining  int64
	ResetAt    int64 // epoch seconds
	RetryAfter int64 // seconds; only meaningful when the request was denied
}

// Result is the outcome of a successful submission.
type Result struct {
	AdmitResult types.AdmitResult
	Headers     Headers
}

// Orchestrator composes the Rate Limiter and Queue Coordinator.
type Orchestrator struct {
	limiter  ratelimit.Limiter
	queue    queue.Coordinator
	deadline time.Duration
	breaker  *gobreaker.CircuitBreaker
	logger   logr.Logger
	metrics  *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDeadline overrides DefaultDeadline.
func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) { o.deadline = d }
}

// WithCircuitBreaker enables the optional circuit-breaking path described
// in spec §7: sustained Durable Store failure short-circuits future
// requests to Unavailable for a cool-down period, bypassing C and D.
func WithCircuitBreaker(settings gobreaker.Settings) Option {
	return func(o *Orchestrator) { o.breaker = gobreaker.NewCircuitBreaker(settings) }
}

// New builds an Orchestrator over the given Rate Limiter and Queue
// Coordinator. m may be nil, in which case Submit skips recording metrics.
func New(limiter ratelimit.Limiter, coordinator queue.Coordinator, logger logr.Logger, m *metrics.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		limiter:  limiter,
		queue:    coordinator,
		deadline: DefaultDeadline,
		logger:   logger,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit runs the Rate Limiter then, on admission, the Queue Coordinator,
// under a bounded deadline. A Denied decision short-circuits with
// RateLimited before any durable write occurs (spec §4.E).
func (o *Orchestrator) Submit(ctx context.Context, client string, payload []byte, priority int) (Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Submit",
		trace.WithAttributes(attribute.String("client_id", client), attribute.Int("priority", priority)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	fields := logging.NewFields().Component("orchestrator").Operation("submit").ClientID(client)

	if o.breaker != nil && o.breaker.State() == gobreaker.StateOpen {
		span.SetStatus(codes.Error, "circuit open")
		return Result{}, appErrors.NewUnavailable(gobreaker.ErrOpenState, "durable store").WithDetails("circuit open")
	}

	decision, err := o.checkRateLimit(ctx, client)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error(err, "rate limit check failed", fields.KeysAndValues()...)
		return Result{}, err
	}

	headers := headersFromDecision(decision)

	if !decision.Allowed {
		span.SetStatus(codes.Error, "rate limited")
		if o.metrics != nil {
			o.metrics.RateLimitDenied.WithLabelValues(client).Inc()
		}
		return Result{}, appErrors.NewRateLimited(headers.RetryAfter).WithRateLimitHeaders(appErrors.RateLimitHeaders{
			Limit:      headers.Limit,
			Remaining:  headers.Remaining,
			ResetAt:    headers.ResetAt,
			RetryAfter: headers.RetryAfter,
		})
	}

	if err := ctx.Err(); err != nil {
		return Result{}, appErrors.NewTimedOut("admit").WithDetails("deadline exceeded before durable insert")
	}

	admitResult, err := o.admit(ctx, client, payload, priority)
	if err != nil {
		if ctx.Err() != nil && !appErrors.IsType(err, appErrors.TypeTimedOut) {
			// The durable row may already exist; report TimedOut per
			// spec §5 rather than masking it as the underlying cause.
			o.logger.Error(err, "deadline exceeded after durable insert", fields.KeysAndValues()...)
			return Result{}, appErrors.NewTimedOut("admit").WithDetails("deadline exceeded after durable insert")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error(err, "admission failed", fields.KeysAndValues()...)
		return Result{}, err
	}

	return Result{AdmitResult: admitResult, Headers: headers}, nil
}

func (o *Orchestrator) checkRateLimit(ctx context.Context, client string) (types.Decision, error) {
	return o.limiter.Check(ctx, client, time.Now().UTC())
}

// admit runs the Queue Coordinator, optionally behind the circuit breaker.
func (o *Orchestrator) admit(ctx context.Context, client string, payload []byte, priority int) (types.AdmitResult, error) {
	if o.breaker == nil {
		return o.queue.Admit(ctx, client, payload, priority)
	}

	result, err := o.breaker.Execute(func() (interface{}, error) {
		return o.queue.Admit(ctx, client, payload, priority)
	})
	o.recordBreakerState()
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return types.AdmitResult{}, appErrors.NewUnavailable(err, "durable store").WithDetails("circuit open")
		}
		return types.AdmitResult{}, err
	}
	return result.(types.AdmitResult), nil
}

func (o *Orchestrator) recordBreakerState() {
	if o.metrics == nil {
		return
	}
	o.metrics.CircuitBreakerState.WithLabelValues(o.breaker.Name()).Set(float64(o.breaker.State()))
}

func headersFromDecision(d types.Decision) Headers {
	h := Headers{
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.Unix(),
	}
	if !d.Allowed {
		h.RetryAfter = int64(d.RetryAfter.Seconds())
		if h.RetryAfter < 1 {
			h.RetryAfter = 1
		}
	}
	return h
}
