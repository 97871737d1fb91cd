// Package httpapi is the HTTP ingress for the submission service: request
// decoding and validation, the rate-limit response headers, health/ready
// probes, metrics exposition, and the administrative rate-limit endpoint
// (spec §6 plus the supplemented operational surface in SPEC_FULL.md §4).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appErrors "github.com/txgateway/submission/internal/errors"
	"github.com/txgateway/submission/internal/logging"
	gwmetrics "github.com/txgateway/submission/pkg/txqueue/metrics"
	"github.com/txgateway/submission/pkg/txqueue/orchestrator"
	"github.com/txgateway/submission/pkg/txqueue/store"
	"github.com/txgateway/submission/pkg/txqueue/types"
)

const maxAccountIDBytes = 256

// Submitter is the subset of Orchestrator the handler depends on.
type Submitter interface {
	Submit(ctx context.Context, client string, payload []byte, priority int) (orchestrator.Result, error)
}

// HealthChecker is the subset of Store the health/ready probes depend on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// submitRequest is the wire shape of POST /v1/transactions/submit.
type submitRequest struct {
	AccountID       string          `json:"account_id" validate:"required,max=256"`
	TransactionData json.RawMessage `json:"transaction_data" validate:"required"`
	Priority        *int            `json:"priority"`
}

type submitResponse struct {
	TransactionID                   string `json:"transaction_id"`
	QueuePosition                   int64  `json:"queue_position"`
	EstimatedProcessingTimeSeconds  int64  `json:"estimated_processing_time_seconds"`
	Status                          string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	ErrorID string `json:"error_id"`
}

type upsertRateLimitRequest struct {
	MaxRequests   int64 `json:"max_requests" validate:"required,min=1"`
	WindowSeconds int64 `json:"window_seconds" validate:"required,min=1"`
}

// Server wires the Orchestrator and Store into a chi router.
type Server struct {
	orchestrator Submitter
	store        HealthChecker
	admin        store.Store
	validate     *validator.Validate
	logger       logr.Logger
	metrics      *gwmetrics.Metrics
	router       chi.Router
}

// NewServer builds a Server and its route table.
func NewServer(orch Submitter, st store.Store, logger logr.Logger, metrics *gwmetrics.Metrics) *Server {
	s := &Server{
		orchestrator: orch,
		store:        st,
		admin:        st,
		validate:     validator.New(),
		logger:       logger,
		metrics:      metrics,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(gwmetrics.HTTPMetrics(s.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/v1/transactions/submit", s.handleSubmit)
	r.Put("/v1/admin/rate-limits/{client}", s.handleUpsertRateLimit)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, appErrors.NewValidationError("malformed request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, appErrors.NewValidationError("invalid request").WithDetails(err.Error()))
		return
	}

	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < 0 || priority > 10 {
		s.writeError(w, appErrors.NewValidationError("priority must be in [0, 10]"))
		return
	}
	if len(req.AccountID) == 0 || len(req.AccountID) > maxAccountIDBytes {
		s.writeError(w, appErrors.NewValidationError("account_id must be 1..256 bytes"))
		return
	}

	result, err := s.orchestrator.Submit(r.Context(), req.AccountID, []byte(req.TransactionData), priority)
	if err != nil {
		s.writeRateLimitHeadersOnError(w, err)
		s.writeError(w, err)
		return
	}

	s.writeRateLimitHeaders(w, result.Headers)
	s.writeJSON(w, http.StatusOK, submitResponse{
		TransactionID:                  result.AdmitResult.ID,
		QueuePosition:                  result.AdmitResult.Position,
		EstimatedProcessingTimeSeconds: result.AdmitResult.EstimatedSeconds,
		Status:                         string(result.AdmitResult.Status),
	})
}

func (s *Server) handleUpsertRateLimit(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	if client == "" {
		s.writeError(w, appErrors.NewValidationError("client is required"))
		return
	}

	var req upsertRateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, appErrors.NewValidationError("malformed request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, appErrors.NewValidationError("invalid request").WithDetails(err.Error()))
		return
	}

	policy := types.RatePolicy{
		ClientID:      client,
		Kind:          types.LimitKindSubmission,
		MaxRequests:   req.MaxRequests,
		WindowSeconds: req.WindowSeconds,
	}
	if err := s.admin.UpsertRateLimit(r.Context(), policy); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.logger.Error(err, "readiness check failed", logging.NewFields().Component("httpapi").KeysAndValues()...)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeRateLimitHeaders(w http.ResponseWriter, h orchestrator.Headers) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(h.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(h.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(h.ResetAt, 10))
	if h.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(h.RetryAfter, 10))
	}
}

// writeRateLimitHeadersOnError still surfaces X-RateLimit-* and
// Retry-After on a RateLimited denial, per spec §6 ("on every response,
// including 200 and 429") and §4.E ("Retry-After ... seconds until the
// window next admits one request").
func (s *Server) writeRateLimitHeadersOnError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*appErrors.AppError)
	if !ok || appErr.Type != appErrors.TypeRateLimited || appErr.RateLimit == nil {
		return
	}
	s.writeRateLimitHeaders(w, orchestrator.Headers{
		Limit:      appErr.RateLimit.Limit,
		Remaining:  appErr.RateLimit.Remaining,
		ResetAt:    appErr.RateLimit.ResetAt,
		RetryAfter: appErr.RateLimit.RetryAfter,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*appErrors.AppError)
	if !ok {
		appErr = appErrors.NewInternal(err, "unexpected error")
	}

	s.logger.Error(appErr, "request failed",
		logging.NewFields().Component("httpapi").ErrorID(appErr.ErrorID).KeysAndValues()...)

	s.writeJSON(w, appErr.StatusCode, errorResponse{
		Error:   string(appErr.Type),
		Message: appErr.Message,
		ErrorID: appErr.ErrorID,
	})
}
