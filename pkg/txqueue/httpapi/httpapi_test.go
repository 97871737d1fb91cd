package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	appErrors "github.com/txgateway/submission/internal/errors"
	"github.com/txgateway/submission/internal/logging"
	"github.com/txgateway/submission/pkg/txqueue/orchestrator"
	"github.com/txgateway/submission/pkg/txqueue/types"
)

func TestHTTPAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTP API Suite")
}

type fakeSubmitter struct {
	result orchestrator.Result
	err    error
}

func (f *fakeSubmitter) Submit(ctx context.Context, client string, payload []byte, priority int) (orchestrator.Result, error) {
	return f.result, f.err
}

type fakeStore struct {
	healthErr error
	upserted  []types.RatePolicy
}

func (f *fakeStore) InsertTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeStore) GetRateLimit(ctx context.Context, client string, kind types.LimitKind) (*types.RatePolicy, error) {
	return nil, nil
}
func (f *fakeStore) CountPendingAtOrAbove(ctx context.Context, priority int, createdBefore time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeStore) UpsertRateLimit(ctx context.Context, policy types.RatePolicy) error {
	f.upserted = append(f.upserted, policy)
	return nil
}
func (f *fakeStore) HealthCheck(ctx context.Context) error { return f.healthErr }

var _ = Describe("Server", func() {
	Describe("POST /v1/transactions/submit", func() {
		It("returns 200 with the submission envelope and rate-limit headers", func() {
			sub := &fakeSubmitter{result: orchestrator.Result{
				AdmitResult: types.AdmitResult{ID: "tx-1", Position: 1, EstimatedSeconds: 1, Status: types.StatusPending},
				Headers:     orchestrator.Headers{Limit: 20, Remaining: 19, ResetAt: 1000},
			}}
			s := NewServer(sub, &fakeStore{}, logging.FromZap(zap.NewNop()), nil)

			body, _ := json.Marshal(map[string]any{"account_id": "A", "transaction_data": map[string]int{"k": 1}})
			req := httptest.NewRequest(http.MethodPost, "/v1/transactions/submit", bytes.NewReader(body))
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("X-RateLimit-Limit")).To(Equal("20"))
			Expect(w.Header().Get("X-RateLimit-Remaining")).To(Equal("19"))

			var resp submitResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.TransactionID).To(Equal("tx-1"))
			Expect(resp.Status).To(Equal("pending"))
		})

		It("rejects priority out of range with 400 before calling the orchestrator", func() {
			sub := &fakeSubmitter{}
			s := NewServer(sub, &fakeStore{}, logging.FromZap(zap.NewNop()), nil)

			priority := 11
			body, _ := json.Marshal(map[string]any{"account_id": "A", "transaction_data": map[string]int{"k": 1}, "priority": priority})
			req := httptest.NewRequest(http.MethodPost, "/v1/transactions/submit", bytes.NewReader(body))
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a missing account_id with 400", func() {
			s := NewServer(&fakeSubmitter{}, &fakeStore{}, logging.FromZap(zap.NewNop()), nil)

			body, _ := json.Marshal(map[string]any{"transaction_data": map[string]int{"k": 1}})
			req := httptest.NewRequest(http.MethodPost, "/v1/transactions/submit", bytes.NewReader(body))
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps a RateLimited orchestrator error to 429 with full rate-limit headers", func() {
			rlErr := appErrors.NewRateLimited(5).WithRateLimitHeaders(appErrors.RateLimitHeaders{
				Limit: 20, Remaining: 0, ResetAt: 1700000000, RetryAfter: 5,
			})
			sub := &fakeSubmitter{err: rlErr}
			s := NewServer(sub, &fakeStore{}, logging.FromZap(zap.NewNop()), nil)

			body, _ := json.Marshal(map[string]any{"account_id": "B", "transaction_data": map[string]int{"k": 1}})
			req := httptest.NewRequest(http.MethodPost, "/v1/transactions/submit", bytes.NewReader(body))
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusTooManyRequests))
			Expect(w.Header().Get("X-RateLimit-Limit")).To(Equal("20"))
			Expect(w.Header().Get("X-RateLimit-Remaining")).To(Equal("0"))
			Expect(w.Header().Get("X-RateLimit-Reset")).To(Equal("1700000000"))
			Expect(w.Header().Get("Retry-After")).To(Equal("5"))

			var resp errorResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.ErrorID).ToNot(BeEmpty())
		})

		It("maps an Unavailable orchestrator error to 503", func() {
			sub := &fakeSubmitter{err: appErrors.NewUnavailable(nil, "store")}
			s := NewServer(sub, &fakeStore{}, logging.FromZap(zap.NewNop()), nil)

			body, _ := json.Marshal(map[string]any{"account_id": "C", "transaction_data": map[string]int{"k": 1}})
			req := httptest.NewRequest(http.MethodPost, "/v1/transactions/submit", bytes.NewReader(body))
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("PUT /v1/admin/rate-limits/{client}", func() {
		It("upserts the policy and returns 204", func() {
			st := &fakeStore{}
			s := NewServer(&fakeSubmitter{}, st, logging.FromZap(zap.NewNop()), nil)

			body, _ := json.Marshal(map[string]any{"max_requests": 100, "window_seconds": 60})
			req := httptest.NewRequest(http.MethodPut, "/v1/admin/rate-limits/A", bytes.NewReader(body))
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNoContent))
			Expect(st.upserted).To(HaveLen(1))
			Expect(st.upserted[0].ClientID).To(Equal("A"))
		})
	})

	Describe("health and readiness", func() {
		It("healthz always returns 200", func() {
			s := NewServer(&fakeSubmitter{}, &fakeStore{healthErr: appErrors.NewUnavailable(nil, "db")}, logging.FromZap(zap.NewNop()), nil)

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("readyz returns 503 when the store is unhealthy", func() {
			s := NewServer(&fakeSubmitter{}, &fakeStore{healthErr: appErrors.NewUnavailable(nil, "db")}, logging.FromZap(zap.NewNop()), nil)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("readyz returns 200 when the store is healthy", func() {
			s := NewServer(&fakeSubmitter{}, &fakeStore{}, logging.FromZap(zap.NewNop()), nil)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})
})
