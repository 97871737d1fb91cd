package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

var _ = Describe("HTTPMetrics middleware", func() {
	var (
		registry *prometheus.Registry
		m        *Metrics
		router   *chi.Mux
	)

	BeforeEach(func() {
		registry = prometheus.NewRegistry()
		m = NewMetricsWithRegistry(registry)
		router = chi.NewRouter()
		router.Use(HTTPMetrics(m))
	})

	It("records a histogram observation with method/endpoint/status labels", func() {
		router.Get("/v1/transactions/submit", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/v1/transactions/submit", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))

		families, err := registry.Gather()
		Expect(err).ToNot(HaveOccurred())

		var found bool
		for _, mf := range families {
			if mf.GetName() == "txgateway_http_request_duration_seconds" {
				found = true
				Expect(mf.GetType()).To(Equal(dto.MetricType_HISTOGRAM))
				labels := mf.GetMetric()[0].GetLabel()
				labelMap := map[string]string{}
				for _, l := range labels {
					labelMap[l.GetName()] = l.GetValue()
				}
				Expect(labelMap["method"]).To(Equal("GET"))
				Expect(labelMap["status"]).To(Equal("200"))
			}
		}
		Expect(found).To(BeTrue())
	})

	It("is a no-op when passed a nil Metrics", func() {
		r := chi.NewRouter()
		r.Use(HTTPMetrics(nil))
		r.Get("/x", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
	})
})
