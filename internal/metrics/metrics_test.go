package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/foliodesk/settlement-engine/internal/metrics"
)

// Request counters must label by route pattern, not raw path: user IDs
// embedded in URLs would otherwise create one label value per user.
func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/api/v1/portfolio/{userID}/holdings", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, uid := range []string{"alice", "bob", "carol"} {
		req := httptest.NewRequest("GET", "/api/v1/portfolio/"+uid+"/holdings", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	pattern := "/api/v1/portfolio/{userID}/holdings"
	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", pattern, "200"))
	if got != 3 {
		t.Errorf("requests under pattern label = %v, want 3", got)
	}

	leaked := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/portfolio/alice/holdings", "200"))
	if leaked != 0 {
		t.Errorf("raw path leaked into labels: %v", leaked)
	}
}
