package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRouteLabel(t *testing.T) {
	mux := http.NewServeMux()
	var label string
	mux.HandleFunc("GET /v1/subscribers/{id}", func(w http.ResponseWriter, r *http.Request) {
		label = routeLabel(r)
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/subscribers/1b4e28ba-2fa1-11d2-883f-0016d3cca427", nil))
	assert.Equal(t, "GET /v1/subscribers/{id}", label)

	req := httptest.NewRequest("GET", "/unknown/1b4e28ba-2fa1-11d2-883f-0016d3cca427", nil)
	assert.Equal(t, "/unknown/{id}", routeLabel(req))
}

func TestMiddleware_CountsRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/teams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	h := Middleware(mux)

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "POST /v1/teams", "201"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/teams", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "POST /v1/teams", "201"))

	assert.Equal(t, before+1, after)
}

func TestDecision(t *testing.T) {
	tests := []struct {
		name    string
		allowed bool
		overage bool
		reason  string
		outcome string
	}{
		{"allowed", true, false, "", OutcomeAllowed},
		{"overage", true, true, "", OutcomeOverage},
		{"denied", false, false, "monthly_limit_reached", "monthly_limit_reached"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(EntitlementDecisions.WithLabelValues(tt.outcome))
			Decision(tt.allowed, tt.overage, tt.reason)
			assert.Equal(t, before+1, testutil.ToFloat64(EntitlementDecisions.WithLabelValues(tt.outcome)))
		})
	}
}

func TestLedger(t *testing.T) {
	before := testutil.ToFloat64(LedgerCalls.WithLabelValues("report_usage", OutcomeFailed))
	Ledger("report_usage", errors.New("timeout"))
	assert.Equal(t, before+1, testutil.ToFloat64(LedgerCalls.WithLabelValues("report_usage", OutcomeFailed)))
}

func TestJobInFlight(t *testing.T) {
	before := testutil.ToFloat64(JobsInFlight.WithLabelValues("renewal_sweep"))
	JobStarted("renewal_sweep")
	assert.Equal(t, before+1, testutil.ToFloat64(JobsInFlight.WithLabelValues("renewal_sweep")))
	JobFailed("renewal_sweep")
	assert.Equal(t, before, testutil.ToFloat64(JobsInFlight.WithLabelValues("renewal_sweep")))
}

func TestJobCompleted(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues("overage_retry", OutcomeSuccess))
	JobStarted("overage_retry")
	JobCompleted("overage_retry", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(JobsTotal.WithLabelValues("overage_retry", OutcomeSuccess)))
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/health", "200"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))
}
