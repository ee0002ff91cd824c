package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Instrument(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/sites/{site_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sites/abc", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, scrape.Code)

	body := scrape.Body.String()
	// Routes are labeled by pattern, not raw path.
	assert.Contains(t, body, `arbiter_http_requests_total{code="200",method="GET",route="/sites/{site_id}"} 3`)
	assert.Contains(t, body, `arbiter_http_requests_total{code="500",method="GET",route="/boom"} 1`)
	assert.NotContains(t, body, "/sites/abc")
	assert.Contains(t, body, "arbiter_http_request_duration_seconds_count")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two metric sets must not collide on registration.
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
