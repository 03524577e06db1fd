package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliver-archive/sliver/internal/metrics"
)

func TestMetricsRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/captures/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/captures/abc123"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	// Scrape the exposition endpoint and check the route label carries the
	// pattern, not the raw path.
	msrv := httptest.NewServer(metrics.Handler())
	defer msrv.Close()

	resp, err := http.Get(msrv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `sliver_control_requests_total{code="200",route="/healthz"} 1`)
	assert.Contains(t, string(body), `sliver_control_requests_total{code="404",route="/captures/{id}"} 1`)
	assert.NotContains(t, string(body), `route="/captures/abc123"`)
}
