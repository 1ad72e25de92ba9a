package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry, Config{ServiceName: "proposalpricing", Environment: "test"})
	require.NoError(t, err)

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/health", "200"))
	assert.Equal(t, 2.0, got)
}

func TestHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := newHTTPMetrics(registry, Config{})
	require.NoError(t, err)
	second, err := newHTTPMetrics(registry, Config{})
	require.NoError(t, err)
	assert.Same(t, first.requests, second.requests)
}
