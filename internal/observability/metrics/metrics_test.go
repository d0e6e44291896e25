package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("feature", "ai_grading"),
		attribute.String("user_id", "456"),
		attribute.String("status", "graded"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("feature"), attrs[0].Key)
	assert.Equal(t, attribute.Key("status"), attrs[1].Key)
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	require.NotNil(t, m)
	m.RecordDebit(context.Background(), "ai_grading", 1.5)
	m.RecordGradingItem(context.Background(), "graded", time.Second)

	var nilMetrics *Metrics
	nilMetrics.RecordDenied(context.Background(), "ai_grading")
}

func TestHTTPMetricsCountsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetricsWithRegisterer(reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/health", "200")))
}
