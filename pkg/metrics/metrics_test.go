package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBusinessCounters(t *testing.T) {
	ObserveReconcile("apple", "renewal", "applied")
	ObserveReconcile("apple", "renewal", "applied")
	ObserveWebhook("google", "handled")
	ObserveSweep("grace_periods", "processed", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(reconcileEvents.WithLabelValues("apple", "renewal", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(webhookDeliveries.WithLabelValues("google", "handled")))
	assert.Equal(t, 3.0, testutil.ToFloat64(sweepProcessed.WithLabelValues("grace_periods", "processed")))
}

func TestPrometheusMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	p := NewPrometheus(NewPrometheusOptions{
		ReqCntURLLabelMappingFn: func(c *gin.Context) string { return c.FullPath() },
	})
	p.Use(r)
	r.GET("/entitlement/:user_id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"u1", "u2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entitlement/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(p.reqCnt.WithLabelValues("200", http.MethodGet, "/entitlement/:user_id", "")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, defaultMetricPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "req_total"))
}
