package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := zap.NewNop().Sugar()
	RegisterPaymentV2Routes(r.Group("/api/v2/payment"), nil, nil, nil, log)
	RegisterAdminPaymentRoutes(r.Group("/api/v1/admin"), nil, nil, nil, log)
	RegisterAdminStatisticsRoutes(r.Group("/api/v1/admin"), nil, log)
	RegisterHealthRoutes(r, nil)

	routes := r.Routes()
	contains := func(target string) bool {
		for _, rt := range routes {
			if rt.Method+" "+rt.Path == target {
				return true
			}
		}
		return false
	}

	for _, want := range []string{
		"POST /api/v2/payment/verify/:provider",
		"POST /api/v2/payment/webhooks/:provider",
		"GET /api/v2/payment/entitlement/:user_id",
		"POST /api/v1/admin/list_transactions",
		"POST /api/v1/admin/refund",
		"POST /api/v1/admin/proration/preview",
		"GET /api/v1/admin/subscription/:id/history",
		"POST /api/v1/admin/sweep/:name",
		"POST /api/v1/admin/statistics",
		"GET /healthz",
		"GET /readyz",
	} {
		require.True(t, contains(want), want)
	}
}
