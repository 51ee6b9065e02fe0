package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app/service/statistics"
	"github.com/fatflowers/entitler/pkg/response"
)

type StatisticsComputer interface {
	Compute(ctx context.Context, req *statistics.Request) (*statistics.Response, error)
}

// @Summary      Statistics (Admin)
// @Description  Computes daily transaction counts, GMV, refund amounts and subscription counts over a date range.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.Request true "Date range, filters and requested data items"
// @Success      200  {object}  handlers.RespStatistics
// @Router       /api/v1/admin/statistics [post]
func ApiStatistics(stats StatisticsComputer, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := stats.Compute(c.Request.Context(), &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminStatisticsRoutes(r gin.IRouter, stats StatisticsComputer, log *zap.SugaredLogger) {
	r.POST("/statistics", ApiStatistics(stats, log))
}
