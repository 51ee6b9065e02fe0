package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	nh "github.com/fatflowers/entitler/internal/app/service/notification_handler"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/response"
	"github.com/fatflowers/entitler/pkg/types"
)

type WebhookProcessor interface {
	HandleNotification(c *gin.Context, provider types.PaymentProvider) (nh.Disposition, error)
}

type WebhookAck struct {
	Disposition nh.Disposition `json:"disposition"`
}

// @Summary      Rail Webhook
// @Description  Receives App Store Server Notifications V2 (apple) and Play Real-time Developer Notifications through Pub/Sub push (google). Answers 200 once transport checks pass, whatever the processing outcome; 401 for a rejected sender, 413 for an oversized payload.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        provider path string true "apple or google"
// @Param        payload body string true "Rail notification payload"
// @Success      200  {object}  handlers.RespWebhookAck
// @Failure      401  {object}  handlers.RespOK
// @Failure      413  {object}  handlers.RespOK
// @Router       /api/v2/payment/webhooks/{provider} [post]
func ApiWebhook(h WebhookProcessor, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, err := types.ParsePaymentProvider(c.Param("provider"))
		if err != nil {
			c.JSON(http.StatusNotFound, response.Fail(response.APIResponseCodeNotFound, ErrorCodeUnsupportedProvider, err.Error()))
			return
		}

		d, err := h.HandleNotification(c, provider)
		if err != nil {
			logctx.FromGin(c, log).Warnw("webhook_rejected", "provider", provider, "error", err)
			switch {
			case errors.Is(err, nh.ErrPayloadTooLarge):
				c.JSON(http.StatusRequestEntityTooLarge, response.Fail(response.APIResponseCodeBadRequest, "payload-too-large", err.Error()))
			case errors.Is(err, nh.ErrUnauthorized):
				c.JSON(http.StatusUnauthorized, response.Fail(response.APIResponseCodeBadRequest, "unauthorized", "sender not authorized"))
			case errors.Is(err, nh.ErrUnsupportedProvider):
				c.JSON(http.StatusNotFound, response.Fail(response.APIResponseCodeNotFound, ErrorCodeUnsupportedProvider, err.Error()))
			default:
				c.JSON(http.StatusInternalServerError, response.Fail(response.APIResponseCodeError, ErrorCodeInternal, err.Error()))
			}
			return
		}
		c.JSON(http.StatusOK, response.OKT(&WebhookAck{Disposition: d}))
	}
}
