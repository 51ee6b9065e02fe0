package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/response"
	"github.com/fatflowers/entitler/pkg/types"
)

// HeaderUserID carries the caller's user id when the gateway in front of the
// service authenticated the request.
const HeaderUserID = "X-User-ID"

type ReceiptVerifier interface {
	VerifyAndApply(ctx context.Context, provider types.PaymentProvider, req *verification.ReceiptRequest) (*reconciliation.Result, error)
}

type EntitlementReader interface {
	Current(ctx context.Context, userID string) (*types.Entitlement, error)
}

// VerifyReceiptRequest is a client purchase submission. Apple clients send
// receipt or transaction_id; Google clients send product_id and purchase_token.
type VerifyReceiptRequest struct {
	UserID        string `json:"user_id"`
	Receipt       string `json:"receipt"`
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	PurchaseToken string `json:"purchase_token"`
}

func (r *VerifyReceiptRequest) validate(provider types.PaymentProvider) string {
	switch provider {
	case types.PaymentProviderApple:
		if r.Receipt == "" && r.TransactionID == "" {
			return "receipt or transaction_id is required"
		}
	case types.PaymentProviderGoogle:
		if r.ProductID == "" || r.PurchaseToken == "" {
			return "product_id and purchase_token are required"
		}
	}
	return ""
}

type VerifyReceiptResponse struct {
	Outcome          reconciliation.Outcome   `json:"outcome"`
	SubscriptionID   string                   `json:"subscription_id,omitempty"`
	Status           types.SubscriptionStatus `json:"status,omitempty"`
	CurrentPeriodEnd *time.Time               `json:"current_period_end,omitempty"`
	TransactionID    string                   `json:"transaction_id,omitempty"`
	Entitlement      *types.Entitlement       `json:"entitlement,omitempty"`
}

func toVerifyReceiptResponse(res *reconciliation.Result) *VerifyReceiptResponse {
	out := &VerifyReceiptResponse{Outcome: res.Outcome, Entitlement: res.Entitlement}
	if s := res.Subscription; s != nil {
		out.SubscriptionID = s.ID
		out.Status = s.Status
		out.CurrentPeriodEnd = s.CurrentPeriodEnd
	}
	if t := res.Transaction; t != nil {
		out.TransactionID = t.ID
	}
	return out
}

// @Summary      Verify Receipt
// @Description  Verifies a client-submitted purchase with the rail and applies it to the ledger. Business failures are reported in error_code: receipt-invalid, receipt-already-used, subscription-expired, provider-unavailable, duplicate-subscription, unknown-product.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        provider path string true "apple or google"
// @Param        X-User-ID header string false "Authenticated user id, used when the body has none"
// @Param        request body handlers.VerifyReceiptRequest true "Receipt submission"
// @Success      200  {object}  handlers.RespVerifyReceipt
// @Router       /api/v2/payment/verify/{provider} [post]
func ApiVerifyReceipt(v ReceiptVerifier, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, err := types.ParsePaymentProvider(c.Param("provider"))
		if err != nil {
			c.JSON(http.StatusOK, response.Fail(response.APIResponseCodeNotFound, ErrorCodeUnsupportedProvider, err.Error()))
			return
		}
		var req VerifyReceiptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.UserID == "" {
			req.UserID = strings.TrimSpace(c.GetHeader(HeaderUserID))
		}
		if req.UserID == "" {
			badRequest(c, "missing user_id")
			return
		}
		if msg := req.validate(provider); msg != "" {
			badRequest(c, msg)
			return
		}

		res, err := v.VerifyAndApply(c.Request.Context(), provider, &verification.ReceiptRequest{
			UserID:        req.UserID,
			Receipt:       req.Receipt,
			TransactionID: req.TransactionID,
			ProductID:     req.ProductID,
			PurchaseToken: req.PurchaseToken,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		out := toVerifyReceiptResponse(res)
		if res.Expired() {
			resp := response.Fail(response.APIResponseCodeBadRequest, ErrorCodeSubscriptionExpired, "subscription has expired")
			resp.Data = out
			c.JSON(http.StatusOK, resp)
			return
		}
		logctx.FromGin(c, log).Infow("receipt_verified", "provider", provider, "user_id", req.UserID,
			"outcome", res.Outcome, "subscription_id", out.SubscriptionID)
		c.JSON(http.StatusOK, response.OKT(out))
	}
}

// @Summary      Get Entitlement
// @Description  Returns the user's current plan, features and consumable balances.
// @Tags         Payment
// @Produce      json
// @Param        user_id path string true "User id"
// @Success      200  {object}  handlers.RespEntitlement
// @Router       /api/v2/payment/entitlement/{user_id} [get]
func ApiGetEntitlement(r EntitlementReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.Param("user_id"))
		if userID == "" {
			badRequest(c, "missing user_id")
			return
		}
		ent, err := r.Current(c.Request.Context(), userID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(ent))
	}
}

func RegisterPaymentV2Routes(r gin.IRouter, v ReceiptVerifier, ents EntitlementReader, notif WebhookProcessor, log *zap.SugaredLogger) {
	r.POST("/verify/:provider", ApiVerifyReceipt(v, log))
	r.POST("/webhooks/:provider", ApiWebhook(notif, log))
	r.GET("/entitlement/:user_id", ApiGetEntitlement(ents, log))
}
