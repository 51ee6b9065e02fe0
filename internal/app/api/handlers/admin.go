package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/response"
	"github.com/fatflowers/entitler/pkg/types"
)

// HeaderOperatorID identifies the admin operator when the body has none.
const HeaderOperatorID = "X-Operator-ID"

// sweepAll runs every sweep in SweepNames order.
const sweepAll = "all"

type AdminOperations interface {
	Refund(ctx context.Context, req *reconciliation.RefundRequest) (*models.Transaction, error)
	ChangePlanPreview(ctx context.Context, subscriptionID, newPaymentItemID string) (*reconciliation.PlanChangeQuote, error)
	RunSweep(ctx context.Context, name string) (*reconciliation.SweepReport, error)
}

type LedgerReader interface {
	ScanTransactions(ctx context.Context, req *ledger.ScanTransactionsRequest) (*ledger.ScanTransactionsResponse, error)
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListHistory(ctx context.Context, subscriptionID string) ([]*models.SubscriptionHistory, error)
}

type ListTransactionRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type TransactionItem struct {
	ID                  string                  `json:"id"`
	TransactionID       string                  `json:"transaction_id"`
	UserID              string                  `json:"user_id"`
	SubscriptionID      *string                 `json:"subscription_id"`
	ProviderID          types.PaymentProvider   `json:"provider_id"`
	Type                types.TransactionType   `json:"type"`
	Status              types.TransactionStatus `json:"status"`
	Currency            string                  `json:"currency"`
	Amount              int64                   `json:"amount"`
	FinalAmount         int64                   `json:"final_amount"`
	RefundedAmount      int64                   `json:"refunded_amount"`
	RefundAt            *time.Time              `json:"refund_at"`
	IsFirstPurchase     bool                    `json:"is_first_purchase"`
	Source              string                  `json:"source,omitempty"`
	PurchaseAt          time.Time               `json:"purchase_at"`
	ExpireAt            *time.Time              `json:"expire_at"`
	ParentTransactionID *string                 `json:"parent_transaction_id"`
	Environment         string                  `json:"environment"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
	PaymentItemID       string                  `json:"payment_item_id"`
	PaymentItemType     types.PaymentItemType   `json:"payment_item_type"`
	ProviderItemID      string                  `json:"provider_item_id"`
	PlanType            string                  `json:"plan_type,omitempty"`
}

// toTransactionItem prefers the catalog snapshot frozen on the row and falls
// back to the live catalog.
func toTransactionItem(cfg *config.Config, m *models.Transaction) *TransactionItem {
	item := &TransactionItem{
		ID:                  m.ID,
		TransactionID:       m.TransactionID,
		UserID:              m.UserID,
		SubscriptionID:      m.SubscriptionID,
		ProviderID:          m.ProviderID,
		Type:                m.Type,
		Status:              m.Status,
		Currency:            m.Currency,
		Amount:              m.Amount,
		FinalAmount:         m.FinalAmount,
		PurchaseAt:          m.PurchaseAt,
		ExpireAt:            m.ExpireAt,
		ParentTransactionID: m.ParentTransactionID,
		Environment:         m.Environment,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
		PaymentItemID:       m.PaymentItemID,
		ProviderItemID:      m.ProductID,
	}
	if r := m.RefundInfo(); r != nil {
		item.RefundedAmount = r.Amount
		item.RefundAt = lo.ToPtr(r.ProcessedAt)
	}
	if e := m.Extra.Data(); e != nil {
		item.IsFirstPurchase = e.IsFirstPurchase
		item.Source = e.Source
	}

	pi := m.GetPaymentItemSnapshot()
	if pi == nil && cfg != nil {
		pi = cfg.GetPaymentItemByID(m.PaymentItemID)
	}
	if pi != nil {
		item.PaymentItemType = pi.Type
		item.ProviderItemID = pi.ProviderItemID
		item.PlanType = pi.PlanType
	}
	return item
}

type ListTransactionsResponse struct {
	Items []*TransactionItem `json:"items"`
	Total int64              `json:"total"`
}

// @Summary      List Transactions (Admin)
// @Description  Retrieves a paginated and filterable list of ledger transactions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ListTransactionRequest true "List transaction request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListTransactions
// @Router       /api/v1/admin/list_transactions [post]
func ApiListTransactions(store LedgerReader, cfg *config.Config, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := store.ScanTransactions(c.Request.Context(), &ledger.ScanTransactionsRequest{
			Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		items := lo.Map(res.Items, func(it *models.Transaction, _ int) *TransactionItem { return toTransactionItem(cfg, it) })
		c.JSON(http.StatusOK, response.OKT(&ListTransactionsResponse{Items: items, Total: res.Total}))
	}
}

// @Summary      Refund Transaction (Admin)
// @Description  Refunds a settled transaction inside the refund window, fully or partially, and ends its subscription.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        X-Operator-ID header string false "Operator id, used when the body has none"
// @Param        request body reconciliation.RefundRequest true "Refund request; amount defaults to the full final amount"
// @Success      200  {object}  handlers.RespTransaction
// @Router       /api/v1/admin/refund [post]
func ApiRefund(ops AdminOperations, cfg *config.Config, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reconciliation.RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.OperatorID == "" {
			req.OperatorID = strings.TrimSpace(c.GetHeader(HeaderOperatorID))
		}
		if req.OperatorID == "" {
			badRequest(c, "missing operator_id")
			return
		}
		t, err := ops.Refund(c.Request.Context(), &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		logctx.FromGin(c, log).Infow("admin_refund", "transaction_id", t.ID, "operator_id", req.OperatorID)
		c.JSON(http.StatusOK, response.OKT(toTransactionItem(cfg, t)))
	}
}

type ProrationPreviewRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
	PaymentItemID  string `json:"payment_item_id" binding:"required"`
}

// @Summary      Preview Plan Change (Admin)
// @Description  Quotes the credit for the unused part of the current period and the charge for the new plan over the same remainder. Nothing is written.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ProrationPreviewRequest true "Subscription and target catalog item"
// @Success      200  {object}  handlers.RespPlanChangeQuote
// @Router       /api/v1/admin/proration/preview [post]
func ApiProrationPreview(ops AdminOperations, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProrationPreviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		quote, err := ops.ChangePlanPreview(c.Request.Context(), req.SubscriptionID, req.PaymentItemID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(quote))
	}
}

type SubscriptionHistoryResponse struct {
	Subscription *models.Subscription          `json:"subscription"`
	History      []*models.SubscriptionHistory `json:"history"`
}

// @Summary      Subscription History (Admin)
// @Description  Returns a subscription and its lifecycle history, oldest first.
// @Tags         Admin
// @Produce      json
// @Param        id path string true "Subscription id"
// @Success      200  {object}  handlers.RespSubscriptionHistory
// @Router       /api/v1/admin/subscription/{id}/history [get]
func ApiSubscriptionHistory(store LedgerReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		sub, err := store.GetSubscription(c.Request.Context(), id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		history, err := store.ListHistory(c.Request.Context(), id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&SubscriptionHistoryResponse{Subscription: sub, History: history}))
	}
}

// @Summary      Run Sweep (Admin)
// @Description  Runs one maintenance sweep (grace_periods, expiring_trials, lapsed_subscriptions, pending_acknowledgements) or all of them in order.
// @Tags         Admin
// @Produce      json
// @Param        name path string true "Sweep name or all"
// @Success      200  {object}  handlers.RespSweepReports
// @Router       /api/v1/admin/sweep/{name} [post]
func ApiRunSweep(ops AdminOperations, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := []string{c.Param("name")}
		if names[0] == sweepAll {
			names = reconciliation.SweepNames
		}
		reports := make([]*reconciliation.SweepReport, 0, len(names))
		for _, name := range names {
			r, err := ops.RunSweep(c.Request.Context(), name)
			if err != nil {
				writeError(c, log, err)
				return
			}
			reports = append(reports, r)
		}
		c.JSON(http.StatusOK, response.OKT(reports))
	}
}

func RegisterAdminPaymentRoutes(r gin.IRouter, ops AdminOperations, store LedgerReader, cfg *config.Config, log *zap.SugaredLogger) {
	r.POST("/list_transactions", ApiListTransactions(store, cfg, log))
	r.POST("/refund", ApiRefund(ops, cfg, log))
	r.POST("/proration/preview", ApiProrationPreview(ops, log))
	r.GET("/subscription/:id/history", ApiSubscriptionHistory(store, log))
	r.POST("/sweep/:name", ApiRunSweep(ops, log))
}
