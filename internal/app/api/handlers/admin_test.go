package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/response"
	"github.com/fatflowers/entitler/pkg/types"
)

type stubAdmin struct {
	refund    *reconciliation.RefundRequest
	refundErr error
	sweeps    []string
}

func (s *stubAdmin) Refund(_ context.Context, req *reconciliation.RefundRequest) (*models.Transaction, error) {
	s.refund = req
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	t := &models.Transaction{ID: req.TransactionID, Status: types.TransactionStatusRefunded, FinalAmount: 999, PaymentItemID: "gold_monthly_apple"}
	t.Refund = datatypes.NewJSONType(&types.RefundInfo{Amount: 999, Reason: req.Reason, ProcessedAt: time.Now().UTC()})
	return t, nil
}

func (s *stubAdmin) ChangePlanPreview(_ context.Context, subscriptionID, newPaymentItemID string) (*reconciliation.PlanChangeQuote, error) {
	if subscriptionID == "missing" {
		return nil, fmt.Errorf("load subscription: %w", ledger.ErrNotFound)
	}
	return &reconciliation.PlanChangeQuote{SubscriptionID: subscriptionID, ToPaymentItemID: newPaymentItemID}, nil
}

func (s *stubAdmin) RunSweep(_ context.Context, name string) (*reconciliation.SweepReport, error) {
	s.sweeps = append(s.sweeps, name)
	for _, n := range reconciliation.SweepNames {
		if n == name {
			return &reconciliation.SweepReport{Sweep: name}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", reconciliation.ErrUnknownSweep, name)
}

type stubLedger struct {
	scanned *ledger.ScanTransactionsRequest
}

func (s *stubLedger) ScanTransactions(_ context.Context, req *ledger.ScanTransactionsRequest) (*ledger.ScanTransactionsResponse, error) {
	s.scanned = req
	if req.SortBy == "purchase_token" {
		return nil, fmt.Errorf("%w: sort on field %q is not allowed", ledger.ErrInvalidQuery, req.SortBy)
	}
	return &ledger.ScanTransactionsResponse{
		Items: []*models.Transaction{{ID: "t1", PaymentItemID: "gold_monthly_apple", ProductID: "com.example.gold.monthly"}},
		Total: 1,
	}, nil
}

func (s *stubLedger) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	if id != "sub-1" {
		return nil, fmt.Errorf("subscription %s: %w", id, ledger.ErrNotFound)
	}
	return &models.Subscription{ID: id, Status: types.SubscriptionStatusActive}, nil
}

func (s *stubLedger) ListHistory(_ context.Context, subscriptionID string) ([]*models.SubscriptionHistory, error) {
	return []*models.SubscriptionHistory{
		{ID: "h1", SubscriptionID: subscriptionID, Action: types.HistoryActionCreated},
	}, nil
}

func adminRouter(ops *stubAdmin, store *stubLedger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := &config.Config{PaymentItems: []*types.PaymentItem{{
		ID: "gold_monthly_apple", ProviderID: types.PaymentProviderApple, ProviderItemID: "com.example.gold.monthly",
		Type: types.PaymentItemTypeAutoRenewableSubscription, PlanType: "gold",
	}}}
	RegisterAdminPaymentRoutes(r.Group("/api/v1/admin"), ops, store, cfg, zap.NewNop().Sugar())
	return r
}

func TestApiListTransactions(t *testing.T) {
	store := &stubLedger{}
	r := adminRouter(&stubAdmin{}, store)

	env := decode(t, do(r, http.MethodPost, "/api/v1/admin/list_transactions", map[string]any{
		"filters": []map[string]any{{"field": "user_id", "operator": "eq", "values": []string{"u1"}}},
		"size":    20,
	}, nil))
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	var out ListTransactionsResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out.Items, 1)
	assert.EqualValues(t, 1, out.Total)
	assert.Equal(t, "gold", out.Items[0].PlanType)
	assert.Equal(t, types.PaymentItemTypeAutoRenewableSubscription, out.Items[0].PaymentItemType)
	assert.Equal(t, 20, store.scanned.Size)
	require.Len(t, store.scanned.Filters, 1)
	assert.Equal(t, "user_id", store.scanned.Filters[0].Field)

	env = decode(t, do(r, http.MethodPost, "/api/v1/admin/list_transactions", map[string]any{"sort_by": "purchase_token"}, nil))
	assert.Equal(t, response.APIResponseCodeBadRequest, env.Code)
	assert.Equal(t, ErrorCodeInvalidRequest, env.ErrorCode)
}

func TestApiRefund(t *testing.T) {
	ops := &stubAdmin{}
	r := adminRouter(ops, &stubLedger{})

	env := decode(t, do(r, http.MethodPost, "/api/v1/admin/refund", map[string]any{"transaction_id": "t1"}, nil))
	assert.Equal(t, ErrorCodeInvalidRequest, env.ErrorCode)
	assert.Nil(t, ops.refund)

	env = decode(t, do(r, http.MethodPost, "/api/v1/admin/refund",
		map[string]any{"transaction_id": "t1", "reason": "support"}, map[string]string{HeaderOperatorID: "op-7"}))
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	assert.Equal(t, "op-7", ops.refund.OperatorID)
	assert.Nil(t, ops.refund.Amount)
	var item TransactionItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, types.TransactionStatusRefunded, item.Status)
	assert.EqualValues(t, 999, item.RefundedAmount)
	assert.NotNil(t, item.RefundAt)
}

func TestApiRefund_RejectionCodes(t *testing.T) {
	cases := []struct {
		err     error
		wantErr string
	}{
		{reconciliation.ErrRefundWindowExpired, ErrorCodeRefundWindowExpired},
		{reconciliation.ErrAlreadyRefunded, ErrorCodeAlreadyRefunded},
		{reconciliation.ErrInvalidRefundAmount, ErrorCodeInvalidRefundAmount},
		{reconciliation.ErrNotRefundable, ErrorCodeNotRefundable},
		{fmt.Errorf("transaction t1: %w", ledger.ErrNotFound), ErrorCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.wantErr, func(t *testing.T) {
			r := adminRouter(&stubAdmin{refundErr: tc.err}, &stubLedger{})
			env := decode(t, do(r, http.MethodPost, "/api/v1/admin/refund",
				map[string]any{"transaction_id": "t1", "amount": 100, "operator_id": "op"}, nil))
			assert.NotEqual(t, response.APIResponseCodeOK, env.Code)
			assert.Equal(t, tc.wantErr, env.ErrorCode)
		})
	}
}

func TestApiProrationPreview(t *testing.T) {
	r := adminRouter(&stubAdmin{}, &stubLedger{})

	env := decode(t, do(r, http.MethodPost, "/api/v1/admin/proration/preview",
		map[string]any{"subscription_id": "sub-1", "payment_item_id": "gold_monthly_apple"}, nil))
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	assert.Contains(t, string(env.Data), `"to_payment_item_id":"gold_monthly_apple"`)

	env = decode(t, do(r, http.MethodPost, "/api/v1/admin/proration/preview", map[string]any{"subscription_id": "sub-1"}, nil))
	assert.Equal(t, ErrorCodeInvalidRequest, env.ErrorCode)

	env = decode(t, do(r, http.MethodPost, "/api/v1/admin/proration/preview",
		map[string]any{"subscription_id": "missing", "payment_item_id": "gold_monthly_apple"}, nil))
	assert.Equal(t, ErrorCodeNotFound, env.ErrorCode)
}

func TestApiSubscriptionHistory(t *testing.T) {
	r := adminRouter(&stubAdmin{}, &stubLedger{})

	env := decode(t, do(r, http.MethodGet, "/api/v1/admin/subscription/sub-1/history", nil, nil))
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	var out SubscriptionHistoryResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "sub-1", out.Subscription.ID)
	require.Len(t, out.History, 1)
	assert.Equal(t, types.HistoryActionCreated, out.History[0].Action)

	env = decode(t, do(r, http.MethodGet, "/api/v1/admin/subscription/nope/history", nil, nil))
	assert.Equal(t, response.APIResponseCodeNotFound, env.Code)
}

func TestApiRunSweep(t *testing.T) {
	ops := &stubAdmin{}
	r := adminRouter(ops, &stubLedger{})

	env := decode(t, do(r, http.MethodPost, "/api/v1/admin/sweep/all", nil, nil))
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	assert.Equal(t, reconciliation.SweepNames, ops.sweeps)

	env = decode(t, do(r, http.MethodPost, "/api/v1/admin/sweep/"+reconciliation.SweepNameGracePeriods, nil, nil))
	var reports []reconciliation.SweepReport
	require.NoError(t, json.Unmarshal(env.Data, &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, reconciliation.SweepNameGracePeriods, reports[0].Sweep)

	env = decode(t, do(r, http.MethodPost, "/api/v1/admin/sweep/vacuum", nil, nil))
	assert.Equal(t, ErrorCodeUnknownSweep, env.ErrorCode)
}
