package statistics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/internal/platform/db/dbtest"
	"github.com/fatflowers/entitler/pkg/tool"
	"github.com/fatflowers/entitler/pkg/types"
)

var day1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *gorm.DB) {
	gdb := dbtest.Open(t)
	s := New(gdb)
	s.now = func() time.Time { return day1.AddDate(0, 0, 2) }
	return s, gdb
}

func tx(createdAt time.Time, status types.TransactionStatus, currency string, amount int64, first bool) *models.Transaction {
	return &models.Transaction{
		ID:            tool.GenerateUUIDV7(),
		UserID:        "u1",
		ProviderID:    types.PaymentProviderApple,
		TransactionID: fmt.Sprintf("T-%d", createdAt.UnixNano()),
		PaymentItemID: "gold_monthly_apple",
		ProductID:     "com.example.gold.monthly",
		Type:          types.TransactionTypeSubscription,
		Status:        status,
		Amount:        amount,
		FinalAmount:   amount,
		Currency:      currency,
		PurchaseAt:    createdAt,
		Environment:   "Production",
		Extra:         datatypes.NewJSONType(&models.TransactionExtra{IsFirstPurchase: first}),
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func sub(userID string, createdAt time.Time, plan string, status types.SubscriptionStatus) *models.Subscription {
	return &models.Subscription{
		ID:                     tool.GenerateUUIDV7(),
		UserID:                 userID,
		ProviderID:             types.PaymentProviderApple,
		ProviderSubscriptionID: "orig-" + userID + "-" + plan,
		PaymentItemID:          plan + "_monthly_apple",
		ProductID:              "com.example." + plan,
		PlanType:               plan,
		Status:                 status,
		Features:               datatypes.NewJSONType([]string{}),
		CreatedAt:              createdAt,
		UpdatedAt:              createdAt,
	}
}

func seedTransactions(t *testing.T, gdb *gorm.DB) {
	refunded := tx(day1.Add(time.Hour), types.TransactionStatusRefunded, "USD", 999, false)
	refunded.Refund = datatypes.NewJSONType(&types.RefundInfo{Amount: 999, ProcessedAt: day1.AddDate(0, 0, 1)})
	rows := []*models.Transaction{
		tx(day1, types.TransactionStatusSuccess, "USD", 999, true),
		tx(day1.Add(2*time.Hour), types.TransactionStatusSuccess, "EUR", 899, false),
		tx(day1.Add(3*time.Hour), types.TransactionStatusPending, "USD", 999, false),
		refunded,
		tx(day1.AddDate(0, 0, 1), types.TransactionStatusSuccess, "USD", 1999, false),
		tx(day1.AddDate(0, 0, -10), types.TransactionStatusSuccess, "USD", 5000, false),
	}
	for _, r := range rows {
		require.NoError(t, gdb.Create(r).Error)
	}
}

func TestCompute_TransactionStatistics(t *testing.T) {
	s, gdb := newService(t)
	seedTransactions(t, gdb)

	res, err := s.Compute(context.Background(), &Request{
		From:      "2026-03-01",
		To:        "2026-03-02",
		DataItems: []StatisticType{StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeDailyRefundAmount},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", res.From)
	assert.Equal(t, "2026-03-02", res.To)

	assert.Equal(t, []DataItem{
		{Date: "2026-03-01", Value: 4},
		{Date: "2026-03-02", Value: 1},
	}, res.DataItems[StatisticTypeDailyTransactionCount])

	assert.Equal(t, []DataItem{
		{Date: "2026-03-01", Label: "EUR", Value: 899},
		{Date: "2026-03-01", Label: "USD", Value: 1998},
		{Date: "2026-03-02", Label: "USD", Value: 1999},
	}, res.DataItems[StatisticTypeDailyGmv])

	assert.Equal(t, []DataItem{
		{Date: "2026-03-02", Label: "USD", Value: 999},
	}, res.DataItems[StatisticTypeDailyRefundAmount])
}

func TestCompute_Filters(t *testing.T) {
	s, gdb := newService(t)
	seedTransactions(t, gdb)
	ctx := context.Background()

	res, err := s.Compute(ctx, &Request{
		From: "2026-03-01", To: "2026-03-02",
		Filters: []*types.CommonFilter{
			{Field: FilterFieldIsFirstPurchase, Operator: types.CommonFilterOperatorEq, Values: []any{true}},
			// Only narrows subscription statistics.
			{Field: "plan_type", Operator: types.CommonFilterOperatorEq, Values: []any{"silver"}},
		},
		DataItems: []StatisticType{StatisticTypeDailyTransactionCount},
	})
	require.NoError(t, err)
	assert.Equal(t, []DataItem{{Date: "2026-03-01", Value: 1}}, res.DataItems[StatisticTypeDailyTransactionCount])

	res, err = s.Compute(ctx, &Request{
		From: "2026-03-01", To: "2026-03-02",
		Filters:   []*types.CommonFilter{{Field: "currency", Operator: types.CommonFilterOperatorEq, Values: []any{"EUR"}}},
		DataItems: []StatisticType{StatisticTypeDailyGmv},
	})
	require.NoError(t, err)
	assert.Equal(t, []DataItem{{Date: "2026-03-01", Label: "EUR", Value: 899}}, res.DataItems[StatisticTypeDailyGmv])
}

func TestCompute_SubscriptionStatistics(t *testing.T) {
	s, gdb := newService(t)
	for _, row := range []*models.Subscription{
		sub("u1", day1, "gold", types.SubscriptionStatusActive),
		sub("u1", day1.Add(time.Hour), "silver", types.SubscriptionStatusCancelled),
		sub("u2", day1.Add(2*time.Hour), "gold", types.SubscriptionStatusTrialing),
		sub("u3", day1.AddDate(0, 0, 1), "gold", types.SubscriptionStatusActive),
		sub("u4", day1.AddDate(0, 0, 1), "silver", types.SubscriptionStatusExpired),
	} {
		require.NoError(t, gdb.Create(row).Error)
	}

	res, err := s.Compute(context.Background(), &Request{
		From:      "2026-03-01",
		To:        "2026-03-03",
		DataItems: []StatisticType{StatisticTypeDailyNewSubscriptionCount, StatisticTypeLiveSubscriptionCount},
	})
	require.NoError(t, err)

	assert.Equal(t, []DataItem{
		{Date: "2026-03-01", Value: 2},
		{Date: "2026-03-02", Value: 2},
	}, res.DataItems[StatisticTypeDailyNewSubscriptionCount])

	assert.Equal(t, []DataItem{
		{Date: "2026-03-03", Label: "gold/active", Value: 2},
		{Date: "2026-03-03", Label: "gold/trialing", Value: 1},
	}, res.DataItems[StatisticTypeLiveSubscriptionCount])
}

func TestCompute_DefaultRange(t *testing.T) {
	s, _ := newService(t)

	res, err := s.Compute(context.Background(), &Request{DataItems: []StatisticType{StatisticTypeDailyTransactionCount}})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-02", res.From)
	assert.Equal(t, "2026-03-03", res.To)
	assert.Empty(t, res.DataItems[StatisticTypeDailyTransactionCount])
}

func TestCompute_InvalidRequest(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *Request
	}{
		{"no items", &Request{}},
		{"unknown item", &Request{DataItems: []StatisticType{"daily_churn"}}},
		{"bad filter field", &Request{
			Filters:   []*types.CommonFilter{{Field: "purchase_token", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}}},
			DataItems: []StatisticType{StatisticTypeDailyGmv},
		}},
		{"bad date", &Request{From: "03/01/2026", DataItems: []StatisticType{StatisticTypeDailyGmv}}},
		{"reversed range", &Request{From: "2026-03-02", To: "2026-03-01", DataItems: []StatisticType{StatisticTypeDailyGmv}}},
		{"range too long", &Request{From: "2024-01-01", To: "2026-03-01", DataItems: []StatisticType{StatisticTypeDailyGmv}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Compute(ctx, tc.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}
