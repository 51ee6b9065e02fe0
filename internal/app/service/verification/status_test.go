package verification

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/entitler/pkg/types"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	future := lo.ToPtr(now.Add(48 * time.Hour))
	past := lo.ToPtr(now.Add(-time.Hour))

	cases := []struct {
		name string
		ev   Event
		want types.SubscriptionStatus
	}{
		{"pending payment", Event{PendingPayment: true, ExpiresAt: future}, types.SubscriptionStatusIncomplete},
		{"trial in period", Event{Trial: true, ExpiresAt: future}, types.SubscriptionStatusTrialing},
		{"trial elapsed", Event{Trial: true, ExpiresAt: past}, types.SubscriptionStatusExpired},
		{"elapsed", Event{ExpiresAt: past}, types.SubscriptionStatusExpired},
		{"elapsed but in rail grace", Event{ExpiresAt: past, GraceExpiresAt: future}, types.SubscriptionStatusPastDue},
		{"billing retry", Event{ExpiresAt: future, BillingRetry: true}, types.SubscriptionStatusPastDue},
		{"active", Event{ExpiresAt: future}, types.SubscriptionStatusActive},
		{"auto renew off still active", Event{ExpiresAt: future, AutoRenewing: lo.ToPtr(false)}, types.SubscriptionStatusActive},
		{"no expiry", Event{}, types.SubscriptionStatusActive},
		{"expiry exactly now", Event{ExpiresAt: lo.ToPtr(now)}, types.SubscriptionStatusExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(&tc.ev, now))
		})
	}
}

func TestEventKind_Classes(t *testing.T) {
	assert.True(t, EventKindRenewal.Monetary())
	assert.True(t, EventKindConsumable.Monetary())
	assert.False(t, EventKindAutoRenewDisabled.Monetary())
	assert.False(t, EventKindRefund.Monetary())

	assert.True(t, EventKindPriceChange.Informational())
	assert.True(t, EventKindPlanChangeDeferred.Informational())
	assert.False(t, EventKindExpired.Informational())

	assert.True(t, EventKindPurchase.CreatesSubscription())
	assert.False(t, EventKindExpired.CreatesSubscription())
	assert.False(t, EventKindConsumable.CreatesSubscription())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&AppleAdapter{}, nil)
	a, err := r.Get(types.PaymentProviderApple)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentProviderApple, a.Provider())

	_, err = r.Get(types.PaymentProviderGoogle)
	assert.Error(t, err)
	assert.Equal(t, []types.PaymentProvider{types.PaymentProviderApple}, r.Providers())
}

func TestError_Retryable(t *testing.T) {
	err := error(newError(ErrorKindServerUnavailable, types.PaymentProviderApple, "verify_receipt", nil))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrorKindServerUnavailable, KindOf(err))

	err = newError(ErrorKindMalformed, types.PaymentProviderGoogle, "verify_purchase", nil)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, ErrorKind(""), KindOf(assert.AnError))
}
