package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/entitler/pkg/types"
)

func TestStartGracePeriod(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultGracePolicy()

	status, g := p.StartGracePeriod(now, "billing_error", 7)
	require.Equal(t, types.SubscriptionStatusPastDue, status)
	require.NotNil(t, g.StartDate)
	require.NotNil(t, g.EndDate)
	assert.Equal(t, now, *g.StartDate)
	assert.Equal(t, now.AddDate(0, 0, 7), *g.EndDate)
	assert.Equal(t, "billing_error", g.Reason)
	assert.Zero(t, g.RetryCount)
	assert.False(t, g.Resolved)
	assert.True(t, g.Open())

	_, g = p.StartGracePeriod(now, "billing_error", 0)
	assert.Equal(t, now.AddDate(0, 0, DefaultGracePeriodDays), *g.EndDate)
}

func TestRecordPaymentOutcome_Success(t *testing.T) {
	now := time.Now()
	p := DefaultGracePolicy()
	_, g := p.StartGracePeriod(now, "billing_error", 3)

	out := p.RecordPaymentOutcome(g, true, now.Add(time.Hour))
	assert.Equal(t, types.SubscriptionStatusActive, out.Status)
	assert.True(t, out.Grace.Resolved)
	assert.False(t, out.Exhausted)
	assert.False(t, out.Grace.Open())
}

func TestRecordPaymentOutcome_ExhaustsAfterMaxRetries(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p := DefaultGracePolicy()
	_, g := p.StartGracePeriod(now, "billing_error", 3)

	wantWaits := []time.Duration{24 * time.Hour, 72 * time.Hour}
	for i, wait := range wantWaits {
		out := p.RecordPaymentOutcome(g, false, now)
		require.Equal(t, types.SubscriptionStatusPastDue, out.Status, "attempt %d", i+1)
		require.False(t, out.Exhausted)
		require.Equal(t, i+1, out.Grace.RetryCount)
		require.Equal(t, now.Add(wait), *out.Grace.EndDate)
		g = out.Grace
	}

	out := p.RecordPaymentOutcome(g, false, now)
	assert.Equal(t, types.SubscriptionStatusExpired, out.Status)
	assert.True(t, out.Exhausted)
	assert.Equal(t, DefaultMaxRetries, out.Grace.RetryCount)
}

func TestRetryInterval_RepeatsLast(t *testing.T) {
	p := GracePolicy{MaxRetries: 10, RetryIntervals: []time.Duration{time.Hour, 2 * time.Hour}}
	assert.Equal(t, time.Hour, p.RetryInterval(0))
	assert.Equal(t, time.Hour, p.RetryInterval(1))
	assert.Equal(t, 2*time.Hour, p.RetryInterval(2))
	assert.Equal(t, 2*time.Hour, p.RetryInterval(7))
}
