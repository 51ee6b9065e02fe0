package billing

import (
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/entitler/pkg/types"
)

const (
	DefaultMaxRetries      = 3
	DefaultGracePeriodDays = 3
)

var DefaultRetryIntervals = []time.Duration{24 * time.Hour, 72 * time.Hour, 120 * time.Hour}

// GracePolicy holds the dunning parameters.
type GracePolicy struct {
	MaxRetries      int
	RetryIntervals  []time.Duration
	GracePeriodDays int
}

func DefaultGracePolicy() GracePolicy {
	return GracePolicy{
		MaxRetries:      DefaultMaxRetries,
		RetryIntervals:  DefaultRetryIntervals,
		GracePeriodDays: DefaultGracePeriodDays,
	}
}

func (p GracePolicy) maxRetries() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

// RetryInterval is the wait before the next payment attempt after the
// retryCount-th failure. The last interval repeats once the list runs out.
func (p GracePolicy) RetryInterval(retryCount int) time.Duration {
	intervals := p.RetryIntervals
	if len(intervals) == 0 {
		intervals = DefaultRetryIntervals
	}
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(intervals) {
		idx = len(intervals) - 1
	}
	return intervals[idx]
}

// StartGracePeriod returns the state a subscription enters when a renewal
// payment fails. durationDays <= 0 falls back to the policy default.
func (p GracePolicy) StartGracePeriod(now time.Time, reason string, durationDays int) (types.SubscriptionStatus, types.GracePeriod) {
	if durationDays <= 0 {
		durationDays = p.GracePeriodDays
	}
	if durationDays <= 0 {
		durationDays = DefaultGracePeriodDays
	}
	return p.StartGracePeriodUntil(now, reason, now.AddDate(0, 0, durationDays))
}

// StartGracePeriodUntil is StartGracePeriod with an end date reported by the rail.
func (p GracePolicy) StartGracePeriodUntil(now time.Time, reason string, end time.Time) (types.SubscriptionStatus, types.GracePeriod) {
	return types.SubscriptionStatusPastDue, types.GracePeriod{
		StartDate:  lo.ToPtr(now),
		EndDate:    lo.ToPtr(end),
		Reason:     reason,
		RetryCount: 0,
		Resolved:   false,
	}
}

// PaymentOutcome is the result of applying one payment attempt to a grace period.
type PaymentOutcome struct {
	Status    types.SubscriptionStatus
	Grace     types.GracePeriod
	Exhausted bool
}

// RecordPaymentOutcome resolves the grace period on success. On failure it
// counts the retry and either schedules the next attempt or, once MaxRetries
// is reached, expires the subscription.
func (p GracePolicy) RecordPaymentOutcome(g types.GracePeriod, succeeded bool, now time.Time) PaymentOutcome {
	if succeeded {
		g.Resolved = true
		return PaymentOutcome{Status: types.SubscriptionStatusActive, Grace: g}
	}

	if g.StartDate == nil {
		g.StartDate = lo.ToPtr(now)
	}
	g.RetryCount++
	if g.RetryCount >= p.maxRetries() {
		g.EndDate = lo.ToPtr(now)
		return PaymentOutcome{Status: types.SubscriptionStatusExpired, Grace: g, Exhausted: true}
	}
	g.EndDate = lo.ToPtr(now.Add(p.RetryInterval(g.RetryCount)))
	return PaymentOutcome{Status: types.SubscriptionStatusPastDue, Grace: g}
}
