package types

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired    SubscriptionStatus = "expired"
)

// Terminal reports whether no further transition may leave the status.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

// Live reports whether the status counts toward the one-live-subscription rule.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

type BillingCycle string

const (
	BillingCycleWeekly  BillingCycle = "weekly"
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
	BillingCycleOnce    BillingCycle = "once"
)

// Approx returns a nominal cycle length, used only when a rail omits a period start.
func (c BillingCycle) Approx() time.Duration {
	switch c {
	case BillingCycleWeekly:
		return 7 * 24 * time.Hour
	case BillingCycleMonthly:
		return 30 * 24 * time.Hour
	case BillingCycleYearly:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

type CancellationReason string

const (
	CancellationReasonRefunded     CancellationReason = "refunded"
	CancellationReasonRevoked      CancellationReason = "revoked"
	CancellationReasonUpgraded     CancellationReason = "upgraded"
	CancellationReasonUserCanceled CancellationReason = "user_canceled"
	CancellationReasonPeriodEnded  CancellationReason = "period_ended"
	CancellationReasonPending      CancellationReason = "pending_purchase_canceled"
)

// HistoryAction names one entry of a subscription's append-only history.
type HistoryAction string

const (
	HistoryActionCreated            HistoryAction = "created"
	HistoryActionRenewed            HistoryAction = "renewed"
	HistoryActionPaymentSettled     HistoryAction = "payment_settled"
	HistoryActionPlanChanged        HistoryAction = "plan_changed"
	HistoryActionPlanChangeDeferred HistoryAction = "plan_change_deferred"
	HistoryActionAutoRenewDisabled  HistoryAction = "auto_renew_disabled"
	HistoryActionAutoRenewEnabled   HistoryAction = "auto_renew_enabled"
	HistoryActionGraceStarted       HistoryAction = "grace_started"
	HistoryActionPaymentFailed      HistoryAction = "payment_failed"
	HistoryActionPaymentRecovered   HistoryAction = "payment_recovered"
	HistoryActionExpired            HistoryAction = "expired"
	HistoryActionCancelled          HistoryAction = "cancelled"
	HistoryActionRefunded           HistoryAction = "refunded"
	HistoryActionRevoked            HistoryAction = "revoked"
	HistoryActionPaused             HistoryAction = "paused"
	HistoryActionPauseRescheduled   HistoryAction = "pause_rescheduled"
	HistoryActionResumed            HistoryAction = "resumed"
	HistoryActionPeriodExtended     HistoryAction = "period_extended"
	HistoryActionSuperseded         HistoryAction = "superseded"
	HistoryActionPriceChanged       HistoryAction = "price_changed"
	HistoryActionTrialReminder      HistoryAction = "trial_reminder_sent"
	HistoryActionTrialConverted     HistoryAction = "trial_converted"
	HistoryActionOfferRedeemed      HistoryAction = "offer_redeemed"
	HistoryActionRefundDeclined     HistoryAction = "refund_declined"
	HistoryActionRefundReversed     HistoryAction = "refund_reversed"
	HistoryActionConsumptionRequest HistoryAction = "consumption_requested"
)

// GracePeriod is stored as embedded columns on the subscription so the dunning
// sweep can query end_date directly.
type GracePeriod struct {
	StartDate  *time.Time `gorm:"column:start_date" json:"start_date,omitempty"`
	EndDate    *time.Time `gorm:"column:end_date;index" json:"end_date,omitempty"`
	Reason     string     `gorm:"column:reason;type:varchar(64)" json:"reason,omitempty"`
	RetryCount int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	Resolved   bool       `gorm:"column:resolved;not null;default:false" json:"resolved"`
}

// Open reports whether a grace period has been started and not resolved.
func (g GracePeriod) Open() bool {
	return g.StartDate != nil && !g.Resolved
}
