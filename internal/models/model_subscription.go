package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/pkg/types"
)

// Subscription is the canonical state of one rail subscription. Rows are never
// deleted; a rail id reused after a terminal state gets a new generation row
// linked through SupersededByID.
type Subscription struct {
	ID                     string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID                 string                `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	ProviderID             types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null;uniqueIndex:unique_provider_id_subscription_id,priority:1" json:"provider_id"`
	ProviderSubscriptionID string                `gorm:"column:provider_subscription_id;type:varchar(512);not null;uniqueIndex:unique_provider_id_subscription_id,priority:2" json:"provider_subscription_id"`

	PaymentItemID string             `gorm:"column:payment_item_id;type:varchar(64);not null" json:"payment_item_id"`
	ProductID     string             `gorm:"column:product_id;type:varchar(128);not null" json:"product_id"`
	PlanType      string             `gorm:"column:plan_type;type:varchar(64);not null" json:"plan_type"`
	BillingCycle  types.BillingCycle `gorm:"column:billing_cycle;type:varchar(32)" json:"billing_cycle"`
	// Amount is in minor units of Currency.
	Amount   int64  `gorm:"column:amount;type:bigint;not null;default:0" json:"amount"`
	Currency string `gorm:"column:currency;type:varchar(16)" json:"currency"`

	CurrentPeriodStart *time.Time `gorm:"column:current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `gorm:"column:current_period_end;index" json:"current_period_end"`
	TrialEnd           *time.Time `gorm:"column:trial_end;index" json:"trial_end"`
	PausedUntil        *time.Time `gorm:"column:paused_until" json:"paused_until"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at" json:"cancelled_at"`

	Status             types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	CancelAtPeriodEnd  bool                     `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	AutoRenewing       bool                     `gorm:"column:auto_renewing;not null;default:false" json:"auto_renewing"`
	CancellationReason types.CancellationReason `gorm:"column:cancellation_reason;type:varchar(64)" json:"cancellation_reason,omitempty"`
	Grace              types.GracePeriod        `gorm:"embedded;embeddedPrefix:grace_" json:"grace_period"`
	PauseCount         int                      `gorm:"column:pause_count;not null;default:0" json:"pause_count"`

	// Features is recomputed from the plan catalog whenever PlanType changes.
	Features datatypes.JSONType[[]string] `gorm:"column:features;type:jsonb" json:"features"`

	LinkedSubscriptionID *string `gorm:"column:linked_subscription_id;type:uuid" json:"linked_subscription_id,omitempty"`
	SupersededByID       *string `gorm:"column:superseded_by_id;type:uuid" json:"superseded_by_id,omitempty"`

	Environment         string     `gorm:"column:environment;type:varchar(32)" json:"environment"`
	TrialReminderSentAt *time.Time `gorm:"column:trial_reminder_sent_at" json:"trial_reminder_sent_at,omitempty"`
	Version             int64      `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Granting reports whether the subscription currently confers its plan.
// past_due keeps access while an unresolved grace period has not ended.
func (s *Subscription) Granting(now time.Time) bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case types.SubscriptionStatusActive, types.SubscriptionStatusTrialing:
		return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
	case types.SubscriptionStatusPastDue:
		return s.Grace.Open() && s.Grace.EndDate != nil && s.Grace.EndDate.After(now)
	default:
		return false
	}
}

// ValidUntil is the instant access ends if nothing else happens.
func (s *Subscription) ValidUntil() *time.Time {
	if s == nil {
		return nil
	}
	if s.Status == types.SubscriptionStatusPastDue && s.Grace.Open() && s.Grace.EndDate != nil {
		if s.CurrentPeriodEnd == nil || s.Grace.EndDate.After(*s.CurrentPeriodEnd) {
			return s.Grace.EndDate
		}
	}
	return s.CurrentPeriodEnd
}

func (s *Subscription) FeatureList() []string {
	if s == nil {
		return nil
	}
	return s.Features.Data()
}
