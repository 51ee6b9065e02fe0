package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/pkg/types"
)

// SubscriptionHistory is the append-only change log of a subscription.
// Rows are inserted in the same DB transaction as the change they describe.
type SubscriptionHistory struct {
	ID             string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string                   `gorm:"column:subscription_id;type:uuid;not null;index:idx_subscription_id_created_at,priority:1" json:"subscription_id"`
	UserID         string                   `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	Action         types.HistoryAction      `gorm:"column:action;type:varchar(64);not null" json:"action"`
	FromPlan       string                   `gorm:"column:from_plan;type:varchar(64)" json:"from_plan,omitempty"`
	ToPlan         string                   `gorm:"column:to_plan;type:varchar(64)" json:"to_plan,omitempty"`
	FromStatus     types.SubscriptionStatus `gorm:"column:from_status;type:varchar(32)" json:"from_status,omitempty"`
	ToStatus       types.SubscriptionStatus `gorm:"column:to_status;type:varchar(32)" json:"to_status,omitempty"`
	TransactionID  *string                  `gorm:"column:transaction_id;type:uuid" json:"transaction_id,omitempty"`
	// Metadata carries event context such as the notification id and source.
	Metadata  datatypes.JSONMap `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"index:idx_subscription_id_created_at,priority:2" json:"created_at"`
}

func (SubscriptionHistory) TableName() string {
	return "subscription_history"
}
