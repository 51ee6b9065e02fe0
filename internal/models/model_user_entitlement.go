package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/pkg/types"
)

// UserEntitlement is the denormalized per-user snapshot written by the
// projector. It is derived data; the ledger is the source of truth.
type UserEntitlement struct {
	UserID         string                               `gorm:"column:user_id;type:varchar(64);primary_key" json:"user_id"`
	PlanType       string                               `gorm:"column:plan_type;type:varchar(64);not null" json:"plan_type"`
	Status         types.SubscriptionStatus             `gorm:"column:status;type:varchar(32)" json:"status"`
	SubscriptionID *string                              `gorm:"column:subscription_id;type:uuid" json:"subscription_id"`
	ProviderID     types.PaymentProvider                `gorm:"column:provider_id;type:varchar(64)" json:"provider_id"`
	ValidUntil     *time.Time                           `gorm:"column:valid_until" json:"valid_until"`
	AutoRenewing   bool                                 `gorm:"column:auto_renewing;not null;default:false" json:"auto_renewing"`
	Features       datatypes.JSONType[[]string]         `gorm:"column:features;type:jsonb" json:"features"`
	Balances       datatypes.JSONType[map[string]int64] `gorm:"column:balances;type:jsonb" json:"balances"`
	ComputedAt     time.Time                            `gorm:"column:computed_at" json:"computed_at"`
	UpdatedAt      time.Time                            `json:"updated_at"`
}

func (UserEntitlement) TableName() string {
	return "user_entitlement"
}

func NewUserEntitlement(e *types.Entitlement) *UserEntitlement {
	row := &UserEntitlement{
		UserID:       e.UserID,
		PlanType:     e.PlanType,
		Status:       e.Status,
		ProviderID:   e.Provider,
		ValidUntil:   e.ValidUntil,
		AutoRenewing: e.AutoRenewing,
		Features:     datatypes.NewJSONType(e.Features),
		Balances:     datatypes.NewJSONType(e.Balances),
		ComputedAt:   e.ComputedAt,
	}
	if e.SubscriptionID != "" {
		sid := e.SubscriptionID
		row.SubscriptionID = &sid
	}
	return row
}

func (u *UserEntitlement) ToEntitlement() *types.Entitlement {
	e := &types.Entitlement{
		UserID:       u.UserID,
		PlanType:     u.PlanType,
		Status:       u.Status,
		Provider:     u.ProviderID,
		ValidUntil:   u.ValidUntil,
		AutoRenewing: u.AutoRenewing,
		Features:     u.Features.Data(),
		Balances:     u.Balances.Data(),
		ComputedAt:   u.ComputedAt,
	}
	if u.SubscriptionID != nil {
		e.SubscriptionID = *u.SubscriptionID
	}
	if e.Features == nil {
		e.Features = []string{}
	}
	return e
}
