package types

import "time"

// Entitlement is the user-facing snapshot derived from the ledger.
type Entitlement struct {
	UserID         string             `json:"user_id"`
	PlanType       string             `json:"plan_type"`
	Status         SubscriptionStatus `json:"status,omitempty"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	Provider       PaymentProvider    `json:"provider,omitempty"`
	ValidUntil     *time.Time         `json:"valid_until,omitempty"`
	AutoRenewing   bool               `json:"auto_renewing"`
	Features       []string           `json:"features"`
	Balances       map[string]int64   `json:"balances,omitempty"`
	ComputedAt     time.Time          `json:"computed_at"`
}

func (e *Entitlement) IsFree() bool {
	return e == nil || e.PlanType == PlanFree
}
