package types

import (
	"fmt"
	"strings"
	"time"
)

type PaymentProvider string

const (
	PaymentProviderApple  PaymentProvider = "apple"
	PaymentProviderGoogle PaymentProvider = "google"
)

// ParsePaymentProvider accepts the provider names used in routes ("apple", "google").
func ParsePaymentProvider(s string) (PaymentProvider, error) {
	switch p := PaymentProvider(strings.ToLower(strings.TrimSpace(s))); p {
	case PaymentProviderApple, PaymentProviderGoogle:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", s)
	}
}

type PaymentItemType string

const (
	PaymentItemTypeAutoRenewableSubscription PaymentItemType = "auto_renewable_subscription"
	PaymentItemTypeNonRenewableSubscription  PaymentItemType = "non_renewable_subscription"
	PaymentItemTypeConsumable                PaymentItemType = "consumable"
)

// PaymentItem is one entry of the product catalog: a rail product id mapped to
// the plan it grants or the consumable items it credits.
type PaymentItem struct {
	ID             string          `json:"id" mapstructure:"id"`
	ProviderID     PaymentProvider `json:"provider_id" mapstructure:"provider_id"`
	ProviderItemID string          `json:"provider_item_id" mapstructure:"provider_item_id"`
	Type           PaymentItemType `json:"type" mapstructure:"type"`
	PlanType       string          `json:"plan_type,omitempty" mapstructure:"plan_type"`
	BillingCycle   BillingCycle    `json:"billing_cycle,omitempty" mapstructure:"billing_cycle"`
	// Amount is the list price in minor units, used when the rail does not report one.
	Amount   int64  `json:"amount" mapstructure:"amount"`
	Currency string `json:"currency" mapstructure:"currency"`
	// DurationHour is set for non-renewable subscriptions only.
	DurationHour *int64 `json:"duration_hour,omitempty" mapstructure:"duration_hour"`
	// ItemType and Quantity describe what a consumable credits.
	ItemType string `json:"item_type,omitempty" mapstructure:"item_type"`
	Quantity int64  `json:"quantity,omitempty" mapstructure:"quantity"`
}

func (item *PaymentItem) IsSubscription() bool {
	return item.Type == PaymentItemTypeAutoRenewableSubscription || item.Type == PaymentItemTypeNonRenewableSubscription
}

func (item *PaymentItem) Renewable() bool {
	return item.Type == PaymentItemTypeAutoRenewableSubscription
}

func (item *PaymentItem) IsConsumable() bool {
	return item.Type == PaymentItemTypeConsumable
}

// Duration returns the fixed entitlement length of a non-renewable item.
func (item *PaymentItem) Duration() time.Duration {
	if item == nil || item.DurationHour == nil {
		return 0
	}
	return time.Duration(*item.DurationHour) * time.Hour
}

// Plan describes a subscription tier. Rank orders plans when a user holds more
// than one granting subscription.
type Plan struct {
	Type     string   `json:"type" mapstructure:"type"`
	Rank     int      `json:"rank" mapstructure:"rank"`
	Features []string `json:"features" mapstructure:"features"`
}

const PlanFree = "free"
