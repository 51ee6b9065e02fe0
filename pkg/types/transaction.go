package types

import "time"

type TransactionType string

const (
	TransactionTypeSubscription TransactionType = "subscription"
	TransactionTypeRenewal      TransactionType = "renewal"
	TransactionTypePlanChange   TransactionType = "plan_change"
	TransactionTypeNonRenewing  TransactionType = "non_renewing"
	TransactionTypeConsumable   TransactionType = "consumable"
)

type TransactionStatus string

const (
	TransactionStatusPending           TransactionStatus = "pending"
	TransactionStatusSuccess           TransactionStatus = "success"
	TransactionStatusFailed            TransactionStatus = "failed"
	TransactionStatusRefunded          TransactionStatus = "refunded"
	TransactionStatusPartiallyRefunded TransactionStatus = "partially_refunded"
)

// Final reports whether the monetary fields of the transaction are frozen.
func (s TransactionStatus) Final() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusRefunded || s == TransactionStatusPartiallyRefunded
}

// TransactionItem is one line of a consumable purchase.
type TransactionItem struct {
	Type      string `json:"type"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type RefundStatus string

const (
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusReversed  RefundStatus = "reversed"
)

// RefundInfo is the refund sub-record of a transaction, the only part that may
// change once the transaction is final.
type RefundInfo struct {
	Amount           int64        `json:"amount"`
	Reason           string       `json:"reason"`
	Status           RefundStatus `json:"status"`
	ProcessedAt      time.Time    `json:"processed_at"`
	ProviderRefundID string       `json:"provider_refund_id,omitempty"`
}
