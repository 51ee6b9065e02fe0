package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/pkg/types"
)

type TransactionExtra struct {
	OperatorID string `json:"operator_id,omitempty"`
	// PaymentItemSnapshot freezes the catalog entry at purchase time.
	PaymentItemSnapshot *types.PaymentItem `json:"payment_item_snapshot,omitempty"`
	IsFirstPurchase     bool               `json:"is_first_purchase"`
	// Source is "receipt" or "notification".
	Source         string `json:"source,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

// Transaction is one monetary event on a rail. (ProviderID, TransactionID) is
// unique and is the idempotency key for replays.
type Transaction struct {
	ID                  string                  `gorm:"column:id;primary_key;type:uuid;index:idx_user_id_id,priority:2,sort:desc" json:"id"`
	UserID              string                  `gorm:"column:user_id;type:varchar(64);not null;index:idx_user_id_id,priority:1" json:"user_id"`
	SubscriptionID      *string                 `gorm:"column:subscription_id;type:uuid;index" json:"subscription_id,omitempty"`
	ProviderID          types.PaymentProvider   `gorm:"column:provider_id;type:varchar(64);not null;uniqueIndex:unique_provider_id_transaction_id,priority:1" json:"provider_id"`
	TransactionID       string                  `gorm:"column:transaction_id;type:varchar(128);not null;uniqueIndex:unique_provider_id_transaction_id,priority:2" json:"transaction_id"`
	ParentTransactionID *string                 `gorm:"column:parent_transaction_id;type:varchar(512)" json:"parent_transaction_id,omitempty"`
	PaymentItemID       string                  `gorm:"column:payment_item_id;type:varchar(64);not null" json:"payment_item_id"`
	ProductID           string                  `gorm:"column:product_id;type:varchar(128);not null" json:"product_id"`
	Type                types.TransactionType   `gorm:"column:type;type:varchar(32);not null" json:"type"`
	Status              types.TransactionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`

	Amount      int64  `gorm:"column:amount;type:bigint;not null;default:0" json:"amount"`
	Tax         int64  `gorm:"column:tax;type:bigint;not null;default:0" json:"tax"`
	Discount    int64  `gorm:"column:discount;type:bigint;not null;default:0" json:"discount"`
	FinalAmount int64  `gorm:"column:final_amount;type:bigint;not null;default:0" json:"final_amount"`
	Currency    string `gorm:"column:currency;type:varchar(16)" json:"currency"`

	Items  datatypes.JSONType[[]types.TransactionItem] `gorm:"column:items;type:jsonb" json:"items"`
	Refund datatypes.JSONType[*types.RefundInfo]       `gorm:"column:refund;type:jsonb" json:"refund"`

	PurchaseAt       time.Time  `gorm:"column:purchase_at" json:"purchase_at"`
	ExpireAt         *time.Time `gorm:"column:expire_at;default:null" json:"expire_at"`
	Environment      string     `gorm:"column:environment;type:varchar(32)" json:"environment"`
	PurchaseToken    string     `gorm:"column:purchase_token;type:text" json:"-"`
	NeedsAcknowledge bool       `gorm:"column:needs_acknowledge;not null;default:false;index" json:"needs_acknowledge"`
	AcknowledgedAt   *time.Time `gorm:"column:acknowledged_at" json:"acknowledged_at,omitempty"`

	Extra     datatypes.JSONType[*TransactionExtra] `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time                             `json:"created_at"`
	UpdatedAt time.Time                             `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}

func (t *Transaction) GetPaymentItemSnapshot() *types.PaymentItem {
	if t == nil || t.Extra.Data() == nil {
		return nil
	}
	return t.Extra.Data().PaymentItemSnapshot
}

func (t *Transaction) RefundInfo() *types.RefundInfo {
	if t == nil {
		return nil
	}
	return t.Refund.Data()
}

// IsRefunded treats partial refunds as refunded for the purpose of rejecting
// a second refund.
func (t *Transaction) IsRefunded() bool {
	return t != nil && (t.Status == types.TransactionStatusRefunded || t.Status == types.TransactionStatusPartiallyRefunded)
}

// ComputeFinalAmount returns amount + tax - discount.
func ComputeFinalAmount(amount, tax, discount int64) int64 {
	return amount + tax - discount
}
