package verification

import (
	"net/http"
	"time"

	"github.com/fatflowers/entitler/pkg/types"
)

type EventKind string

const (
	EventKindPurchase           EventKind = "purchase"
	EventKindRenewal            EventKind = "renewal"
	EventKindRecovered          EventKind = "recovered"
	EventKindPlanChange         EventKind = "plan_change"
	EventKindPlanChangeDeferred EventKind = "plan_change_deferred"
	EventKindConsumable         EventKind = "consumable"

	EventKindAutoRenewDisabled    EventKind = "auto_renew_disabled"
	EventKindAutoRenewEnabled     EventKind = "auto_renew_enabled"
	EventKindBillingRetry         EventKind = "billing_retry"
	EventKindGracePeriod          EventKind = "grace_period"
	EventKindExpired              EventKind = "expired"
	EventKindCancelled            EventKind = "cancelled"
	EventKindRefund               EventKind = "refund"
	EventKindRevoke               EventKind = "revoke"
	EventKindPaused               EventKind = "paused"
	EventKindPauseScheduleChanged EventKind = "pause_schedule_changed"
	EventKindRenewalExtended      EventKind = "renewal_extended"

	EventKindPriceChange        EventKind = "price_change"
	EventKindOfferRedeemed      EventKind = "offer_redeemed"
	EventKindRefundDeclined     EventKind = "refund_declined"
	EventKindRefundReversed     EventKind = "refund_reversed"
	EventKindConsumptionRequest EventKind = "consumption_request"

	EventKindTest    EventKind = "test"
	EventKindIgnored EventKind = "ignored"
)

// Monetary reports whether the event records a charge and therefore creates a
// transaction row.
func (k EventKind) Monetary() bool {
	switch k {
	case EventKindPurchase, EventKindRenewal, EventKindRecovered, EventKindPlanChange, EventKindConsumable:
		return true
	}
	return false
}

// Informational kinds only append history.
func (k EventKind) Informational() bool {
	switch k {
	case EventKindPriceChange, EventKindOfferRedeemed, EventKindRefundDeclined, EventKindRefundReversed,
		EventKindConsumptionRequest, EventKindPlanChangeDeferred:
		return true
	}
	return false
}

// CreatesSubscription reports whether a purchase-like event for an unknown
// subscription id may create it. Notifications are narrowed further by the
// engine.
func (k EventKind) CreatesSubscription() bool {
	switch k {
	case EventKindPurchase, EventKindRenewal, EventKindRecovered, EventKindPlanChange:
		return true
	}
	return false
}

type Source string

const (
	SourceReceipt      Source = "receipt"
	SourceNotification Source = "notification"
	SourceAdmin        Source = "admin"
)

type Revocation struct {
	At     time.Time
	Reason string
}

// Event is a verified, rail-neutral purchase event.
type Event struct {
	Provider types.PaymentProvider
	Kind     EventKind
	Source   Source

	ProductID string
	// Item is the catalog entry for ProductID.
	Item *types.PaymentItem
	// PendingProductID is the product a deferred plan change switches to.
	PendingProductID string

	ProviderTransactionID  string
	ProviderSubscriptionID string
	// OriginalTransactionID is the Apple original transaction id or the
	// Google purchase token; stored as the parent of renewals.
	OriginalTransactionID string
	LinkedSubscriptionID  string
	UserID                string

	PurchaseTime   time.Time
	ExpiresAt      *time.Time
	AutoRenewing   *bool
	Trial          bool
	PendingPayment bool
	BillingRetry   bool
	GraceExpiresAt *time.Time
	PausedUntil    *time.Time
	Revocation     *Revocation

	// Amount is in minor units of Currency.
	Amount   int64
	Currency string
	Quantity int64

	Environment      string
	NotificationID   string
	NotificationType string
	PurchaseToken    string
	NeedsAcknowledge bool
	OccurredAt       time.Time
}

// EffectiveExpiry is the later of the period end and the rail grace expiry.
func (e *Event) EffectiveExpiry() *time.Time {
	if e.GraceExpiresAt != nil && (e.ExpiresAt == nil || e.GraceExpiresAt.After(*e.ExpiresAt)) {
		return e.GraceExpiresAt
	}
	return e.ExpiresAt
}

// ReceiptRequest is a client-submitted purchase artifact. Apple clients send
// Receipt or TransactionID; Google clients send ProductID and PurchaseToken.
type ReceiptRequest struct {
	UserID        string `json:"-"`
	Receipt       string `json:"receipt,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	PurchaseToken string `json:"purchase_token,omitempty"`
}

type InboundNotification struct {
	Body       []byte
	Header     http.Header
	ReceivedAt time.Time
}

type AcknowledgeRequest struct {
	ProductID     string
	PurchaseToken string
	Subscription  bool
}
