package apple_iap

import (
	"strconv"
	"time"
)

// Receipt status codes documented for verifyReceipt.
const (
	StatusOK                  = 0
	StatusBadJSON             = 21000
	StatusMalformedReceipt    = 21002
	StatusUnauthenticated     = 21003
	StatusSecretMismatch      = 21004
	StatusServerUnavailable   = 21005
	StatusSubscriptionExpired = 21006
	StatusSandboxReceipt      = 21007
	StatusProductionReceipt   = 21008
	StatusInternalError       = 21009
	StatusUserNotFound        = 21010
)

type ReceiptInfo struct {
	Quantity                string `json:"quantity"`
	ProductID               string `json:"product_id"`
	TransactionID           string `json:"transaction_id"`
	OriginalTransactionID   string `json:"original_transaction_id"`
	WebOrderLineItemID      string `json:"web_order_line_item_id"`
	PurchaseDateMs          string `json:"purchase_date_ms"`
	OriginalPurchaseDateMs  string `json:"original_purchase_date_ms"`
	ExpiresDateMs           string `json:"expires_date_ms"`
	CancellationDateMs      string `json:"cancellation_date_ms"`
	CancellationReason      string `json:"cancellation_reason"`
	IsTrialPeriod           string `json:"is_trial_period"`
	IsInIntroOfferPeriod    string `json:"is_in_intro_offer_period"`
	IsUpgraded              string `json:"is_upgraded"`
	InAppOwnershipType      string `json:"in_app_ownership_type"`
	AppAccountToken         string `json:"app_account_token"`
	SubscriptionGroupIDHint string `json:"subscription_group_identifier"`
}

func (r *ReceiptInfo) PurchaseTime() time.Time      { return msToTime(r.PurchaseDateMs) }
func (r *ReceiptInfo) ExpiresTime() *time.Time      { return msToTimePtr(r.ExpiresDateMs) }
func (r *ReceiptInfo) CancellationTime() *time.Time { return msToTimePtr(r.CancellationDateMs) }
func (r *ReceiptInfo) Trial() bool                  { return r.IsTrialPeriod == "true" }

func (r *ReceiptInfo) QuantityInt() int64 {
	n, err := strconv.ParseInt(r.Quantity, 10, 64)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

type PendingRenewalInfo struct {
	AutoRenewProductID       string `json:"auto_renew_product_id"`
	OriginalTransactionID    string `json:"original_transaction_id"`
	ProductID                string `json:"product_id"`
	AutoRenewStatus          string `json:"auto_renew_status"`
	IsInBillingRetryPeriod   string `json:"is_in_billing_retry_period"`
	GracePeriodExpiresDateMs string `json:"grace_period_expires_date_ms"`
	ExpirationIntent         string `json:"expiration_intent"`
	PriceConsentStatus       string `json:"price_consent_status"`
	OfferCodeRefName         string `json:"offer_code_ref_name,omitempty"`
	PromotionalOfferID       string `json:"promotional_offer_id,omitempty"`
	PriceIncreaseStatus      string `json:"price_increase_status,omitempty"`
}

func (p *PendingRenewalInfo) AutoRenewing() bool       { return p.AutoRenewStatus == "1" }
func (p *PendingRenewalInfo) InBillingRetry() bool     { return p.IsInBillingRetryPeriod == "1" }
func (p *PendingRenewalInfo) GraceExpires() *time.Time { return msToTimePtr(p.GracePeriodExpiresDateMs) }

type ReceiptBody struct {
	BundleID string         `json:"bundle_id"`
	InApp    []*ReceiptInfo `json:"in_app"`
}

type ReceiptResponse struct {
	Status             int                   `json:"status"`
	Environment        string                `json:"environment"`
	IsRetryable        bool                  `json:"is-retryable"`
	Receipt            ReceiptBody           `json:"receipt"`
	LatestReceiptInfo  []*ReceiptInfo        `json:"latest_receipt_info"`
	PendingRenewalInfo []*PendingRenewalInfo `json:"pending_renewal_info"`
}

// LatestTransaction returns the transaction with the greatest purchase time,
// looking at latest_receipt_info first and in_app otherwise.
func (r *ReceiptResponse) LatestTransaction() *ReceiptInfo {
	items := r.LatestReceiptInfo
	if len(items) == 0 {
		items = r.Receipt.InApp
	}
	var latest *ReceiptInfo
	var latestMs int64 = -1
	for _, it := range items {
		if it == nil {
			continue
		}
		ms, err := strconv.ParseInt(it.PurchaseDateMs, 10, 64)
		if err != nil {
			continue
		}
		if ms > latestMs {
			latest, latestMs = it, ms
		}
	}
	return latest
}

func (r *ReceiptResponse) RenewalFor(originalTransactionID string) *PendingRenewalInfo {
	for _, p := range r.PendingRenewalInfo {
		if p != nil && p.OriginalTransactionID == originalTransactionID {
			return p
		}
	}
	return nil
}

func msToTime(ms string) time.Time {
	if t := msToTimePtr(ms); t != nil {
		return *t
	}
	return time.Time{}
}

func msToTimePtr(ms string) *time.Time {
	if ms == "" {
		return nil
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	t := time.UnixMilli(n).UTC()
	return &t
}
