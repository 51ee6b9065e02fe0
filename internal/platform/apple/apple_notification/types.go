package apple_notification

import (
	"time"

	"github.com/golang-jwt/jwt"
)

// Notification types of App Store Server Notifications V2.
const (
	TypeSubscribed             = "SUBSCRIBED"
	TypeDidRenew               = "DID_RENEW"
	TypeDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	TypeDidChangeRenewalPref   = "DID_CHANGE_RENEWAL_PREF"
	TypeDidFailToRenew         = "DID_FAIL_TO_RENEW"
	TypeGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	TypeExpired                = "EXPIRED"
	TypeOfferRedeemed          = "OFFER_REDEEMED"
	TypePriceIncrease          = "PRICE_INCREASE"
	TypeRefund                 = "REFUND"
	TypeRefundDeclined         = "REFUND_DECLINED"
	TypeRefundReversed         = "REFUND_REVERSED"
	TypeRevoke                 = "REVOKE"
	TypeRenewalExtended        = "RENEWAL_EXTENDED"
	TypeRenewalExtension       = "RENEWAL_EXTENSION"
	TypeConsumptionRequest     = "CONSUMPTION_REQUEST"
	TypeOneTimeCharge          = "ONE_TIME_CHARGE"
	TypeTest                   = "TEST"
)

const (
	SubtypeInitialBuy        = "INITIAL_BUY"
	SubtypeResubscribe       = "RESUBSCRIBE"
	SubtypeUpgrade           = "UPGRADE"
	SubtypeDowngrade         = "DOWNGRADE"
	SubtypeAutoRenewEnabled  = "AUTO_RENEW_ENABLED"
	SubtypeAutoRenewDisabled = "AUTO_RENEW_DISABLED"
	SubtypeGracePeriod       = "GRACE_PERIOD"
	SubtypeBillingRecovery   = "BILLING_RECOVERY"
	SubtypeVoluntary         = "VOLUNTARY"
	SubtypeBillingRetry      = "BILLING_RETRY"
	SubtypeSummary           = "SUMMARY"
	SubtypeFailure           = "FAILURE"
)

const (
	EnvironmentSandbox    = "Sandbox"
	EnvironmentProduction = "Production"
)

type NotificationHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
}

type NotificationPayload struct {
	jwt.StandardClaims
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
	Status                int    `json:"status"`
}

// TransactionInfo is the decoded signedTransactionInfo. Price is in
// milliunits of Currency.
type TransactionInfo struct {
	jwt.StandardClaims
	TransactionID               string `json:"transactionId"`
	OriginalTransactionID       string `json:"originalTransactionId"`
	WebOrderLineItemID          string `json:"webOrderLineItemId"`
	BundleID                    string `json:"bundleId"`
	ProductID                   string `json:"productId"`
	SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier"`
	PurchaseDate                int64  `json:"purchaseDate"`
	OriginalPurchaseDate        int64  `json:"originalPurchaseDate"`
	ExpiresDate                 int64  `json:"expiresDate"`
	Quantity                    int64  `json:"quantity"`
	Type                        string `json:"type"`
	AppAccountToken             string `json:"appAccountToken"`
	InAppOwnershipType          string `json:"inAppOwnershipType"`
	SignedDate                  int64  `json:"signedDate"`
	RevocationReason            *int   `json:"revocationReason"`
	RevocationDate              int64  `json:"revocationDate"`
	IsUpgraded                  bool   `json:"isUpgraded"`
	OfferType                   int    `json:"offerType"`
	OfferIdentifier             string `json:"offerIdentifier"`
	OfferDiscountType           string `json:"offerDiscountType"`
	Environment                 string `json:"environment"`
	TransactionReason           string `json:"transactionReason"`
	Storefront                  string `json:"storefront"`
	Price                       int64  `json:"price"`
	Currency                    string `json:"currency"`
}

// Transaction types reported in TransactionInfo.Type.
const (
	TransactionTypeAutoRenewable = "Auto-Renewable Subscription"
	TransactionTypeNonRenewing   = "Non-Renewing Subscription"
	TransactionTypeConsumable    = "Consumable"
	TransactionTypeNonConsumable = "Non-Consumable"
)

// OfferType 1 is an introductory offer; free trials are introductory offers
// with the FREE_TRIAL discount type.
func (t *TransactionInfo) IsTrial() bool {
	return t.OfferType == 1 && (t.OfferDiscountType == "" || t.OfferDiscountType == "FREE_TRIAL")
}

func (t *TransactionInfo) PurchaseTime() time.Time { return msTime(t.PurchaseDate) }
func (t *TransactionInfo) ExpiresTime() *time.Time { return msTimePtr(t.ExpiresDate) }
func (t *TransactionInfo) RevokedAt() *time.Time   { return msTimePtr(t.RevocationDate) }

type RenewalInfo struct {
	jwt.StandardClaims
	OriginalTransactionID       string `json:"originalTransactionId"`
	AutoRenewProductID          string `json:"autoRenewProductId"`
	ProductID                   string `json:"productId"`
	AutoRenewStatus             int    `json:"autoRenewStatus"`
	ExpirationIntent            int    `json:"expirationIntent"`
	GracePeriodExpiresDate      int64  `json:"gracePeriodExpiresDate"`
	IsInBillingRetryPeriod      bool   `json:"isInBillingRetryPeriod"`
	OfferIdentifier             string `json:"offerIdentifier"`
	OfferType                   int    `json:"offerType"`
	PriceIncreaseStatus         *int   `json:"priceIncreaseStatus"`
	SignedDate                  int64  `json:"signedDate"`
	Environment                 string `json:"environment"`
	RecentSubscriptionStartDate int64  `json:"recentSubscriptionStartDate"`
	RenewalDate                 int64  `json:"renewalDate"`
}

func (r *RenewalInfo) AutoRenewing() bool       { return r.AutoRenewStatus == 1 }
func (r *RenewalInfo) GraceExpires() *time.Time { return msTimePtr(r.GracePeriodExpiresDate) }

// Notification is a verified and decoded delivery. TransactionInfo and
// RenewalInfo are nil when the payload does not carry them.
type Notification struct {
	Payload         *NotificationPayload
	TransactionInfo *TransactionInfo
	RenewalInfo     *RenewalInfo
}

func (n *Notification) IsTest() bool {
	return n.Payload != nil && n.Payload.NotificationType == TypeTest
}

func (n *Notification) IsSandbox() bool {
	return n.Payload != nil && n.Payload.Data.Environment == EnvironmentSandbox
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func msTimePtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
