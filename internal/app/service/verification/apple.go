package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/awa/go-iap/appstore/api"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitler/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/metrics"
	"github.com/fatflowers/entitler/pkg/types"
)

// ReceiptVerifier calls the verifyReceipt endpoint.
type ReceiptVerifier interface {
	Verify(ctx context.Context, receiptData string) (*apple_iap.ReceiptResponse, error)
}

type AppleAdapter struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	receipts ReceiptVerifier
	server   apple_iap.ServerAPI
	jws      *apple_notification.Verifier
	timeout  time.Duration
	now      func() time.Time
}

func NewAppleAdapter(cfg *config.Config, logger *zap.SugaredLogger, receipts ReceiptVerifier, server apple_iap.ServerAPI, jws *apple_notification.Verifier) *AppleAdapter {
	return &AppleAdapter{
		cfg:      cfg,
		logger:   logger,
		receipts: receipts,
		server:   server,
		jws:      jws,
		timeout:  cfg.Verification.Timeout,
		now:      time.Now,
	}
}

func (a *AppleAdapter) Provider() types.PaymentProvider { return types.PaymentProviderApple }

func (a *AppleAdapter) DetermineStatus(e *Event, now time.Time) types.SubscriptionStatus {
	return DeriveStatus(e, now)
}

// Acknowledge is a no-op: the App Store does not refund unacknowledged purchases.
func (a *AppleAdapter) Acknowledge(context.Context, *AcknowledgeRequest) error { return nil }

func (a *AppleAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// VerifyReceipt verifies a transaction id through the App Store Server API
// or, for older clients, a base64 receipt through verifyReceipt.
func (a *AppleAdapter) VerifyReceipt(ctx context.Context, req *ReceiptRequest) (ev *Event, err error) {
	start := a.now()
	defer func() { metrics.ObserveVerification(string(a.Provider()), verificationResult(err), start) }()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	switch {
	case req.TransactionID != "":
		if a.server == nil {
			return nil, newError(ErrorKindAuthFailed, a.Provider(), "verify_transaction", errors.New("app store server api is not configured"))
		}
		return a.verifyTransaction(ctx, req)
	case req.Receipt != "":
		if a.receipts == nil {
			return nil, newError(ErrorKindAuthFailed, a.Provider(), "verify_receipt", errors.New("receipt verification is not configured"))
		}
		return a.verifyLegacyReceipt(ctx, req)
	default:
		return nil, newError(ErrorKindMalformed, a.Provider(), "verify_receipt", errors.New("receipt or transaction_id is required"))
	}
}

func (a *AppleAdapter) verifyLegacyReceipt(ctx context.Context, req *ReceiptRequest) (*Event, error) {
	const op = "verify_receipt"
	resp, err := a.receipts.Verify(ctx, req.Receipt)
	if err != nil {
		return nil, a.transportError(op, err)
	}
	if resp.Status != apple_iap.StatusOK {
		verr := newError(appleReceiptStatusKind(resp.Status), a.Provider(), op, nil)
		verr.Code = resp.Status
		if resp.IsRetryable {
			verr.Kind = ErrorKindServerUnavailable
		}
		return nil, verr
	}
	if bundle := a.cfg.AppleIAP.BundleID; bundle != "" && resp.Receipt.BundleID != "" && resp.Receipt.BundleID != bundle {
		return nil, newError(ErrorKindAuthFailed, a.Provider(), op, fmt.Errorf("receipt bundle id %q does not match", resp.Receipt.BundleID))
	}
	if err := a.checkEnvironment(op, resp.Environment); err != nil {
		return nil, err
	}

	latest := resp.LatestTransaction()
	if latest == nil {
		return nil, newError(ErrorKindNotPurchased, a.Provider(), op, errors.New("receipt contains no transactions"))
	}
	item, err := a.catalogItem(ctx, op, latest.ProductID)
	if err != nil {
		return nil, err
	}
	userID, err := a.resolveUser(op, latest.AppAccountToken, req.UserID)
	if err != nil {
		return nil, err
	}

	ev := &Event{
		Provider:              a.Provider(),
		Kind:                  purchaseKind(item),
		Source:                SourceReceipt,
		ProductID:             latest.ProductID,
		Item:                  item,
		ProviderTransactionID: latest.TransactionID,
		OriginalTransactionID: latest.OriginalTransactionID,
		UserID:                userID,
		PurchaseTime:          latest.PurchaseTime(),
		ExpiresAt:             latest.ExpiresTime(),
		Trial:                 latest.Trial(),
		Amount:                item.Amount,
		Currency:              item.Currency,
		Quantity:              latest.QuantityInt(),
		Environment:           resp.Environment,
		OccurredAt:            a.now(),
	}
	a.completeSubscriptionFields(ev, item)
	if renewal := resp.RenewalFor(latest.OriginalTransactionID); renewal != nil && item.Renewable() {
		ev.AutoRenewing = lo.ToPtr(renewal.AutoRenewing())
		ev.BillingRetry = renewal.InBillingRetry()
		ev.GraceExpiresAt = renewal.GraceExpires()
		if renewal.AutoRenewProductID != "" && renewal.AutoRenewProductID != latest.ProductID {
			ev.PendingProductID = renewal.AutoRenewProductID
		}
	}
	if at := latest.CancellationTime(); at != nil {
		ev.Kind = EventKindRefund
		ev.Revocation = &Revocation{At: *at, Reason: "apple_cancellation_" + latest.CancellationReason}
	}
	return ev, nil
}

func (a *AppleAdapter) verifyTransaction(ctx context.Context, req *ReceiptRequest) (*Event, error) {
	const op = "verify_transaction"
	infoResp, err := a.server.GetTransactionInfo(ctx, req.TransactionID)
	if err != nil {
		return nil, a.transportError(op, err)
	}
	txInfo, err := a.server.ParseSignedTransaction(infoResp.SignedTransactionInfo)
	if err != nil {
		return nil, newError(ErrorKindInvalidSignature, a.Provider(), op, err)
	}

	env := apple_notification.EnvironmentProduction
	if txInfo.Environment != api.Production {
		env = apple_notification.EnvironmentSandbox
	}
	if err := a.checkEnvironment(op, env); err != nil {
		return nil, err
	}
	if txInfo.Type != api.AutoRenewable && txInfo.Type != api.NonRenewable && txInfo.Type != api.Consumable {
		return nil, newError(ErrorKindUnsupportedProduct, a.Provider(), op, fmt.Errorf("unsupported transaction type %q", txInfo.Type))
	}
	item, err := a.catalogItem(ctx, op, txInfo.ProductID)
	if err != nil {
		return nil, err
	}
	userID, err := a.resolveUser(op, txInfo.AppAccountToken, req.UserID)
	if err != nil {
		return nil, err
	}

	ev := &Event{
		Provider:              a.Provider(),
		Kind:                  purchaseKind(item),
		Source:                SourceReceipt,
		ProductID:             txInfo.ProductID,
		Item:                  item,
		ProviderTransactionID: txInfo.TransactionID,
		OriginalTransactionID: txInfo.OriginalTransactionId,
		UserID:                userID,
		PurchaseTime:          msTime(int64(txInfo.PurchaseDate)),
		ExpiresAt:             msTimePtr(int64(txInfo.ExpiresDate)),
		Amount:                milliunitsToMinor(int64(txInfo.Price), item.Amount),
		Currency:              lo.Ternary(txInfo.Currency != "", txInfo.Currency, item.Currency),
		Quantity:              1,
		Environment:           env,
		OccurredAt:            a.now(),
	}
	a.completeSubscriptionFields(ev, item)
	if at := msTimePtr(int64(txInfo.RevocationDate)); at != nil {
		ev.Kind = EventKindRefund
		ev.Revocation = &Revocation{At: *at, Reason: "apple_revocation"}
	}

	if txInfo.Type == api.AutoRenewable {
		if ev.ExpiresAt == nil {
			return nil, newError(ErrorKindMalformed, a.Provider(), op, errors.New("auto-renewable transaction has no expires date"))
		}
		if err := a.attachRenewalStatus(ctx, ev, txInfo.SubscriptionGroupIdentifier); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// attachRenewalStatus reads the auto-renew state of the subscription from
// the status endpoint. Renewal info is verified with the same JWS verifier
// used for notifications.
func (a *AppleAdapter) attachRenewalStatus(ctx context.Context, ev *Event, group string) error {
	const op = "subscription_status"
	statuses, err := a.server.GetALLSubscriptionStatuses(ctx, ev.OriginalTransactionID, nil)
	if err != nil {
		return a.transportError(op, err)
	}
	for _, item := range statuses.Data {
		if group != "" && item.SubscriptionGroupIdentifier != group {
			continue
		}
		for _, last := range item.LastTransactions {
			if last.OriginalTransactionId != ev.OriginalTransactionID || last.SignedRenewalInfo == "" {
				continue
			}
			renewal, err := a.jws.ParseRenewalInfo(ctx, last.SignedRenewalInfo)
			if err != nil {
				return newError(ErrorKindInvalidSignature, a.Provider(), op, err)
			}
			applyRenewalInfo(ev, renewal)
			return nil
		}
	}
	a.logger.Warnw("no renewal info for subscription", "original_transaction_id", ev.OriginalTransactionID)
	return nil
}

// VerifyNotification verifies an App Store Server Notification V2 delivery.
func (a *AppleAdapter) VerifyNotification(ctx context.Context, in *InboundNotification) (ev *Event, err error) {
	const op = "verify_notification"
	start := a.now()
	defer func() { metrics.ObserveVerification(string(a.Provider()), verificationResult(err), start) }()

	var body struct {
		SignedPayload string `json:"signedPayload"`
	}
	if err := json.Unmarshal(in.Body, &body); err != nil || body.SignedPayload == "" {
		return nil, newError(ErrorKindMalformed, a.Provider(), op, errors.New("body has no signedPayload"))
	}
	n, err := a.jws.Parse(ctx, body.SignedPayload)
	if err != nil {
		if errors.Is(err, apple_notification.ErrMalformed) {
			return nil, newError(ErrorKindMalformed, a.Provider(), op, err)
		}
		return nil, newError(ErrorKindInvalidSignature, a.Provider(), op, err)
	}
	p := n.Payload
	if bundle := a.cfg.AppleIAP.BundleID; bundle != "" && p.Data.BundleID != "" && p.Data.BundleID != bundle {
		return nil, newError(ErrorKindAuthFailed, a.Provider(), op, fmt.Errorf("bundle id %q does not match", p.Data.BundleID))
	}

	ev = &Event{
		Provider:         a.Provider(),
		Source:           SourceNotification,
		NotificationID:   p.NotificationUUID,
		NotificationType: notificationType(p.NotificationType, p.Subtype),
		Environment:      p.Data.Environment,
		OccurredAt:       lo.Ternary(p.SignedDate > 0, msTime(p.SignedDate), a.now()),
	}
	if n.IsTest() {
		ev.Kind = EventKindTest
		return ev, nil
	}
	if err := a.checkEnvironment(op, p.Data.Environment); err != nil {
		return nil, err
	}

	ti := n.TransactionInfo
	if ti == nil {
		// Summary deliveries such as RENEWAL_EXTENSION carry no transaction.
		ev.Kind = EventKindIgnored
		return ev, nil
	}
	item, err := a.catalogItem(ctx, op, ti.ProductID)
	if err != nil {
		return nil, err
	}
	ev.Kind = appleNotificationKind(p.NotificationType, p.Subtype, item)
	ev.ProductID = ti.ProductID
	ev.Item = item
	ev.ProviderTransactionID = ti.TransactionID
	ev.OriginalTransactionID = ti.OriginalTransactionID
	ev.PurchaseTime = ti.PurchaseTime()
	ev.ExpiresAt = ti.ExpiresTime()
	ev.Trial = ti.IsTrial()
	ev.Amount = milliunitsToMinor(ti.Price, item.Amount)
	ev.Currency = lo.Ternary(ti.Currency != "", ti.Currency, item.Currency)
	ev.Quantity = max(ti.Quantity, 1)
	if ti.AppAccountToken != "" {
		if uid, err := apple_iap.UUIDToUserID(ti.AppAccountToken); err == nil {
			ev.UserID = uid
		}
	}
	a.completeSubscriptionFields(ev, item)
	if n.RenewalInfo != nil && item.Renewable() {
		applyRenewalInfo(ev, n.RenewalInfo)
	}
	if ev.Kind == EventKindRefund || ev.Kind == EventKindRevoke {
		at := ev.OccurredAt
		if r := ti.RevokedAt(); r != nil {
			at = *r
		}
		ev.Revocation = &Revocation{At: at, Reason: strings.ToLower(p.NotificationType)}
	}
	return ev, nil
}

// appleNotificationKind maps a notification type and subtype to an event kind.
func appleNotificationKind(notificationType, subtype string, item *types.PaymentItem) EventKind {
	switch notificationType {
	case apple_notification.TypeSubscribed:
		return EventKindPurchase
	case apple_notification.TypeDidRenew:
		if subtype == apple_notification.SubtypeBillingRecovery {
			return EventKindRecovered
		}
		return EventKindRenewal
	case apple_notification.TypeDidChangeRenewalStatus:
		if subtype == apple_notification.SubtypeAutoRenewEnabled {
			return EventKindAutoRenewEnabled
		}
		return EventKindAutoRenewDisabled
	case apple_notification.TypeDidChangeRenewalPref:
		if subtype == apple_notification.SubtypeUpgrade {
			return EventKindPlanChange
		}
		return EventKindPlanChangeDeferred
	case apple_notification.TypeDidFailToRenew:
		if subtype == apple_notification.SubtypeGracePeriod {
			return EventKindGracePeriod
		}
		return EventKindBillingRetry
	case apple_notification.TypeGracePeriodExpired, apple_notification.TypeExpired:
		return EventKindExpired
	case apple_notification.TypeOfferRedeemed:
		switch subtype {
		case apple_notification.SubtypeUpgrade:
			return EventKindPlanChange
		case apple_notification.SubtypeDowngrade:
			return EventKindPlanChangeDeferred
		case apple_notification.SubtypeInitialBuy, apple_notification.SubtypeResubscribe:
			return EventKindPurchase
		}
		return EventKindOfferRedeemed
	case apple_notification.TypePriceIncrease:
		return EventKindPriceChange
	case apple_notification.TypeRefund:
		return EventKindRefund
	case apple_notification.TypeRefundDeclined:
		return EventKindRefundDeclined
	case apple_notification.TypeRefundReversed:
		return EventKindRefundReversed
	case apple_notification.TypeRevoke:
		return EventKindRevoke
	case apple_notification.TypeRenewalExtended:
		return EventKindRenewalExtended
	case apple_notification.TypeConsumptionRequest:
		return EventKindConsumptionRequest
	case apple_notification.TypeOneTimeCharge:
		return purchaseKind(item)
	}
	return EventKindIgnored
}

// appleReceiptStatusKind maps verifyReceipt status codes.
func appleReceiptStatusKind(status int) ErrorKind {
	switch status {
	case apple_iap.StatusBadJSON, apple_iap.StatusMalformedReceipt:
		return ErrorKindMalformed
	case apple_iap.StatusUnauthenticated, apple_iap.StatusSecretMismatch, apple_iap.StatusUserNotFound:
		return ErrorKindAuthFailed
	case apple_iap.StatusServerUnavailable, apple_iap.StatusInternalError:
		return ErrorKindServerUnavailable
	case apple_iap.StatusSubscriptionExpired:
		return ErrorKindExpired
	case apple_iap.StatusSandboxReceipt, apple_iap.StatusProductionReceipt:
		return ErrorKindEnvironmentMismatch
	}
	if status >= 21100 && status <= 21199 {
		return ErrorKindServerUnavailable
	}
	return ErrorKindUnknown
}

func (a *AppleAdapter) transportError(op string, err error) *Error {
	var retryable interface{ Retryable() bool }
	var nerr net.Error
	switch {
	case apple_iap.IsServerError(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &nerr),
		errors.As(err, &retryable) && retryable.Retryable():
		return newError(ErrorKindServerUnavailable, a.Provider(), op, err)
	}
	return newError(ErrorKindUnknown, a.Provider(), op, err)
}

// checkEnvironment rejects sandbox purchases in production unless sandbox
// purchases are explicitly allowed.
func (a *AppleAdapter) checkEnvironment(op, env string) error {
	if a.cfg.AppleIAP.IsProd && env == apple_notification.EnvironmentSandbox && !a.cfg.AppleIAP.AllowSandbox {
		return newError(ErrorKindEnvironmentMismatch, a.Provider(), op, errors.New("sandbox purchase in production"))
	}
	return nil
}

func (a *AppleAdapter) catalogItem(ctx context.Context, op, productID string) (*types.PaymentItem, error) {
	item, err := a.cfg.GetPaymentItemByProviderItemID(ctx, a.Provider(), productID)
	if err != nil {
		return nil, newError(ErrorKindUnsupportedProduct, a.Provider(), op, err)
	}
	return item, nil
}

// resolveUser prefers the user encoded in appAccountToken. A token that names
// a different user than the caller means the receipt belongs to someone else.
func (a *AppleAdapter) resolveUser(op, token, requester string) (string, error) {
	if token == "" {
		return requester, nil
	}
	uid, err := apple_iap.UUIDToUserID(token)
	if err != nil {
		return requester, nil
	}
	if requester != "" && !strings.EqualFold(uid, requester) {
		return "", newError(ErrorKindAuthFailed, a.Provider(), op, errors.New("app account token belongs to another user"))
	}
	return uid, nil
}

// completeSubscriptionFields fills the subscription id and, for
// non-renewing items, the fixed expiry.
func (a *AppleAdapter) completeSubscriptionFields(ev *Event, item *types.PaymentItem) {
	switch {
	case item.Renewable():
		ev.ProviderSubscriptionID = lo.Ternary(ev.OriginalTransactionID != "", ev.OriginalTransactionID, ev.ProviderTransactionID)
	case item.IsSubscription():
		ev.ProviderSubscriptionID = ev.ProviderTransactionID
		if ev.ExpiresAt == nil && !ev.PurchaseTime.IsZero() {
			ev.ExpiresAt = lo.ToPtr(ev.PurchaseTime.Add(item.Duration()))
		}
		ev.AutoRenewing = lo.ToPtr(false)
	}
}

func applyRenewalInfo(ev *Event, r *apple_notification.RenewalInfo) {
	ev.AutoRenewing = lo.ToPtr(r.AutoRenewing())
	ev.BillingRetry = r.IsInBillingRetryPeriod
	ev.GraceExpiresAt = r.GraceExpires()
	if r.AutoRenewProductID != "" && r.AutoRenewProductID != ev.ProductID {
		ev.PendingProductID = r.AutoRenewProductID
	}
}

func purchaseKind(item *types.PaymentItem) EventKind {
	if item.IsConsumable() {
		return EventKindConsumable
	}
	return EventKindPurchase
}

// milliunitsToMinor converts an App Store price (milliunits) to minor units,
// falling back to the catalog price when the rail reports none.
func milliunitsToMinor(price, fallback int64) int64 {
	if price <= 0 {
		return fallback
	}
	return price / 10
}

func notificationType(t, subtype string) string {
	if subtype == "" {
		return t
	}
	return t + "." + subtype
}

func verificationResult(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return string(ErrorKindUnknown)
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
	return lo.ToPtr(msTime(ms))
}
