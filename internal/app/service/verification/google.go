package verification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"

	"github.com/fatflowers/entitler/internal/platform/google/play"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/metrics"
	"github.com/fatflowers/entitler/pkg/tool"
	"github.com/fatflowers/entitler/pkg/types"
)

// PlayClient is the Play Developer API surface used by the Google adapter.
type PlayClient interface {
	VerifySubscription(ctx context.Context, packageName, subscriptionID, token string) (*androidpublisher.SubscriptionPurchase, error)
	VerifyProduct(ctx context.Context, packageName, productID, token string) (*androidpublisher.ProductPurchase, error)
	AcknowledgeSubscription(ctx context.Context, packageName, subscriptionID, token string) error
	AcknowledgeProduct(ctx context.Context, packageName, productID, token string) error
}

// Subscription payment states reported by the Play API.
const (
	playPaymentPending   = 0
	playPaymentReceived  = 1
	playPaymentFreeTrial = 2
	playPaymentDeferred  = 3
)

const (
	playPurchaseStatePurchased = 0
	playPurchaseTypeTest       = 0
)

type GoogleAdapter struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	api    PlayClient
	now    func() time.Time
}

func NewGoogleAdapter(cfg *config.Config, logger *zap.SugaredLogger, api PlayClient) *GoogleAdapter {
	return &GoogleAdapter{cfg: cfg, logger: logger, api: api, now: time.Now}
}

func (g *GoogleAdapter) Provider() types.PaymentProvider { return types.PaymentProviderGoogle }

func (g *GoogleAdapter) DetermineStatus(e *Event, now time.Time) types.SubscriptionStatus {
	return DeriveStatus(e, now)
}

func (g *GoogleAdapter) packageName() string { return g.cfg.GooglePlay.PackageName }

// VerifyReceipt re-reads a purchase token through the Play API.
func (g *GoogleAdapter) VerifyReceipt(ctx context.Context, req *ReceiptRequest) (ev *Event, err error) {
	const op = "verify_purchase"
	start := g.now()
	defer func() { metrics.ObserveVerification(string(g.Provider()), verificationResult(err), start) }()

	if req.ProductID == "" || req.PurchaseToken == "" {
		return nil, newError(ErrorKindMalformed, g.Provider(), op, errors.New("product_id and purchase_token are required"))
	}
	if g.api == nil {
		return nil, newError(ErrorKindAuthFailed, g.Provider(), op, errors.New("google play api is not configured"))
	}
	item, err := g.catalogItem(ctx, op, req.ProductID)
	if err != nil {
		return nil, err
	}
	if item.IsSubscription() {
		ev, err = g.readSubscription(ctx, op, item, req.ProductID, req.PurchaseToken)
	} else {
		ev, err = g.readProduct(ctx, op, item, req.ProductID, req.PurchaseToken)
	}
	if err != nil {
		return nil, err
	}
	ev.Source = SourceReceipt
	if ev.UserID == "" {
		ev.UserID = req.UserID
	} else if req.UserID != "" && ev.UserID != req.UserID {
		return nil, newError(ErrorKindAuthFailed, g.Provider(), op, errors.New("purchase belongs to another account"))
	}
	return ev, nil
}

// VerifyNotification decodes a Pub/Sub push and re-reads the purchase it
// names; the notification body alone is never trusted for state.
func (g *GoogleAdapter) VerifyNotification(ctx context.Context, in *InboundNotification) (ev *Event, err error) {
	const op = "verify_notification"
	start := g.now()
	defer func() { metrics.ObserveVerification(string(g.Provider()), verificationResult(err), start) }()

	env, dn, err := play.DecodePush(in.Body)
	if err != nil {
		return nil, newError(ErrorKindMalformed, g.Provider(), op, err)
	}
	if pkg := g.packageName(); pkg != "" && dn.PackageName != pkg {
		return nil, newError(ErrorKindAuthFailed, g.Provider(), op, fmt.Errorf("package name %q does not match", dn.PackageName))
	}
	base := Event{
		Provider:       g.Provider(),
		Source:         SourceNotification,
		NotificationID: env.Message.MessageID,
		OccurredAt:     lo.Ternary(dn.EventTime().IsZero(), g.now(), dn.EventTime()),
	}

	switch {
	case dn.TestNotification != nil:
		base.Kind = EventKindTest
		base.NotificationType = "TEST"
		return &base, nil

	case dn.VoidedPurchaseNotification != nil:
		v := dn.VoidedPurchaseNotification
		base.Kind = EventKindRefund
		base.NotificationType = "VOIDED_PURCHASE"
		base.ProviderTransactionID = v.OrderID
		base.PurchaseToken = v.PurchaseToken
		if v.ProductType == 1 {
			base.ProviderSubscriptionID = v.PurchaseToken
		}
		base.Revocation = &Revocation{At: base.OccurredAt, Reason: "voided_purchase"}
		return &base, nil

	case dn.SubscriptionNotification != nil:
		sn := dn.SubscriptionNotification
		if g.api == nil {
			return nil, newError(ErrorKindAuthFailed, g.Provider(), op, errors.New("google play api is not configured"))
		}
		item, err := g.catalogItem(ctx, op, sn.SubscriptionID)
		if err != nil {
			return nil, err
		}
		ev, err := g.readSubscription(ctx, op, item, sn.SubscriptionID, sn.PurchaseToken)
		if err != nil {
			return nil, err
		}
		mergeNotification(ev, &base)
		ev.NotificationType = "SUBSCRIPTION_" + strconv.Itoa(sn.NotificationType)
		ev.Kind = googleSubscriptionKind(sn.NotificationType)
		switch ev.Kind {
		case EventKindRevoke:
			ev.Revocation = &Revocation{At: ev.OccurredAt, Reason: "revoked"}
		case EventKindPurchase, EventKindRenewal, EventKindRecovered:
			// A new purchase that replaces an older token is an upgrade or
			// downgrade taking effect.
			if ev.LinkedSubscriptionID != "" && ev.Kind == EventKindPurchase {
				ev.Kind = EventKindPlanChange
			}
		}
		return ev, nil

	case dn.OneTimeProductNotification != nil:
		on := dn.OneTimeProductNotification
		base.NotificationType = "ONE_TIME_PRODUCT_" + strconv.Itoa(on.NotificationType)
		if on.NotificationType != play.OneTimeProductPurchased {
			base.Kind = EventKindIgnored
			base.PurchaseToken = on.PurchaseToken
			return &base, nil
		}
		if g.api == nil {
			return nil, newError(ErrorKindAuthFailed, g.Provider(), op, errors.New("google play api is not configured"))
		}
		item, err := g.catalogItem(ctx, op, on.SKU)
		if err != nil {
			return nil, err
		}
		ev, err := g.readProduct(ctx, op, item, on.SKU, on.PurchaseToken)
		if err != nil {
			return nil, err
		}
		mergeNotification(ev, &base)
		ev.NotificationType = base.NotificationType
		return ev, nil
	}
	return nil, newError(ErrorKindMalformed, g.Provider(), op, errors.New("developer notification carries no payload"))
}

func (g *GoogleAdapter) Acknowledge(ctx context.Context, req *AcknowledgeRequest) error {
	const op = "acknowledge"
	if g.api == nil {
		return newError(ErrorKindAuthFailed, g.Provider(), op, errors.New("google play api is not configured"))
	}
	var err error
	if req.Subscription {
		err = g.api.AcknowledgeSubscription(ctx, g.packageName(), req.ProductID, req.PurchaseToken)
	} else {
		err = g.api.AcknowledgeProduct(ctx, g.packageName(), req.ProductID, req.PurchaseToken)
	}
	if err != nil {
		return g.apiError(op, err)
	}
	return nil
}

// googleSubscriptionKind maps RTDN subscription notification types.
func googleSubscriptionKind(t int) EventKind {
	switch t {
	case play.SubscriptionRecovered:
		return EventKindRecovered
	case play.SubscriptionRenewed:
		return EventKindRenewal
	case play.SubscriptionCanceled:
		return EventKindAutoRenewDisabled
	case play.SubscriptionPurchased:
		return EventKindPurchase
	case play.SubscriptionOnHold:
		return EventKindBillingRetry
	case play.SubscriptionInGracePeriod:
		return EventKindGracePeriod
	case play.SubscriptionRestarted:
		return EventKindAutoRenewEnabled
	case play.SubscriptionPriceChangeConfirmed:
		return EventKindPriceChange
	case play.SubscriptionDeferred:
		return EventKindRenewalExtended
	case play.SubscriptionPaused:
		return EventKindPaused
	case play.SubscriptionPauseScheduleChanged:
		return EventKindPauseScheduleChanged
	case play.SubscriptionRevoked:
		return EventKindRevoke
	case play.SubscriptionExpired:
		return EventKindExpired
	case play.SubscriptionPendingCanceled:
		return EventKindCancelled
	}
	return EventKindIgnored
}

func (g *GoogleAdapter) readSubscription(ctx context.Context, op string, item *types.PaymentItem, productID, token string) (*Event, error) {
	sub, err := g.api.VerifySubscription(ctx, g.packageName(), productID, token)
	if err != nil {
		return nil, g.apiError(op, err)
	}
	ev := &Event{
		Provider:               g.Provider(),
		Kind:                   EventKindPurchase,
		ProductID:              productID,
		Item:                   item,
		ProviderSubscriptionID: token,
		OriginalTransactionID:  token,
		ProviderTransactionID:  orderID(sub.OrderId, token, sub.ExpiryTimeMillis),
		LinkedSubscriptionID:   sub.LinkedPurchaseToken,
		UserID:                 sub.ObfuscatedExternalAccountId,
		PurchaseTime:           msTime(sub.StartTimeMillis),
		ExpiresAt:              msTimePtr(sub.ExpiryTimeMillis),
		AutoRenewing:           lo.ToPtr(sub.AutoRenewing),
		PausedUntil:            msTimePtr(sub.AutoResumeTimeMillis),
		Amount:                 microsToMinor(sub.PriceAmountMicros, item.Amount),
		Currency:               lo.Ternary(sub.PriceCurrencyCode != "", sub.PriceCurrencyCode, item.Currency),
		Quantity:               1,
		Environment:            playEnvironment(sub.PurchaseType),
		PurchaseToken:          token,
		NeedsAcknowledge:       sub.AcknowledgementState == 0,
		OccurredAt:             g.now(),
	}
	if sub.PaymentState != nil {
		switch *sub.PaymentState {
		case playPaymentPending:
			// A pending renewal order is grace or account hold; a pending
			// first order has not been paid yet.
			if isRenewalOrder(sub.OrderId) {
				ev.BillingRetry = true
			} else {
				ev.PendingPayment = true
			}
		case playPaymentFreeTrial:
			ev.Trial = true
		case playPaymentReceived, playPaymentDeferred:
		}
	}
	if !item.Renewable() {
		ev.AutoRenewing = lo.ToPtr(false)
	}
	return ev, nil
}

func (g *GoogleAdapter) readProduct(ctx context.Context, op string, item *types.PaymentItem, productID, token string) (*Event, error) {
	p, err := g.api.VerifyProduct(ctx, g.packageName(), productID, token)
	if err != nil {
		return nil, g.apiError(op, err)
	}
	if p.PurchaseState != playPurchaseStatePurchased {
		verr := newError(ErrorKindNotPurchased, g.Provider(), op, fmt.Errorf("purchase state %d", p.PurchaseState))
		verr.Code = int(p.PurchaseState)
		return nil, verr
	}
	ev := &Event{
		Provider:              g.Provider(),
		Kind:                  purchaseKind(item),
		ProductID:             productID,
		Item:                  item,
		ProviderTransactionID: orderID(p.OrderId, token, p.PurchaseTimeMillis),
		OriginalTransactionID: token,
		UserID:                p.ObfuscatedExternalAccountId,
		PurchaseTime:          msTime(p.PurchaseTimeMillis),
		Amount:                item.Amount,
		Currency:              item.Currency,
		Quantity:              max(p.Quantity, 1),
		Environment:           playEnvironment(p.PurchaseType),
		PurchaseToken:         token,
		NeedsAcknowledge:      p.AcknowledgementState == 0,
		OccurredAt:            g.now(),
	}
	if item.IsSubscription() {
		ev.ProviderSubscriptionID = token
		ev.AutoRenewing = lo.ToPtr(false)
		if !ev.PurchaseTime.IsZero() {
			ev.ExpiresAt = lo.ToPtr(ev.PurchaseTime.Add(item.Duration()))
		}
	}
	return ev, nil
}

func (g *GoogleAdapter) apiError(op string, err error) *Error {
	kind := ErrorKindUnknown
	code := play.StatusCode(err)
	switch {
	case play.IsRetryable(err):
		kind = ErrorKindServerUnavailable
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = ErrorKindAuthFailed
	case code == http.StatusBadRequest:
		kind = ErrorKindMalformed
	case code == http.StatusNotFound:
		kind = ErrorKindNotPurchased
	case code == http.StatusGone:
		kind = ErrorKindExpired
	}
	verr := newError(kind, g.Provider(), op, err)
	verr.Code = code
	return verr
}

func (g *GoogleAdapter) catalogItem(ctx context.Context, op, productID string) (*types.PaymentItem, error) {
	item, err := g.cfg.GetPaymentItemByProviderItemID(ctx, g.Provider(), productID)
	if err != nil {
		return nil, newError(ErrorKindUnsupportedProduct, g.Provider(), op, err)
	}
	return item, nil
}

func mergeNotification(ev, base *Event) {
	ev.Source = base.Source
	ev.NotificationID = base.NotificationID
	ev.OccurredAt = base.OccurredAt
}

// orderID returns the Play order id, which changes on every renewal
// ("GPA.x..0", "GPA.x..1"). Test purchases may omit it, so a stable
// substitute is derived from the token and the period.
func orderID(order, token string, periodMillis int64) string {
	if order != "" {
		return order
	}
	return "token:" + tool.ShortHash(token+":"+strconv.FormatInt(periodMillis, 10))
}

func isRenewalOrder(order string) bool {
	for i := len(order) - 1; i > 0; i-- {
		if order[i] == '.' {
			return order[i-1] == '.' && order[i+1:] != "0"
		}
	}
	return false
}

// microsToMinor converts Play micros to minor units (1/100 of the currency unit).
func microsToMinor(micros, fallback int64) int64 {
	if micros <= 0 {
		return fallback
	}
	return micros / 10000
}

func playEnvironment(purchaseType *int64) string {
	if purchaseType != nil && *purchaseType == playPurchaseTypeTest {
		return "Sandbox"
	}
	return "Production"
}
