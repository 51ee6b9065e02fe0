package verification

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitler/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/types"
)

func testCatalog() []*types.PaymentItem {
	return []*types.PaymentItem{
		{ID: "gold_monthly_apple", ProviderID: types.PaymentProviderApple, ProviderItemID: "com.example.gold.monthly",
			Type: types.PaymentItemTypeAutoRenewableSubscription, PlanType: "gold", BillingCycle: types.BillingCycleMonthly, Amount: 999, Currency: "USD"},
		{ID: "coins_apple", ProviderID: types.PaymentProviderApple, ProviderItemID: "com.example.coins",
			Type: types.PaymentItemTypeConsumable, ItemType: "coin", Quantity: 100, Amount: 199, Currency: "USD"},
		{ID: "gold_monthly_google", ProviderID: types.PaymentProviderGoogle, ProviderItemID: "gold_monthly",
			Type: types.PaymentItemTypeAutoRenewableSubscription, PlanType: "gold", BillingCycle: types.BillingCycleMonthly, Amount: 999, Currency: "USD"},
		{ID: "coins_google", ProviderID: types.PaymentProviderGoogle, ProviderItemID: "coins_100",
			Type: types.PaymentItemTypeConsumable, ItemType: "coin", Quantity: 100, Amount: 199, Currency: "USD"},
	}
}

type fakeReceipts struct {
	resp *apple_iap.ReceiptResponse
	err  error
}

func (f *fakeReceipts) Verify(context.Context, string) (*apple_iap.ReceiptResponse, error) {
	return f.resp, f.err
}

type jwsChain struct {
	roots   *x509.CertPool
	leafKey *ecdsa.PrivateKey
	x5c     []string
}

func newJWSChain(t *testing.T) *jwsChain {
	t.Helper()
	notBefore, notAfter := time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour)
	mk := func(tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) *x509.Certificate {
		der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
		require.NoError(t, err)
		cert, err := x509.ParseCertificate(der)
		require.NoError(t, err)
		return cert
	}
	key := func() *ecdsa.PrivateKey {
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		return k
	}
	rootKey, interKey, leafKey := key(), key(), key()
	rootTmpl := &x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "root"},
		NotBefore: notBefore, NotAfter: notAfter, IsCA: true, BasicConstraintsValid: true, KeyUsage: x509.KeyUsageCertSign}
	root := mk(rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	interTmpl := &x509.Certificate{SerialNumber: big.NewInt(2), Subject: pkix.Name{CommonName: "intermediate"},
		NotBefore: notBefore, NotAfter: notAfter, IsCA: true, BasicConstraintsValid: true, KeyUsage: x509.KeyUsageCertSign}
	inter := mk(interTmpl, root, &interKey.PublicKey, rootKey)
	leafTmpl := &x509.Certificate{SerialNumber: big.NewInt(3), Subject: pkix.Name{CommonName: "leaf"},
		NotBefore: notBefore, NotAfter: notAfter, KeyUsage: x509.KeyUsageDigitalSignature}
	leaf := mk(leafTmpl, inter, &leafKey.PublicKey, interKey)

	pool := x509.NewCertPool()
	pool.AddCert(root)
	enc := base64.StdEncoding.EncodeToString
	return &jwsChain{roots: pool, leafKey: leafKey, x5c: []string{enc(leaf.Raw), enc(inter.Raw), enc(root.Raw)}}
}

func (c *jwsChain) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["x5c"] = c.x5c
	s, err := tok.SignedString(c.leafKey)
	require.NoError(t, err)
	return s
}

func newTestAppleAdapter(t *testing.T, cfg *config.Config, receipts ReceiptVerifier) (*AppleAdapter, *jwsChain) {
	t.Helper()
	chain := newJWSChain(t)
	v, err := apple_notification.NewVerifier(apple_notification.WithRoots(chain.roots))
	require.NoError(t, err)
	if cfg.PaymentItems == nil {
		cfg.PaymentItems = testCatalog()
	}
	return NewAppleAdapter(cfg, zap.NewNop().Sugar(), receipts, nil, v), chain
}

func TestAppleNotificationKind(t *testing.T) {
	sub := testCatalog()[0]
	coins := testCatalog()[1]
	cases := []struct {
		typ, subtype string
		item         *types.PaymentItem
		want         EventKind
	}{
		{apple_notification.TypeSubscribed, apple_notification.SubtypeInitialBuy, sub, EventKindPurchase},
		{apple_notification.TypeDidRenew, "", sub, EventKindRenewal},
		{apple_notification.TypeDidRenew, apple_notification.SubtypeBillingRecovery, sub, EventKindRecovered},
		{apple_notification.TypeDidChangeRenewalStatus, apple_notification.SubtypeAutoRenewDisabled, sub, EventKindAutoRenewDisabled},
		{apple_notification.TypeDidChangeRenewalStatus, apple_notification.SubtypeAutoRenewEnabled, sub, EventKindAutoRenewEnabled},
		{apple_notification.TypeDidChangeRenewalPref, apple_notification.SubtypeUpgrade, sub, EventKindPlanChange},
		{apple_notification.TypeDidChangeRenewalPref, apple_notification.SubtypeDowngrade, sub, EventKindPlanChangeDeferred},
		{apple_notification.TypeDidFailToRenew, "", sub, EventKindBillingRetry},
		{apple_notification.TypeDidFailToRenew, apple_notification.SubtypeGracePeriod, sub, EventKindGracePeriod},
		{apple_notification.TypeGracePeriodExpired, "", sub, EventKindExpired},
		{apple_notification.TypeExpired, apple_notification.SubtypeVoluntary, sub, EventKindExpired},
		{apple_notification.TypeRefund, "", sub, EventKindRefund},
		{apple_notification.TypeRefundDeclined, "", sub, EventKindRefundDeclined},
		{apple_notification.TypeRevoke, "", sub, EventKindRevoke},
		{apple_notification.TypeRenewalExtended, "", sub, EventKindRenewalExtended},
		{apple_notification.TypePriceIncrease, "", sub, EventKindPriceChange},
		{apple_notification.TypeOneTimeCharge, "", coins, EventKindConsumable},
		{"SOMETHING_NEW", "", sub, EventKindIgnored},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, appleNotificationKind(tc.typ, tc.subtype, tc.item), "%s/%s", tc.typ, tc.subtype)
	}
}

func TestAppleReceiptStatusKind(t *testing.T) {
	assert.Equal(t, ErrorKindMalformed, appleReceiptStatusKind(21002))
	assert.Equal(t, ErrorKindAuthFailed, appleReceiptStatusKind(21004))
	assert.Equal(t, ErrorKindServerUnavailable, appleReceiptStatusKind(21005))
	assert.Equal(t, ErrorKindServerUnavailable, appleReceiptStatusKind(21150))
	assert.Equal(t, ErrorKindExpired, appleReceiptStatusKind(21006))
	assert.Equal(t, ErrorKindEnvironmentMismatch, appleReceiptStatusKind(21007))
	assert.Equal(t, ErrorKindUnknown, appleReceiptStatusKind(42))
}

func TestAppleVerifyReceipt_Legacy(t *testing.T) {
	purchase := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	expires := purchase.AddDate(0, 1, 0)
	ms := func(t time.Time) string { return jsonInt(t.UnixMilli()) }
	resp := &apple_iap.ReceiptResponse{
		Status:      0,
		Environment: "Production",
		Receipt:     apple_iap.ReceiptBody{BundleID: "com.example.app"},
		LatestReceiptInfo: []*apple_iap.ReceiptInfo{{
			ProductID: "com.example.gold.monthly", TransactionID: "1001", OriginalTransactionID: "1000",
			PurchaseDateMs: ms(purchase), ExpiresDateMs: ms(expires), IsTrialPeriod: "false", Quantity: "1",
		}},
		PendingRenewalInfo: []*apple_iap.PendingRenewalInfo{{OriginalTransactionID: "1000", AutoRenewStatus: "0"}},
	}
	a, _ := newTestAppleAdapter(t, &config.Config{AppleIAP: config.AppleIAPConfig{BundleID: "com.example.app"}}, &fakeReceipts{resp: resp})

	ev, err := a.VerifyReceipt(context.Background(), &ReceiptRequest{UserID: "u1", Receipt: "base64"})
	require.NoError(t, err)
	assert.Equal(t, EventKindPurchase, ev.Kind)
	assert.Equal(t, SourceReceipt, ev.Source)
	assert.Equal(t, "1001", ev.ProviderTransactionID)
	assert.Equal(t, "1000", ev.ProviderSubscriptionID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, int64(999), ev.Amount)
	require.NotNil(t, ev.ExpiresAt)
	assert.True(t, expires.Equal(*ev.ExpiresAt))
	require.NotNil(t, ev.AutoRenewing)
	assert.False(t, *ev.AutoRenewing)
	assert.Equal(t, "gold_monthly_apple", ev.Item.ID)
}

func TestAppleVerifyReceipt_StatusErrors(t *testing.T) {
	a, _ := newTestAppleAdapter(t, &config.Config{}, &fakeReceipts{resp: &apple_iap.ReceiptResponse{Status: 21007}})
	_, err := a.VerifyReceipt(context.Background(), &ReceiptRequest{UserID: "u1", Receipt: "x"})
	require.Error(t, err)
	assert.Equal(t, ErrorKindEnvironmentMismatch, KindOf(err))
	assert.False(t, IsRetryable(err))

	a, _ = newTestAppleAdapter(t, &config.Config{}, &fakeReceipts{resp: &apple_iap.ReceiptResponse{Status: 21005}})
	_, err = a.VerifyReceipt(context.Background(), &ReceiptRequest{UserID: "u1", Receipt: "x"})
	assert.True(t, IsRetryable(err))

	a, _ = newTestAppleAdapter(t, &config.Config{}, &fakeReceipts{err: context.DeadlineExceeded})
	_, err = a.VerifyReceipt(context.Background(), &ReceiptRequest{UserID: "u1", Receipt: "x"})
	assert.True(t, IsRetryable(err))

	_, err = a.VerifyReceipt(context.Background(), &ReceiptRequest{UserID: "u1"})
	assert.Equal(t, ErrorKindMalformed, KindOf(err))
}

func TestAppleVerifyReceipt_UnknownProductAndForeignToken(t *testing.T) {
	token, err := apple_iap.UserIDToUUID("b0b")
	require.NoError(t, err)
	now := time.Now()
	resp := &apple_iap.ReceiptResponse{LatestReceiptInfo: []*apple_iap.ReceiptInfo{{
		ProductID: "com.example.unknown", TransactionID: "1", OriginalTransactionID: "1", PurchaseDateMs: jsonInt(now.UnixMilli()),
	}}}
	a, _ := newTestAppleAdapter(t, &config.Config{}, &fakeReceipts{resp: resp})
	_, err = a.VerifyReceipt(context.Background(), &ReceiptRequest{UserID: "a11ce", Receipt: "x"})
	assert.Equal(t, ErrorKindUnsupportedProduct, KindOf(err))

	resp.LatestReceiptInfo[0].ProductID = "com.example.gold.monthly"
	resp.LatestReceiptInfo[0].AppAccountToken = token
	_, err = a.VerifyReceipt(context.Background(), &ReceiptRequest{UserID: "a11ce", Receipt: "x"})
	assert.Equal(t, ErrorKindAuthFailed, KindOf(err))
}

func TestAppleVerifyNotification_DidRenew(t *testing.T) {
	a, chain := newTestAppleAdapter(t, &config.Config{AppleIAP: config.AppleIAPConfig{BundleID: "com.example.app"}}, nil)
	token, err := apple_iap.UserIDToUUID("a11ce")
	require.NoError(t, err)

	purchase := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	signedTx := chain.sign(t, &apple_notification.TransactionInfo{
		TransactionID: "1002", OriginalTransactionID: "1000", ProductID: "com.example.gold.monthly",
		PurchaseDate: purchase.UnixMilli(), ExpiresDate: purchase.AddDate(0, 1, 0).UnixMilli(),
		Price: 9990, Currency: "USD", AppAccountToken: token, Type: apple_notification.TransactionTypeAutoRenewable,
	})
	signedRenewal := chain.sign(t, &apple_notification.RenewalInfo{OriginalTransactionID: "1000", AutoRenewStatus: 1})
	payload := chain.sign(t, &apple_notification.NotificationPayload{
		NotificationType: apple_notification.TypeDidRenew,
		NotificationUUID: "notif-1",
		SignedDate:       purchase.UnixMilli(),
		Data: apple_notification.NotificationData{
			BundleID: "com.example.app", Environment: apple_notification.EnvironmentProduction,
			SignedTransactionInfo: signedTx, SignedRenewalInfo: signedRenewal,
		},
	})
	body, _ := json.Marshal(map[string]string{"signedPayload": payload})

	ev, err := a.VerifyNotification(context.Background(), &InboundNotification{Body: body})
	require.NoError(t, err)
	assert.Equal(t, EventKindRenewal, ev.Kind)
	assert.Equal(t, SourceNotification, ev.Source)
	assert.Equal(t, "notif-1", ev.NotificationID)
	assert.Equal(t, "1002", ev.ProviderTransactionID)
	assert.Equal(t, "1000", ev.ProviderSubscriptionID)
	assert.Equal(t, "a11ce", ev.UserID)
	assert.Equal(t, int64(999), ev.Amount)
	require.NotNil(t, ev.AutoRenewing)
	assert.True(t, *ev.AutoRenewing)
}

func TestAppleVerifyNotification_TestAndEnvironment(t *testing.T) {
	a, chain := newTestAppleAdapter(t, &config.Config{AppleIAP: config.AppleIAPConfig{IsProd: true}}, nil)

	body, _ := json.Marshal(map[string]string{"signedPayload": chain.sign(t, &apple_notification.NotificationPayload{
		NotificationType: apple_notification.TypeTest, NotificationUUID: "t-1",
	})})
	ev, err := a.VerifyNotification(context.Background(), &InboundNotification{Body: body})
	require.NoError(t, err)
	assert.Equal(t, EventKindTest, ev.Kind)

	body, _ = json.Marshal(map[string]string{"signedPayload": chain.sign(t, &apple_notification.NotificationPayload{
		NotificationType: apple_notification.TypeExpired,
		Data:             apple_notification.NotificationData{Environment: apple_notification.EnvironmentSandbox},
	})})
	_, err = a.VerifyNotification(context.Background(), &InboundNotification{Body: body})
	assert.Equal(t, ErrorKindEnvironmentMismatch, KindOf(err))

	_, err = a.VerifyNotification(context.Background(), &InboundNotification{Body: []byte(`{"signedPayload":"not.a.jws"}`)})
	require.Error(t, err)
	assert.Contains(t, []ErrorKind{ErrorKindMalformed, ErrorKindInvalidSignature}, KindOf(err))

	_, err = a.VerifyNotification(context.Background(), &InboundNotification{Body: []byte(`{}`)})
	assert.Equal(t, ErrorKindMalformed, KindOf(err))
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
