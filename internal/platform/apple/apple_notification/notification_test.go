package apple_notification

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChain struct {
	rootPool *x509.CertPool
	leafKey  *ecdsa.PrivateKey
	x5c      []string
}

func newCert(t *testing.T, tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(24 * time.Hour)

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "Test Root"},
		NotBefore: notBefore, NotAfter: notAfter,
		IsCA: true, BasicConstraintsValid: true, KeyUsage: x509.KeyUsageCertSign,
	}
	root := newCert(t, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)

	interKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	interTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2), Subject: pkix.Name{CommonName: "Test Intermediate"},
		NotBefore: notBefore, NotAfter: notAfter,
		IsCA: true, BasicConstraintsValid: true, KeyUsage: x509.KeyUsageCertSign,
	}
	inter := newCert(t, interTmpl, root, &interKey.PublicKey, rootKey)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3), Subject: pkix.Name{CommonName: "Test Leaf"},
		NotBefore: notBefore, NotAfter: notAfter, KeyUsage: x509.KeyUsageDigitalSignature,
	}
	leaf := newCert(t, leafTmpl, inter, &leafKey.PublicKey, interKey)

	pool := x509.NewCertPool()
	pool.AddCert(root)
	enc := base64.StdEncoding.EncodeToString
	return &testChain{
		rootPool: pool,
		leafKey:  leafKey,
		x5c:      []string{enc(leaf.Raw), enc(inter.Raw), enc(root.Raw)},
	}
}

func (c *testChain) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["x5c"] = c.x5c
	s, err := tok.SignedString(c.leafKey)
	require.NoError(t, err)
	return s
}

func TestVerifier_ParsesNestedPayloads(t *testing.T) {
	chain := newTestChain(t)
	v, err := NewVerifier(WithRoots(chain.rootPool))
	require.NoError(t, err)

	signedTx := chain.sign(t, &TransactionInfo{
		TransactionID: "2000", OriginalTransactionID: "1000", ProductID: "gold.monthly",
		PurchaseDate: 1700000000000, ExpiresDate: 1702592000000, Price: 9990, Currency: "USD",
		Type: TransactionTypeAutoRenewable,
	})
	signedRenewal := chain.sign(t, &RenewalInfo{OriginalTransactionID: "1000", AutoRenewStatus: 1})
	signedPayload := chain.sign(t, &NotificationPayload{
		NotificationType: TypeDidRenew,
		NotificationUUID: "n-1",
		Data: NotificationData{
			BundleID: "com.example.app", Environment: EnvironmentSandbox,
			SignedTransactionInfo: signedTx, SignedRenewalInfo: signedRenewal,
		},
	})

	n, err := v.Parse(context.Background(), signedPayload)
	require.NoError(t, err)
	assert.Equal(t, TypeDidRenew, n.Payload.NotificationType)
	assert.True(t, n.IsSandbox())
	require.NotNil(t, n.TransactionInfo)
	assert.Equal(t, "2000", n.TransactionInfo.TransactionID)
	assert.Equal(t, int64(9990), n.TransactionInfo.Price)
	require.NotNil(t, n.TransactionInfo.ExpiresTime())
	require.NotNil(t, n.RenewalInfo)
	assert.True(t, n.RenewalInfo.AutoRenewing())

	// One leaf, one chain verification.
	assert.Equal(t, 1, v.keys.Len())
}

func TestVerifier_RejectsUntrustedRoot(t *testing.T) {
	chain := newTestChain(t)
	other := newTestChain(t)
	v, err := NewVerifier(WithRoots(other.rootPool))
	require.NoError(t, err)

	_, err = v.Parse(context.Background(), chain.sign(t, &NotificationPayload{NotificationType: TypeTest}))
	require.ErrorIs(t, err, ErrUntrustedChain)
}

func TestVerifier_RejectsTamperedSignature(t *testing.T) {
	chain := newTestChain(t)
	v, err := NewVerifier(WithRoots(chain.rootPool))
	require.NoError(t, err)

	token := chain.sign(t, &NotificationPayload{NotificationType: TypeTest})
	forged := chain.sign(t, &NotificationPayload{NotificationType: TypeRefund})
	// Header and payload of one token with the signature of another.
	tampered := token[:lastDot(token)] + forged[lastDot(forged):]

	_, err = v.Parse(context.Background(), tampered)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifier_RejectsMalformed(t *testing.T) {
	v, err := NewVerifier()
	require.NoError(t, err)

	_, err = v.Parse(context.Background(), "not-a-jws")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVerifier_TestNotificationSkipsNestedData(t *testing.T) {
	chain := newTestChain(t)
	v, err := NewVerifier(WithRoots(chain.rootPool))
	require.NoError(t, err)

	n, err := v.Parse(context.Background(), chain.sign(t, &NotificationPayload{
		NotificationType: TypeTest,
		Data:             NotificationData{SignedTransactionInfo: "garbage"},
	}))
	require.NoError(t, err)
	assert.True(t, n.IsTest())
	assert.Nil(t, n.TransactionInfo)
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
