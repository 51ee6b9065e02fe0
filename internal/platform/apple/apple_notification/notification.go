package apple_notification

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/fatflowers/entitler/pkg/keycache"
)

var (
	ErrMalformed        = errors.New("apple jws: malformed")
	ErrInvalidSignature = errors.New("apple jws: invalid signature")
	ErrUntrustedChain   = errors.New("apple jws: untrusted certificate chain")
)

const appleRootCAG3RootPem = `-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----`

// Verifier checks JWS payloads signed by the App Store: ES256 over a leaf
// certificate whose x5c chain ends in the Apple Root CA G3. Verified leaf keys
// are cached by certificate fingerprint.
type Verifier struct {
	roots *x509.CertPool
	keys  *keycache.Cache[*ecdsa.PublicKey]
	now   func() time.Time
}

type Option func(*Verifier)

// WithRoots replaces the trusted roots.
func WithRoots(pool *x509.CertPool) Option {
	return func(v *Verifier) { v.roots = pool }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithKeyCache(c *keycache.Cache[*ecdsa.PublicKey]) Option {
	return func(v *Verifier) { v.keys = c }
}

func NewVerifier(opts ...Option) (*Verifier, error) {
	v := &Verifier{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.roots == nil {
		v.roots = x509.NewCertPool()
		if !v.roots.AppendCertsFromPEM([]byte(appleRootCAG3RootPem)) {
			return nil, errors.New("root certificate couldn't be parsed")
		}
	}
	if v.keys == nil {
		v.keys = keycache.New[*ecdsa.PublicKey](keycache.DefaultTTL)
	}
	return v, nil
}

// Parse verifies a signedPayload and the signed transaction and renewal info
// nested in it.
func (v *Verifier) Parse(ctx context.Context, signedPayload string) (*Notification, error) {
	payload := &NotificationPayload{}
	if err := v.Verify(ctx, signedPayload, payload); err != nil {
		return nil, err
	}
	n := &Notification{Payload: payload}
	if n.IsTest() {
		return n, nil
	}
	if s := payload.Data.SignedTransactionInfo; s != "" {
		ti := &TransactionInfo{}
		if err := v.Verify(ctx, s, ti); err != nil {
			return nil, fmt.Errorf("signed transaction info: %w", err)
		}
		n.TransactionInfo = ti
	}
	if s := payload.Data.SignedRenewalInfo; s != "" {
		ri := &RenewalInfo{}
		if err := v.Verify(ctx, s, ri); err != nil {
			return nil, fmt.Errorf("signed renewal info: %w", err)
		}
		n.RenewalInfo = ri
	}
	return n, nil
}

func (v *Verifier) ParseRenewalInfo(ctx context.Context, signed string) (*RenewalInfo, error) {
	ri := &RenewalInfo{}
	if err := v.Verify(ctx, signed, ri); err != nil {
		return nil, err
	}
	return ri, nil
}

// Verify checks the signature of token and decodes its claims into claims.
func (v *Verifier) Verify(ctx context.Context, token string, claims jwt.Claims) error {
	chain, err := extractChain(token)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(chain[0])
	fingerprint := hex.EncodeToString(sum[:])

	key, err := v.keys.Get(ctx, fingerprint, func(context.Context) (*ecdsa.PublicKey, error) {
		return v.verifyChain(chain)
	})
	if err != nil {
		return err
	}

	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodES256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func extractChain(token string) ([][]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformed)
	}
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	var header NotificationHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if header.Alg != jwt.SigningMethodES256.Alg() {
		return nil, fmt.Errorf("%w: alg %q", ErrInvalidSignature, header.Alg)
	}
	if len(header.X5c) < 2 {
		return nil, fmt.Errorf("%w: x5c chain too short", ErrMalformed)
	}
	chain := make([][]byte, 0, len(header.X5c))
	for i, c := range header.X5c {
		der, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d]: %v", ErrMalformed, i, err)
		}
		chain = append(chain, der)
	}
	return chain, nil
}

func (v *Verifier) verifyChain(chain [][]byte) (*ecdsa.PublicKey, error) {
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return nil, fmt.Errorf("%w: leaf: %v", ErrMalformed, err)
	}
	intermediates := x509.NewCertPool()
	for _, der := range chain[1:] {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: intermediate: %v", ErrMalformed, err)
		}
		intermediates.AddCert(c)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUntrustedChain, err)
	}
	pk, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf key is not ECDSA", ErrInvalidSignature)
	}
	return pk, nil
}
