package play

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/fatflowers/entitler/pkg/keycache"
)

const (
	DefaultCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
	jwksCacheKey    = "google-oidc-jwks"
)

var ErrUnauthorized = errors.New("pubsub push: unauthorized")

type pushClaims struct {
	jwt.StandardClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// PushVerifier authenticates Pub/Sub push requests by their OIDC bearer
// token: RS256 against Google's published keys, issuer accounts.google.com,
// the configured audience and service account.
type PushVerifier struct {
	certsURL       string
	audience       string
	serviceAccount string
	httpClient     *http.Client
	keys           *keycache.Cache[map[string]*rsa.PublicKey]
}

func NewPushVerifier(certsURL, audience, serviceAccount string, httpClient *http.Client) *PushVerifier {
	if certsURL == "" {
		certsURL = DefaultCertsURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushVerifier{
		certsURL:       certsURL,
		audience:       audience,
		serviceAccount: serviceAccount,
		httpClient:     httpClient,
		keys:           keycache.New[map[string]*rsa.PublicKey](keycache.DefaultTTL),
	}
}

// VerifyAuthorization checks an "Authorization: Bearer <jwt>" header value.
func (v *PushVerifier) VerifyAuthorization(ctx context.Context, header string) error {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	claims := &pushClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Issuer != "accounts.google.com" && claims.Issuer != "https://accounts.google.com" {
		return fmt.Errorf("%w: issuer %q", ErrUnauthorized, claims.Issuer)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if v.serviceAccount != "" && (claims.Email != v.serviceAccount || !claims.EmailVerified) {
		return fmt.Errorf("%w: unexpected service account %q", ErrUnauthorized, claims.Email)
	}
	return nil
}

// key returns the signing key for kid, refetching the key set once when kid
// is unknown so rotations are picked up before the cache expires.
func (v *PushVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := v.keys.Get(ctx, jwksCacheKey, v.fetch)
	if err != nil {
		return nil, err
	}
	if k, ok := set[kid]; ok {
		return k, nil
	}
	set, err = v.keys.Refresh(ctx, jwksCacheKey, v.fetch)
	if err != nil {
		return nil, err
	}
	if k, ok := set[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func (v *PushVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var body struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	set := make(map[string]*rsa.PublicKey, len(body.Keys))
	for _, k := range body.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pk, err := k.rsaKey()
		if err != nil {
			return nil, fmt.Errorf("jwk %s: %w", k.Kid, err)
		}
		set[k.Kid] = pk
	}
	return set, nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
