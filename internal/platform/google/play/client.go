// Package play wraps the Google Play Developer API and the Pub/Sub push
// transport that delivers Real-time Developer Notifications.
package play

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/awa/go-iap/playstore"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
)

// API is the subset of the Play Developer API the service calls.
type API interface {
	VerifySubscription(ctx context.Context, packageName, subscriptionID, token string) (*androidpublisher.SubscriptionPurchase, error)
	VerifyProduct(ctx context.Context, packageName, productID, token string) (*androidpublisher.ProductPurchase, error)
	AcknowledgeSubscription(ctx context.Context, packageName, subscriptionID, token string, req *androidpublisher.SubscriptionPurchasesAcknowledgeRequest) error
	AcknowledgeProduct(ctx context.Context, packageName, productID, token, developerPayload string) error
}

// Client bounds every Play API call with a timeout.
type Client struct {
	api     API
	timeout time.Duration
}

// New builds a client from a service account JSON key.
func New(serviceAccountJSON []byte, timeout time.Duration) (*Client, error) {
	if len(serviceAccountJSON) == 0 {
		return nil, errors.New("google play service account json is empty")
	}
	c, err := playstore.New(serviceAccountJSON)
	if err != nil {
		return nil, err
	}
	return NewWithAPI(c, timeout), nil
}

func NewWithAPI(api API, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{api: api, timeout: timeout}
}

func (c *Client) VerifySubscription(ctx context.Context, packageName, subscriptionID, token string) (*androidpublisher.SubscriptionPurchase, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.api.VerifySubscription(ctx, packageName, subscriptionID, token)
}

func (c *Client) VerifyProduct(ctx context.Context, packageName, productID, token string) (*androidpublisher.ProductPurchase, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.api.VerifyProduct(ctx, packageName, productID, token)
}

func (c *Client) AcknowledgeSubscription(ctx context.Context, packageName, subscriptionID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.api.AcknowledgeSubscription(ctx, packageName, subscriptionID, token, &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{})
}

func (c *Client) AcknowledgeProduct(ctx context.Context, packageName, productID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.api.AcknowledgeProduct(ctx, packageName, productID, token, "")
}

// IsRetryable reports whether a Play API error is transient: network
// failures, timeouts, HTTP 429 and 5xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// StatusCode returns the HTTP status of a Play API error, or 0.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
