package apple_iap

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/awa/go-iap/appstore"
	"github.com/awa/go-iap/appstore/api"

	cfgpkg "github.com/fatflowers/entitler/pkg/config"
)

type Options struct {
	KeyID        string
	KeyContent   string
	BundleID     string
	Issuer       string
	Sandbox      bool
	SharedSecret string
	// ProductionURL and SandboxURL override the verifyReceipt endpoints.
	ProductionURL string
	SandboxURL    string
	HTTPClient    *http.Client
}

func OptionsFromConfig(cfg *cfgpkg.Config) *Options {
	return &Options{
		KeyID:        cfg.AppleIAP.KeyID,
		KeyContent:   cfg.AppleIAP.KeyContent,
		BundleID:     cfg.AppleIAP.BundleID,
		Issuer:       cfg.AppleIAP.Issuer,
		Sandbox:      !cfg.AppleIAP.IsProd,
		SharedSecret: cfg.AppleIAP.SharedSecret,
	}
}

// ServerAPI is the subset of the App Store Server API the service calls.
type ServerAPI interface {
	GetTransactionInfo(ctx context.Context, transactionID string) (*api.TransactionInfoResponse, error)
	ParseSignedTransaction(transaction string) (*api.JWSTransaction, error)
	GetALLSubscriptionStatuses(ctx context.Context, originalTransactionID string, query *url.Values) (*api.StatusResponse, error)
}

func NewServerAPI(opts *Options) (*api.StoreClient, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}
	c := &api.StoreConfig{
		KeyContent: []byte(opts.KeyContent),
		KeyID:      opts.KeyID,
		BundleID:   opts.BundleID,
		Issuer:     opts.Issuer,
		Sandbox:    opts.Sandbox,
	}
	return api.NewStoreClient(c), nil
}

// ReceiptClient calls the legacy verifyReceipt endpoint. A 21007 answer from
// production is retried against sandbox once by the underlying client.
type ReceiptClient struct {
	client       *appstore.Client
	sharedSecret string
}

func NewReceiptClient(opts *Options) (*ReceiptClient, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}
	client := appstore.New()
	if opts.HTTPClient != nil {
		client = appstore.NewWithClient(opts.HTTPClient)
	}
	if opts.Sandbox {
		client.ProductionURL = client.SandboxURL
	}
	if opts.ProductionURL != "" {
		client.ProductionURL = opts.ProductionURL
	}
	if opts.SandboxURL != "" {
		client.SandboxURL = opts.SandboxURL
	}
	return &ReceiptClient{client: client, sharedSecret: opts.SharedSecret}, nil
}

// Verify returns the decoded response whatever its status field says; callers
// map the status. Transport failures and HTTP 5xx come back as errors.
func (c *ReceiptClient) Verify(ctx context.Context, receiptData string) (*ReceiptResponse, error) {
	var result ReceiptResponse
	err := c.client.Verify(ctx, appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               c.sharedSecret,
		ExcludeOldTransactions: true,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// IsServerError reports whether err is the App Store's 5xx answer.
func IsServerError(err error) bool {
	return errors.Is(err, appstore.ErrAppStoreServer)
}
