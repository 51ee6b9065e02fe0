package verification

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/platform/apple/apple_iap"
	"github.com/fatflowers/entitler/internal/platform/apple/apple_notification"
	"github.com/fatflowers/entitler/internal/platform/google/play"
	"github.com/fatflowers/entitler/pkg/config"
)

// ProvideAppleAdapter wires the App Store clients. The Server API client is
// only built when signing credentials are configured.
func ProvideAppleAdapter(cfg *config.Config, logger *zap.SugaredLogger) (*AppleAdapter, error) {
	opts := apple_iap.OptionsFromConfig(cfg)
	receipts, err := apple_iap.NewReceiptClient(opts)
	if err != nil {
		return nil, fmt.Errorf("apple receipt client: %w", err)
	}
	var server apple_iap.ServerAPI
	if cfg.AppleIAP.KeyID != "" && cfg.AppleIAP.KeyContent != "" {
		client, err := apple_iap.NewServerAPI(opts)
		if err != nil {
			return nil, fmt.Errorf("apple server api: %w", err)
		}
		server = client
	}
	jws, err := apple_notification.NewVerifier()
	if err != nil {
		return nil, fmt.Errorf("apple jws verifier: %w", err)
	}
	return NewAppleAdapter(cfg, logger, receipts, server, jws), nil
}

// ProvideGoogleAdapter wires the Play Developer API. service_account_json may
// hold the key itself or a path to it.
func ProvideGoogleAdapter(cfg *config.Config, logger *zap.SugaredLogger) (*GoogleAdapter, error) {
	raw := strings.TrimSpace(cfg.GooglePlay.ServiceAccountJSON)
	if raw == "" {
		logger.Warn("google play service account is not configured; google verification is disabled")
		return NewGoogleAdapter(cfg, logger, nil), nil
	}
	key := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		b, err := os.ReadFile(raw)
		if err != nil {
			return nil, fmt.Errorf("read google service account: %w", err)
		}
		key = b
	}
	client, err := play.New(key, cfg.Verification.Timeout)
	if err != nil {
		return nil, fmt.Errorf("google play client: %w", err)
	}
	return NewGoogleAdapter(cfg, logger, client), nil
}

func ProvideRegistry(apple *AppleAdapter, google *GoogleAdapter) *Registry {
	return NewRegistry(apple, google)
}

var Module = fx.Options(
	fx.Provide(
		ProvideAppleAdapter,
		ProvideGoogleAdapter,
		ProvideRegistry,
	),
)
