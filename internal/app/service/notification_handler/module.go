package notification_handler

import (
	"go.uber.org/fx"

	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/platform/google/play"
	"github.com/fatflowers/entitler/pkg/config"
)

// ProvidePushAuthorizer returns nil unless google_play.verify_push_token is set.
func ProvidePushAuthorizer(cfg *config.Config) PushAuthorizer {
	if !cfg.GooglePlay.VerifyPushToken {
		return nil
	}
	gp := cfg.GooglePlay
	return play.NewPushVerifier(gp.CertsURL, gp.PushAudience, gp.PushServiceAccount, nil)
}

var Module = fx.Options(
	fx.Provide(
		ProvidePushAuthorizer,
		func(e *reconciliation.Engine) Applier { return e },
		NewNotificationHandler,
	),
)
