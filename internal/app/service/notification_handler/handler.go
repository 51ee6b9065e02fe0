// Package notification_handler receives rail webhooks: it enforces the
// payload ceiling and transport auth, verifies the notification through the
// provider adapter and hands the event to the reconciliation engine.
package notification_handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	notificationlog "github.com/fatflowers/entitler/internal/app/service/notification_log"
	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/internal/platform/cache"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/metrics"
	"github.com/fatflowers/entitler/pkg/types"
)

const defaultMaxBodyBytes = 1 << 20

var (
	ErrPayloadTooLarge     = errors.New("notification payload too large")
	ErrUnauthorized        = errors.New("notification sender not authorized")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Disposition is what happened to one delivery once transport checks passed.
type Disposition string

const (
	DispositionHandled   Disposition = "handled"
	DispositionNoop      Disposition = "noop"
	DispositionDropped   Disposition = "dropped"
	DispositionDuplicate Disposition = "duplicate"
	DispositionFailed    Disposition = "failed"
	DispositionRejected  Disposition = "rejected"
)

// Applier is the engine surface the ingress needs.
type Applier interface {
	Apply(ctx context.Context, ev *verification.Event) (*reconciliation.Result, error)
}

// PushAuthorizer checks the bearer token of a Pub/Sub push request.
type PushAuthorizer interface {
	VerifyAuthorization(ctx context.Context, header string) error
}

type NotificationHandler struct {
	cfg       *config.Config
	adapters  *verification.Registry
	engine    Applier
	dedup     cache.Store
	logs      *notificationlog.Service
	push      PushAuthorizer
	appleNets []netip.Prefix
	Logger    *zap.SugaredLogger
}

func NewNotificationHandler(
	cfg *config.Config,
	adapters *verification.Registry,
	engine Applier,
	dedup cache.Store,
	logs *notificationlog.Service,
	push PushAuthorizer,
	log *zap.SugaredLogger,
) (*NotificationHandler, error) {
	nets, err := parseCIDRs(cfg.AppleIAP.AllowedCIDRs)
	if err != nil {
		return nil, err
	}
	return &NotificationHandler{
		cfg:       cfg,
		adapters:  adapters,
		engine:    engine,
		dedup:     dedup,
		logs:      logs,
		push:      push,
		appleNets: nets,
		Logger:    log,
	}, nil
}

func parseCIDRs(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("apple_iap.allowed_cidrs: %w", err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// HandleNotification processes one webhook delivery. The returned error is
// only set for transport failures (ErrPayloadTooLarge, ErrUnauthorized,
// ErrUnsupportedProvider); everything after transport auth is answered with
// success and recorded in the audit log.
func (h *NotificationHandler) HandleNotification(c *gin.Context, provider types.PaymentProvider) (Disposition, error) {
	ctx := c.Request.Context()
	log := logctx.FromGin(c, h.Logger).With("provider", provider)

	adapter, err := h.adapters.Get(provider)
	if err != nil {
		return DispositionRejected, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	body, err := h.readBody(c)
	if err != nil {
		metrics.ObserveWebhook(string(provider), "too_large")
		return DispositionRejected, err
	}
	if err := h.authorize(c, provider); err != nil {
		log.Warnw("webhook_unauthorized", "client_ip", c.ClientIP(), "error", err)
		metrics.ObserveWebhook(string(provider), "unauthorized")
		return DispositionRejected, err
	}

	d := h.process(ctx, log, adapter, provider, c.GetString("traceID"), body, c.Request.Header.Clone())
	metrics.ObserveWebhook(string(provider), string(d))
	return d, nil
}

func (h *NotificationHandler) readBody(c *gin.Context) ([]byte, error) {
	limit := h.cfg.Server.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	if c.Request.ContentLength > limit {
		return nil, ErrPayloadTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read notification body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return body, nil
}

func (h *NotificationHandler) authorize(c *gin.Context, provider types.PaymentProvider) error {
	switch provider {
	case types.PaymentProviderApple:
		if len(h.appleNets) == 0 {
			return nil
		}
		addr, err := netip.ParseAddr(c.ClientIP())
		if err != nil {
			return fmt.Errorf("%w: bad client address %q", ErrUnauthorized, c.ClientIP())
		}
		addr = addr.Unmap()
		for _, p := range h.appleNets {
			if p.Contains(addr) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s is outside the allowlist", ErrUnauthorized, addr)
	case types.PaymentProviderGoogle:
		if !h.cfg.GooglePlay.VerifyPushToken {
			return nil
		}
		if h.push == nil {
			return fmt.Errorf("%w: push verification is not configured", ErrUnauthorized)
		}
		if err := h.push.VerifyAuthorization(c.Request.Context(), c.GetHeader("Authorization")); err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return nil
}

func (h *NotificationHandler) process(ctx context.Context, log *zap.SugaredLogger, adapter verification.Adapter, provider types.PaymentProvider, traceID string, body []byte, header http.Header) Disposition {
	ev, err := adapter.VerifyNotification(ctx, &verification.InboundNotification{
		Body:       body,
		Header:     header,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warnw("webhook_verification_failed", "kind", verification.KindOf(err), "error", err)
		h.logs.Save(ctx, notificationlog.Entry(provider, traceID, body, nil,
			models.PaymentNotificationLogStatusHandleFailed, map[string]any{"error": err.Error()}))
		return DispositionFailed
	}
	log = log.With("notification_id", ev.NotificationID, "notification_type", ev.NotificationType, "kind", ev.Kind)
	h.logs.Save(ctx, notificationlog.Entry(provider, traceID, body, ev, models.PaymentNotificationLogStatusReceived, nil))

	key := dedupKey(provider, ev.NotificationID)
	if key != "" {
		_, seen, err := h.dedup.Get(ctx, key)
		if err != nil {
			log.Warnw("webhook_dedup_lookup_failed", "error", err)
		}
		if seen {
			log.Infow("webhook_duplicate")
			h.logs.Save(ctx, notificationlog.Entry(provider, traceID, body, ev, models.PaymentNotificationLogStatusDuplicate, nil))
			return DispositionDuplicate
		}
	}

	res, err := h.engine.Apply(ctx, ev)
	if err != nil {
		log.Errorw("webhook_apply_failed", "error", err)
		h.logs.Save(ctx, notificationlog.Entry(provider, traceID, body, ev,
			models.PaymentNotificationLogStatusHandleFailed, map[string]any{"error": err.Error()}))
		return DispositionFailed
	}

	status, d := models.PaymentNotificationLogStatusHandled, DispositionHandled
	switch res.Outcome {
	case reconciliation.OutcomeDropped:
		status, d = models.PaymentNotificationLogStatusDropped, DispositionDropped
	case reconciliation.OutcomeNoop:
		d = DispositionNoop
	}
	h.logs.Save(ctx, notificationlog.Entry(provider, traceID, body, ev, status, res))

	if key != "" {
		if _, err := h.dedup.SetNX(ctx, key, string(d), h.dedupTTL()); err != nil {
			log.Warnw("webhook_dedup_mark_failed", "error", err)
		}
	}
	log.Infow("webhook_processed", "disposition", d)
	return d
}

func (h *NotificationHandler) dedupTTL() time.Duration {
	if ttl := h.cfg.Webhook.DedupTTL; ttl > 0 {
		return ttl
	}
	return 72 * time.Hour
}

func dedupKey(provider types.PaymentProvider, notificationID string) string {
	if notificationID == "" {
		return ""
	}
	return "webhook:" + string(provider) + ":" + notificationID
}
