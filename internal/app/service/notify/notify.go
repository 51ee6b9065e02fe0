// Package notify dispatches user-facing notifications. Delivery is
// fire-and-forget: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/platform/mq"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/logctx"
)

type Type string

const (
	TypeSubscriptionStarted Type = "subscription_started"
	TypeSubscriptionRenewed Type = "subscription_renewed"
	TypePlanChanged         Type = "plan_changed"
	TypePaymentFailed       Type = "payment_failed"
	TypePaymentRecovered    Type = "payment_recovered"
	TypeSubscriptionExpired Type = "subscription_expired"
	TypeSubscriptionEnded   Type = "subscription_cancelled"
	TypeAutoRenewDisabled   Type = "auto_renew_disabled"
	TypeRefunded            Type = "refunded"
	TypeTrialEnding         Type = "trial_ending"
	TypePurchaseCredited    Type = "purchase_credited"
)

type Notification struct {
	Type  Type           `json:"type"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// message is the queue payload consumed by the push service.
type message struct {
	UserID string    `json:"user_id"`
	SentAt time.Time `json:"sent_at"`
	Notification
}

// QueueNotifier publishes notifications to a durable queue.
type QueueNotifier struct {
	pub   mq.Publisher
	queue string
	log   *zap.SugaredLogger
}

func NewQueueNotifier(pub mq.Publisher, queue string, log *zap.SugaredLogger) *QueueNotifier {
	return &QueueNotifier{pub: pub, queue: queue, log: log}
}

func (q *QueueNotifier) Notify(ctx context.Context, userID string, n Notification) error {
	body, err := json.Marshal(message{UserID: userID, SentAt: time.Now().UTC(), Notification: n})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := q.pub.Publish(ctx, q.queue, body); err != nil {
		return err
	}
	logctx.FromCtx(ctx, q.log).Debugw("notification_published", "user_id", userID, "type", n.Type, "queue", q.queue)
	return nil
}

// LogNotifier only logs; used when no broker is configured.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(ctx context.Context, userID string, n Notification) error {
	logctx.FromCtx(ctx, l.log).Infow("notification", "user_id", userID, "type", n.Type, "title", n.Title)
	return nil
}

// NewNotifier publishes to RabbitMQ when amqp.url is set.
func NewNotifier(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (Notifier, error) {
	if cfg.AMQP.URL == "" {
		log.Infow("amqp url not configured, notifications are logged only")
		return NewLogNotifier(log), nil
	}
	conn, err := mq.Dial(cfg.AMQP.URL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Infow("closing amqp connection")
			return conn.Close()
		},
	})
	return NewQueueNotifier(conn, cfg.AMQP.Queue, log), nil
}

var Module = fx.Options(
	fx.Provide(NewNotifier),
)
