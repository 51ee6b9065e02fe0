package notification_log

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/tool"
	"github.com/fatflowers/entitler/pkg/types"
)

type Service struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	pending sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Provide flushes pending audit rows on shutdown.
func Provide(lc fx.Lifecycle, db *gorm.DB, log *zap.SugaredLogger) *Service {
	s := New(db, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			s.Flush()
			return nil
		},
	})
	return s
}

// Save asynchronously persists a payment notification log. Nil input is ignored.
func (s *Service) Save(ctx context.Context, entry *models.PaymentNotificationLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if entry.NotificationTime.IsZero() {
		entry.NotificationTime = time.Now().UTC()
	}
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorw("notification_log_save_failed",
				"provider", entry.ProviderID, "notification_id", entry.NotificationID, "error", err)
		}
	}()
}

// Flush blocks until every Save issued so far has been written.
func (s *Service) Flush() { s.pending.Wait() }

// List returns the audit rows of one notification, oldest first.
func (s *Service) List(ctx context.Context, provider types.PaymentProvider, notificationID string) ([]*models.PaymentNotificationLog, error) {
	var rows []*models.PaymentNotificationLog
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND notification_id = ?", provider, notificationID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// Entry builds an audit row. ev may be nil when verification failed; result is
// stored as JSON when non-nil.
func Entry(provider types.PaymentProvider, traceID string, body []byte, ev *verification.Event, status models.PaymentNotificationLogStatus, result any) *models.PaymentNotificationLog {
	entry := &models.PaymentNotificationLog{
		ProviderID:       provider,
		Source:           string(verification.SourceNotification),
		TraceID:          traceID,
		NotificationTime: time.Now().UTC(),
		Data:             rawJSON(body),
		Status:           status,
	}
	if ev != nil {
		entry.Source = string(ev.Source)
		entry.NotificationID = ev.NotificationID
		entry.NotificationType = ev.NotificationType
		entry.TransactionID = ev.ProviderTransactionID
		if ev.UserID != "" {
			entry.UserID = lo.ToPtr(ev.UserID)
		}
		if !ev.OccurredAt.IsZero() {
			entry.NotificationTime = ev.OccurredAt.UTC()
		}
	}
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			j := datatypes.JSON(b)
			entry.Result = &j
		}
	}
	return entry
}

// rawJSON keeps JSON bodies as they are and stores anything else as a JSON
// string.
func rawJSON(body []byte) datatypes.JSON {
	if len(body) == 0 {
		return datatypes.JSON("{}")
	}
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	b, _ := json.Marshal(string(body))
	return datatypes.JSON(b)
}

var Module = fx.Options(
	fx.Provide(Provide),
)
