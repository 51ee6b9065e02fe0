// Package ledger persists subscriptions, transactions and subscription history.
// All writes of one reconciliation go through a Store bound to a single DB
// transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/internal/platform/db"
	"github.com/fatflowers/entitler/pkg/tool"
	"github.com/fatflowers/entitler/pkg/types"
)

var (
	ErrNotFound        = errors.New("ledger: record not found")
	ErrDuplicate       = errors.New("ledger: duplicate key")
	ErrVersionConflict = errors.New("ledger: subscription was modified concurrently")
)

// maxSupersedeHops bounds the walk along SupersededByID links.
const maxSupersedeHops = 16

type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewStore(gdb *gorm.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: gdb, log: log}
}

// WithTx runs fn with a Store bound to one DB transaction. Any error returned
// by fn rolls the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&Store{db: gtx, log: s.log})
	})
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, translate(err, "get subscription")
	}
	return &sub, nil
}

// FindSubscription resolves a rail subscription id to its newest generation,
// following SupersededByID links.
func (s *Store) FindSubscription(ctx context.Context, provider types.PaymentProvider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, translate(err, "find subscription")
	}
	cur := &sub
	for hops := 0; cur.SupersededByID != nil && hops < maxSupersedeHops; hops++ {
		next, err := s.GetSubscription(ctx, *cur.SupersededByID)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (s *Store) ListUserSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	var rows []*models.Subscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, translate(err, "list user subscriptions")
	}
	return rows, nil
}

// LiveSubscriptions returns the user's active or trialing subscriptions other
// than excludeID.
func (s *Store) LiveSubscriptions(ctx context.Context, userID, excludeID string) ([]*models.Subscription, error) {
	var rows []*models.Subscription
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing}).
		Where("superseded_by_id IS NULL")
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate(err, "live subscriptions")
	}
	return rows, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	sub.Version = 1
	return translate(s.db.WithContext(ctx).Create(sub).Error, "create subscription")
}

// UpdateSubscription writes every column of sub if the stored version still
// equals sub.Version, then bumps the version.
func (s *Store) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	prev := sub.Version
	sub.Version = prev + 1
	res := s.db.WithContext(ctx).Model(sub).
		Where("version = ?", prev).
		Select("*").Omit("created_at").
		Updates(sub)
	if res.Error != nil {
		sub.Version = prev
		return translate(res.Error, "update subscription")
	}
	if res.RowsAffected == 0 {
		sub.Version = prev
		return ErrVersionConflict
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err, "get transaction")
	}
	return &t, nil
}

func (s *Store) FindTransaction(ctx context.Context, provider types.PaymentProvider, providerTransactionID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.WithContext(ctx).
		Where("provider_id = ? AND transaction_id = ?", provider, providerTransactionID).
		First(&t).Error; err != nil {
		return nil, translate(err, "find transaction")
	}
	return &t, nil
}

// CreateTransaction inserts t. A replay of the same (provider, transaction id)
// fails with ErrDuplicate.
func (s *Store) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if t.ID == "" {
		t.ID = tool.GenerateUUIDV7()
	}
	return translate(s.db.WithContext(ctx).Create(t).Error, "create transaction")
}

func (s *Store) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	return translate(s.db.WithContext(ctx).Save(t).Error, "save transaction")
}

func (s *Store) CountUserTransactions(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, translate(err, "count user transactions")
	}
	return n, nil
}

func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]*models.Transaction, error) {
	var rows []*models.Transaction
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("purchase_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, translate(err, "list user transactions")
	}
	return rows, nil
}

func (s *Store) ListSubscriptionTransactions(ctx context.Context, subscriptionID string) ([]*models.Transaction, error) {
	var rows []*models.Transaction
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Order("purchase_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, translate(err, "list subscription transactions")
	}
	return rows, nil
}

// LatestSubscriptionTransaction returns the successful transaction with the
// greatest purchase time, or ErrNotFound.
func (s *Store) LatestSubscriptionTransaction(ctx context.Context, subscriptionID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, types.TransactionStatusSuccess).
		Order("purchase_at DESC").Order("id DESC").
		First(&t).Error; err != nil {
		return nil, translate(err, "latest subscription transaction")
	}
	return &t, nil
}

func (s *Store) AppendHistory(ctx context.Context, h *models.SubscriptionHistory) error {
	if h.ID == "" {
		h.ID = tool.GenerateUUIDV7()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	return translate(s.db.WithContext(ctx).Create(h).Error, "append history")
}

// ListHistory returns the history of a subscription oldest first.
func (s *Store) ListHistory(ctx context.Context, subscriptionID string) ([]*models.SubscriptionHistory, error) {
	var rows []*models.SubscriptionHistory
	if err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, translate(err, "list history")
	}
	return rows, nil
}

// HistoryHasNotification reports whether a history row of the subscription
// was written for the given rail notification id.
func (s *Store) HistoryHasNotification(ctx context.Context, subscriptionID, notificationID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.SubscriptionHistory{}).
		Where("subscription_id = ?", subscriptionID).
		Where(datatypes.JSONQuery("metadata").Equals(notificationID, "notification_id")).
		Count(&n).Error; err != nil {
		return false, translate(err, "history has notification")
	}
	return n > 0, nil
}

// GraceEnded returns past_due subscriptions whose unresolved grace period
// ended at or before now.
func (s *Store) GraceEnded(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	var rows []*models.Subscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND grace_resolved = ? AND grace_end_date IS NOT NULL AND grace_end_date <= ?",
			types.SubscriptionStatusPastDue, false, now).
		Order("grace_end_date ASC").Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, translate(err, "grace ended")
	}
	return rows, nil
}

// TrialsEndingBefore returns trialing subscriptions whose trial ends before
// until and that have not been reminded yet.
func (s *Store) TrialsEndingBefore(ctx context.Context, until time.Time, limit int) ([]*models.Subscription, error) {
	var rows []*models.Subscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND trial_end IS NOT NULL AND trial_end <= ? AND trial_reminder_sent_at IS NULL",
			types.SubscriptionStatusTrialing, until).
		Order("trial_end ASC").Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, translate(err, "trials ending")
	}
	return rows, nil
}

// LapsedBefore returns granting subscriptions whose period ended before
// cutoff, i.e. ones whose expiry notification never arrived.
func (s *Store) LapsedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Subscription, error) {
	var rows []*models.Subscription
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND current_period_end IS NOT NULL AND current_period_end < ?",
			[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing}, cutoff).
		Order("current_period_end ASC").Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, translate(err, "lapsed subscriptions")
	}
	return rows, nil
}

// PendingAcknowledgements returns successful transactions the rail still
// expects to be acknowledged.
func (s *Store) PendingAcknowledgements(ctx context.Context, limit int) ([]*models.Transaction, error) {
	var rows []*models.Transaction
	if err := s.db.WithContext(ctx).
		Where("needs_acknowledge = ? AND acknowledged_at IS NULL AND status = ?", true, types.TransactionStatusSuccess).
		Order("purchase_at ASC").Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, translate(err, "pending acknowledgements")
	}
	return rows, nil
}

func (s *Store) MarkAcknowledged(ctx context.Context, transactionID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND acknowledged_at IS NULL", transactionID).
		Update("acknowledged_at", at)
	return translate(res.Error, "mark acknowledged")
}
