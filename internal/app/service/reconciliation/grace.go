package reconciliation

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/types"
)

// edit is the outcome of a mutation; nil means nothing changed.
type edit struct {
	action types.HistoryAction
	notice notify.Type
	meta   datatypes.JSONMap
}

// mutate applies fn to one subscription under a versioned update, records the
// history entry and publishes the result.
func (e *Engine) mutate(ctx context.Context, subscriptionID string, fn func(sub *models.Subscription, now time.Time) (*edit, error)) (*models.Subscription, error) {
	var (
		sub *models.Subscription
		ed  *edit
		err error
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		err = e.store.WithTx(ctx, func(tx *ledger.Store) error {
			cur, err := tx.GetSubscription(ctx, subscriptionID)
			if err != nil {
				return err
			}
			before := *cur
			now := e.now()
			if ed, err = fn(cur, now); err != nil || ed == nil {
				sub = cur
				return err
			}
			if err := tx.UpdateSubscription(ctx, cur); err != nil {
				return err
			}
			sub = cur
			return tx.AppendHistory(ctx, newHistory(&before, cur, ed.action, nil, ed.meta, now))
		})
		if !errors.Is(err, ledger.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if ed != nil {
		e.project(ctx, sub.UserID)
		if ed.notice != "" {
			e.dispatch(ctx, sub.UserID, []notify.Notification{subscriptionNotice(ed.notice, sub)})
		}
	}
	return sub, nil
}

// StartGracePeriod moves a subscription into past_due with a fresh grace
// period. durationDays <= 0 uses billing.grace_period_days. Starting a grace
// period that is already open changes nothing.
func (e *Engine) StartGracePeriod(ctx context.Context, subscriptionID, reason string, durationDays int) (*models.Subscription, error) {
	return e.mutate(ctx, subscriptionID, func(sub *models.Subscription, now time.Time) (*edit, error) {
		if sub.Status.Terminal() || sub.Status == types.SubscriptionStatusIncomplete {
			return nil, ErrInvalidTransition
		}
		if sub.Status == types.SubscriptionStatusPastDue && sub.Grace.Open() {
			return nil, nil
		}
		sub.Status, sub.Grace = e.grace.StartGracePeriod(now, reason, durationDays)
		return &edit{
			action: types.HistoryActionGraceStarted,
			notice: notify.TypePaymentFailed,
			meta:   datatypes.JSONMap{"source": "engine", "reason": reason},
		}, nil
	})
}

// RecordPaymentOutcome settles one payment attempt of a past_due
// subscription. Success resolves the grace period; the failure that reaches
// the retry limit expires the subscription and demotes the user.
func (e *Engine) RecordPaymentOutcome(ctx context.Context, subscriptionID string, succeeded bool) (*models.Subscription, error) {
	return e.mutate(ctx, subscriptionID, func(sub *models.Subscription, now time.Time) (*edit, error) {
		if sub.Status != types.SubscriptionStatusPastDue || !sub.Grace.Open() {
			return nil, ErrInvalidTransition
		}
		out := e.grace.RecordPaymentOutcome(sub.Grace, succeeded, now)
		sub.Status, sub.Grace = out.Status, out.Grace
		ed := &edit{
			action: types.HistoryActionPaymentFailed,
			notice: notify.TypePaymentFailed,
			meta:   datatypes.JSONMap{"source": "engine", "retry_count": out.Grace.RetryCount},
		}
		switch {
		case succeeded:
			ed.action, ed.notice = types.HistoryActionPaymentRecovered, notify.TypePaymentRecovered
		case out.Exhausted:
			sub.AutoRenewing = false
			sub.CancellationReason = types.CancellationReasonPeriodEnded
			ed.action, ed.notice = types.HistoryActionExpired, notify.TypeSubscriptionExpired
		}
		return ed, nil
	})
}
