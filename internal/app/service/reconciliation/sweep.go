package reconciliation

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/metrics"
	"github.com/fatflowers/entitler/pkg/types"
)

const (
	SweepNameGracePeriods            = "grace_periods"
	SweepNameExpiringTrials          = "expiring_trials"
	SweepNameLapsedSubscriptions     = "lapsed_subscriptions"
	SweepNamePendingAcknowledgements = "pending_acknowledgements"
)

// SweepNames lists the sweeps RunSweep accepts, in the order a scheduler
// should run them.
var SweepNames = []string{
	SweepNameGracePeriods,
	SweepNameExpiringTrials,
	SweepNameLapsedSubscriptions,
	SweepNamePendingAcknowledgements,
}

type SweepReport struct {
	Sweep     string `json:"sweep"`
	Scanned   int    `json:"scanned"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

func (e *Engine) RunSweep(ctx context.Context, name string) (*SweepReport, error) {
	switch name {
	case SweepNameGracePeriods:
		return e.SweepGracePeriods(ctx)
	case SweepNameExpiringTrials:
		return e.SweepExpiringTrials(ctx)
	case SweepNameLapsedSubscriptions:
		return e.SweepLapsedSubscriptions(ctx)
	case SweepNamePendingAcknowledgements:
		return e.SweepPendingAcknowledgements(ctx)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSweep, name)
}

func (e *Engine) batchSize() int {
	if n := e.cfg.Billing.SweepBatchSize; n > 0 {
		return n
	}
	return 200
}

func (e *Engine) finishSweep(ctx context.Context, r *SweepReport) *SweepReport {
	metrics.ObserveSweep(r.Sweep, "processed", r.Processed)
	metrics.ObserveSweep(r.Sweep, "failed", r.Failed)
	logctx.FromCtx(ctx, e.log).Infow("sweep_finished",
		"sweep", r.Sweep, "scanned", r.Scanned, "processed", r.Processed, "failed", r.Failed)
	return r
}

// eachSubscription runs fn over subs, counting outcomes. A nil edit counts as
// scanned only.
func (e *Engine) eachSubscription(ctx context.Context, r *SweepReport, subs []*models.Subscription, fn func(sub *models.Subscription, now time.Time) (*edit, error)) {
	log := logctx.FromCtx(ctx, e.log)
	for _, s := range subs {
		r.Scanned++
		changed := false
		_, err := e.mutate(ctx, s.ID, func(sub *models.Subscription, now time.Time) (*edit, error) {
			ed, err := fn(sub, now)
			changed = ed != nil
			return ed, err
		})
		switch {
		case err != nil:
			r.Failed++
			log.Warnw("sweep_item_failed", "sweep", r.Sweep, "subscription_id", s.ID, "error", err)
		case changed:
			r.Processed++
		}
	}
}

// SweepGracePeriods records a failed payment attempt for every past_due
// subscription whose grace period has ended. Each failure either pushes the
// grace end to the next retry or, at the retry limit, expires the
// subscription.
func (e *Engine) SweepGracePeriods(ctx context.Context) (*SweepReport, error) {
	r := &SweepReport{Sweep: SweepNameGracePeriods}
	subs, err := e.store.GraceEnded(ctx, e.now(), e.batchSize())
	if err != nil {
		return nil, err
	}
	e.eachSubscription(ctx, r, subs, func(sub *models.Subscription, now time.Time) (*edit, error) {
		if sub.Status != types.SubscriptionStatusPastDue || !sub.Grace.Open() ||
			sub.Grace.EndDate == nil || sub.Grace.EndDate.After(now) {
			return nil, nil
		}
		out := e.grace.RecordPaymentOutcome(sub.Grace, false, now)
		sub.Status, sub.Grace = out.Status, out.Grace
		if out.Exhausted {
			sub.AutoRenewing = false
			sub.CancellationReason = types.CancellationReasonPeriodEnded
			return &edit{
				action: types.HistoryActionExpired,
				notice: notify.TypeSubscriptionExpired,
				meta:   datatypes.JSONMap{"source": "sweep", "sweep": r.Sweep, "retry_count": out.Grace.RetryCount},
			}, nil
		}
		return &edit{
			action: types.HistoryActionPaymentFailed,
			meta:   datatypes.JSONMap{"source": "sweep", "sweep": r.Sweep, "retry_count": out.Grace.RetryCount},
		}, nil
	})
	return e.finishSweep(ctx, r), nil
}

// SweepExpiringTrials sends one reminder per trial ending within
// billing.trial_reminder_hours.
func (e *Engine) SweepExpiringTrials(ctx context.Context) (*SweepReport, error) {
	r := &SweepReport{Sweep: SweepNameExpiringTrials}
	hours := e.cfg.Billing.TrialReminderHours
	if hours <= 0 {
		hours = 48
	}
	subs, err := e.store.TrialsEndingBefore(ctx, e.now().Add(time.Duration(hours)*time.Hour), e.batchSize())
	if err != nil {
		return nil, err
	}
	e.eachSubscription(ctx, r, subs, func(sub *models.Subscription, now time.Time) (*edit, error) {
		if sub.Status != types.SubscriptionStatusTrialing || sub.TrialReminderSentAt != nil {
			return nil, nil
		}
		sub.TrialReminderSentAt = &now
		return &edit{
			action: types.HistoryActionTrialReminder,
			notice: notify.TypeTrialEnding,
			meta:   datatypes.JSONMap{"source": "sweep", "sweep": r.Sweep},
		}, nil
	})
	return e.finishSweep(ctx, r), nil
}

// SweepLapsedSubscriptions expires active or trialing subscriptions whose
// period ended more than billing.lapse_leeway_hours ago without a renewal or
// expiry event from the rail.
func (e *Engine) SweepLapsedSubscriptions(ctx context.Context) (*SweepReport, error) {
	r := &SweepReport{Sweep: SweepNameLapsedSubscriptions}
	leeway := time.Duration(max(e.cfg.Billing.LapseLeewayHours, 0)) * time.Hour
	cutoff := e.now().Add(-leeway)
	subs, err := e.store.LapsedBefore(ctx, cutoff, e.batchSize())
	if err != nil {
		return nil, err
	}
	e.eachSubscription(ctx, r, subs, func(sub *models.Subscription, now time.Time) (*edit, error) {
		if !sub.Status.Live() || sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Before(cutoff) {
			return nil, nil
		}
		sub.Status = types.SubscriptionStatusExpired
		sub.AutoRenewing = false
		if sub.CancelAtPeriodEnd {
			sub.CancellationReason = types.CancellationReasonUserCanceled
		} else {
			sub.CancellationReason = types.CancellationReasonPeriodEnded
		}
		return &edit{
			action: types.HistoryActionExpired,
			notice: notify.TypeSubscriptionExpired,
			meta:   datatypes.JSONMap{"source": "sweep", "sweep": r.Sweep},
		}, nil
	})
	return e.finishSweep(ctx, r), nil
}

// SweepPendingAcknowledgements retries acknowledgements that failed after the
// ledger write.
func (e *Engine) SweepPendingAcknowledgements(ctx context.Context) (*SweepReport, error) {
	r := &SweepReport{Sweep: SweepNamePendingAcknowledgements}
	txs, err := e.store.PendingAcknowledgements(ctx, e.batchSize())
	if err != nil {
		return nil, err
	}
	log := logctx.FromCtx(ctx, e.log)
	for _, t := range txs {
		r.Scanned++
		adapter, err := e.adapters.Get(t.ProviderID)
		if err == nil {
			err = e.acknowledge(ctx, adapter, t)
		}
		if err != nil {
			r.Failed++
			log.Warnw("sweep_item_failed", "sweep", r.Sweep, "transaction_id", t.ID, "error", err)
			continue
		}
		r.Processed++
	}
	return e.finishSweep(ctx, r), nil
}
