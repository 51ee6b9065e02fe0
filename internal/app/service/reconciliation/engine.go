// Package reconciliation applies verified rail events to the ledger. It is the
// only writer of subscriptions, transactions and subscription history.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/billing"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/metrics"
	"github.com/fatflowers/entitler/pkg/types"
)

// maxApplyAttempts bounds retries after a version conflict or a concurrent
// insert of the same key.
const maxApplyAttempts = 3

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the event was already reflected in the ledger.
	OutcomeNoop Outcome = "noop"
	// OutcomeDropped means a notification could not be applied and was only
	// audit-logged.
	OutcomeDropped Outcome = "dropped"
)

type Result struct {
	Outcome      Outcome              `json:"outcome"`
	Reason       string               `json:"reason,omitempty"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
	Transaction  *models.Transaction  `json:"transaction,omitempty"`
	Entitlement  *types.Entitlement   `json:"entitlement,omitempty"`
}

// Expired reports whether the event resolved to a subscription that has
// already lapsed.
func (r *Result) Expired() bool {
	return r != nil && r.Subscription != nil && r.Subscription.Status == types.SubscriptionStatusExpired
}

// Projector publishes a user's entitlement after the ledger changed.
type Projector interface {
	Project(ctx context.Context, userID string) (*types.Entitlement, error)
	Invalidate(ctx context.Context, userID string) error
}

type Engine struct {
	cfg       *config.Config
	store     *ledger.Store
	adapters  *verification.Registry
	projector Projector
	notifier  notify.Notifier
	log       *zap.SugaredLogger
	grace     billing.GracePolicy
	now       func() time.Time
}

func NewEngine(
	cfg *config.Config,
	store *ledger.Store,
	adapters *verification.Registry,
	projector Projector,
	notifier notify.Notifier,
	log *zap.SugaredLogger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		adapters:  adapters,
		projector: projector,
		notifier:  notifier,
		log:       log,
		grace:     cfg.GracePolicy(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// change collects what one ledger transaction did for the steps that run
// after commit.
type change struct {
	outcome Outcome
	userID  string
	sub     *models.Subscription
	tx      *models.Transaction
	// ack is set when this call recorded a settled charge the rail expects
	// to be acknowledged.
	ack     bool
	notices []notify.Notification
}

func noop(t *models.Transaction, sub *models.Subscription) *change {
	ch := &change{outcome: OutcomeNoop, tx: t, sub: sub}
	if t != nil {
		ch.userID = t.UserID
	} else if sub != nil {
		ch.userID = sub.UserID
	}
	return ch
}

// VerifyAndApply verifies a client-submitted receipt and applies it. The rail
// call is bounded by verification.timeout and finishes before any ledger
// write starts.
func (e *Engine) VerifyAndApply(ctx context.Context, provider types.PaymentProvider, req *verification.ReceiptRequest) (*Result, error) {
	adapter, err := e.adapters.Get(provider)
	if err != nil {
		return nil, err
	}
	vctx := ctx
	if d := e.cfg.Verification.Timeout; d > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ev, err := adapter.VerifyReceipt(vctx, req)
	if err != nil {
		return nil, err
	}
	ev.Source = verification.SourceReceipt
	if ev.UserID == "" {
		ev.UserID = req.UserID
	}
	return e.Apply(ctx, ev)
}

// Apply reconciles one verified event: dedup, subscription resolution, status
// derivation and persistence in one DB transaction, then acknowledgement,
// projection and notification.
func (e *Engine) Apply(ctx context.Context, ev *verification.Event) (*Result, error) {
	log := logctx.FromCtx(ctx, e.log).With(
		"provider", ev.Provider,
		"kind", ev.Kind,
		"source", ev.Source,
		"provider_transaction_id", ev.ProviderTransactionID,
		"provider_subscription_id", ev.ProviderSubscriptionID,
	)

	if ev.Kind == verification.EventKindTest || ev.Kind == verification.EventKindIgnored {
		metrics.ObserveReconcile(string(ev.Provider), string(ev.Kind), string(OutcomeNoop))
		return &Result{Outcome: OutcomeNoop}, nil
	}
	adapter, err := e.adapters.Get(ev.Provider)
	if err != nil {
		return nil, err
	}

	var ch *change
	for attempt := 1; ; attempt++ {
		ch, err = e.applyOnce(ctx, adapter, ev)
		retryable := errors.Is(err, ledger.ErrVersionConflict) || errors.Is(err, ledger.ErrDuplicate)
		if !retryable || attempt >= maxApplyAttempts {
			break
		}
		log.Infow("reconcile_retry", "attempt", attempt, "error", err)
	}
	if errors.Is(err, ledger.ErrDuplicate) && ev.ProviderTransactionID != "" {
		// A concurrent writer recorded the same charge first. Any other
		// key collision is surfaced.
		if t, ferr := e.store.FindTransaction(ctx, ev.Provider, ev.ProviderTransactionID); ferr == nil {
			ch, err = e.replayed(ctx, e.store, t)
		}
	}
	if err != nil {
		if ev.Source == verification.SourceNotification && isBusinessError(err) {
			log.Warnw("reconcile_dropped", "reason", err.Error())
			metrics.ObserveReconcile(string(ev.Provider), string(ev.Kind), string(OutcomeDropped))
			return &Result{Outcome: OutcomeDropped, Reason: err.Error()}, nil
		}
		metrics.ObserveReconcile(string(ev.Provider), string(ev.Kind), "error")
		return nil, err
	}

	res := &Result{Outcome: ch.outcome, Subscription: ch.sub, Transaction: ch.tx}
	metrics.ObserveReconcile(string(ev.Provider), string(ev.Kind), string(ch.outcome))
	if ch.outcome != OutcomeApplied {
		log.Infow("reconcile_noop", "user_id", ch.userID)
		return res, nil
	}
	log.Infow("reconcile_applied", "user_id", ch.userID, "status", subStatus(ch.sub))

	if ch.ack {
		if err := e.acknowledge(ctx, adapter, ch.tx); err != nil {
			// Retried by the pending acknowledgement sweep.
			log.Warnw("acknowledge_failed", "transaction_id", ch.tx.ID, "error", err)
		}
	}
	res.Entitlement = e.project(ctx, ch.userID)
	e.dispatch(ctx, ch.userID, ch.notices)
	return res, nil
}

func (e *Engine) applyOnce(ctx context.Context, adapter verification.Adapter, ev *verification.Event) (*change, error) {
	var ch *change
	err := e.store.WithTx(ctx, func(tx *ledger.Store) error {
		var err error
		ch, err = e.reconcile(ctx, tx, adapter, ev, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (e *Engine) acknowledge(ctx context.Context, adapter verification.Adapter, t *models.Transaction) error {
	err := adapter.Acknowledge(ctx, &verification.AcknowledgeRequest{
		ProductID:     t.ProductID,
		PurchaseToken: t.PurchaseToken,
		Subscription:  t.SubscriptionID != nil,
	})
	if err != nil {
		return err
	}
	now := e.now()
	t.AcknowledgedAt = &now
	return e.store.MarkAcknowledged(ctx, t.ID, now)
}

// project publishes the user's entitlement. A failed projection leaves the
// ledger committed, so the cached snapshot is dropped instead.
func (e *Engine) project(ctx context.Context, userID string) *types.Entitlement {
	if userID == "" {
		return nil
	}
	ent, err := e.projector.Project(ctx, userID)
	if err == nil {
		return ent
	}
	log := logctx.FromCtx(ctx, e.log)
	log.Errorw("entitlement_projection_failed", "user_id", userID, "error", err)
	if ierr := e.projector.Invalidate(ctx, userID); ierr != nil {
		log.Errorw("entitlement_invalidate_failed", "user_id", userID, "error", ierr)
	}
	return nil
}

// dispatch sends notifications in the background; failures are only logged.
func (e *Engine) dispatch(ctx context.Context, userID string, notices []notify.Notification) {
	if userID == "" || len(notices) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	log := logctx.FromCtx(ctx, e.log)
	go func() {
		for _, n := range notices {
			if err := e.notifier.Notify(ctx, userID, n); err != nil {
				log.Warnw("notify_failed", "user_id", userID, "type", n.Type, "error", err)
			}
		}
	}()
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrUnknownSubscription, ErrUnknownUser, ErrUnknownProduct,
		ErrDuplicateSubscription, ErrReceiptAlreadyUsed, ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func subStatus(sub *models.Subscription) types.SubscriptionStatus {
	if sub == nil {
		return ""
	}
	return sub.Status
}

func (e *Engine) catalogItem(ctx context.Context, ev *verification.Event) (*types.PaymentItem, error) {
	if ev.Item != nil {
		return ev.Item, nil
	}
	if ev.ProductID == "" {
		if ev.Kind.Monetary() {
			return nil, fmt.Errorf("%w: event has no product id", ErrUnknownProduct)
		}
		return nil, nil
	}
	item, err := e.cfg.GetPaymentItemByProviderItemID(ctx, ev.Provider, ev.ProductID)
	if err != nil {
		if ev.Kind.Monetary() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, ev.ProductID)
		}
		return nil, nil
	}
	return item, nil
}
