package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/billing"
	"github.com/fatflowers/entitler/pkg/tool"
	"github.com/fatflowers/entitler/pkg/types"
)

// reconcile runs inside one DB transaction; every read and write goes
// through tx.
func (e *Engine) reconcile(ctx context.Context, tx *ledger.Store, adapter verification.Adapter, ev *verification.Event, now time.Time) (*change, error) {
	item, err := e.catalogItem(ctx, ev)
	if err != nil {
		return nil, err
	}

	// A pending charge seen again once paid is settled in place.
	var settling *models.Transaction
	if ev.Kind.Monetary() {
		if ev.ProviderTransactionID == "" {
			return nil, fmt.Errorf("%s event without a provider transaction id", ev.Kind)
		}
		existing, err := tx.FindTransaction(ctx, ev.Provider, ev.ProviderTransactionID)
		switch {
		case err == nil:
			if ev.Source == verification.SourceReceipt && ev.UserID != "" && existing.UserID != ev.UserID {
				return nil, ErrReceiptAlreadyUsed
			}
			if existing.Status != types.TransactionStatusPending || ev.PendingPayment {
				return e.replayed(ctx, tx, existing)
			}
			settling = existing
		case !errors.Is(err, ledger.ErrNotFound):
			return nil, err
		}
	}

	switch {
	case ev.Kind == verification.EventKindRefund || ev.Kind == verification.EventKindRevoke:
		return e.revocation(ctx, tx, ev, now)
	case ev.Kind == verification.EventKindConsumable || (item != nil && item.IsConsumable()):
		return e.consumable(ctx, tx, ev, item, settling)
	}

	if ev.ProviderSubscriptionID == "" {
		return nil, fmt.Errorf("%w: event carries no subscription id", ErrUnknownSubscription)
	}
	sub, err := tx.FindSubscription(ctx, ev.Provider, ev.ProviderSubscriptionID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		ok, err := mayCreate(ctx, tx, ev)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownSubscription, ev.Provider, ev.ProviderSubscriptionID)
		}
		return e.createSubscription(ctx, tx, adapter, ev, item, nil, now)
	case err != nil:
		return nil, err
	}

	if ev.Source == verification.SourceReceipt && ev.UserID != "" && sub.UserID != ev.UserID {
		return nil, ErrReceiptAlreadyUsed
	}
	if sub.Status.Terminal() {
		if ev.Kind.Monetary() && settling == nil {
			// A fresh charge on an ended subscription starts its next generation.
			return e.createSubscription(ctx, tx, adapter, ev, item, sub, now)
		}
		return noop(nil, sub), nil
	}
	if ev.Kind.Monetary() {
		return e.charge(ctx, tx, adapter, ev, item, sub, settling, now)
	}
	return e.statusChange(ctx, tx, ev, sub, now)
}

// mayCreate reports whether an event for an unknown subscription id starts a
// new subscription. Receipts may create from any purchase-like kind; a
// notification only from a purchase, or from a plan change whose linked
// subscription is on file.
func mayCreate(ctx context.Context, tx *ledger.Store, ev *verification.Event) (bool, error) {
	if !ev.Kind.CreatesSubscription() {
		return false, nil
	}
	if ev.Source != verification.SourceNotification {
		return true, nil
	}
	switch ev.Kind {
	case verification.EventKindPurchase:
		return true, nil
	case verification.EventKindPlanChange:
		if ev.LinkedSubscriptionID == "" {
			return false, nil
		}
		_, err := tx.FindSubscription(ctx, ev.Provider, ev.LinkedSubscriptionID)
		if errors.Is(err, ledger.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	return false, nil
}

func (e *Engine) replayed(ctx context.Context, tx *ledger.Store, t *models.Transaction) (*change, error) {
	var sub *models.Subscription
	if t.SubscriptionID != nil {
		s, err := tx.GetSubscription(ctx, *t.SubscriptionID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		sub = s
	}
	return noop(t, sub), nil
}

// createSubscription inserts the row for a rail subscription seen for the
// first time, or the next generation of an ended one (prev).
func (e *Engine) createSubscription(ctx context.Context, tx *ledger.Store, adapter verification.Adapter, ev *verification.Event, item *types.PaymentItem, prev *models.Subscription, now time.Time) (*change, error) {
	if item == nil || !item.IsSubscription() {
		return nil, fmt.Errorf("%w: %s is not a subscription product", ErrUnknownProduct, ev.ProductID)
	}

	var linked *models.Subscription
	if ev.LinkedSubscriptionID != "" {
		l, err := tx.FindSubscription(ctx, ev.Provider, ev.LinkedSubscriptionID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		linked = l
	}

	userID := ev.UserID
	switch {
	case userID != "":
	case prev != nil:
		userID = prev.UserID
	case linked != nil:
		userID = linked.UserID
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownUser, ev.Provider, ev.ProviderSubscriptionID)
	}

	sub := &models.Subscription{
		ID:                     tool.GenerateUUIDV7(),
		UserID:                 userID,
		ProviderID:             ev.Provider,
		ProviderSubscriptionID: ev.ProviderSubscriptionID,
		Status:                 types.SubscriptionStatusIncomplete,
		Environment:            ev.Environment,
	}
	if prev != nil {
		sub.ProviderSubscriptionID = ev.ProviderSubscriptionID + ":" + ev.ProviderTransactionID
	}
	if linked != nil {
		sub.LinkedSubscriptionID = lo.ToPtr(linked.ID)
	}
	ch, err := e.charge(ctx, tx, adapter, ev, item, sub, nil, now)
	if err != nil {
		return nil, err
	}

	if sub.Status.Live() {
		live, err := tx.LiveSubscriptions(ctx, userID, sub.ID)
		if err != nil {
			return nil, err
		}
		for _, other := range live {
			if linked == nil || other.ID != linked.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscription, other.ID)
			}
		}
	}

	if prev != nil {
		before := *prev
		prev.SupersededByID = lo.ToPtr(sub.ID)
		if err := tx.UpdateSubscription(ctx, prev); err != nil {
			return nil, err
		}
		h := newHistory(&before, prev, types.HistoryActionSuperseded, nil, eventMetadata(ev), now)
		h.Metadata["superseded_by"] = sub.ID
		if err := tx.AppendHistory(ctx, h); err != nil {
			return nil, err
		}
	}
	if linked != nil && !linked.Status.Terminal() {
		before := *linked
		linked.Status = types.SubscriptionStatusCancelled
		linked.CancellationReason = types.CancellationReasonUpgraded
		linked.CancelledAt = lo.ToPtr(now)
		linked.AutoRenewing = false
		if err := tx.UpdateSubscription(ctx, linked); err != nil {
			return nil, err
		}
		h := newHistory(&before, linked, types.HistoryActionCancelled, nil, eventMetadata(ev), now)
		h.Metadata["replaced_by"] = sub.ID
		if err := tx.AppendHistory(ctx, h); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// charge applies a monetary event to sub and records its transaction. A sub
// without a version is new and is inserted.
func (e *Engine) charge(ctx context.Context, tx *ledger.Store, adapter verification.Adapter, ev *verification.Event, item *types.PaymentItem, sub *models.Subscription, settling *models.Transaction, now time.Time) (*change, error) {
	isNew := sub.Version == 0
	before := *sub

	status := adapter.DetermineStatus(ev, now)
	advancePeriod(sub, ev)
	if status == types.SubscriptionStatusExpired && !isNew && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
		// A late charge for an older period does not end a period that a
		// newer charge already extended.
		status = sub.Status
	}

	planChanged := !isNew && item.PlanType != "" && item.PlanType != sub.PlanType
	meta := eventMetadata(ev)
	if planChanged {
		if q := e.quote(&before, ev, item, now); q != nil {
			meta["proration_credit"] = q.Credit
			meta["proration_charge"] = q.Charge
		}
	}
	if isNew || planChanged || sub.PaymentItemID != item.ID {
		e.setPlan(sub, item)
	}
	sub.Amount = lo.Ternary(ev.Amount > 0, ev.Amount, item.Amount)
	sub.Currency = lo.Ternary(ev.Currency != "", ev.Currency, item.Currency)
	if ev.Environment != "" {
		sub.Environment = ev.Environment
	}

	if ev.AutoRenewing != nil {
		switch {
		case isNew:
			sub.AutoRenewing = *ev.AutoRenewing
			sub.CancelAtPeriodEnd = item.Renewable() && !*ev.AutoRenewing
		case !*ev.AutoRenewing:
			// Only an explicit auto-renew event turns renewal back on.
			sub.AutoRenewing = false
			sub.CancelAtPeriodEnd = true
		}
	}

	recovered := false
	switch status {
	case types.SubscriptionStatusActive, types.SubscriptionStatusTrialing:
		if sub.Grace.Open() {
			sub.Grace = e.grace.RecordPaymentOutcome(sub.Grace, true, now).Grace
			recovered = true
		}
	case types.SubscriptionStatusPastDue:
		if !sub.Grace.Open() {
			if ev.GraceExpiresAt != nil {
				_, sub.Grace = e.grace.StartGracePeriodUntil(now, string(ev.Kind), ev.GraceExpiresAt.UTC())
			} else {
				_, sub.Grace = e.grace.StartGracePeriod(now, string(ev.Kind), 0)
			}
		}
	}
	if status == types.SubscriptionStatusTrialing && ev.ExpiresAt != nil {
		sub.TrialEnd = lo.ToPtr(ev.ExpiresAt.UTC())
	}
	if before.Status == types.SubscriptionStatusPaused && status != types.SubscriptionStatusPaused {
		sub.PausedUntil = nil
	}
	sub.Status = status

	action := types.HistoryActionRenewed
	noticeType := notify.TypeSubscriptionRenewed
	switch {
	case isNew:
		action, noticeType = types.HistoryActionCreated, notify.TypeSubscriptionStarted
	case settling != nil:
		action, noticeType = types.HistoryActionPaymentSettled, notify.TypeSubscriptionStarted
	case planChanged || ev.Kind == verification.EventKindPlanChange:
		action, noticeType = types.HistoryActionPlanChanged, notify.TypePlanChanged
	case recovered || ev.Kind == verification.EventKindRecovered:
		action, noticeType = types.HistoryActionPaymentRecovered, notify.TypePaymentRecovered
	case before.Status == types.SubscriptionStatusTrialing && status == types.SubscriptionStatusActive:
		action = types.HistoryActionTrialConverted
	}

	if isNew {
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return nil, err
		}
	} else if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	t := settling
	if t != nil {
		t.Status = lo.Ternary(ev.PendingPayment, types.TransactionStatusPending, types.TransactionStatusSuccess)
		t.NeedsAcknowledge = ev.NeedsAcknowledge
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return nil, err
		}
	} else {
		txType := types.TransactionTypeRenewal
		switch {
		case isNew && !item.Renewable():
			txType = types.TransactionTypeNonRenewing
		case isNew && ev.Kind != verification.EventKindPlanChange:
			txType = types.TransactionTypeSubscription
		case isNew || action == types.HistoryActionPlanChanged:
			txType = types.TransactionTypePlanChange
		}
		var err error
		if t, err = e.recordTransaction(ctx, tx, ev, item, sub.UserID, &sub.ID, txType); err != nil {
			return nil, err
		}
	}

	if err := tx.AppendHistory(ctx, newHistory(&before, sub, action, &t.ID, meta, now)); err != nil {
		return nil, err
	}

	ch := &change{
		outcome: OutcomeApplied,
		userID:  sub.UserID,
		sub:     sub,
		tx:      t,
		ack:     t.NeedsAcknowledge && t.Status == types.TransactionStatusSuccess,
	}
	if sub.Status != types.SubscriptionStatusExpired && t.Status == types.TransactionStatusSuccess {
		ch.notices = append(ch.notices, subscriptionNotice(noticeType, sub))
	}
	return ch, nil
}

func (e *Engine) recordTransaction(ctx context.Context, tx *ledger.Store, ev *verification.Event, item *types.PaymentItem, userID string, subID *string, txType types.TransactionType) (*models.Transaction, error) {
	n, err := tx.CountUserTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	amount := lo.Ternary(ev.Amount > 0, ev.Amount, item.Amount)
	t := &models.Transaction{
		UserID:           userID,
		SubscriptionID:   subID,
		ProviderID:       ev.Provider,
		TransactionID:    ev.ProviderTransactionID,
		PaymentItemID:    item.ID,
		ProductID:        lo.Ternary(ev.ProductID != "", ev.ProductID, item.ProviderItemID),
		Type:             txType,
		Status:           lo.Ternary(ev.PendingPayment, types.TransactionStatusPending, types.TransactionStatusSuccess),
		Amount:           amount,
		FinalAmount:      models.ComputeFinalAmount(amount, 0, 0),
		Currency:         lo.Ternary(ev.Currency != "", ev.Currency, item.Currency),
		PurchaseAt:       lo.Ternary(ev.PurchaseTime.IsZero(), e.now(), ev.PurchaseTime.UTC()),
		Environment:      ev.Environment,
		PurchaseToken:    ev.PurchaseToken,
		NeedsAcknowledge: ev.NeedsAcknowledge,
		Extra: datatypes.NewJSONType(&models.TransactionExtra{
			PaymentItemSnapshot: item,
			IsFirstPurchase:     n == 0,
			Source:              string(ev.Source),
			NotificationID:      ev.NotificationID,
		}),
	}
	if ev.ExpiresAt != nil {
		t.ExpireAt = lo.ToPtr(ev.ExpiresAt.UTC())
	}
	if ev.OriginalTransactionID != "" && ev.OriginalTransactionID != ev.ProviderTransactionID {
		t.ParentTransactionID = lo.ToPtr(ev.OriginalTransactionID)
	}
	if item.IsConsumable() {
		qty := max(ev.Quantity, 1)
		t.Items = datatypes.NewJSONType([]types.TransactionItem{{
			Type:      item.ItemType,
			Quantity:  item.Quantity * qty,
			UnitPrice: amount / qty,
		}})
	}
	if err := tx.CreateTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) consumable(ctx context.Context, tx *ledger.Store, ev *verification.Event, item *types.PaymentItem, settling *models.Transaction) (*change, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, ev.ProductID)
	}
	t := settling
	if t != nil {
		t.Status = types.TransactionStatusSuccess
		t.NeedsAcknowledge = ev.NeedsAcknowledge
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return nil, err
		}
	} else {
		if ev.UserID == "" {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownUser, ev.Provider, ev.ProviderTransactionID)
		}
		var err error
		if t, err = e.recordTransaction(ctx, tx, ev, item, ev.UserID, nil, types.TransactionTypeConsumable); err != nil {
			return nil, err
		}
	}
	ch := &change{
		outcome: OutcomeApplied,
		userID:  t.UserID,
		tx:      t,
		ack:     t.NeedsAcknowledge && t.Status == types.TransactionStatusSuccess,
	}
	if t.Status == types.TransactionStatusSuccess {
		ch.notices = append(ch.notices, notify.Notification{
			Type:  notify.TypePurchaseCredited,
			Title: "Purchase complete",
			Body:  fmt.Sprintf("%d %s added to your balance.", credited(t), item.ItemType),
			Data:  map[string]any{"transaction_id": t.ID, "item_type": item.ItemType},
		})
	}
	return ch, nil
}

// revocation applies a rail refund or revocation: the transaction is marked
// refunded and its subscription ends at once. No refund window applies.
func (e *Engine) revocation(ctx context.Context, tx *ledger.Store, ev *verification.Event, now time.Time) (*change, error) {
	var t *models.Transaction
	if ev.ProviderTransactionID != "" {
		found, err := tx.FindTransaction(ctx, ev.Provider, ev.ProviderTransactionID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		t = found
	}
	var sub *models.Subscription
	switch {
	case ev.ProviderSubscriptionID != "":
		found, err := tx.FindSubscription(ctx, ev.Provider, ev.ProviderSubscriptionID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		sub = found
	case t != nil && t.SubscriptionID != nil:
		found, err := tx.GetSubscription(ctx, *t.SubscriptionID)
		if err != nil {
			return nil, err
		}
		sub = found
	}
	if t == nil && sub == nil {
		return nil, fmt.Errorf("%w: nothing to revoke for %s/%s", ErrUnknownSubscription, ev.Provider, ev.ProviderTransactionID)
	}
	if ev.Source == verification.SourceReceipt && ev.UserID != "" {
		if (t != nil && t.UserID != ev.UserID) || (sub != nil && sub.UserID != ev.UserID) {
			return nil, ErrReceiptAlreadyUsed
		}
	}

	at, reason := now, string(ev.Kind)
	if ev.Revocation != nil {
		at, reason = ev.Revocation.At.UTC(), ev.Revocation.Reason
	}
	ch := noop(t, sub)
	if t != nil && t.Status == types.TransactionStatusSuccess {
		markRefunded(t, t.FinalAmount, reason, ev.NotificationID, at)
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return nil, err
		}
		ch.outcome = OutcomeApplied
	}
	if sub != nil && !sub.Status.Terminal() {
		before := *sub
		cancelReason, action := types.CancellationReasonRefunded, types.HistoryActionRefunded
		if ev.Kind == verification.EventKindRevoke {
			cancelReason, action = types.CancellationReasonRevoked, types.HistoryActionRevoked
		}
		endNow(sub, cancelReason, at)
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		var txID *string
		if t != nil {
			txID = &t.ID
		}
		meta := eventMetadata(ev)
		meta["reason"] = reason
		if err := tx.AppendHistory(ctx, newHistory(&before, sub, action, txID, meta, now)); err != nil {
			return nil, err
		}
		ch.outcome = OutcomeApplied
	}
	if ch.outcome == OutcomeApplied {
		ch.notices = append(ch.notices, refundNotice(t, sub))
	}
	return ch, nil
}

// statusChange applies a non-monetary event to a live subscription. An event
// that changes nothing is a noop and leaves no history.
func (e *Engine) statusChange(ctx context.Context, tx *ledger.Store, ev *verification.Event, sub *models.Subscription, now time.Time) (*change, error) {
	// A redelivered notification has no transaction key; its id in the
	// history is what makes it a replay.
	if ev.NotificationID != "" {
		seen, err := tx.HistoryHasNotification(ctx, sub.ID, ev.NotificationID)
		if err != nil {
			return nil, err
		}
		if seen {
			return noop(nil, sub), nil
		}
	}

	before := *sub
	meta := eventMetadata(ev)
	var action types.HistoryAction
	var noticeType notify.Type

	switch ev.Kind {
	case verification.EventKindAutoRenewDisabled:
		sub.AutoRenewing = false
		sub.CancelAtPeriodEnd = true
		action, noticeType = types.HistoryActionAutoRenewDisabled, notify.TypeAutoRenewDisabled

	case verification.EventKindAutoRenewEnabled:
		sub.AutoRenewing = true
		sub.CancelAtPeriodEnd = false
		action = types.HistoryActionAutoRenewEnabled

	case verification.EventKindBillingRetry, verification.EventKindGracePeriod:
		if !sub.Grace.Open() {
			if ev.GraceExpiresAt != nil && ev.GraceExpiresAt.After(now) {
				sub.Status, sub.Grace = e.grace.StartGracePeriodUntil(now, string(ev.Kind), ev.GraceExpiresAt.UTC())
			} else {
				sub.Status, sub.Grace = e.grace.StartGracePeriod(now, string(ev.Kind), 0)
			}
			action, noticeType = types.HistoryActionGraceStarted, notify.TypePaymentFailed
			break
		}
		out := e.grace.RecordPaymentOutcome(sub.Grace, false, now)
		if !out.Exhausted && ev.GraceExpiresAt != nil && ev.GraceExpiresAt.After(*out.Grace.EndDate) {
			out.Grace.EndDate = lo.ToPtr(ev.GraceExpiresAt.UTC())
		}
		sub.Status, sub.Grace = out.Status, out.Grace
		action, noticeType = types.HistoryActionPaymentFailed, notify.TypePaymentFailed
		if out.Exhausted {
			action, noticeType = types.HistoryActionExpired, notify.TypeSubscriptionExpired
		}
		meta["retry_count"] = out.Grace.RetryCount

	case verification.EventKindExpired:
		advancePeriod(sub, ev)
		sub.Status = types.SubscriptionStatusExpired
		sub.AutoRenewing = false
		sub.CancellationReason = lo.Ternary(sub.CancelAtPeriodEnd, types.CancellationReasonUserCanceled, types.CancellationReasonPeriodEnded)
		action, noticeType = types.HistoryActionExpired, notify.TypeSubscriptionExpired

	case verification.EventKindCancelled:
		sub.Status = types.SubscriptionStatusCancelled
		sub.AutoRenewing = false
		sub.CancelledAt = lo.ToPtr(now)
		sub.CancellationReason = lo.Ternary(before.Status == types.SubscriptionStatusIncomplete,
			types.CancellationReasonPending, types.CancellationReasonUserCanceled)
		action, noticeType = types.HistoryActionCancelled, notify.TypeSubscriptionEnded

	case verification.EventKindPaused:
		if before.Status != types.SubscriptionStatusPaused {
			sub.PauseCount++
		}
		sub.Status = types.SubscriptionStatusPaused
		sub.PausedUntil = utcPtr(ev.PausedUntil)
		action = types.HistoryActionPaused

	case verification.EventKindPauseScheduleChanged:
		sub.PausedUntil = utcPtr(ev.PausedUntil)
		action = types.HistoryActionPauseRescheduled

	case verification.EventKindRenewalExtended:
		advancePeriod(sub, ev)
		action = types.HistoryActionPeriodExtended

	default:
		action = informationalAction(ev.Kind)
		if action == "" {
			return noop(nil, sub), nil
		}
		if ev.PendingProductID != "" {
			meta["pending_product_id"] = ev.PendingProductID
		}
		if err := tx.AppendHistory(ctx, newHistory(&before, sub, action, nil, meta, now)); err != nil {
			return nil, err
		}
		return &change{outcome: OutcomeApplied, userID: sub.UserID, sub: sub}, nil
	}

	if sameState(&before, sub) {
		return noop(nil, sub), nil
	}
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := tx.AppendHistory(ctx, newHistory(&before, sub, action, nil, meta, now)); err != nil {
		return nil, err
	}
	ch := &change{outcome: OutcomeApplied, userID: sub.UserID, sub: sub}
	if noticeType != "" {
		ch.notices = append(ch.notices, subscriptionNotice(noticeType, sub))
	}
	return ch, nil
}

func credited(t *models.Transaction) int64 {
	return lo.SumBy(t.Items.Data(), func(i types.TransactionItem) int64 { return i.Quantity })
}

func informationalAction(kind verification.EventKind) types.HistoryAction {
	switch kind {
	case verification.EventKindPriceChange:
		return types.HistoryActionPriceChanged
	case verification.EventKindPlanChangeDeferred:
		return types.HistoryActionPlanChangeDeferred
	case verification.EventKindOfferRedeemed:
		return types.HistoryActionOfferRedeemed
	case verification.EventKindRefundDeclined:
		return types.HistoryActionRefundDeclined
	case verification.EventKindRefundReversed:
		return types.HistoryActionRefundReversed
	case verification.EventKindConsumptionRequest:
		return types.HistoryActionConsumptionRequest
	}
	return ""
}

// advancePeriod moves the current period end forward to the event's expiry.
// It never moves it back.
func advancePeriod(sub *models.Subscription, ev *verification.Event) bool {
	if ev.ExpiresAt == nil {
		return false
	}
	end := ev.ExpiresAt.UTC()
	if sub.CurrentPeriodEnd != nil && !end.After(*sub.CurrentPeriodEnd) {
		return false
	}
	sub.CurrentPeriodEnd = &end
	switch {
	case !ev.PurchaseTime.IsZero() && ev.PurchaseTime.Before(end):
		sub.CurrentPeriodStart = lo.ToPtr(ev.PurchaseTime.UTC())
	case sub.BillingCycle.Approx() > 0:
		sub.CurrentPeriodStart = lo.ToPtr(end.Add(-sub.BillingCycle.Approx()))
	}
	return true
}

// endNow cancels sub immediately. This is the only place the period end may
// move back.
func endNow(sub *models.Subscription, reason types.CancellationReason, at time.Time) {
	sub.Status = types.SubscriptionStatusCancelled
	sub.CancellationReason = reason
	sub.CancelledAt = lo.ToPtr(at)
	sub.AutoRenewing = false
	if sub.CurrentPeriodEnd == nil || at.Before(*sub.CurrentPeriodEnd) {
		sub.CurrentPeriodEnd = lo.ToPtr(at)
	}
}

func markRefunded(t *models.Transaction, amount int64, reason, providerRefundID string, at time.Time) {
	t.Status = lo.Ternary(amount < t.FinalAmount, types.TransactionStatusPartiallyRefunded, types.TransactionStatusRefunded)
	t.Refund = datatypes.NewJSONType(&types.RefundInfo{
		Amount:           amount,
		Reason:           reason,
		Status:           types.RefundStatusProcessed,
		ProcessedAt:      at,
		ProviderRefundID: providerRefundID,
	})
}

func (e *Engine) setPlan(sub *models.Subscription, item *types.PaymentItem) {
	sub.PaymentItemID = item.ID
	sub.ProductID = item.ProviderItemID
	sub.PlanType = item.PlanType
	sub.BillingCycle = item.BillingCycle
	sub.Features = datatypes.NewJSONType(e.cfg.PlanFeatures(item.PlanType))
}

// quote prorates the switch from before's plan to item at the time of the
// event; nil when the old period is unknown.
func (e *Engine) quote(before *models.Subscription, ev *verification.Event, item *types.PaymentItem, now time.Time) *billing.Proration {
	if before.CurrentPeriodStart == nil || before.CurrentPeriodEnd == nil {
		return nil
	}
	at := lo.Ternary(ev.PurchaseTime.IsZero(), now, ev.PurchaseTime)
	newAmount := lo.Ternary(ev.Amount > 0, ev.Amount, item.Amount)
	q, err := billing.Prorate(before.Amount, newAmount, *before.CurrentPeriodStart, *before.CurrentPeriodEnd, at)
	if err != nil {
		return nil
	}
	return q
}

func sameState(a, b *models.Subscription) bool {
	return a.Status == b.Status &&
		a.CancelAtPeriodEnd == b.CancelAtPeriodEnd &&
		a.AutoRenewing == b.AutoRenewing &&
		a.PlanType == b.PlanType &&
		a.PauseCount == b.PauseCount &&
		sameTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd) &&
		sameTime(a.PausedUntil, b.PausedUntil) &&
		sameTime(a.CancelledAt, b.CancelledAt) &&
		a.Grace.Resolved == b.Grace.Resolved &&
		a.Grace.RetryCount == b.Grace.RetryCount &&
		sameTime(a.Grace.StartDate, b.Grace.StartDate) &&
		sameTime(a.Grace.EndDate, b.Grace.EndDate)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return lo.ToPtr(t.UTC())
}

func newHistory(before, after *models.Subscription, action types.HistoryAction, txID *string, meta datatypes.JSONMap, now time.Time) *models.SubscriptionHistory {
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	return &models.SubscriptionHistory{
		SubscriptionID: after.ID,
		UserID:         after.UserID,
		Action:         action,
		FromPlan:       before.PlanType,
		ToPlan:         after.PlanType,
		FromStatus:     before.Status,
		ToStatus:       after.Status,
		TransactionID:  txID,
		Metadata:       meta,
		CreatedAt:      now,
	}
}

func eventMetadata(ev *verification.Event) datatypes.JSONMap {
	m := datatypes.JSONMap{
		"source": string(ev.Source),
		"kind":   string(ev.Kind),
	}
	for k, v := range map[string]string{
		"notification_id":          ev.NotificationID,
		"notification_type":        ev.NotificationType,
		"provider_transaction_id":  ev.ProviderTransactionID,
		"provider_subscription_id": ev.ProviderSubscriptionID,
		"environment":              ev.Environment,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}
