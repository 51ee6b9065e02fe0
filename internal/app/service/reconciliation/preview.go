package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/fatflowers/entitler/pkg/billing"
)

type PlanChangeQuote struct {
	SubscriptionID    string    `json:"subscription_id"`
	FromPaymentItemID string    `json:"from_payment_item_id"`
	ToPaymentItemID   string    `json:"to_payment_item_id"`
	FromPlan          string    `json:"from_plan"`
	ToPlan            string    `json:"to_plan"`
	Currency          string    `json:"currency"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	billing.Proration
}

// ChangePlanPreview quotes switching a live subscription to another catalog
// item now. It writes nothing.
func (e *Engine) ChangePlanPreview(ctx context.Context, subscriptionID, newPaymentItemID string) (*PlanChangeQuote, error) {
	sub, err := e.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	item := e.cfg.GetPaymentItemByID(newPaymentItemID)
	if item == nil || !item.IsSubscription() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, newPaymentItemID)
	}
	if sub.Status.Terminal() || sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return nil, fmt.Errorf("%w: subscription %s has no current period", ErrInvalidTransition, sub.ID)
	}
	p, err := billing.Prorate(sub.Amount, item.Amount, *sub.CurrentPeriodStart, *sub.CurrentPeriodEnd, e.now())
	if err != nil {
		return nil, err
	}
	return &PlanChangeQuote{
		SubscriptionID:    sub.ID,
		FromPaymentItemID: sub.PaymentItemID,
		ToPaymentItemID:   item.ID,
		FromPlan:          sub.PlanType,
		ToPlan:            item.PlanType,
		Currency:          sub.Currency,
		PeriodStart:       *sub.CurrentPeriodStart,
		PeriodEnd:         *sub.CurrentPeriodEnd,
		Proration:         *p,
	}, nil
}
