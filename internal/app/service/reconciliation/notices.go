package reconciliation

import (
	"fmt"
	"time"

	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/models"
)

var noticeTitles = map[notify.Type]string{
	notify.TypeSubscriptionStarted: "Your %s plan is active",
	notify.TypeSubscriptionRenewed: "Your %s plan was renewed",
	notify.TypePlanChanged:         "You are now on %s",
	notify.TypePaymentFailed:       "We could not renew your %s plan",
	notify.TypePaymentRecovered:    "Your %s plan is back",
	notify.TypeSubscriptionExpired: "Your %s plan has ended",
	notify.TypeSubscriptionEnded:   "Your %s plan was cancelled",
	notify.TypeAutoRenewDisabled:   "Your %s plan will not renew",
	notify.TypeTrialEnding:         "Your %s trial ends soon",
}

func subscriptionNotice(typ notify.Type, sub *models.Subscription) notify.Notification {
	n := notify.Notification{
		Type:  typ,
		Title: fmt.Sprintf(noticeTitles[typ], sub.PlanType),
		Data: map[string]any{
			"subscription_id": sub.ID,
			"plan_type":       sub.PlanType,
			"status":          string(sub.Status),
		},
	}
	if end := sub.ValidUntil(); end != nil {
		n.Data["valid_until"] = end.Format(time.RFC3339)
		switch typ {
		case notify.TypeAutoRenewDisabled:
			n.Body = "Access continues until " + end.Format("Jan 2, 2006") + "."
		case notify.TypePaymentFailed:
			n.Body = "Please update your payment method before " + end.Format("Jan 2, 2006") + "."
		case notify.TypeTrialEnding:
			n.Body = "Your trial converts to a paid plan on " + end.Format("Jan 2, 2006") + "."
		}
	}
	return n
}

func refundNotice(t *models.Transaction, sub *models.Subscription) notify.Notification {
	n := notify.Notification{
		Type:  notify.TypeRefunded,
		Title: "Your purchase was refunded",
		Data:  map[string]any{},
	}
	if t != nil {
		n.Data["transaction_id"] = t.ID
		if r := t.RefundInfo(); r != nil {
			n.Data["amount"] = r.Amount
			n.Data["currency"] = t.Currency
		}
	}
	if sub != nil {
		n.Data["subscription_id"] = sub.ID
		n.Body = "Access to " + sub.PlanType + " has ended."
	}
	return n
}
