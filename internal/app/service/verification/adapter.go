package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fatflowers/entitler/pkg/types"
)

// Adapter turns rail artifacts into verified events. Implementations never
// write the ledger.
type Adapter interface {
	Provider() types.PaymentProvider
	VerifyReceipt(ctx context.Context, req *ReceiptRequest) (*Event, error)
	VerifyNotification(ctx context.Context, n *InboundNotification) (*Event, error)
	// Acknowledge confirms a first grant to rails that auto-refund
	// unacknowledged purchases. It must only run after the ledger write.
	Acknowledge(ctx context.Context, req *AcknowledgeRequest) error
	DetermineStatus(e *Event, now time.Time) types.SubscriptionStatus
}

// ErrNoAdapter is returned for a provider with no configured adapter.
var ErrNoAdapter = errors.New("no verification adapter for provider")

type Registry struct {
	adapters map[types.PaymentProvider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.PaymentProvider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Provider()] = a
		}
	}
	return r
}

func (r *Registry) Get(p types.PaymentProvider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoAdapter, p)
	}
	return a, nil
}

func (r *Registry) Providers() []types.PaymentProvider {
	out := make([]types.PaymentProvider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DeriveStatus is the status rule shared by both rails: pending payment is
// incomplete; a trial whose effective expiry is ahead is trialing; an elapsed
// effective expiry is expired; an active billing retry or grace flag is
// past_due; anything else is active, whatever the auto-renew setting.
func DeriveStatus(e *Event, now time.Time) types.SubscriptionStatus {
	if e.PendingPayment {
		return types.SubscriptionStatusIncomplete
	}
	expiry := e.EffectiveExpiry()
	if e.Trial && expiry != nil && expiry.After(now) {
		return types.SubscriptionStatusTrialing
	}
	if expiry != nil && !expiry.After(now) {
		return types.SubscriptionStatusExpired
	}
	if e.BillingRetry || e.GraceExpiresAt != nil {
		return types.SubscriptionStatusPastDue
	}
	return types.SubscriptionStatusActive
}
