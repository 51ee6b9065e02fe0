// Package entitlement derives what a user may use from the ledger and
// publishes the result to the user store.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/types"
)

type Projector struct {
	cfg    *config.Config
	ledger *ledger.Store
	users  UserStore
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewProjector(cfg *config.Config, store *ledger.Store, users UserStore, log *zap.SugaredLogger) *Projector {
	return &Projector{cfg: cfg, ledger: store, users: users, log: log, now: time.Now}
}

// Compute builds the entitlement of userID from the ledger without
// publishing it.
func (p *Projector) Compute(ctx context.Context, userID string) (*types.Entitlement, error) {
	subs, err := p.ledger.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	txs, err := p.ledger.ListUserTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	now := p.now()
	e := &types.Entitlement{
		UserID:     userID,
		PlanType:   types.PlanFree,
		Features:   p.cfg.PlanFeatures(types.PlanFree),
		Balances:   balances(txs),
		ComputedAt: now,
	}
	if g := p.granting(subs, now); g != nil {
		e.PlanType = g.PlanType
		e.Status = g.Status
		e.SubscriptionID = g.ID
		e.Provider = g.ProviderID
		e.ValidUntil = g.ValidUntil()
		e.AutoRenewing = g.AutoRenewing && !g.CancelAtPeriodEnd
		e.Features = g.FeatureList()
		if len(e.Features) == 0 {
			e.Features = p.cfg.PlanFeatures(g.PlanType)
		}
	}
	return e, nil
}

// granting picks the subscription that decides the plan: highest plan rank
// first, then the latest end of access.
func (p *Projector) granting(subs []*models.Subscription, now time.Time) *models.Subscription {
	var candidates []*models.Subscription
	for _, s := range subs {
		if s.SupersededByID == nil && s.Granting(now) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := p.rank(candidates[i].PlanType), p.rank(candidates[j].PlanType)
		if ri != rj {
			return ri > rj
		}
		return laterEnd(candidates[i].ValidUntil(), candidates[j].ValidUntil())
	})
	return candidates[0]
}

func (p *Projector) rank(planType string) int {
	if plan := p.cfg.GetPlan(planType); plan != nil {
		return plan.Rank
	}
	return 0
}

// laterEnd orders nil (no end) before any concrete time.
func laterEnd(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	}
	return a.After(*b)
}

// balances sums consumable credits of settled, unrefunded transactions.
func balances(txs []*models.Transaction) map[string]int64 {
	out := map[string]int64{}
	for _, t := range txs {
		if t.Type != types.TransactionTypeConsumable || t.Status != types.TransactionStatusSuccess {
			continue
		}
		for _, item := range t.Items.Data() {
			out[item.Type] += item.Quantity
		}
	}
	return out
}

// Project recomputes and publishes the entitlement of userID.
func (p *Projector) Project(ctx context.Context, userID string) (*types.Entitlement, error) {
	e, err := p.Compute(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := p.users.UpdateEntitlement(ctx, e); err != nil {
		return nil, fmt.Errorf("update entitlement: %w", err)
	}
	logctx.FromCtx(ctx, p.log).Debugw("entitlement_projected", "user_id", userID, "plan_type", e.PlanType, "subscription_id", e.SubscriptionID)
	return e, nil
}

// Current serves reads: the published snapshot when there is one, a fresh
// projection otherwise.
func (p *Projector) Current(ctx context.Context, userID string) (*types.Entitlement, error) {
	e, err := p.users.GetEntitlement(ctx, userID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, ErrNotFound) {
		logctx.FromCtx(ctx, p.log).Warnw("entitlement_snapshot_read_failed", "user_id", userID, "error", err)
	}
	return p.Project(ctx, userID)
}

func (p *Projector) Invalidate(ctx context.Context, userID string) error {
	return p.users.InvalidateCache(ctx, userID)
}
