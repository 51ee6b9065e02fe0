package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/internal/platform/cache"
	"github.com/fatflowers/entitler/internal/platform/db/dbtest"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/types"
)

type fixture struct {
	ctx       context.Context
	ledger    *ledger.Store
	cache     *cache.Memory
	snapshots *SnapshotStore
	projector *Projector
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	log := zap.NewNop().Sugar()
	cfg := &config.Config{Plans: []*types.Plan{
		{Type: types.PlanFree, Rank: 0, Features: []string{"basic"}},
		{Type: "silver", Rank: 10, Features: []string{"ads_free"}},
		{Type: "gold", Rank: 20, Features: []string{"ads_free", "unlimited_likes"}},
	}}
	f := &fixture{
		ctx:    context.Background(),
		ledger: ledger.NewStore(gdb, log),
		cache:  cache.NewMemory(),
		now:    time.Now().UTC().Truncate(time.Second),
	}
	f.snapshots = NewSnapshotStore(gdb, f.cache, log)
	f.projector = NewProjector(cfg, f.ledger, f.snapshots, log)
	f.projector.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addSub(t *testing.T, userID, providerSubID, plan string, status types.SubscriptionStatus, end time.Time) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		UserID:                 userID,
		ProviderID:             types.PaymentProviderApple,
		ProviderSubscriptionID: providerSubID,
		PaymentItemID:          plan + "_monthly_apple",
		ProductID:              "com.example." + plan,
		PlanType:               plan,
		Status:                 status,
		AutoRenewing:           true,
		CurrentPeriodEnd:       lo.ToPtr(end),
	}
	require.NoError(t, f.ledger.CreateSubscription(f.ctx, sub))
	return sub
}

func (f *fixture) addCoins(t *testing.T, userID, providerTxID string, qty int64, status types.TransactionStatus) {
	t.Helper()
	require.NoError(t, f.ledger.CreateTransaction(f.ctx, &models.Transaction{
		UserID:        userID,
		ProviderID:    types.PaymentProviderGoogle,
		TransactionID: providerTxID,
		PaymentItemID: "coins_google",
		ProductID:     "coins_100",
		Type:          types.TransactionTypeConsumable,
		Status:        status,
		Items:         datatypes.NewJSONType([]types.TransactionItem{{Type: "coin", Quantity: qty, UnitPrice: 2}}),
		PurchaseAt:    f.now,
		Extra:         datatypes.NewJSONType(&models.TransactionExtra{}),
	}))
}

func TestCompute_FreeWithoutSubscriptions(t *testing.T) {
	f := newFixture(t)

	e, err := f.projector.Compute(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, e.PlanType)
	assert.True(t, e.IsFree())
	assert.Equal(t, []string{"basic"}, e.Features)
	assert.Empty(t, e.SubscriptionID)
	assert.Nil(t, e.ValidUntil)
}

func TestCompute_PicksHighestRankThenLatestEnd(t *testing.T) {
	f := newFixture(t)
	f.addSub(t, "u1", "silver-1", "silver", types.SubscriptionStatusActive, f.now.Add(90*24*time.Hour))
	goldShort := f.addSub(t, "u1", "gold-1", "gold", types.SubscriptionStatusActive, f.now.Add(5*24*time.Hour))
	goldLong := f.addSub(t, "u1", "gold-2", "gold", types.SubscriptionStatusTrialing, f.now.Add(20*24*time.Hour))
	f.addSub(t, "u1", "gold-3", "gold", types.SubscriptionStatusExpired, f.now.Add(-time.Hour))

	e, err := f.projector.Compute(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "gold", e.PlanType)
	assert.Equal(t, goldLong.ID, e.SubscriptionID)
	assert.NotEqual(t, goldShort.ID, e.SubscriptionID)
	assert.Equal(t, types.SubscriptionStatusTrialing, e.Status)
	assert.Equal(t, []string{"ads_free", "unlimited_likes"}, e.Features)
	require.NotNil(t, e.ValidUntil)
	assert.WithinDuration(t, f.now.Add(20*24*time.Hour), *e.ValidUntil, time.Second)
}

func TestCompute_PastDueGrantsUntilGraceEnds(t *testing.T) {
	f := newFixture(t)
	sub := f.addSub(t, "u1", "gold-1", "gold", types.SubscriptionStatusPastDue, f.now.Add(-time.Hour))
	sub.Grace = types.GracePeriod{StartDate: lo.ToPtr(f.now.Add(-time.Hour)), EndDate: lo.ToPtr(f.now.Add(48 * time.Hour))}
	require.NoError(t, f.ledger.UpdateSubscription(f.ctx, sub))

	e, err := f.projector.Compute(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "gold", e.PlanType)
	require.NotNil(t, e.ValidUntil)
	assert.WithinDuration(t, f.now.Add(48*time.Hour), *e.ValidUntil, time.Second)

	f.now = f.now.Add(72 * time.Hour)
	e, err = f.projector.Compute(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, e.IsFree())
}

func TestCompute_CancelAtPeriodEndIsNotAutoRenewing(t *testing.T) {
	f := newFixture(t)
	sub := f.addSub(t, "u1", "gold-1", "gold", types.SubscriptionStatusActive, f.now.Add(24*time.Hour))
	sub.CancelAtPeriodEnd = true
	require.NoError(t, f.ledger.UpdateSubscription(f.ctx, sub))

	e, err := f.projector.Compute(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "gold", e.PlanType)
	assert.False(t, e.AutoRenewing)
}

func TestCompute_BalancesSkipRefundedAndPending(t *testing.T) {
	f := newFixture(t)
	f.addCoins(t, "u1", "GPA.1", 100, types.TransactionStatusSuccess)
	f.addCoins(t, "u1", "GPA.2", 50, types.TransactionStatusSuccess)
	f.addCoins(t, "u1", "GPA.3", 500, types.TransactionStatusRefunded)
	f.addCoins(t, "u1", "GPA.4", 70, types.TransactionStatusPending)

	e, err := f.projector.Compute(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"coin": 150}, e.Balances)
}

func TestProject_PublishesRowAndCache(t *testing.T) {
	f := newFixture(t)
	sub := f.addSub(t, "u1", "gold-1", "gold", types.SubscriptionStatusActive, f.now.Add(24*time.Hour))

	_, err := f.projector.Project(f.ctx, "u1")
	require.NoError(t, err)

	_, ok, err := f.cache.Get(f.ctx, cacheKey("u1"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Served from the row once the cache entry is gone.
	require.NoError(t, f.projector.Invalidate(f.ctx, "u1"))
	got, err := f.snapshots.GetEntitlement(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "gold", got.PlanType)
	assert.Equal(t, sub.ID, got.SubscriptionID)

	// Demotion overwrites the same row.
	sub.Status = types.SubscriptionStatusExpired
	require.NoError(t, f.ledger.UpdateSubscription(f.ctx, sub))
	_, err = f.projector.Project(f.ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, f.projector.Invalidate(f.ctx, "u1"))
	got, err = f.snapshots.GetEntitlement(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.IsFree())
	assert.Empty(t, got.SubscriptionID)
}

func TestCurrent_ProjectsOnMiss(t *testing.T) {
	f := newFixture(t)
	f.addSub(t, "u1", "gold-1", "gold", types.SubscriptionStatusActive, f.now.Add(24*time.Hour))

	_, err := f.snapshots.GetEntitlement(f.ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	e, err := f.projector.Current(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "gold", e.PlanType)

	got, err := f.snapshots.GetEntitlement(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "gold", got.PlanType)
}
