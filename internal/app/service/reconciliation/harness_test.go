package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app/service/entitlement"
	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/internal/platform/cache"
	"github.com/fatflowers/entitler/internal/platform/db/dbtest"
	"github.com/fatflowers/entitler/pkg/config"
	"github.com/fatflowers/entitler/pkg/types"
)

type fakeAdapter struct {
	provider   types.PaymentProvider
	receipt    *verification.Event
	receiptErr error
	ackErr     error

	mu    sync.Mutex
	acked []verification.AcknowledgeRequest
}

func (f *fakeAdapter) Provider() types.PaymentProvider { return f.provider }

func (f *fakeAdapter) VerifyReceipt(ctx context.Context, _ *verification.ReceiptRequest) (*verification.Event, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("verification must run with a deadline")
	}
	ev := *f.receipt
	return &ev, nil
}

func (f *fakeAdapter) VerifyNotification(context.Context, *verification.InboundNotification) (*verification.Event, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Acknowledge(_ context.Context, req *verification.AcknowledgeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acked = append(f.acked, *req)
	return nil
}

func (f *fakeAdapter) DetermineStatus(e *verification.Event, now time.Time) types.SubscriptionStatus {
	return verification.DeriveStatus(e, now)
}

func (f *fakeAdapter) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

type sentNotice struct {
	userID string
	n      notify.Notification
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (f *fakeNotifier) Notify(_ context.Context, userID string, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotice{userID: userID, n: n})
	return nil
}

func (f *fakeNotifier) count(typ notify.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.CountBy(f.sent, func(s sentNotice) bool { return s.n.Type == typ })
}

type harness struct {
	ctx       context.Context
	cfg       *config.Config
	engine    *Engine
	store     *ledger.Store
	projector *entitlement.Projector
	apple     *fakeAdapter
	google    *fakeAdapter
	notifier  *fakeNotifier
	now       time.Time
}

func testConfig() *config.Config {
	return &config.Config{
		PaymentItems: []*types.PaymentItem{
			{ID: "gold_monthly_apple", ProviderID: types.PaymentProviderApple, ProviderItemID: "com.example.gold.monthly",
				Type: types.PaymentItemTypeAutoRenewableSubscription, PlanType: "gold", BillingCycle: types.BillingCycleMonthly, Amount: 999, Currency: "USD"},
			{ID: "silver_monthly_apple", ProviderID: types.PaymentProviderApple, ProviderItemID: "com.example.silver.monthly",
				Type: types.PaymentItemTypeAutoRenewableSubscription, PlanType: "silver", BillingCycle: types.BillingCycleMonthly, Amount: 499, Currency: "USD"},
			{ID: "gold_monthly_google", ProviderID: types.PaymentProviderGoogle, ProviderItemID: "gold_monthly",
				Type: types.PaymentItemTypeAutoRenewableSubscription, PlanType: "gold", BillingCycle: types.BillingCycleMonthly, Amount: 999, Currency: "USD"},
			{ID: "silver_monthly_google", ProviderID: types.PaymentProviderGoogle, ProviderItemID: "silver_monthly",
				Type: types.PaymentItemTypeAutoRenewableSubscription, PlanType: "silver", BillingCycle: types.BillingCycleMonthly, Amount: 499, Currency: "USD"},
			{ID: "coins_google", ProviderID: types.PaymentProviderGoogle, ProviderItemID: "coins_100",
				Type: types.PaymentItemTypeConsumable, ItemType: "coin", Quantity: 100, Amount: 199, Currency: "USD"},
		},
		Plans: []*types.Plan{
			{Type: types.PlanFree, Features: []string{"basic"}},
			{Type: "silver", Rank: 10, Features: []string{"ads_free"}},
			{Type: "gold", Rank: 20, Features: []string{"ads_free", "unlimited_likes"}},
		},
		Billing: config.BillingConfig{
			RefundWindowDays:   30,
			GracePeriodDays:    3,
			MaxPaymentRetries:  3,
			RetryIntervalsDays: []int{1, 3, 5},
			TrialReminderHours: 48,
			LapseLeewayHours:   24,
			SweepBatchSize:     50,
		},
		Verification: config.VerificationConfig{Timeout: 5 * time.Second},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := dbtest.Open(t)
	log := zap.NewNop().Sugar()
	h := &harness{
		ctx:      context.Background(),
		cfg:      testConfig(),
		apple:    &fakeAdapter{provider: types.PaymentProviderApple},
		google:   &fakeAdapter{provider: types.PaymentProviderGoogle},
		notifier: &fakeNotifier{},
		now:      time.Now().UTC().Truncate(time.Second),
	}
	h.store = ledger.NewStore(gdb, log)
	snapshots := entitlement.NewSnapshotStore(gdb, cache.NewMemory(), log)
	h.projector = entitlement.NewProjector(h.cfg, h.store, snapshots, log)
	h.engine = NewEngine(h.cfg, h.store, verification.NewRegistry(h.apple, h.google), h.projector, h.notifier, log)
	h.engine.now = func() time.Time { return h.now }
	return h
}

func (h *harness) days(n int) time.Time {
	return h.now.Add(time.Duration(n) * 24 * time.Hour)
}

// appleEvent is a gold monthly charge on Apple subscription "orig-1" for u1.
func (h *harness) appleEvent(kind verification.EventKind, txID string, expires time.Time) *verification.Event {
	return &verification.Event{
		Provider:               types.PaymentProviderApple,
		Kind:                   kind,
		Source:                 verification.SourceNotification,
		ProductID:              "com.example.gold.monthly",
		ProviderTransactionID:  txID,
		ProviderSubscriptionID: "orig-1",
		OriginalTransactionID:  "orig-1",
		UserID:                 "u1",
		PurchaseTime:           h.now,
		ExpiresAt:              lo.ToPtr(expires),
		AutoRenewing:           lo.ToPtr(true),
		Amount:                 999,
		Currency:               "USD",
		Environment:            "Production",
	}
}

// statusEvent is a non-monetary notification on "orig-1".
func (h *harness) statusEvent(kind verification.EventKind) *verification.Event {
	return &verification.Event{
		Provider:               types.PaymentProviderApple,
		Kind:                   kind,
		Source:                 verification.SourceNotification,
		ProductID:              "com.example.gold.monthly",
		ProviderSubscriptionID: "orig-1",
		NotificationID:         string(kind) + "-n",
	}
}

func (h *harness) googleEvent(kind verification.EventKind, productID, orderID, token string) *verification.Event {
	return &verification.Event{
		Provider:               types.PaymentProviderGoogle,
		Kind:                   kind,
		Source:                 verification.SourceNotification,
		ProductID:              productID,
		ProviderTransactionID:  orderID,
		ProviderSubscriptionID: token,
		OriginalTransactionID:  token,
		UserID:                 "u1",
		PurchaseTime:           h.now,
		ExpiresAt:              lo.ToPtr(h.days(30)),
		AutoRenewing:           lo.ToPtr(true),
		PurchaseToken:          token,
		NeedsAcknowledge:       true,
	}
}

func (h *harness) apply(t *testing.T, ev *verification.Event) *Result {
	t.Helper()
	res, err := h.engine.Apply(h.ctx, ev)
	require.NoError(t, err)
	return res
}

func (h *harness) subscription(t *testing.T, provider types.PaymentProvider, providerSubID string) *models.Subscription {
	t.Helper()
	sub, err := h.store.FindSubscription(h.ctx, provider, providerSubID)
	require.NoError(t, err)
	return sub
}

func (h *harness) history(t *testing.T, subID string) []types.HistoryAction {
	t.Helper()
	rows, err := h.store.ListHistory(h.ctx, subID)
	require.NoError(t, err)
	return lo.Map(rows, func(r *models.SubscriptionHistory, _ int) types.HistoryAction { return r.Action })
}

func (h *harness) entitlement(t *testing.T, userID string) *types.Entitlement {
	t.Helper()
	e, err := h.projector.Current(h.ctx, userID)
	require.NoError(t, err)
	return e
}

func (h *harness) userTransactions(t *testing.T, userID string) []*models.Transaction {
	t.Helper()
	txs, err := h.store.ListUserTransactions(h.ctx, userID)
	require.NoError(t, err)
	return txs
}
