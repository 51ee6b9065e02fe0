package reconciliation

import (
	"context"
	"errors"

	"gorm.io/datatypes"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/notify"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/types"
)

type RefundRequest struct {
	// TransactionID is the ledger id, not the rail's.
	TransactionID string `json:"transaction_id" binding:"required"`
	// Amount defaults to the full final amount.
	Amount     *int64 `json:"amount,omitempty"`
	Reason     string `json:"reason"`
	OperatorID string `json:"operator_id,omitempty"`
}

// Refund refunds a settled transaction within the refund window and ends its
// subscription immediately. A rejected refund leaves the transaction as it was.
func (e *Engine) Refund(ctx context.Context, req *RefundRequest) (*models.Transaction, error) {
	var (
		t   *models.Transaction
		sub *models.Subscription
		err error
	)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		t, sub, err = e.refundOnce(ctx, req)
		if !errors.Is(err, ledger.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	logctx.FromCtx(ctx, e.log).Infow("transaction_refunded",
		"transaction_id", t.ID, "user_id", t.UserID, "amount", t.RefundInfo().Amount,
		"status", t.Status, "operator_id", req.OperatorID)
	e.project(ctx, t.UserID)
	e.dispatch(ctx, t.UserID, []notify.Notification{refundNotice(t, sub)})
	return t, nil
}

func (e *Engine) refundOnce(ctx context.Context, req *RefundRequest) (*models.Transaction, *models.Subscription, error) {
	var (
		t   *models.Transaction
		sub *models.Subscription
	)
	err := e.store.WithTx(ctx, func(tx *ledger.Store) error {
		var err error
		if t, err = tx.GetTransaction(ctx, req.TransactionID); err != nil {
			return err
		}
		if t.IsRefunded() {
			return ErrAlreadyRefunded
		}
		if t.Status != types.TransactionStatusSuccess {
			return ErrNotRefundable
		}
		now := e.now()
		if now.Sub(t.CreatedAt) > e.cfg.RefundWindow() {
			return ErrRefundWindowExpired
		}
		amount := t.FinalAmount
		if req.Amount != nil {
			amount = *req.Amount
		}
		if amount <= 0 || amount > t.FinalAmount {
			return ErrInvalidRefundAmount
		}

		markRefunded(t, amount, req.Reason, "", now)
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return err
		}
		if t.SubscriptionID == nil {
			return nil
		}
		if sub, err = tx.GetSubscription(ctx, *t.SubscriptionID); err != nil {
			return err
		}
		if sub.Status.Terminal() {
			return nil
		}
		before := *sub
		endNow(sub, types.CancellationReasonRefunded, now)
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		meta := datatypes.JSONMap{"source": string(verification.SourceAdmin), "reason": req.Reason, "amount": amount}
		if req.OperatorID != "" {
			meta["operator_id"] = req.OperatorID
		}
		return tx.AppendHistory(ctx, newHistory(&before, sub, types.HistoryActionRefunded, &t.ID, meta, now))
	})
	if err != nil {
		return nil, nil, err
	}
	return t, sub, nil
}
