package reconciliation

import "errors"

// Terminal business errors. On the notification path they are logged and the
// event is dropped; on the client and admin paths they are returned.
var (
	ErrReceiptAlreadyUsed    = errors.New("receipt is already bound to another user")
	ErrDuplicateSubscription = errors.New("user already has a live subscription")
	ErrUnknownSubscription   = errors.New("event references an unknown subscription")
	ErrUnknownUser           = errors.New("purchase cannot be attributed to a user")
	ErrUnknownProduct        = errors.New("product is not in the catalog")
	ErrRefundWindowExpired   = errors.New("refund window has expired")
	ErrAlreadyRefunded       = errors.New("transaction is already refunded")
	ErrInvalidRefundAmount   = errors.New("refund amount must be positive and not exceed the final amount")
	ErrNotRefundable         = errors.New("only settled transactions can be refunded")
	ErrInvalidTransition     = errors.New("subscription state does not allow this operation")
	ErrUnknownSweep          = errors.New("unknown sweep")
)
