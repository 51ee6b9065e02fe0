package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app/service/ledger"
	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/app/service/statistics"
	"github.com/fatflowers/entitler/internal/app/service/verification"
	"github.com/fatflowers/entitler/pkg/logctx"
	"github.com/fatflowers/entitler/pkg/response"
)

// Reason codes carried in error_code. Clients branch on these, so they never change.
const (
	ErrorCodeInvalidRequest        = "invalid-request"
	ErrorCodeReceiptInvalid        = "receipt-invalid"
	ErrorCodeReceiptAlreadyUsed    = "receipt-already-used"
	ErrorCodeSubscriptionExpired   = "subscription-expired"
	ErrorCodeProviderUnavailable   = "provider-unavailable"
	ErrorCodeDuplicateSubscription = "duplicate-subscription"
	ErrorCodeUnknownProduct        = "unknown-product"
	ErrorCodeUnknownUser           = "unknown-user"
	ErrorCodeUnsupportedProvider   = "unsupported-provider"
	ErrorCodeNotFound              = "not-found"
	ErrorCodeRefundWindowExpired   = "refund-window-expired"
	ErrorCodeAlreadyRefunded       = "already-refunded"
	ErrorCodeInvalidRefundAmount   = "invalid-refund-amount"
	ErrorCodeNotRefundable         = "not-refundable"
	ErrorCodeInvalidTransition     = "invalid-transition"
	ErrorCodeUnknownSweep          = "unknown-sweep"
	ErrorCodeConcurrentUpdate      = "concurrent-update"
	ErrorCodeInternal              = "internal-error"
)

func classify(err error) (response.APIResponseCode, string) {
	switch {
	case verification.IsRetryable(err):
		return response.APIResponseCodeUpstream, ErrorCodeProviderUnavailable
	case verification.KindOf(err) != "":
		return response.APIResponseCodeBadRequest, ErrorCodeReceiptInvalid
	case errors.Is(err, verification.ErrNoAdapter):
		return response.APIResponseCodeNotFound, ErrorCodeUnsupportedProvider
	case errors.Is(err, reconciliation.ErrReceiptAlreadyUsed):
		return response.APIResponseCodeConflict, ErrorCodeReceiptAlreadyUsed
	case errors.Is(err, reconciliation.ErrDuplicateSubscription):
		return response.APIResponseCodeConflict, ErrorCodeDuplicateSubscription
	case errors.Is(err, reconciliation.ErrUnknownProduct):
		return response.APIResponseCodeBadRequest, ErrorCodeUnknownProduct
	case errors.Is(err, reconciliation.ErrUnknownUser):
		return response.APIResponseCodeBadRequest, ErrorCodeUnknownUser
	case errors.Is(err, reconciliation.ErrUnknownSubscription), errors.Is(err, ledger.ErrNotFound):
		return response.APIResponseCodeNotFound, ErrorCodeNotFound
	case errors.Is(err, reconciliation.ErrRefundWindowExpired):
		return response.APIResponseCodeConflict, ErrorCodeRefundWindowExpired
	case errors.Is(err, reconciliation.ErrAlreadyRefunded):
		return response.APIResponseCodeConflict, ErrorCodeAlreadyRefunded
	case errors.Is(err, reconciliation.ErrInvalidRefundAmount):
		return response.APIResponseCodeBadRequest, ErrorCodeInvalidRefundAmount
	case errors.Is(err, reconciliation.ErrNotRefundable):
		return response.APIResponseCodeConflict, ErrorCodeNotRefundable
	case errors.Is(err, reconciliation.ErrInvalidTransition):
		return response.APIResponseCodeConflict, ErrorCodeInvalidTransition
	case errors.Is(err, reconciliation.ErrUnknownSweep):
		return response.APIResponseCodeNotFound, ErrorCodeUnknownSweep
	case errors.Is(err, ledger.ErrInvalidQuery), errors.Is(err, statistics.ErrInvalidRequest):
		return response.APIResponseCodeBadRequest, ErrorCodeInvalidRequest
	case errors.Is(err, ledger.ErrVersionConflict), errors.Is(err, ledger.ErrDuplicate):
		return response.APIResponseCodeConflict, ErrorCodeConcurrentUpdate
	}
	return response.APIResponseCodeError, ErrorCodeInternal
}

// writeError answers with HTTP 200 and the envelope for err. Unexpected errors
// are logged at error level, business rejections at info.
func writeError(c *gin.Context, base *zap.SugaredLogger, err error) {
	code, reason := classify(err)
	log := logctx.FromGin(c, base)
	if code == response.APIResponseCodeError {
		log.Errorw("request_failed", "path", c.FullPath(), "error", err)
	} else {
		log.Infow("request_rejected", "path", c.FullPath(), "error_code", reason, "error", err)
	}
	c.JSON(http.StatusOK, response.Fail(code, reason, err.Error()))
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusOK, response.Fail(response.APIResponseCodeBadRequest, ErrorCodeInvalidRequest, message))
}
