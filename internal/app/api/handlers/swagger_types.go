package handlers

import (
	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
	"github.com/fatflowers/entitler/internal/app/service/statistics"
	"github.com/fatflowers/entitler/pkg/response"
	"github.com/fatflowers/entitler/pkg/types"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code      response.APIResponseCode `json:"code"`
	Message   string                   `json:"message"`
	ErrorCode string                   `json:"error_code,omitempty"`
	Data      interface{}              `json:"data"`
}

type RespVerifyReceipt struct {
	Code      response.APIResponseCode `json:"code"`
	Message   string                   `json:"message"`
	ErrorCode string                   `json:"error_code,omitempty"`
	Data      VerifyReceiptResponse    `json:"data"`
}

type RespEntitlement struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    types.Entitlement        `json:"data"`
}

type RespWebhookAck struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    WebhookAck               `json:"data"`
}

// RespListTransactions wraps ListTransactionsResponse in the standard envelope.
type RespListTransactions struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListTransactionsResponse `json:"data"`
}

type RespTransaction struct {
	Code      response.APIResponseCode `json:"code"`
	Message   string                   `json:"message"`
	ErrorCode string                   `json:"error_code,omitempty"`
	Data      TransactionItem          `json:"data"`
}

type RespPlanChangeQuote struct {
	Code      response.APIResponseCode       `json:"code"`
	Message   string                         `json:"message"`
	ErrorCode string                         `json:"error_code,omitempty"`
	Data      reconciliation.PlanChangeQuote `json:"data"`
}

type RespSubscriptionHistory struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    SubscriptionHistoryResponse `json:"data"`
}

type RespSweepReports struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    []reconciliation.SweepReport `json:"data"`
}

type RespStatistics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}
