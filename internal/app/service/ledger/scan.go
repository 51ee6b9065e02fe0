package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/types"
)

// ScanTransactionsRequest drives the admin transaction listing.
type ScanTransactionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanTransactionsResponse struct {
	Items []*models.Transaction `json:"items"`
	Total int64                 `json:"total"`
}

// TransactionFilterFields are the columns admin filters and sorting may use.
var TransactionFilterFields = map[string]bool{
	"id":                    true,
	"user_id":               true,
	"subscription_id":       true,
	"provider_id":           true,
	"transaction_id":        true,
	"parent_transaction_id": true,
	"payment_item_id":       true,
	"product_id":            true,
	"type":                  true,
	"status":                true,
	"amount":                true,
	"currency":              true,
	"environment":           true,
	"purchase_at":           true,
	"expire_at":             true,
	"created_at":            true,
}

const maxScanSize = 500

// ErrInvalidQuery marks a scan request with a disallowed filter or sort field.
var ErrInvalidQuery = errors.New("ledger: invalid query")

// filtersAnd combines filters into one AND expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanTransactions lists transactions with filters and offset pagination.
func (s *Store) ScanTransactions(ctx context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := types.ValidateFields(req.Filters, TransactionFilterFields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if req.SortBy != "" && !TransactionFilterFields[req.SortBy] {
		return nil, fmt.Errorf("%w: sort on field %q is not allowed", ErrInvalidQuery, req.SortBy)
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.Size > maxScanSize {
		req.Size = maxScanSize
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.Transaction{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*models.Transaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return &ScanTransactionsResponse{Items: rows, Total: total}, nil
}
