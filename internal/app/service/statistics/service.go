package statistics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/pkg/types"
)

type StatisticType string

const (
	StatisticTypeDailyTransactionCount     StatisticType = "daily_transaction_count"
	StatisticTypeDailyGmv                  StatisticType = "daily_gmv"
	StatisticTypeDailyRefundAmount         StatisticType = "daily_refund_amount"
	StatisticTypeDailyNewSubscriptionCount StatisticType = "daily_new_subscription_count"
	// StatisticTypeLiveSubscriptionCount is a point-in-time count per plan and
	// status; Date is the day it was computed.
	StatisticTypeLiveSubscriptionCount StatisticType = "live_subscription_count"
)

// FilterFieldIsFirstPurchase is matched against the transaction extra payload
// instead of a column.
const FilterFieldIsFirstPurchase = "is_first_purchase"

const (
	defaultRangeDays = 30
	maxRangeDays     = 366
)

var ErrInvalidRequest = errors.New("statistics: invalid request")

// validFilters lists, per filter field, the statistics it narrows. Filters on
// other statistics are ignored.
var validFilters = map[string][]StatisticType{
	FilterFieldIsFirstPurchase: {StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeDailyRefundAmount},
	"type":                     {StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeDailyRefundAmount},
	"currency":                 {StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeDailyRefundAmount},
	"environment":              {StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeDailyRefundAmount, StatisticTypeDailyNewSubscriptionCount, StatisticTypeLiveSubscriptionCount},
	"provider_id":              {StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeDailyRefundAmount, StatisticTypeDailyNewSubscriptionCount, StatisticTypeLiveSubscriptionCount},
	"payment_item_id":          {StatisticTypeDailyTransactionCount, StatisticTypeDailyGmv, StatisticTypeDailyRefundAmount, StatisticTypeDailyNewSubscriptionCount, StatisticTypeLiveSubscriptionCount},
	"plan_type":                {StatisticTypeDailyNewSubscriptionCount, StatisticTypeLiveSubscriptionCount},
}

type Request struct {
	Filters []*types.CommonFilter `json:"filters"`
	// From and To are inclusive UTC dates (YYYY-MM-DD). They default to the
	// last 30 days.
	From      string          `json:"from"`
	To        string          `json:"to"`
	DataItems []StatisticType `json:"data_items" binding:"required"`
}

type DataItem struct {
	Date  string `json:"date"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type Response struct {
	From      string                       `json:"from"`
	To        string                       `json:"to"`
	DataItems map[StatisticType][]DataItem `json:"data_items"`
}

type dateRange struct {
	from, to time.Time // to is exclusive
}

func parseRange(req *Request, now time.Time) (dateRange, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	r := dateRange{from: today.AddDate(0, 0, -defaultRangeDays+1), to: today.AddDate(0, 0, 1)}
	if req.From != "" {
		t, err := time.Parse(time.DateOnly, req.From)
		if err != nil {
			return r, fmt.Errorf("%w: from: %v", ErrInvalidRequest, err)
		}
		r.from = t
	}
	if req.To != "" {
		t, err := time.Parse(time.DateOnly, req.To)
		if err != nil {
			return r, fmt.Errorf("%w: to: %v", ErrInvalidRequest, err)
		}
		r.to = t.AddDate(0, 0, 1)
	}
	if !r.to.After(r.from) {
		return r, fmt.Errorf("%w: to is before from", ErrInvalidRequest)
	}
	if r.to.Sub(r.from) > maxRangeDays*24*time.Hour {
		return r, fmt.Errorf("%w: range exceeds %d days", ErrInvalidRequest, maxRangeDays)
	}
	return r, nil
}

// filtersFor returns the column filters that apply to t and whether the
// is_first_purchase filter is set (nil when absent).
func (req *Request) filtersFor(t StatisticType) ([]*types.CommonFilter, *bool) {
	var (
		out       []*types.CommonFilter
		firstOnly *bool
	)
	for _, f := range req.Filters {
		if f == nil || !lo.Contains(validFilters[f.Field], t) {
			continue
		}
		if f.Field == FilterFieldIsFirstPurchase {
			firstOnly = lo.ToPtr(len(f.Values) > 0 && fmt.Sprint(f.Values[0]) == "true")
			continue
		}
		out = append(out, f)
	}
	return out, firstOnly
}

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) validate(req *Request) error {
	if req == nil || len(req.DataItems) == 0 {
		return fmt.Errorf("%w: data_items is required", ErrInvalidRequest)
	}
	for _, f := range req.Filters {
		if f == nil {
			continue
		}
		if _, ok := validFilters[f.Field]; !ok {
			return fmt.Errorf("%w: filter on field %q is not allowed", ErrInvalidRequest, f.Field)
		}
		if len(f.Filters) > 0 {
			return fmt.Errorf("%w: nested filters are not supported", ErrInvalidRequest)
		}
	}
	return nil
}

func where(filters []*types.CommonFilter) clause.Expression {
	exprs := make([]clause.Expression, 0, len(filters))
	for _, f := range filters {
		exprs = append(exprs, f)
	}
	return clause.And(exprs...)
}

func day(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func (s *Service) transactions(ctx context.Context, r dateRange, req *Request, t StatisticType, statuses ...types.TransactionStatus) ([]*models.Transaction, error) {
	filters, firstOnly := req.filtersFor(t)
	q := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("created_at >= ? AND created_at < ?", r.from, r.to)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if len(filters) > 0 {
		q = q.Where(where(filters))
	}
	var rows []*models.Transaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if firstOnly != nil {
		rows = lo.Filter(rows, func(tx *models.Transaction, _ int) bool {
			e := tx.Extra.Data()
			return (e != nil && e.IsFirstPurchase) == *firstOnly
		})
	}
	return rows, nil
}

func sorted(counts map[lo.Tuple2[string, string]]int64) []DataItem {
	out := make([]DataItem, 0, len(counts))
	for k, v := range counts {
		out = append(out, DataItem{Date: k.A, Label: k.B, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (s *Service) dailyTransactionCount(ctx context.Context, r dateRange, req *Request) ([]DataItem, error) {
	rows, err := s.transactions(ctx, r, req, StatisticTypeDailyTransactionCount)
	if err != nil {
		return nil, err
	}
	counts := map[lo.Tuple2[string, string]]int64{}
	for _, t := range rows {
		counts[lo.T2(day(t.CreatedAt), "")]++
	}
	return sorted(counts), nil
}

// dailyGmv sums final amounts of paid transactions per day and currency,
// refunded ones included.
func (s *Service) dailyGmv(ctx context.Context, r dateRange, req *Request) ([]DataItem, error) {
	rows, err := s.transactions(ctx, r, req, StatisticTypeDailyGmv)
	if err != nil {
		return nil, err
	}
	counts := map[lo.Tuple2[string, string]]int64{}
	for _, t := range rows {
		if !t.Status.Final() {
			continue
		}
		counts[lo.T2(day(t.CreatedAt), t.Currency)] += t.FinalAmount
	}
	return sorted(counts), nil
}

// dailyRefundAmount buckets refunds by the day they were processed.
func (s *Service) dailyRefundAmount(ctx context.Context, r dateRange, req *Request) ([]DataItem, error) {
	// A refund can only follow its purchase, so rows created before the range
	// end are the candidates; the processed date is checked below.
	rows, err := s.transactions(ctx, dateRange{to: r.to}, req, StatisticTypeDailyRefundAmount,
		types.TransactionStatusRefunded, types.TransactionStatusPartiallyRefunded)
	if err != nil {
		return nil, err
	}
	counts := map[lo.Tuple2[string, string]]int64{}
	for _, t := range rows {
		ri := t.RefundInfo()
		if ri == nil || ri.ProcessedAt.Before(r.from) || !ri.ProcessedAt.Before(r.to) {
			continue
		}
		counts[lo.T2(day(ri.ProcessedAt), t.Currency)] += ri.Amount
	}
	return sorted(counts), nil
}

func (s *Service) dailyNewSubscriptionCount(ctx context.Context, r dateRange, req *Request) ([]DataItem, error) {
	filters, _ := req.filtersFor(StatisticTypeDailyNewSubscriptionCount)
	q := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("user_id", "created_at").
		Where("created_at >= ? AND created_at < ?", r.from, r.to)
	if len(filters) > 0 {
		q = q.Where(where(filters))
	}
	var subs []*models.Subscription
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	users := map[string]map[string]bool{}
	for _, sub := range subs {
		d := day(sub.CreatedAt)
		if users[d] == nil {
			users[d] = map[string]bool{}
		}
		users[d][sub.UserID] = true
	}
	counts := map[lo.Tuple2[string, string]]int64{}
	for d, u := range users {
		counts[lo.T2(d, "")] = int64(len(u))
	}
	return sorted(counts), nil
}

func (s *Service) liveSubscriptionCount(ctx context.Context, req *Request) ([]DataItem, error) {
	filters, _ := req.filtersFor(StatisticTypeLiveSubscriptionCount)
	var rows []struct {
		PlanType string
		Status   types.SubscriptionStatus
		Count    int64
	}
	q := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("plan_type, status, count(*) AS count").
		Where("status IN ?", []types.SubscriptionStatus{
			types.SubscriptionStatusActive, types.SubscriptionStatusTrialing,
			types.SubscriptionStatusPastDue, types.SubscriptionStatusPaused,
		})
	if len(filters) > 0 {
		q = q.Where(where(filters))
	}
	if err := q.Group("plan_type").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	today := day(s.now())
	counts := map[lo.Tuple2[string, string]]int64{}
	for _, row := range rows {
		counts[lo.T2(today, row.PlanType+"/"+string(row.Status))] = row.Count
	}
	return sorted(counts), nil
}

func (s *Service) compute(ctx context.Context, r dateRange, req *Request, t StatisticType) ([]DataItem, error) {
	switch t {
	case StatisticTypeDailyTransactionCount:
		return s.dailyTransactionCount(ctx, r, req)
	case StatisticTypeDailyGmv:
		return s.dailyGmv(ctx, r, req)
	case StatisticTypeDailyRefundAmount:
		return s.dailyRefundAmount(ctx, r, req)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.dailyNewSubscriptionCount(ctx, r, req)
	case StatisticTypeLiveSubscriptionCount:
		return s.liveSubscriptionCount(ctx, req)
	}
	return nil, fmt.Errorf("%w: invalid data item id: %s", ErrInvalidRequest, t)
}

// Compute evaluates every requested statistic concurrently. The first error
// fails the whole request.
func (s *Service) Compute(ctx context.Context, req *Request) (*Response, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	r, err := parseRange(req, s.now())
	if err != nil {
		return nil, err
	}

	items := lo.Uniq(req.DataItems)
	var wg sync.WaitGroup
	errChan := make(chan error, len(items))
	resChan := make(chan lo.Entry[StatisticType, []DataItem], len(items))
	for _, item := range items {
		wg.Add(1)
		go func(t StatisticType) {
			defer wg.Done()
			res, err := s.compute(ctx, r, req, t)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- lo.Entry[StatisticType, []DataItem]{Key: t, Value: res}
		}(item)
	}
	wg.Wait()
	close(errChan)
	close(resChan)

	if err := <-errChan; err != nil {
		return nil, err
	}
	out := &Response{
		From:      day(r.from),
		To:        day(r.to.AddDate(0, 0, -1)),
		DataItems: make(map[StatisticType][]DataItem, len(items)),
	}
	for e := range resChan {
		out.DataItems[e.Key] = e.Value
	}
	return out, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
