// Package statistics answers the admin dashboard: revenue, subscribers,
// question volume and outreach, bucketed by local calendar day.
package statistics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/types"
)

type StatisticType string

const (
	StatisticTypeDailyPaymentCount   StatisticType = "daily_payment_count"
	StatisticTypeDailyRevenue        StatisticType = "daily_revenue"
	StatisticTypeTotalRevenue        StatisticType = "total_revenue"
	StatisticTypeActiveSubscriptions StatisticType = "active_subscriptions"
	StatisticTypeDailyNewSubscribers StatisticType = "daily_new_subscribers"
	StatisticTypeDailyQuestions      StatisticType = "daily_questions"
	StatisticTypeDailyCrmSent        StatisticType = "daily_crm_sent"
)

const defaultWindowDays = 30

// filterFields maps the filters a statistic accepts. Statistics outside a
// filter's list ignore it.
var filterFields = map[string][]StatisticType{
	"plan_code": {StatisticTypeDailyPaymentCount, StatisticTypeDailyRevenue, StatisticTypeTotalRevenue, StatisticTypeActiveSubscriptions},
	"source":    {StatisticTypeDailyQuestions},
	"type":      {StatisticTypeDailyCrmSent},
}

type DataItem struct {
	ID StatisticType `json:"id"`
}

type Request struct {
	// From and To are inclusive local dates (YYYY-MM-DD). The default window
	// is the last 30 days.
	From      string               `json:"from"`
	To        string               `json:"to"`
	Filters   []types.CommonFilter `json:"filters"`
	DataItems []*DataItem          `json:"data_items"`
}

// filtersFor keeps the filters that apply to statisticType.
func (r *Request) filtersFor(statisticType StatisticType) clause.Expression {
	applicable := lo.Filter(r.Filters, func(f types.CommonFilter, _ int) bool {
		return lo.Contains(filterFields[f.Field], statisticType)
	})
	return filterSet(applicable)
}

type filterSet []types.CommonFilter

func (fs filterSet) Build(builder clause.Builder) {
	if len(fs) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i := range fs {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		fs[i].Build(builder)
	}
}

type ResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type Response struct {
	From      string                               `json:"from"`
	To        string                               `json:"to"`
	DataItems map[StatisticType][]ResponseDataItem `json:"data_items"`
}

// window is a half-open UTC interval covering whole local days.
type window struct {
	from, to       time.Time
	fromDay, toDay string
}

type Service struct {
	cfg   *config.Config
	db    *gorm.DB
	nowFn func() time.Time
}

func New(cfg *config.Config, db *gorm.DB) *Service {
	return &Service{cfg: cfg, db: db, nowFn: time.Now}
}

func (s *Service) TestSetNow(now func() time.Time) {
	s.nowFn = now
}

func (s *Service) window(req *Request) (*window, error) {
	loc := s.cfg.Location()
	today := s.nowFn().In(loc)
	to := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	if req.To != "" {
		d, err := time.ParseInLocation(time.DateOnly, req.To, loc)
		if err != nil {
			return nil, apperr.Validation.New("bad to date %q", req.To)
		}
		to = d
	}
	from := to.AddDate(0, 0, -(defaultWindowDays - 1))
	if req.From != "" {
		d, err := time.ParseInLocation(time.DateOnly, req.From, loc)
		if err != nil {
			return nil, apperr.Validation.New("bad from date %q", req.From)
		}
		from = d
	}
	if from.After(to) {
		return nil, apperr.Validation.New("from %s is after to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return &window{
		from:    from.UTC(),
		to:      to.AddDate(0, 0, 1).UTC(),
		fromDay: from.Format(time.DateOnly),
		toDay:   to.Format(time.DateOnly),
	}, nil
}

// Validate rejects unknown statistics and filters.
func (r *Request) Validate() error {
	if len(r.DataItems) == 0 {
		return apperr.Validation.New("data_items is empty")
	}
	for _, di := range r.DataItems {
		if di == nil || !lo.Contains(allTypes, di.ID) {
			return apperr.Validation.New("unknown data item")
		}
	}
	allowed := lo.MapValues(filterFields, func(_ []StatisticType, _ string) bool { return true })
	if err := types.ValidateFields(r.Filters, allowed); err != nil {
		return apperr.Validation.Wrap(err)
	}
	return nil
}

var allTypes = []StatisticType{
	StatisticTypeDailyPaymentCount,
	StatisticTypeDailyRevenue,
	StatisticTypeTotalRevenue,
	StatisticTypeActiveSubscriptions,
	StatisticTypeDailyNewSubscribers,
	StatisticTypeDailyQuestions,
	StatisticTypeDailyCrmSent,
}

// GetStatistics computes every requested item concurrently.
func (s *Service) GetStatistics(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	w, err := s.window(req)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[StatisticType][]ResponseDataItem, len(req.DataItems))
	g, gctx := errgroup.WithContext(ctx)
	for _, di := range lo.UniqBy(req.DataItems, func(di *DataItem) StatisticType { return di.ID }) {
		g.Go(func() error {
			items, err := s.statistic(gctx, req, w, di.ID)
			if err != nil {
				return fmt.Errorf("statistic %s: %w", di.ID, err)
			}
			mu.Lock()
			results[di.ID] = items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Response{From: w.fromDay, To: w.toDay, DataItems: results}, nil
}

func (s *Service) statistic(ctx context.Context, req *Request, w *window, id StatisticType) ([]ResponseDataItem, error) {
	switch id {
	case StatisticTypeDailyPaymentCount:
		return s.dailyPayments(ctx, req, w, false)
	case StatisticTypeDailyRevenue:
		return s.dailyPayments(ctx, req, w, true)
	case StatisticTypeTotalRevenue:
		return s.totalRevenue(ctx, req, w)
	case StatisticTypeActiveSubscriptions:
		return s.activeSubscriptions(ctx, req)
	case StatisticTypeDailyNewSubscribers:
		return s.dailyNewSubscribers(ctx, w)
	case StatisticTypeDailyQuestions:
		return s.dailyQuestions(ctx, req, w)
	case StatisticTypeDailyCrmSent:
		return s.dailyCrmSent(ctx, req, w)
	}
	return nil, apperr.Validation.New("invalid data item id: %s", id)
}

// bucket groups instants by local day and label. Day bucketing happens here
// rather than in SQL so it follows the configured timezone on every driver.
func (s *Service) bucket(rows []stampRow) []ResponseDataItem {
	loc := s.cfg.Location()
	type key struct{ date, label string }
	sums := map[key]int64{}
	for _, r := range rows {
		sums[key{r.At.In(loc).Format(time.DateOnly), r.Label}] += r.Value
	}
	out := make([]ResponseDataItem, 0, len(sums))
	for k, v := range sums {
		out = append(out, ResponseDataItem{Date: k.date, Label: k.label, Value: v})
	}
	sortItems(out)
	return out
}

func sortItems(items []ResponseDataItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].Label < items[j].Label
	})
}

type stampRow struct {
	At    time.Time
	Label string
	Value int64
}

func (s *Service) dailyPayments(ctx context.Context, req *Request, w *window, revenue bool) ([]ResponseDataItem, error) {
	var paid []models.Payment
	statType := StatisticTypeDailyPaymentCount
	if revenue {
		statType = StatisticTypeDailyRevenue
	}
	err := s.db.WithContext(ctx).
		Select("paid_at", "amount", "currency").
		Where("status = ? AND paid_at >= ? AND paid_at < ?", types.PaymentStatusSuccess, w.from, w.to).
		Where(clause.Where{Exprs: []clause.Expression{req.filtersFor(statType)}}).
		Find(&paid).Error
	if err != nil {
		return nil, err
	}
	return s.bucket(lo.Map(paid, func(p models.Payment, _ int) stampRow {
		r := stampRow{At: *p.PaidAt, Value: 1}
		if revenue {
			r.Label, r.Value = p.Currency, p.Amount
		}
		return r
	})), nil
}

func (s *Service) totalRevenue(ctx context.Context, req *Request, w *window) ([]ResponseDataItem, error) {
	var out []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("currency AS label, SUM(amount) AS value").
		Where("status = ? AND paid_at >= ? AND paid_at < ?", types.PaymentStatusSuccess, w.from, w.to).
		Where(clause.Where{Exprs: []clause.Expression{req.filtersFor(StatisticTypeTotalRevenue)}}).
		Group("currency").
		Order("currency").
		Scan(&out).Error
	return out, err
}

func (s *Service) activeSubscriptions(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND ends_at > ?", types.SubscriptionStatusActive, s.nowFn().UTC()).
		Where(clause.Where{Exprs: []clause.Expression{req.filtersFor(StatisticTypeActiveSubscriptions)}}).
		Distinct("user_id").
		Count(&n).Error
	if err != nil {
		return nil, err
	}
	return []ResponseDataItem{{Value: n}}, nil
}

// dailyNewSubscribers counts users by the day of their first subscription.
func (s *Service) dailyNewSubscribers(ctx context.Context, w *window) ([]ResponseDataItem, error) {
	var subs []models.Subscription
	if err := s.db.WithContext(ctx).Select("user_id", "started_at").Find(&subs).Error; err != nil {
		return nil, err
	}
	firsts := map[int64]time.Time{}
	for _, sub := range subs {
		if at, ok := firsts[sub.UserID]; !ok || sub.StartedAt.Before(at) {
			firsts[sub.UserID] = sub.StartedAt
		}
	}
	rows := make([]stampRow, 0, len(firsts))
	for _, at := range firsts {
		if !at.Before(w.from) && at.Before(w.to) {
			rows = append(rows, stampRow{At: at, Value: 1})
		}
	}
	return s.bucket(rows), nil
}

// dailyQuestions reads log_date, which is already a local date.
func (s *Service) dailyQuestions(ctx context.Context, req *Request, w *window) ([]ResponseDataItem, error) {
	var out []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.QuestionLog{}).
		Select("log_date AS date, source AS label, COUNT(*) AS value").
		Where("log_date >= ? AND log_date <= ?", w.fromDay, w.toDay).
		Where(clause.Where{Exprs: []clause.Expression{req.filtersFor(StatisticTypeDailyQuestions)}}).
		Group("log_date, source").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	sortItems(out)
	return out, nil
}

func (s *Service) dailyCrmSent(ctx context.Context, req *Request, w *window) ([]ResponseDataItem, error) {
	var tasks []models.CrmTask
	err := s.db.WithContext(ctx).
		Select("type", "sent_at").
		Where("status = ? AND sent_at >= ? AND sent_at < ?", types.CrmTaskStatusSent, w.from, w.to).
		Where(clause.Where{Exprs: []clause.Expression{req.filtersFor(StatisticTypeDailyCrmSent)}}).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return s.bucket(lo.Map(tasks, func(t models.CrmTask, _ int) stampRow {
		return stampRow{At: *t.SentAt, Label: string(t.Type), Value: 1}
	})), nil
}

var Module = fx.Options(
	fx.Provide(New),
)
