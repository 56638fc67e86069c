package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepun/botoracle/internal/app/service/events"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/tool"
	"github.com/stepun/botoracle/pkg/types"
)

// Service is the subscription ledger.
type Service struct {
	cfg    *config.Config
	db     *gorm.DB
	log    *zap.SugaredLogger
	events events.Emitter
	nowFn  func() time.Time
	wg     sync.WaitGroup
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, ev events.Emitter) *Service {
	return &Service{cfg: cfg, db: db, log: log, events: ev, nowFn: time.Now}
}

// TestSetNow replaces the clock.
func (s *Service) TestSetNow(now func() time.Time) {
	s.nowFn = now
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

// Change describes one ledger write, for auditing after commit.
type Change struct {
	Reason    types.SubscriptionChangeReason
	Before    *models.Subscription
	After     *models.Subscription
	PaymentID *string
	Amount    int64
}

// GetActive returns the subscription granting access now, or nil.
func (s *Service) GetActive(ctx context.Context, userID int64) (*models.Subscription, error) {
	return GetActive(ctx, s.db, userID, s.now())
}

// GetActive selects, through db, the status=active row with the latest
// ends_at that is still after now.
func GetActive(ctx context.Context, db *gorm.DB, userID int64, now time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND ends_at > ?", userID, types.SubscriptionStatusActive, now).
		Order("ends_at DESC").
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &sub, nil
}

// Create starts a new subscription window at now.
func (s *Service) Create(ctx context.Context, userID int64, planCode string, amount int64, paymentID *string) (*models.Subscription, error) {
	plan, err := s.cfg.Plan(planCode)
	if err != nil {
		return nil, err
	}
	var change *Change
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change, err = s.create(ctx, tx, userID, plan, amount, paymentID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Audit(ctx, change)
	return change.After, nil
}

// Extend pushes the current subscription to max(ends_at, now) + duration.
// The row is found by status alone, so a window that lapsed moments ago is
// still extended and the user keeps what they paid for.
func (s *Service) Extend(ctx context.Context, userID int64, planCode string, amount int64) (*models.Subscription, error) {
	plan, err := s.cfg.Plan(planCode)
	if err != nil {
		return nil, err
	}
	var change *Change
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change, err = s.extend(ctx, tx, userID, plan, amount, nil, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Audit(ctx, change)
	return change.After, nil
}

// ApplyPayment grants the paid plan inside tx: extend the active
// subscription if there is one, otherwise create a new one. The caller owns
// the transaction and calls Audit after commit.
func (s *Service) ApplyPayment(ctx context.Context, tx *gorm.DB, p *models.Payment, now time.Time) (*Change, error) {
	plan, err := s.cfg.Plan(p.PlanCode)
	if err != nil {
		return nil, err
	}
	active, err := GetActive(ctx, tx, p.UserID, now)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return s.create(ctx, tx, p.UserID, plan, p.Amount, &p.ID, now)
	}
	return s.extend(ctx, tx, p.UserID, plan, p.Amount, &p.ID, now)
}

func (s *Service) create(ctx context.Context, tx *gorm.DB, userID int64, plan *types.Plan, amount int64, paymentID *string, now time.Time) (*Change, error) {
	sub := &models.Subscription{
		ID:         tool.GenerateUUIDV7(),
		UserID:     userID,
		PlanCode:   plan.Code,
		AmountPaid: amount,
		Status:     types.SubscriptionStatusActive,
		StartedAt:  now,
		EndsAt:     now.Add(plan.Duration()),
		PaymentID:  paymentID,
	}
	if err := tx.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &Change{Reason: types.SubscriptionChangeReasonStarted, After: sub, PaymentID: paymentID, Amount: amount}, nil
}

func (s *Service) extend(ctx context.Context, tx *gorm.DB, userID int64, plan *types.Plan, amount int64, paymentID *string, now time.Time) (*Change, error) {
	var current models.Subscription
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, types.SubscriptionStatusActive).
		Order("ends_at DESC").
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound.New("no subscription to extend for user %d", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription to extend: %w", err)
	}
	before := current

	base := current.EndsAt
	if now.After(base) {
		base = now
	}
	current.EndsAt = base.Add(plan.Duration())
	current.AmountPaid += amount
	current.PlanCode = plan.Code

	res := tx.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", current.ID).
		Updates(map[string]any{
			"ends_at":     current.EndsAt,
			"amount_paid": current.AmountPaid,
			"plan_code":   current.PlanCode,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("extend subscription: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, apperr.FatalInvariant.New("subscription %s vanished during extend", current.ID)
	}
	return &Change{Reason: types.SubscriptionChangeReasonExtended, Before: &before, After: &current, PaymentID: paymentID, Amount: amount}, nil
}

// Audit emits the analytics event and writes the before/after log in the
// background. Neither can fail the ledger write that already committed.
func (s *Service) Audit(ctx context.Context, c *Change) {
	if c == nil || c.After == nil {
		return
	}
	evType := types.EventSubscriptionStarted
	if c.Reason == types.SubscriptionChangeReasonExtended {
		evType = types.EventSubscriptionExtended
	}
	meta := map[string]any{
		"subscription_id": c.After.ID,
		"plan_code":       c.After.PlanCode,
		"ends_at":         c.After.EndsAt,
		"amount":          c.Amount,
	}
	if c.PaymentID != nil {
		meta["payment_id"] = *c.PaymentID
	}
	s.events.Emit(ctx, c.After.UserID, evType, meta)

	logctx.FromCtx(ctx, s.log).Infow("subscription_changed",
		"user_id", c.After.UserID, "reason", c.Reason, "ends_at", c.After.EndsAt, "plan_code", c.After.PlanCode)

	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		UserID:         c.After.UserID,
		SubscriptionID: c.After.ID,
		Reason:         c.Reason,
		Before:         datatypes.NewJSONType(c.Before),
		After:          datatypes.NewJSONType(c.After),
		Extra:          datatypes.JSONMap(meta),
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
	}()
}

// Wait blocks until background audit writes are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Info summarizes the active subscription for API responses.
func (s *Service) Info(ctx context.Context, userID int64) (*types.UserSubscriptionInfo, error) {
	sub, err := s.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &types.UserSubscriptionInfo{}, nil
	}
	endsAt := sub.EndsAt
	return &types.UserSubscriptionInfo{Active: true, PlanCode: sub.PlanCode, EndsAt: &endsAt}, nil
}
