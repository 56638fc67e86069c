// Package quota gates questions by tier: a lifetime free grant decremented
// atomically, and a daily cap for subscribers counted from the question log.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stepun/botoracle/internal/app/service/events"
	subsvc "github.com/stepun/botoracle/internal/app/service/subscription"
	"github.com/stepun/botoracle/internal/app/service/user"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/metrics"
	"github.com/stepun/botoracle/pkg/tool"
	"github.com/stepun/botoracle/pkg/types"
)

type DenyReason string

const (
	DenyFreeExhausted DenyReason = "free_exhausted"
	DenyDailyLimit    DenyReason = "daily_limit"
)

// Admission is the gate decision for one incoming question.
type Admission struct {
	Allowed   bool       `json:"allowed"`
	Tier      Tier       `json:"-"`
	TierName  string     `json:"tier"`
	Remaining int        `json:"remaining"`
	Reason    DenyReason `json:"reason,omitempty"`
}

type Service struct {
	cfg    *config.Config
	db     *gorm.DB
	log    *zap.SugaredLogger
	subs   *subsvc.Service
	events events.Emitter
	nowFn  func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, subs *subsvc.Service, ev events.Emitter) *Service {
	return &Service{cfg: cfg, db: db, log: log, subs: subs, events: ev, nowFn: time.Now}
}

// TestSetNow replaces the clock.
func (s *Service) TestSetNow(now func() time.Time) {
	s.nowFn = now
}

// UseFreeQuestion spends one free question if any is left. The decrement is
// a single conditional UPDATE, so concurrent callers can never push the
// balance below zero.
func (s *Service) UseFreeQuestion(ctx context.Context, userID int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND free_questions_left > 0", userID).
		UpdateColumn("free_questions_left", gorm.Expr("free_questions_left - ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("use free question: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	// zero rows: either the balance is exhausted or the user does not exist
	if _, err := user.Get(ctx, s.db, userID); err != nil {
		return false, err
	}
	return false, nil
}

// CountSubscriptionQuestionsToday counts subscription-tier questions logged
// on the current calendar day in the configured timezone.
//
// The count and the later RecordQuestion are not atomic. This relies on the
// front-end handling one message per user at a time; concurrent messages
// from the same subscriber could exceed the cap by the number in flight.
func (s *Service) CountSubscriptionQuestionsToday(ctx context.Context, userID int64) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.QuestionLog{}).
		Where("user_id = ? AND source = ? AND log_date = ?", userID, types.QuestionSourceSubscription, s.today()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count subscription questions: %w", err)
	}
	return int(n), nil
}

// Admit decides whether a question may be answered and spends free quota
// when the free tier applies. The spend happens before any answer is
// generated and is not refunded if generation fails.
func (s *Service) Admit(ctx context.Context, userID int64) (*Admission, error) {
	active, err := s.subs.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	var adm *Admission
	if active != nil {
		tier := SubscriptionTier(s.cfg)
		used, err := s.CountSubscriptionQuestionsToday(ctx, userID)
		if err != nil {
			return nil, err
		}
		adm = &Admission{Tier: tier, Allowed: used < tier.Limit, Remaining: max(tier.Limit-used-1, 0)}
		if !adm.Allowed {
			adm.Reason = DenyDailyLimit
			adm.Remaining = 0
		}
	} else {
		tier := FreeTier(s.cfg)
		ok, err := s.UseFreeQuestion(ctx, userID)
		if err != nil {
			return nil, err
		}
		adm = &Admission{Tier: tier, Allowed: ok}
		if ok {
			if adm.Remaining, err = s.freeLeft(ctx, userID); err != nil {
				return nil, err
			}
		} else {
			adm.Reason = DenyFreeExhausted
		}
	}
	adm.TierName = adm.Tier.String()

	metrics.IncAdmission(adm.TierName, adm.Allowed)
	logctx.FromCtx(ctx, s.log).Infow("question_admission",
		"user_id", userID, "tier", adm.TierName, "allowed", adm.Allowed, "remaining", adm.Remaining, "reason", adm.Reason)
	return adm, nil
}

func (s *Service) freeLeft(ctx context.Context, userID int64) (int, error) {
	u, err := user.Get(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	return u.FreeQuestionsLeft, nil
}

type QuestionRecord struct {
	UserID     int64
	Question   string
	Answer     string
	TokensUsed int
}

// RecordedQuestion is a logged question and the answer as the user sees it.
type RecordedQuestion struct {
	Log       *models.QuestionLog
	Tier      Tier
	Remaining int
	// Reply is the answer decorated for the tier.
	Reply string
}

// RecordQuestion appends the answered question to the log under the tier the
// user is on now. The source is never taken from the caller: subscription
// rows feed the daily counter.
func (s *Service) RecordQuestion(ctx context.Context, r QuestionRecord) (*RecordedQuestion, error) {
	active, err := s.subs.GetActive(ctx, r.UserID)
	if err != nil {
		return nil, err
	}
	tier := FreeTier(s.cfg)
	if active != nil {
		tier = SubscriptionTier(s.cfg)
	}

	// remaining after this question
	var remaining int
	if tier.IsSubscription() {
		used, err := s.CountSubscriptionQuestionsToday(ctx, r.UserID)
		if err != nil {
			return nil, err
		}
		remaining = max(tier.Limit-used-1, 0)
	} else if remaining, err = s.freeLeft(ctx, r.UserID); err != nil {
		return nil, err
	}

	row := &models.QuestionLog{
		ID:           tool.GenerateUUIDV7(),
		UserID:       r.UserID,
		Source:       tier.Source,
		LogDate:      s.today(),
		QuestionText: r.Question,
		AnswerText:   r.Answer,
		TokensUsed:   r.TokensUsed,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("record question: %w", err)
	}

	s.events.Emit(ctx, r.UserID, types.EventQuestionAsked, map[string]any{"source": tier.Source, "tokens": r.TokensUsed})
	return &RecordedQuestion{Log: row, Tier: tier, Remaining: remaining, Reply: tier.Wrap(r.Answer, remaining)}, nil
}

func (s *Service) today() string {
	return s.nowFn().In(s.cfg.Location()).Format(time.DateOnly)
}

var Module = fx.Options(
	fx.Provide(NewService),
)
