package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepun/botoracle/internal/app/service/events"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/types"
)

type Service struct {
	cfg    *config.Config
	db     *gorm.DB
	log    *zap.SugaredLogger
	events events.Emitter
	nowFn  func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, ev events.Emitter) *Service {
	return &Service{cfg: cfg, db: db, log: log, events: ev, nowFn: time.Now}
}

// TestSetNow replaces the clock.
func (s *Service) TestSetNow(now func() time.Time) {
	s.nowFn = now
}

// GetOrCreate returns the user for a Telegram id, creating it with the
// configured free-question grant on first contact. created is true only for
// the call that inserted the row.
func (s *Service) GetOrCreate(ctx context.Context, tgUserID int64, username *string) (u *models.User, created bool, err error) {
	if tgUserID <= 0 {
		return nil, false, apperr.Validation.New("tg_user_id must be positive")
	}
	now := s.nowFn().UTC()
	candidate := &models.User{
		TgUserID:          tgUserID,
		Username:          username,
		FreeQuestionsLeft: s.cfg.Quota.FreeQuestions,
		FirstSeenAt:       now,
		LastSeenAt:        &now,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tg_user_id"}}, DoNothing: true}).
		Create(candidate)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create user: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		logctx.FromCtx(ctx, s.log).Infow("user_created", "user_id", candidate.ID, "tg_user_id", tgUserID)
		s.events.Emit(ctx, candidate.ID, types.EventUserStarted, map[string]any{"tg_user_id": tgUserID})
		return candidate, true, nil
	}

	var existing models.User
	if err := s.db.WithContext(ctx).Where("tg_user_id = ?", tgUserID).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("load user by tg id: %w", err)
	}
	return &existing, false, nil
}

func (s *Service) Get(ctx context.Context, userID int64) (*models.User, error) {
	return Get(ctx, s.db, userID)
}

// Get loads a user through db, which may be a transaction.
func Get(ctx context.Context, db *gorm.DB, userID int64) (*models.User, error) {
	var u models.User
	err := db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound.New("user %d", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	return &u, nil
}

// Touch records activity. A user who writes again is reachable again, so
// the blocked flag is cleared.
func (s *Service) Touch(ctx context.Context, userID int64) error {
	now := s.nowFn().UTC()
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"last_seen_at": now, "is_blocked": false, "blocked_at": nil})
	if res.Error != nil {
		return fmt.Errorf("touch user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound.New("user %d", userID)
	}
	return nil
}

type ProfileUpdate struct {
	Age    *int          `json:"age"`
	Gender *types.Gender `json:"gender"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID int64, p ProfileUpdate) error {
	updates := map[string]any{}
	if p.Age != nil {
		if *p.Age < 1 || *p.Age > 120 {
			return apperr.Validation.New("age out of range: %d", *p.Age)
		}
		updates["age"] = *p.Age
	}
	if p.Gender != nil {
		if !p.Gender.Valid() {
			return apperr.Validation.New("unknown gender %q", *p.Gender)
		}
		updates["gender"] = string(*p.Gender)
	}
	if len(updates) == 0 {
		return apperr.Validation.New("nothing to update")
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update profile %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound.New("user %d", userID)
	}
	return nil
}

// MarkBlocked soft-blocks a user inside tx. Already blocked users keep their
// original blocked_at.
func MarkBlocked(ctx context.Context, tx *gorm.DB, userID int64, at time.Time) error {
	return tx.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND is_blocked = ?", userID, false).
		Updates(map[string]any{"is_blocked": true, "blocked_at": at}).Error
}

var Module = fx.Options(
	fx.Provide(NewService),
)
