// Package events records analytics events. Writes are fire-and-forget: a
// lost event never fails the operation that produced it.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/tool"
	"github.com/stepun/botoracle/pkg/types"
)

// Emitter is what producers depend on. userID 0 records an event without
// an owner.
type Emitter interface {
	Emit(ctx context.Context, userID int64, typ types.EventType, meta map[string]any)
}

type Service struct {
	db    *gorm.DB
	log   *zap.SugaredLogger
	nowFn func() time.Time
	wg    sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, nowFn: time.Now}
}

// Emit persists the event in the background.
func (s *Service) Emit(ctx context.Context, userID int64, typ types.EventType, meta map[string]any) {
	ev := &models.Event{
		ID:         tool.GenerateUUIDV7(),
		Type:       typ,
		Meta:       datatypes.JSONMap(meta),
		OccurredAt: s.nowFn().UTC(),
	}
	if userID != 0 {
		ev.UserID = &userID
	}
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorw("event_save_failed", "type", typ, "user_id", userID, "err", err)
		}
	}()
}

// Wait blocks until every pending write finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func registerFlush(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				s.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(s *Service) Emitter { return s }),
	fx.Invoke(registerFlush),
)
