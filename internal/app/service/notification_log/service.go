package notification_log

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

type Service struct {
	db    *gorm.DB
	log   *zap.SugaredLogger
	nowFn func() time.Time
	wg    sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, nowFn: time.Now}
}

// Received stores the raw callback before it is processed. A failed write is
// logged and does not block processing.
func (s *Service) Received(ctx context.Context, provider types.PaymentProvider, invoiceID, traceID string, data map[string]any) *models.PaymentNotificationLog {
	entry := &models.PaymentNotificationLog{
		ID:         tool.GenerateUUIDV7(),
		Provider:   provider,
		InvoiceID:  invoiceID,
		TraceID:    traceID,
		Data:       datatypes.JSONMap(data),
		Status:     models.PaymentNotificationLogStatusReceived,
		ReceivedAt: s.nowFn().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("notification_log_save_failed", "invoice_id", invoiceID, "err", err)
	}
	return entry
}

// Finish records the processing result asynchronously. Nil entry is ignored.
func (s *Service) Finish(ctx context.Context, entry *models.PaymentNotificationLog, signatureValid *bool, outcome *types.ReconcileOutcome, handleErr error) {
	if entry == nil {
		return
	}
	updates := map[string]any{
		"status":          models.PaymentNotificationLogStatusHandled,
		"signature_valid": signatureValid,
		"outcome":         outcome,
	}
	if handleErr != nil {
		msg := handleErr.Error()
		updates["status"] = models.PaymentNotificationLogStatusHandleFailed
		updates["error"] = &msg
	}
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.db.WithContext(ctx).Model(&models.PaymentNotificationLog{}).
			Where("id = ?", entry.ID).Updates(updates).Error
		if err != nil {
			logctx.FromCtx(ctx, s.log).Errorw("notification_log_update_failed", "id", entry.ID, "err", err)
		}
	}()
}

// Wait blocks until pending result writes are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Service) {
		lc.Append(fx.StopHook(s.Wait))
	}),
)
