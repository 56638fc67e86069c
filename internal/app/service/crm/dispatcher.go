package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stepun/botoracle/internal/app/service/events"
	"github.com/stepun/botoracle/internal/app/service/user"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/internal/platform/delivery"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/metrics"
	"github.com/stepun/botoracle/pkg/types"
)

type Dispatcher struct {
	cfg      *config.Config
	db       *gorm.DB
	log      *zap.SugaredLogger
	sender   delivery.Sender
	renderer *Renderer
	events   events.Emitter
	nowFn    func() time.Time
}

func NewDispatcher(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, sender delivery.Sender, renderer *Renderer, ev events.Emitter) *Dispatcher {
	return &Dispatcher{cfg: cfg, db: db, log: log, sender: sender, renderer: renderer, events: ev, nowFn: time.Now}
}

// TestSetNow replaces the clock.
func (d *Dispatcher) TestSetNow(now func() time.Time) {
	d.nowFn = now
}

func (d *Dispatcher) now() time.Time {
	return d.nowFn().UTC()
}

type DispatchResult struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	// Reaped counts stale in_progress claims closed as abandoned.
	Reaped int `json:"reaped"`
}

// DispatchDue delivers up to limit due tasks, oldest due first. Each task
// is claimed with a conditional update before anything is sent, so
// overlapping sweeps never deliver the same task twice. Every transition
// commits on its own.
func (d *Dispatcher) DispatchDue(ctx context.Context, limit int) (*DispatchResult, error) {
	start := time.Now()
	defer metrics.ObserveProcess("crm", "dispatch", start)
	log := logctx.FromCtx(ctx, d.log)

	if limit <= 0 {
		limit = d.cfg.Crm.BatchSize
	}
	res := &DispatchResult{}

	reaped, err := d.reapStale(ctx)
	if err != nil {
		return res, err
	}
	res.Reaped = reaped

	var due []models.CrmTask
	err = d.db.WithContext(ctx).
		Where("status = ? AND (due_at IS NULL OR due_at <= ?)", types.CrmTaskStatusPending, d.now()).
		Order("COALESCE(due_at, created_at) ASC, created_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return res, fmt.Errorf("select due tasks: %w", err)
	}

	for i := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		task := &due[i]
		claimed, err := d.claim(ctx, task)
		if err != nil {
			return res, err
		}
		if !claimed {
			continue
		}
		res.Attempted++

		status, err := d.deliver(ctx, task)
		if err != nil {
			if apperr.FatalInvariant.Has(err) {
				log.Errorw("crm_invariant_violation", "alert", true, "task_id", task.ID, "err", err)
				continue
			}
			return res, err
		}
		switch status {
		case types.CrmTaskStatusSent:
			res.Sent++
		case types.CrmTaskStatusSkipped:
			res.Skipped++
		case types.CrmTaskStatusFailed:
			res.Failed++
		}
	}

	log.Infow("crm_dispatch_done", "attempted", res.Attempted, "sent", res.Sent, "skipped", res.Skipped,
		"failed", res.Failed, "reaped", res.Reaped, "took", time.Since(start))
	return res, nil
}

// claim moves pending to in_progress. false means another sweep got it.
func (d *Dispatcher) claim(ctx context.Context, task *models.CrmTask) (bool, error) {
	now := d.now()
	res := d.db.WithContext(ctx).Model(&models.CrmTask{}).
		Where("id = ? AND status = ?", task.ID, types.CrmTaskStatusPending).
		Updates(map[string]any{"status": types.CrmTaskStatusInProgress, "claimed_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("claim task %s: %w", task.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	task.Status, task.ClaimedAt = types.CrmTaskStatusInProgress, &now
	return true, nil
}

// deliver runs the per-task algorithm on a claimed task and returns the
// terminal status it committed.
func (d *Dispatcher) deliver(ctx context.Context, task *models.CrmTask) (types.CrmTaskStatus, error) {
	log := logctx.FromCtx(ctx, d.log).With("task_id", task.ID, "user_id", task.UserID, "type", task.Type)

	u, err := user.Get(ctx, d.db, task.UserID)
	if err != nil {
		if apperr.NotFound.Has(err) {
			err = apperr.FatalInvariant.Wrap(err)
		}
		return "", err
	}
	if u.IsBlocked {
		return d.complete(ctx, task, types.CrmTaskStatusSkipped, types.CrmResultUserBlocked)
	}

	text, ok := d.renderer.Render(task, u)
	if !ok {
		log.Warnw("crm_no_template")
		return d.complete(ctx, task, types.CrmTaskStatusFailed, types.CrmResultNoTemplate)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Crm.SendTimeout)
	sendErr := d.sender.Send(sendCtx, delivery.Recipient{UserID: u.ID, ChatID: u.ChatID()}, text)
	timedOut := errors.Is(sendCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case sendErr == nil:
		return d.complete(ctx, task, types.CrmTaskStatusSent, types.CrmResultDelivered)

	case errors.Is(sendErr, delivery.ErrRecipientUnreachable):
		log.Infow("crm_recipient_unreachable", "err", sendErr)
		err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := d.finish(ctx, tx, task, types.CrmTaskStatusSkipped, types.CrmResultUnreachable); err != nil {
				return err
			}
			return user.MarkBlocked(ctx, tx, u.ID, d.now())
		})
		if err != nil {
			return "", err
		}
		d.record(ctx, task)
		d.events.Emit(ctx, u.ID, types.EventUserBlocked, map[string]any{"task_id": task.ID})
		return types.CrmTaskStatusSkipped, nil

	default:
		code := types.CrmResultSendError
		if timedOut || errors.Is(sendErr, context.DeadlineExceeded) {
			code = types.CrmResultTimeout
		}
		log.Warnw("crm_send_failed", "result_code", code, "err", sendErr)
		return d.complete(ctx, task, types.CrmTaskStatusFailed, code)
	}
}

// finish moves an in_progress task to a terminal status through db, which
// may be a transaction. A task that is no longer in_progress means its
// claim was lost, which must not happen.
func (d *Dispatcher) finish(ctx context.Context, db *gorm.DB, task *models.CrmTask, status types.CrmTaskStatus, code string) error {
	now := d.now()
	updates := map[string]any{"status": status, "result_code": code, "finished_at": now}
	if status == types.CrmTaskStatusSent {
		updates["sent_at"] = now
	}
	res := db.WithContext(ctx).Model(&models.CrmTask{}).
		Where("id = ? AND status = ?", task.ID, types.CrmTaskStatusInProgress).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finish task %s: %w", task.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return apperr.FatalInvariant.New("task %s left in_progress before finishing as %s", task.ID, status)
	}

	task.Status, task.ResultCode, task.FinishedAt = status, &code, &now
	return nil
}

// complete finishes the task outside any transaction and records it.
func (d *Dispatcher) complete(ctx context.Context, task *models.CrmTask, status types.CrmTaskStatus, code string) (types.CrmTaskStatus, error) {
	if err := d.finish(ctx, d.db, task, status, code); err != nil {
		return "", err
	}
	d.record(ctx, task)
	return status, nil
}

var taskEvents = map[types.CrmTaskStatus]types.EventType{
	types.CrmTaskStatusSent:    types.EventCrmSent,
	types.CrmTaskStatusSkipped: types.EventCrmSkipped,
	types.CrmTaskStatusFailed:  types.EventCrmFailed,
}

// record runs after the terminal status has committed.
func (d *Dispatcher) record(ctx context.Context, task *models.CrmTask) {
	metrics.IncDispatched(string(task.Type), string(task.Status))
	meta := map[string]any{"task_id": task.ID, "type": task.Type}
	if task.ResultCode != nil {
		meta["result_code"] = *task.ResultCode
	}
	d.events.Emit(ctx, task.UserID, taskEvents[task.Status], meta)
}

// reapStale fails tasks whose claim is older than crm.stale_claim_after.
// The sweep that claimed them died mid-delivery, so whether the message
// went out is unknown; they are never re-sent.
func (d *Dispatcher) reapStale(ctx context.Context) (int, error) {
	now := d.now()
	res := d.db.WithContext(ctx).Model(&models.CrmTask{}).
		Where("status = ? AND claimed_at < ?", types.CrmTaskStatusInProgress, now.Add(-d.cfg.Crm.StaleClaimAfter)).
		Updates(map[string]any{
			"status":      types.CrmTaskStatusFailed,
			"result_code": types.CrmResultAbandoned,
			"finished_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reap stale claims: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logctx.FromCtx(ctx, d.log).Warnw("crm_claims_reaped", "count", res.RowsAffected)
	}
	return int(res.RowsAffected), nil
}
