// Package payment issues payment intents and reconciles provider callbacks
// into the subscription ledger. The invoice id is the idempotency key.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepun/botoracle/internal/app/service/events"
	subsvc "github.com/stepun/botoracle/internal/app/service/subscription"
	"github.com/stepun/botoracle/internal/app/service/user"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/internal/platform/robokassa"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/metrics"
	"github.com/stepun/botoracle/pkg/tool"
	"github.com/stepun/botoracle/pkg/types"
)

type Service struct {
	cfg    *config.Config
	db     *gorm.DB
	log    *zap.SugaredLogger
	signer *robokassa.Signer
	ledger *subsvc.Service
	events events.Emitter
	nowFn  func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, signer *robokassa.Signer, ledger *subsvc.Service, ev events.Emitter) *Service {
	return &Service{cfg: cfg, db: db, log: log, signer: signer, ledger: ledger, events: ev, nowFn: time.Now}
}

// TestSetNow replaces the clock.
func (s *Service) TestSetNow(now func() time.Time) {
	s.nowFn = now
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

// Intent is an issued payment and the hosted form to redirect the user to.
type Intent struct {
	PaymentID  string `json:"payment_id"`
	InvoiceID  string `json:"invoice_id"`
	PlanCode   string `json:"plan_code"`
	Amount     int64  `json:"amount"`
	PaymentURL string `json:"payment_url"`
}

// Issue records a pending payment for the plan and signs the payment form.
func (s *Service) Issue(ctx context.Context, userID int64, planCode string) (*Intent, error) {
	plan, err := s.cfg.Plan(planCode)
	if err != nil {
		return nil, err
	}
	if _, err := user.Get(ctx, s.db, userID); err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.Payment{
		ID:        tool.GenerateUUIDV7(),
		UserID:    userID,
		InvoiceID: robokassa.FormatInvoiceID(userID, plan.Code, now),
		Provider:  types.PaymentProviderRobokassa,
		PlanCode:  plan.Code,
		Amount:    plan.Price,
		Currency:  "RUB",
		Status:    types.PaymentStatusPending,
	}
	link, err := s.signer.PaymentURL(robokassa.PaymentRequest{
		InvoiceID:   p.InvoiceID,
		Amount:      p.Amount,
		Description: "Подписка: " + plan.Title,
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.events.Emit(ctx, userID, types.EventPaymentIssued, map[string]any{
		"payment_id": p.ID,
		"invoice_id": p.InvoiceID,
		"plan_code":  p.PlanCode,
		"amount":     p.Amount,
	})
	logctx.FromCtx(ctx, s.log).Infow("payment_issued", "user_id", userID, "invoice_id", p.InvoiceID, "plan_code", p.PlanCode)

	return &Intent{PaymentID: p.ID, InvoiceID: p.InvoiceID, PlanCode: p.PlanCode, Amount: p.Amount, PaymentURL: link}, nil
}

// VerifySignature checks a result callback signed without custom fields.
func (s *Service) VerifySignature(amount, invoiceID, signature string) bool {
	return s.signer.VerifyResult(amount, invoiceID, signature, nil)
}

// Callback is one provider notification as received at the boundary.
type Callback struct {
	OutSum    string
	InvoiceID string
	Signature string
	Shp       map[string]string
	// Payload is the full form, stored on the payment for audit.
	Payload map[string]any
}

// Result is the reconcile outcome. Rejected results come with an error
// saying why; applied and duplicate results do not.
type Result struct {
	Outcome        types.ReconcileOutcome
	SignatureValid *bool
	Payment        *models.Payment
	Subscription   *models.Subscription
}

// Reconcile applies a provider callback exactly once.
//
//   - unknown invoice: rejected, NotFound
//   - payment no longer pending: duplicate
//   - bad signature or amount: rejected, Validation
//   - otherwise the payment status write and the ledger write commit together
func (s *Service) Reconcile(ctx context.Context, cb Callback) (res *Result, err error) {
	start := time.Now()
	log := logctx.FromCtx(ctx, s.log)
	res = &Result{Outcome: types.ReconcileOutcomeRejected}
	defer func() {
		metrics.IncReconcileOutcome(string(res.Outcome))
		metrics.ObserveProcess("payment", "reconcile", start)
		if err != nil && res.Payment != nil {
			s.events.Emit(ctx, res.Payment.UserID, types.EventPaymentRejected, map[string]any{
				"invoice_id": cb.InvoiceID,
				"reason":     apperr.Kind(err),
			})
		}
	}()

	if _, err = robokassa.ParseInvoiceID(cb.InvoiceID); err != nil {
		log.Warnw("payment_callback_rejected", "invoice_id", cb.InvoiceID, "err", err)
		return res, err
	}
	amount, err := robokassa.ParseAmount(cb.OutSum)
	if err != nil {
		log.Warnw("payment_callback_rejected", "invoice_id", cb.InvoiceID, "err", err)
		return res, err
	}

	var p models.Payment
	err = s.db.WithContext(ctx).Where("invoice_id = ?", cb.InvoiceID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnw("payment_callback_rejected", "invoice_id", cb.InvoiceID, "reason", "unknown invoice")
		return res, apperr.NotFound.New("unknown invoice %q", cb.InvoiceID)
	}
	if err != nil {
		return res, fmt.Errorf("load payment: %w", err)
	}
	res.Payment = &p

	if !p.Status.Valid() {
		err = apperr.FatalInvariant.New("payment %s has unknown status %q", p.ID, p.Status)
		log.Errorw("payment_invariant_violation", "alert", true, "invoice_id", p.InvoiceID, "err", err)
		return res, err
	}
	if p.Status != types.PaymentStatusPending {
		res.Outcome = types.ReconcileOutcomeDuplicate
		log.Infow("payment_callback_duplicate", "invoice_id", p.InvoiceID, "status", p.Status)
		return res, nil
	}

	valid := s.signer.VerifyResult(cb.OutSum, cb.InvoiceID, cb.Signature, cb.Shp)
	res.SignatureValid = &valid
	if !valid {
		log.Warnw("payment_callback_rejected", "invoice_id", p.InvoiceID, "reason", "bad signature")
		return res, apperr.Validation.New("signature mismatch for invoice %q", p.InvoiceID)
	}
	if amount != p.Amount {
		log.Warnw("payment_callback_rejected", "invoice_id", p.InvoiceID, "reason", "amount mismatch", "want", p.Amount, "got", amount)
		return res, apperr.Validation.New("amount %d does not match invoice %q amount %d", amount, p.InvoiceID, p.Amount)
	}

	var change *subsvc.Change
	outcome := types.ReconcileOutcomeApplied
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", p.ID).Take(&locked).Error; err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if locked.Status != types.PaymentStatusPending {
			// another delivery won the race
			outcome = types.ReconcileOutcomeDuplicate
			return nil
		}

		upd := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", locked.ID, types.PaymentStatusPending).
			Updates(map[string]any{
				"status":      types.PaymentStatusSuccess,
				"paid_at":     now,
				"raw_payload": datatypes.JSONMap(cb.Payload),
			})
		if upd.Error != nil {
			return fmt.Errorf("update payment status: %w", upd.Error)
		}
		if upd.RowsAffected != 1 {
			return apperr.FatalInvariant.New("payment %s left pending under lock", locked.ID)
		}
		var err error
		if change, err = s.ledger.ApplyPayment(ctx, tx, &locked, now); err != nil {
			return err
		}
		locked.Status, locked.PaidAt = types.PaymentStatusSuccess, &now
		p = locked
		return nil
	})
	if err != nil {
		if apperr.FatalInvariant.Has(err) {
			log.Errorw("payment_invariant_violation", "alert", true, "invoice_id", p.InvoiceID, "err", err)
		}
		return res, err
	}

	res.Outcome = outcome
	if outcome == types.ReconcileOutcomeDuplicate {
		log.Infow("payment_callback_duplicate", "invoice_id", p.InvoiceID, "status", "settled concurrently")
		return res, nil
	}

	if change != nil {
		res.Subscription = change.After
		s.ledger.Audit(ctx, change)
	}
	s.events.Emit(ctx, p.UserID, types.EventPaymentSuccess, map[string]any{
		"payment_id": p.ID,
		"invoice_id": p.InvoiceID,
		"plan_code":  p.PlanCode,
		"amount":     p.Amount,
	})
	log.Infow("payment_reconciled", "invoice_id", p.InvoiceID, "user_id", p.UserID, "status", p.Status)
	return res, nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
