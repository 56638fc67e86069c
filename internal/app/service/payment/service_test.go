package payment

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/stepun/botoracle/internal/app/service/events"
	subsvc "github.com/stepun/botoracle/internal/app/service/subscription"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/internal/platform/db/dbtest"
	"github.com/stepun/botoracle/internal/platform/robokassa"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/tool"
	"github.com/stepun/botoracle/pkg/types"
)

const invoice = "42_week_1773144000000"

type fixture struct {
	db     *gorm.DB
	svc    *Service
	ledger *subsvc.Service
	signer *robokassa.Signer
	rec    *events.Recorder
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	cfg := config.NewTestConfig()
	signer, err := robokassa.NewSigner(cfg)
	require.NoError(t, err)

	f := &fixture{db: dbtest.New(t), signer: signer, rec: &events.Recorder{}, now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	log := zap.NewNop().Sugar()
	f.ledger = subsvc.NewService(cfg, f.db, log, f.rec)
	f.ledger.TestSetNow(clock)
	f.svc = NewService(cfg, f.db, log, signer, f.ledger, f.rec)
	f.svc.TestSetNow(clock)
	t.Cleanup(f.ledger.Wait)

	require.NoError(t, f.db.Create(&models.User{ID: 42, TgUserID: 4242, FirstSeenAt: f.now}).Error)
	return f
}

func (f *fixture) pendingPayment(t *testing.T, invoiceID string, amount int64) *models.Payment {
	p := &models.Payment{
		ID:        tool.GenerateUUIDV7(),
		UserID:    42,
		InvoiceID: invoiceID,
		Provider:  types.PaymentProviderRobokassa,
		PlanCode:  "WEEK",
		Amount:    amount,
		Currency:  "RUB",
		Status:    types.PaymentStatusPending,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) callback(outSum, invoiceID string) Callback {
	return Callback{
		OutSum:    outSum,
		InvoiceID: invoiceID,
		Signature: f.signer.ResultSignature(outSum, invoiceID, nil),
		Payload:   map[string]any{"OutSum": outSum, "InvId": invoiceID},
	}
}

func (f *fixture) payment(t *testing.T, invoiceID string) models.Payment {
	var p models.Payment
	require.NoError(t, f.db.Where("invoice_id = ?", invoiceID).Take(&p).Error)
	return p
}

func (f *fixture) subscriptions(t *testing.T) []models.Subscription {
	var subs []models.Subscription
	require.NoError(t, f.db.Where("user_id = ?", 42).Find(&subs).Error)
	return subs
}

func TestReconcileCreatesSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pendingPayment(t, invoice, 29900)

	res, err := f.svc.Reconcile(ctx, f.callback("299.00", invoice))
	require.NoError(t, err)
	assert.Equal(t, types.ReconcileOutcomeApplied, res.Outcome)
	require.NotNil(t, res.SignatureValid)
	assert.True(t, *res.SignatureValid)

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.Equal(t, types.SubscriptionStatusActive, subs[0].Status)
	assert.True(t, subs[0].EndsAt.Equal(f.now.Add(7*24*time.Hour)))
	require.NotNil(t, subs[0].PaymentID)
	assert.Equal(t, p.ID, *subs[0].PaymentID)

	got := f.payment(t, invoice)
	assert.Equal(t, types.PaymentStatusSuccess, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.Equal(t, "299.00", got.RawPayload["OutSum"])

	assert.Equal(t, 1, f.rec.Count(types.EventPaymentSuccess))
	assert.Equal(t, 1, f.rec.Count(types.EventSubscriptionStarted))
}

func TestReconcileReplayIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingPayment(t, invoice, 29900)
	cb := f.callback("299.000000", invoice)

	res, err := f.svc.Reconcile(ctx, cb)
	require.NoError(t, err)
	require.Equal(t, types.ReconcileOutcomeApplied, res.Outcome)
	endsAt := f.subscriptions(t)[0].EndsAt

	f.now = f.now.Add(time.Minute)
	res, err = f.svc.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, types.ReconcileOutcomeDuplicate, res.Outcome)

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].EndsAt.Equal(endsAt), "a replay must not extend")
	assert.Equal(t, 1, f.rec.Count(types.EventPaymentSuccess))
}

func TestReconcileExtendsActiveSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.ledger.Create(ctx, 42, "MONTH", 89900, nil)
	require.NoError(t, err)
	f.pendingPayment(t, invoice, 29900)

	res, err := f.svc.Reconcile(ctx, f.callback("299", invoice))
	require.NoError(t, err)
	require.Equal(t, types.ReconcileOutcomeApplied, res.Outcome)
	require.NotNil(t, res.Subscription)
	assert.Equal(t, sub.ID, res.Subscription.ID)

	subs := f.subscriptions(t)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].EndsAt.Equal(sub.EndsAt.Add(7*24*time.Hour)))
	assert.Equal(t, int64(89900+29900), subs[0].AmountPaid)
	assert.Equal(t, 1, f.rec.Count(types.EventSubscriptionExtended))
}

func TestReconcileRejectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingPayment(t, invoice, 29900)
	valid := f.callback("299.00", invoice)

	tests := []struct {
		name string
		cb   Callback
	}{
		{name: "amount changed, signature kept", cb: Callback{OutSum: "1.00", InvoiceID: invoice, Signature: valid.Signature}},
		{name: "signature changed", cb: Callback{OutSum: "299.00", InvoiceID: invoice, Signature: "X" + valid.Signature[1:]}},
		{name: "empty signature", cb: Callback{OutSum: "299.00", InvoiceID: invoice}},
		{name: "signed with the wrong amount", cb: f.callback("1.00", invoice)},
		{name: "custom field added", cb: Callback{OutSum: "299.00", InvoiceID: invoice, Signature: valid.Signature, Shp: map[string]string{"Shp_plan": "month"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Reconcile(ctx, tt.cb)
			require.Error(t, err)
			assert.True(t, apperr.Validation.Has(err))
			assert.Equal(t, types.ReconcileOutcomeRejected, res.Outcome)

			assert.Equal(t, types.PaymentStatusPending, f.payment(t, invoice).Status)
			assert.Empty(t, f.subscriptions(t))
		})
	}
	assert.Equal(t, len(tests), f.rec.Count(types.EventPaymentRejected))
}

func TestReconcileRejectsUnknownAndMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Reconcile(ctx, f.callback("299.00", "42_week_1700000000000"))
	assert.True(t, apperr.NotFound.Has(err))
	assert.Equal(t, types.ReconcileOutcomeRejected, res.Outcome)

	_, err = f.svc.Reconcile(ctx, f.callback("299.00", "not-an-invoice"))
	assert.True(t, apperr.Validation.Has(err))

	_, err = f.svc.Reconcile(ctx, f.callback("29,9", invoice))
	assert.True(t, apperr.Validation.Has(err))

	assert.Empty(t, f.subscriptions(t))
}

func TestReconcileConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.pendingPayment(t, invoice, 29900)
	cb := f.callback("299.00", invoice)

	var applied, duplicate atomic.Int64
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			res, err := f.svc.Reconcile(context.Background(), cb)
			if err != nil {
				return err
			}
			switch res.Outcome {
			case types.ReconcileOutcomeApplied:
				applied.Add(1)
			case types.ReconcileOutcomeDuplicate:
				duplicate.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, applied.Load())
	assert.EqualValues(t, 5, duplicate.Load())
	assert.Len(t, f.subscriptions(t), 1)
}

func TestReconcileRejectsRedirectSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingPayment(t, invoice, 29900)

	// password #1 signs the user's redirects and never settles a payment
	cb := Callback{
		OutSum:    "299.00",
		InvoiceID: invoice,
		Signature: f.signer.SuccessSignature("299.00", invoice, nil),
	}
	res, err := f.svc.Reconcile(ctx, cb)
	require.True(t, apperr.Validation.Has(err))
	assert.Equal(t, types.ReconcileOutcomeRejected, res.Outcome)
	assert.Equal(t, types.PaymentStatusPending, f.payment(t, invoice).Status)

	res, err = f.svc.Reconcile(ctx, f.callback("299.00", invoice))
	require.NoError(t, err)
	assert.Equal(t, types.ReconcileOutcomeApplied, res.Outcome)
	assert.Len(t, f.subscriptions(t), 1)
}

func TestIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.svc.Issue(ctx, 42, "week")
	require.NoError(t, err)
	assert.Equal(t, "42_week_1773144000000", intent.InvoiceID)
	assert.Equal(t, "WEEK", intent.PlanCode)
	assert.Equal(t, int64(29900), intent.Amount)

	link, err := url.Parse(intent.PaymentURL)
	require.NoError(t, err)
	q := link.Query()
	assert.Equal(t, "oracle-shop", q.Get("MerchantLogin"))
	assert.Equal(t, "299.00", q.Get("OutSum"))
	assert.Equal(t, intent.InvoiceID, q.Get("InvId"))
	assert.Equal(t, "1", q.Get("IsTest"))
	assert.NotEmpty(t, q.Get("SignatureValue"))

	p := f.payment(t, intent.InvoiceID)
	assert.Equal(t, types.PaymentStatusPending, p.Status)
	assert.Equal(t, intent.PaymentID, p.ID)
	assert.Equal(t, 1, f.rec.Count(types.EventPaymentIssued))

	// the issued intent reconciles end to end
	res, err := f.svc.Reconcile(ctx, f.callback(q.Get("OutSum"), intent.InvoiceID))
	require.NoError(t, err)
	assert.Equal(t, types.ReconcileOutcomeApplied, res.Outcome)
}

func TestIssueRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, 42, "YEAR")
	assert.True(t, apperr.Validation.Has(err))

	_, err = f.svc.Issue(ctx, 7, "WEEK")
	assert.True(t, apperr.NotFound.Has(err))

	var n int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestVerifySignature(t *testing.T) {
	f := newFixture(t)
	sig := f.signer.ResultSignature("299.00", invoice, nil)
	assert.True(t, f.svc.VerifySignature("299.00", invoice, sig))
	assert.True(t, f.svc.VerifySignature("299.00", invoice, strings.ToLower(sig)))
	assert.False(t, f.svc.VerifySignature("299.01", invoice, sig))
	assert.False(t, f.svc.VerifySignature("299.00", invoice, ""))
}
