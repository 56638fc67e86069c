package handlers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	notificationlog "github.com/stepun/botoracle/internal/app/service/notification_log"
	"github.com/stepun/botoracle/internal/app/service/payment"
	"github.com/stepun/botoracle/internal/platform/robokassa"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/response"
	"github.com/stepun/botoracle/pkg/types"
)

func callbackFromForm(form url.Values) payment.Callback {
	payload := make(map[string]any, len(form))
	for k := range form {
		payload[k] = form.Get(k)
	}
	return payment.Callback{
		OutSum:    form.Get("OutSum"),
		InvoiceID: form.Get("InvId"),
		Signature: form.Get("SignatureValue"),
		Shp:       robokassa.ShpParams(form),
		Payload:   payload,
	}
}

// reconcile runs one callback through the reconciler with the receipt log
// around it.
func reconcile(c *gin.Context, svc *payment.Service, nl *notificationlog.Service, cb payment.Callback) (*payment.Result, error) {
	ctx := c.Request.Context()
	entry := nl.Received(ctx, types.PaymentProviderRobokassa, cb.InvoiceID, c.GetString(logctx.TraceIDKey), cb.Payload)
	res, err := svc.Reconcile(ctx, cb)
	nl.Finish(ctx, entry, res.SignatureValid, &res.Outcome, err)
	return res, err
}

// @Summary      Robokassa result callback
// @Description  Server-to-server payment confirmation. Answers OK{InvId} when the payment is applied or was already applied.
// @Tags         Webhook
// @Accept       x-www-form-urlencoded
// @Produce      plain
// @Param        OutSum          formData  string  true   "Amount"
// @Param        InvId           formData  string  true   "Invoice id"
// @Param        SignatureValue  formData  string  true   "Signature"
// @Success      200  {string}  string  "OK{InvId}"
// @Failure      400  {string}  string
// @Failure      404  {string}  string
// @Router       /robokassa/result [post]
func ApiRobokassaResult(svc *payment.Service, nl *notificationlog.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.String(http.StatusBadRequest, "bad request")
			return
		}
		cb := callbackFromForm(c.Request.Form)
		res, err := reconcile(c, svc, nl, cb)
		switch {
		case err == nil:
			logctx.FromGin(c, log).Infow("robokassa_result_handled", "invoice_id", cb.InvoiceID, "outcome", res.Outcome)
			c.String(http.StatusOK, "OK"+cb.InvoiceID)
		case apperr.Validation.Has(err):
			c.String(http.StatusBadRequest, "bad request")
		case apperr.NotFound.Has(err):
			c.String(http.StatusNotFound, "unknown invoice")
		default:
			logctx.FromGin(c, log).Errorw("robokassa_result_failed", "invoice_id", cb.InvoiceID, "err", err)
			c.String(http.StatusInternalServerError, "internal error")
		}
	}
}

type RedirectResult struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
}

// redirect acknowledges a user-facing redirect signed with password #1.
// Redirects never touch payment state: only the result callback settles a
// payment, and a user can cancel and still pay the same invoice afterwards.
func redirect(c *gin.Context, signer *robokassa.Signer, log *zap.SugaredLogger, status string) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	cb := callbackFromForm(c.Request.Form)
	if !signer.VerifySuccess(cb.OutSum, cb.InvoiceID, cb.Signature, cb.Shp) {
		logctx.FromGin(c, log).Warnw("robokassa_redirect_bad_signature", "invoice_id", cb.InvoiceID, "status", status)
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "bad signature"))
		return
	}
	logctx.FromGin(c, log).Infow("robokassa_redirect", "invoice_id", cb.InvoiceID, "status", status)
	c.JSON(http.StatusOK, response.OKT(&RedirectResult{InvoiceID: cb.InvoiceID, Status: status}))
}

// @Summary      Robokassa success redirect
// @Description  Where the payer lands after paying. Access is granted by the result callback, not here.
// @Tags         Webhook
// @Produce      json
// @Param        OutSum          query  string  true  "Amount"
// @Param        InvId           query  string  true  "Invoice id"
// @Param        SignatureValue  query  string  true  "Signature"
// @Success      200  {object}  handlers.RespRedirect
// @Router       /robokassa/success [get]
func ApiRobokassaSuccess(signer *robokassa.Signer, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		redirect(c, signer, log, "paid")
	}
}

// @Summary      Robokassa fail redirect
// @Description  Where the payer lands after cancelling. The payment stays pending.
// @Tags         Webhook
// @Produce      json
// @Param        OutSum          query  string  true  "Amount"
// @Param        InvId           query  string  true  "Invoice id"
// @Param        SignatureValue  query  string  true  "Signature"
// @Success      200  {object}  handlers.RespRedirect
// @Router       /robokassa/fail [get]
func ApiRobokassaFail(signer *robokassa.Signer, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		redirect(c, signer, log, "cancelled")
	}
}

func RegisterRobokassaRoutes(r gin.IRouter, svc *payment.Service, signer *robokassa.Signer, nl *notificationlog.Service, log *zap.SugaredLogger) {
	r.POST("/result", ApiRobokassaResult(svc, nl, log))
	r.GET("/result", ApiRobokassaResult(svc, nl, log))
	r.GET("/success", ApiRobokassaSuccess(signer, log))
	r.POST("/success", ApiRobokassaSuccess(signer, log))
	r.GET("/fail", ApiRobokassaFail(signer, log))
	r.POST("/fail", ApiRobokassaFail(signer, log))
}
