package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stepun/botoracle/internal/app/service/crm"
	"github.com/stepun/botoracle/internal/app/service/payment"
	"github.com/stepun/botoracle/internal/app/service/quota"
	subsvc "github.com/stepun/botoracle/internal/app/service/subscription"
	"github.com/stepun/botoracle/internal/app/service/user"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/response"
	"github.com/stepun/botoracle/pkg/types"
)

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid user_id"))
		return 0, false
	}
	return id, true
}

type StartRequest struct {
	TgUserID int64   `json:"tg_user_id" binding:"required"`
	Username *string `json:"username"`
}

type StartResponse struct {
	User    *models.User `json:"user"`
	Created bool         `json:"created"`
}

// @Summary      Register or load a user
// @Description  Called on first contact. New users get the free-question grant.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        request body StartRequest true "Telegram identity"
// @Success      200  {object}  handlers.RespStart
// @Router       /api/v1/users [post]
func ApiStartUser(users *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		u, created, err := users.GetOrCreate(c.Request.Context(), req.TgUserID, req.Username)
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&StartResponse{User: u, Created: created}))
	}
}

// @Summary      Update demographics
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        user_id  path  int                 true  "User id"
// @Param        request  body  user.ProfileUpdate  true  "Age and gender"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/users/{user_id}/profile [put]
func ApiUpdateProfile(users *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := userIDParam(c)
		if !ok {
			return
		}
		var req user.ProfileUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := users.UpdateProfile(c.Request.Context(), id, req); err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      Admit a question
// @Description  Chooses the tier and spends one free question when the free tier applies. Spent questions are not refunded.
// @Tags         Users
// @Produce      json
// @Param        user_id  path  int  true  "User id"
// @Success      200  {object}  handlers.RespAdmission
// @Router       /api/v1/users/{user_id}/admission [post]
func ApiAdmitQuestion(users *user.Service, quotas *quota.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := userIDParam(c)
		if !ok {
			return
		}
		if err := users.Touch(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		adm, err := quotas.Admit(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(adm))
	}
}

type RecordQuestionRequest struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	TokensUsed int    `json:"tokens_used"`
}

type RecordQuestionResponse struct {
	QuestionID     string               `json:"question_id"`
	Tier           types.QuestionSource `json:"tier"`
	Remaining      int                  `json:"remaining"`
	Reply          string               `json:"reply"`
	ThanksEnqueued bool                 `json:"thanks_enqueued"`
}

// @Summary      Record an answered question
// @Description  Appends to the question log under the user's current tier, returns the reply decorated for that tier and enqueues an immediate THANKS task.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        user_id  path  int                    true  "User id"
// @Param        request  body  RecordQuestionRequest  true  "Answered question"
// @Success      200  {object}  handlers.RespRecordQuestion
// @Router       /api/v1/users/{user_id}/questions [post]
func ApiRecordQuestion(quotas *quota.Service, planner *crm.Planner, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := userIDParam(c)
		if !ok {
			return
		}
		var req RecordQuestionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		rec, err := quotas.RecordQuestion(c.Request.Context(), quota.QuestionRecord{
			UserID:     id,
			Question:   req.Question,
			Answer:     req.Answer,
			TokensUsed: req.TokensUsed,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		// outreach must not fail the answer that was already given
		enqueued, err := planner.EnqueueImmediate(c.Request.Context(), id, types.CrmTaskTypeThanks, map[string]any{"triggered_by": "user_message"})
		if err != nil {
			logctx.FromGin(c, log).Errorw("thanks_enqueue_failed", "user_id", id, "err", err)
		}
		c.JSON(http.StatusOK, response.OKT(&RecordQuestionResponse{
			QuestionID:     rec.Log.ID,
			Tier:           rec.Tier.Source,
			Remaining:      rec.Remaining,
			Reply:          rec.Reply,
			ThanksEnqueued: enqueued,
		}))
	}
}

type IssuePaymentRequest struct {
	PlanCode string `json:"plan_code" binding:"required"`
}

// @Summary      Issue a payment
// @Description  Creates a pending payment and returns the signed payment form URL.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        user_id  path  int                  true  "User id"
// @Param        request  body  IssuePaymentRequest  true  "Plan"
// @Success      200  {object}  handlers.RespIntent
// @Router       /api/v1/users/{user_id}/payments [post]
func ApiIssuePayment(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := userIDParam(c)
		if !ok {
			return
		}
		var req IssuePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		intent, err := payments.Issue(c.Request.Context(), id, req.PlanCode)
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(intent))
	}
}

// @Summary      Current subscription
// @Tags         Users
// @Produce      json
// @Param        user_id  path  int  true  "User id"
// @Success      200  {object}  handlers.RespSubscriptionInfo
// @Router       /api/v1/users/{user_id}/subscription [get]
func ApiGetSubscription(users *user.Service, subs *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := userIDParam(c)
		if !ok {
			return
		}
		if _, err := users.Get(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		info, err := subs.Info(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(info))
	}
}

// @Summary      Plan catalog
// @Tags         Users
// @Produce      json
// @Success      200  {object}  handlers.RespPlans
// @Router       /api/v1/plans [get]
func ApiListPlans(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(cfg.Plans))
	}
}

func RegisterUserRoutes(r gin.IRouter, cfg *config.Config, users *user.Service, quotas *quota.Service, subs *subsvc.Service, payments *payment.Service, planner *crm.Planner, log *zap.SugaredLogger) {
	r.GET("/plans", ApiListPlans(cfg))
	r.POST("/users", ApiStartUser(users))
	g := r.Group("/users/:user_id")
	g.PUT("/profile", ApiUpdateProfile(users))
	g.POST("/admission", ApiAdmitQuestion(users, quotas))
	g.POST("/questions", ApiRecordQuestion(quotas, planner, log))
	g.POST("/payments", ApiIssuePayment(payments))
	g.GET("/subscription", ApiGetSubscription(users, subs))
}
