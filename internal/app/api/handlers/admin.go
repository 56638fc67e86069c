package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stepun/botoracle/internal/app/service/crm"
	"github.com/stepun/botoracle/internal/app/service/statistics"
	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/response"
	"github.com/stepun/botoracle/pkg/types"
)

// filtersWhere wraps a list of filters to a single clause.Expression
type filtersWhere struct{ filters []types.CommonFilter }

func (w filtersWhere) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i := range w.filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		w.filters[i].Build(builder)
	}
}

// bindOptionalJSON binds the body when there is one.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type PlanRequest struct {
	// UserID limits planning to one user; empty means every user.
	UserID *int64 `json:"user_id"`
}

// @Summary      Run CRM planner (Admin)
// @Description  Plans outreach for one user or sweeps all users, like the scheduled run.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminBearer
// @Param        request body PlanRequest false "Optional user id"
// @Success      200  {object}  handlers.RespPlanResult
// @Router       /api/v1/admin/crm/plan [post]
func ApiRunPlanner(planner *crm.Planner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PlanRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID != nil {
			n, err := planner.PlanForUser(c.Request.Context(), *req.UserID)
			if err != nil {
				c.JSON(http.StatusOK, response.FromError(err))
				return
			}
			c.JSON(http.StatusOK, response.OKT(&crm.PlanResult{Users: 1, Created: n}))
			return
		}
		res, err := planner.PlanAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type DispatchRequest struct {
	// Limit defaults to crm.batch_size.
	Limit int `json:"limit"`
}

// @Summary      Run CRM dispatcher (Admin)
// @Description  Delivers due CRM tasks, like the scheduled run.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminBearer
// @Param        request body DispatchRequest false "Optional batch limit"
// @Success      200  {object}  handlers.RespDispatchResult
// @Router       /api/v1/admin/crm/dispatch [post]
func ApiRunDispatcher(dispatcher *crm.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DispatchRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.Limit < 0 || req.Limit > 1000 {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "limit must be between 0 and 1000"))
			return
		}
		res, err := dispatcher.DispatchDue(c.Request.Context(), req.Limit)
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type ListCrmTasksRequest struct {
	Filters   []types.CommonFilter `json:"filters"`
	From      int                  `json:"from"`
	Size      int                  `json:"size"`
	SortBy    string               `json:"sort_by"`
	SortOrder string               `json:"sort_order"`
}

type CrmTaskItem struct {
	ID         string              `json:"id"`
	UserID     int64               `json:"user_id"`
	Type       types.CrmTaskType   `json:"type"`
	Status     types.CrmTaskStatus `json:"status"`
	DueAt      *time.Time          `json:"due_at"`
	SentAt     *time.Time          `json:"sent_at"`
	ResultCode *string             `json:"result_code"`
	Payload    map[string]any      `json:"payload"`
	CreatedAt  time.Time           `json:"created_at"`
}

type ListCrmTasksResponse struct {
	Items []*CrmTaskItem `json:"items"`
	Total int64          `json:"total"`
}

var crmTaskFilterFields = map[string]bool{
	"user_id":    true,
	"type":       true,
	"status":     true,
	"due_at":     true,
	"sent_at":    true,
	"created_at": true,
}

const (
	defaultListSize = 50
	maxListSize     = 500
)

func toCrmTaskItem(m *models.CrmTask) *CrmTaskItem {
	return &CrmTaskItem{
		ID:         m.ID,
		UserID:     m.UserID,
		Type:       m.Type,
		Status:     m.Status,
		DueAt:      m.DueAt,
		SentAt:     m.SentAt,
		ResultCode: m.ResultCode,
		Payload:    m.Payload,
		CreatedAt:  m.CreatedAt,
	}
}

// @Summary      List CRM tasks (Admin)
// @Description  Filterable, paginated list of CRM tasks, newest first by default.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminBearer
// @Param        request body ListCrmTasksRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListCrmTasks
// @Router       /api/v1/admin/crm/tasks [post]
func ApiListCrmTasks(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListCrmTasksRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := types.ValidateFields(req.Filters, crmTaskFilterFields); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		order, err := listOrder(req.SortBy, req.SortOrder, crmTaskFilterFields)
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		size := req.Size
		if size <= 0 {
			size = defaultListSize
		}
		size = min(size, maxListSize)

		q := db.WithContext(c.Request.Context()).Model(&models.CrmTask{}).Where(filtersWhere{filters: req.Filters}).Session(&gorm.Session{})
		var total int64
		if err := q.Count(&total).Error; err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		var rows []*models.CrmTask
		if err := q.Order(order).Offset(max(req.From, 0)).Limit(size).Find(&rows).Error; err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ListCrmTasksResponse{Items: lo.Map(rows, func(m *models.CrmTask, _ int) *CrmTaskItem { return toCrmTaskItem(m) }), Total: total}))
	}
}

// listOrder builds an ORDER BY from allow-listed input. created_at DESC is
// the default.
func listOrder(sortBy, sortOrder string, allowed map[string]bool) (string, error) {
	if sortBy == "" {
		sortBy = "created_at"
	}
	if !allowed[sortBy] {
		return "", apperr.Validation.New("cannot sort by %q", sortBy)
	}
	switch strings.ToLower(sortOrder) {
	case "", "desc":
		return sortBy + " DESC, id DESC", nil
	case "asc":
		return sortBy + " ASC, id ASC", nil
	}
	return "", apperr.Validation.New("sort_order must be asc or desc")
}

// @Summary      Dashboard statistics (Admin)
// @Description  Revenue, subscribers, questions and outreach per local day. The window defaults to the last 30 days.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminBearer
// @Param        request body statistics.Request true "Statistic ids, window and filters"
// @Success      200  {object}  handlers.RespStatistics
// @Router       /api/v1/admin/statistics [post]
func ApiGetStatistics(stats *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := stats.GetStatistics(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.FromError(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, planner *crm.Planner, dispatcher *crm.Dispatcher, stats *statistics.Service, db *gorm.DB) {
	r.POST("/crm/plan", ApiRunPlanner(planner))
	r.POST("/crm/dispatch", ApiRunDispatcher(dispatcher))
	r.POST("/crm/tasks", ApiListCrmTasks(db))
	r.POST("/statistics", ApiGetStatistics(stats))
}
