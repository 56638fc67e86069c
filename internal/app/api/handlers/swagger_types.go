package handlers

import (
	"github.com/stepun/botoracle/internal/app/service/crm"
	"github.com/stepun/botoracle/internal/app/service/payment"
	"github.com/stepun/botoracle/internal/app/service/quota"
	"github.com/stepun/botoracle/internal/app/service/statistics"
	"github.com/stepun/botoracle/pkg/response"
	"github.com/stepun/botoracle/pkg/types"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespRedirect struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    RedirectResult           `json:"data"`
}

type RespPlanResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    crm.PlanResult           `json:"data"`
}

type RespDispatchResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    crm.DispatchResult       `json:"data"`
}

// RespListCrmTasks wraps ListCrmTasksResponse in the standard envelope.
type RespListCrmTasks struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListCrmTasksResponse     `json:"data"`
}

type RespStart struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    StartResponse            `json:"data"`
}

type RespAdmission struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    quota.Admission          `json:"data"`
}

type RespRecordQuestion struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    RecordQuestionResponse   `json:"data"`
}

type RespIntent struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    payment.Intent           `json:"data"`
}

type RespSubscriptionInfo struct {
	Code    response.APIResponseCode   `json:"code"`
	Message string                     `json:"message"`
	Data    types.UserSubscriptionInfo `json:"data"`
}

type RespPlans struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []types.Plan             `json:"data"`
}

type RespStatistics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}
