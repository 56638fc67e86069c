package types

type CrmTaskType string

const (
	CrmTaskTypeThanks        CrmTaskType = "THANKS"
	CrmTaskTypeReengage      CrmTaskType = "REENGAGE"
	CrmTaskTypeDailyPrompt   CrmTaskType = "DAILY_PROMPT"
	CrmTaskTypeSubExpiring   CrmTaskType = "SUB_EXPIRING"
	CrmTaskTypeSubExpired    CrmTaskType = "SUB_EXPIRED"
	CrmTaskTypeFreeExhausted CrmTaskType = "FREE_EXHAUSTED"
)

type CrmTaskStatus string

const (
	CrmTaskStatusPending    CrmTaskStatus = "pending"
	CrmTaskStatusInProgress CrmTaskStatus = "in_progress"
	CrmTaskStatusSent       CrmTaskStatus = "sent"
	CrmTaskStatusSkipped    CrmTaskStatus = "skipped"
	CrmTaskStatusFailed     CrmTaskStatus = "failed"
)

func (s CrmTaskStatus) Terminal() bool {
	switch s {
	case CrmTaskStatusSent, CrmTaskStatusSkipped, CrmTaskStatusFailed:
		return true
	}
	return false
}

// Result codes recorded on terminal tasks.
const (
	CrmResultDelivered   = "delivered"
	CrmResultUserBlocked = "user_blocked"
	CrmResultUnreachable = "recipient_unreachable"
	CrmResultTimeout     = "timeout"
	CrmResultSendError   = "send_error"
	CrmResultNoTemplate  = "no_template"
	CrmResultAbandoned   = "abandoned"
)
