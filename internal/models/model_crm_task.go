package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/stepun/botoracle/pkg/types"
)

// CrmTask is one scheduled outreach message. Rows are never deleted and act
// as the outreach audit log.
//
// idx_crm_task_open allows at most one open (pending or in_progress) task per
// user and type.
type CrmTask struct {
	ID     string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID int64               `gorm:"column:user_id;not null;uniqueIndex:idx_crm_task_open,priority:1,where:status = 'pending' OR status = 'in_progress';index:idx_crm_task_user_type_created,priority:1" json:"user_id"`
	Type   types.CrmTaskType   `gorm:"column:type;type:varchar(32);not null;uniqueIndex:idx_crm_task_open,priority:2;index:idx_crm_task_user_type_created,priority:2" json:"type"`
	Status types.CrmTaskStatus `gorm:"column:status;type:varchar(16);not null;index:idx_crm_task_status_due,priority:1" json:"status"`
	// DueAt nil means dispatch on the next sweep.
	DueAt      *time.Time        `gorm:"column:due_at;index:idx_crm_task_status_due,priority:2" json:"due_at"`
	ClaimedAt  *time.Time        `gorm:"column:claimed_at" json:"claimed_at"`
	SentAt     *time.Time        `gorm:"column:sent_at" json:"sent_at"`
	FinishedAt *time.Time        `gorm:"column:finished_at" json:"finished_at"`
	ResultCode *string           `gorm:"column:result_code;type:varchar(64)" json:"result_code"`
	Payload    datatypes.JSONMap `gorm:"column:payload;type:jsonb" json:"payload"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;index:idx_crm_task_user_type_created,priority:3" json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (CrmTask) TableName() string {
	return "crm_task"
}
