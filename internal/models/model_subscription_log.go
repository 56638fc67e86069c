package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/stepun/botoracle/pkg/types"
)

// SubscriptionLog records changes to user subscriptions.
// Use case: troubleshooting and support questions about paid time.
type SubscriptionLog struct {
	ID             string                         `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID         int64                          `gorm:"column:user_id;index:idx_subscription_log_user_id,priority:1;not null" json:"user_id"`
	SubscriptionID string                         `gorm:"column:subscription_id;type:uuid;not null" json:"subscription_id"`
	Reason         types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// Before is nil for a newly started subscription.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb" json:"before"`
	After  datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb" json:"after"`
	// Extra holds the payment reference and amount.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
