package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/stepun/botoracle/pkg/types"
)

// Event is an append-only analytics record.
type Event struct {
	ID         string            `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID     *int64            `gorm:"column:user_id;index:idx_event_user_type,priority:1" json:"user_id"`
	Type       types.EventType   `gorm:"column:type;type:varchar(64);not null;index:idx_event_user_type,priority:2;index" json:"type"`
	Meta       datatypes.JSONMap `gorm:"column:meta;type:jsonb" json:"meta"`
	OccurredAt time.Time         `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
}

func (Event) TableName() string {
	return "event"
}
