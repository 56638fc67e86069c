package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/stepun/botoracle/pkg/types"
)

// Payment is an issued intent plus its outcome. InvoiceID is the
// idempotency key for provider callbacks. Status leaves pending exactly once.
type Payment struct {
	ID         string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID     int64                 `gorm:"column:user_id;not null;index" json:"user_id"`
	InvoiceID  string                `gorm:"column:invoice_id;type:varchar(64);not null;uniqueIndex" json:"invoice_id"`
	Provider   types.PaymentProvider `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	PlanCode   string                `gorm:"column:plan_code;type:varchar(32);not null" json:"plan_code"`
	Amount     int64                 `gorm:"column:amount;not null" json:"amount"`
	Currency   string                `gorm:"column:currency;type:varchar(8);not null;default:'RUB'" json:"currency"`
	Status     types.PaymentStatus   `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	PaidAt     *time.Time            `gorm:"column:paid_at" json:"paid_at"`
	FailedAt   *time.Time            `gorm:"column:failed_at" json:"failed_at"`
	RawPayload datatypes.JSONMap     `gorm:"column:raw_payload;type:jsonb" json:"raw_payload"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}
