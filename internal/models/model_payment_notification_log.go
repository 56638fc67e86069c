package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/stepun/botoracle/pkg/types"
)

type PaymentNotificationLogStatus string

const (
	PaymentNotificationLogStatusReceived     PaymentNotificationLogStatus = "received"
	PaymentNotificationLogStatusHandled      PaymentNotificationLogStatus = "handled"
	PaymentNotificationLogStatusHandleFailed PaymentNotificationLogStatus = "handle_failed"
)

// PaymentNotificationLog keeps every inbound provider callback, verified or
// not, for troubleshooting.
type PaymentNotificationLog struct {
	ID             string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider       types.PaymentProvider        `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	InvoiceID      string                       `gorm:"column:invoice_id;type:varchar(64);index" json:"invoice_id"`
	TraceID        string                       `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	SignatureValid *bool                        `gorm:"column:signature_valid" json:"signature_valid"`
	Outcome        *types.ReconcileOutcome      `gorm:"column:outcome;type:varchar(16)" json:"outcome"`
	Data           datatypes.JSONMap            `gorm:"column:data;type:jsonb" json:"data"`
	Error          *string                      `gorm:"column:error;type:text" json:"error"`
	Status         PaymentNotificationLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	ReceivedAt     time.Time                    `gorm:"column:received_at;not null" json:"received_at"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

func (PaymentNotificationLog) TableName() string { return "payment_notification_log" }
