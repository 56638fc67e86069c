package models

import (
	"time"

	"github.com/stepun/botoracle/pkg/types"
)

// Subscription is a paid access window. A user may own many rows over time;
// the active one is the status=active row with the latest ends_at that is
// still in the future. Expiry is derived from EndsAt, never swept.
type Subscription struct {
	ID         string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID     int64                    `gorm:"column:user_id;not null;index:idx_subscription_user_status_ends,priority:1" json:"user_id"`
	PlanCode   string                   `gorm:"column:plan_code;type:varchar(32);not null" json:"plan_code"`
	AmountPaid int64                    `gorm:"column:amount_paid;not null;default:0" json:"amount_paid"`
	Status     types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_subscription_user_status_ends,priority:2" json:"status"`
	StartedAt  time.Time                `gorm:"column:started_at;not null" json:"started_at"`
	EndsAt     time.Time                `gorm:"column:ends_at;not null;index:idx_subscription_user_status_ends,priority:3" json:"ends_at"`
	// PaymentID references the payment that created the row.
	PaymentID *string   `gorm:"column:payment_id;type:uuid" json:"payment_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Valid reports whether the subscription grants access at now.
func (s *Subscription) Valid(now time.Time) bool {
	return s != nil &&
		s.Status == types.SubscriptionStatusActive &&
		s.EndsAt.After(now)
}
