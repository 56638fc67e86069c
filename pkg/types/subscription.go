package types

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
	// SubscriptionStatusExpired is kept for rows closed by an operator.
	// Regular expiry is derived from ends_at and never written.
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonStarted  SubscriptionChangeReason = "started"
	SubscriptionChangeReasonExtended SubscriptionChangeReason = "extended"
)

type UserSubscriptionInfo struct {
	Active   bool       `json:"active"`
	PlanCode string     `json:"plan_code,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}
