package types

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// QuestionSource tags question-log rows by the tier that paid for them.
type QuestionSource string

const (
	QuestionSourceFree         QuestionSource = "FREE"
	QuestionSourceSubscription QuestionSource = "SUB"
)

type EventType string

const (
	EventUserStarted          EventType = "user_started"
	EventQuestionAsked        EventType = "question_asked"
	EventSubscriptionStarted  EventType = "subscription_started"
	EventSubscriptionExtended EventType = "subscription_extended"
	EventPaymentIssued        EventType = "payment_issued"
	EventPaymentSuccess       EventType = "payment_success"
	EventPaymentRejected      EventType = "payment_rejected"
	EventCrmSent              EventType = "crm_sent"
	EventCrmSkipped           EventType = "crm_skipped"
	EventCrmFailed            EventType = "crm_failed"
	EventUserBlocked          EventType = "user_blocked"
)
