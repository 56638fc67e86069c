package types

type PaymentProvider string

const (
	PaymentProviderRobokassa PaymentProvider = "robokassa"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPending || s.Terminal()
}

type ReconcileOutcome string

const (
	ReconcileOutcomeApplied   ReconcileOutcome = "applied"
	ReconcileOutcomeDuplicate ReconcileOutcome = "duplicate"
	ReconcileOutcomeRejected  ReconcileOutcome = "rejected"
)
