// Package apperr holds the error classes shared by the engagement services.
//
// Expected branches (quota exhausted, duplicate delivery, blocked recipient)
// are reported as outcome values, not errors. The classes below cover input
// that must be rejected, missing rows, and conditions an operator has to see.
package apperr

import (
	"github.com/zeebo/errs"
)

var (
	// Validation marks malformed input rejected before any state change.
	Validation = errs.Class("validation")
	// NotFound marks a missing user, invoice or task.
	NotFound = errs.Class("not found")
	// Conflict marks a duplicate delivery or a duplicate open task.
	Conflict = errs.Class("conflict")
	// TransientDelivery marks a delivery attempt that failed for a reason
	// other than an unreachable recipient (timeout, provider error).
	TransientDelivery = errs.Class("transient delivery")
	// FatalInvariant marks state that must never exist. The current unit of
	// work is aborted and the error is logged with alert=true.
	FatalInvariant = errs.Class("invariant violation")
)

// Kind returns a short label for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Validation.Has(err):
		return "validation"
	case NotFound.Has(err):
		return "not_found"
	case Conflict.Has(err):
		return "conflict"
	case TransientDelivery.Has(err):
		return "transient_delivery"
	case FatalInvariant.Has(err):
		return "fatal_invariant"
	default:
		return "internal"
	}
}
