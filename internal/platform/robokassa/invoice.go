package robokassa

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stepun/botoracle/pkg/apperr"
)

// Invoice is the decoded form of an invoice identifier:
// {user_id}_{plan code, lower case}_{issue time, unix millis}.
type Invoice struct {
	UserID   int64
	PlanCode string
	IssuedAt time.Time
}

func (inv Invoice) String() string {
	return FormatInvoiceID(inv.UserID, inv.PlanCode, inv.IssuedAt)
}

func FormatInvoiceID(userID int64, planCode string, at time.Time) string {
	return fmt.Sprintf("%d_%s_%d", userID, strings.ToLower(planCode), at.UnixMilli())
}

// ParseInvoiceID decodes an invoice identifier. Plan codes may themselves
// contain underscores, so the user id is cut at the first separator and the
// timestamp at the last.
func ParseInvoiceID(s string) (Invoice, error) {
	first := strings.IndexByte(s, '_')
	last := strings.LastIndexByte(s, '_')
	if first <= 0 || last <= first+1 || last == len(s)-1 {
		return Invoice{}, apperr.Validation.New("malformed invoice id %q", s)
	}
	userID, err := strconv.ParseInt(s[:first], 10, 64)
	if err != nil || userID <= 0 {
		return Invoice{}, apperr.Validation.New("malformed invoice id %q: bad user id", s)
	}
	millis, err := strconv.ParseInt(s[last+1:], 10, 64)
	if err != nil || millis <= 0 {
		return Invoice{}, apperr.Validation.New("malformed invoice id %q: bad timestamp", s)
	}
	plan := s[first+1 : last]
	for _, r := range plan {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return Invoice{}, apperr.Validation.New("malformed invoice id %q: bad plan code", s)
		}
	}
	return Invoice{UserID: userID, PlanCode: strings.ToUpper(plan), IssuedAt: time.UnixMilli(millis).UTC()}, nil
}
