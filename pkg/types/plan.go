package types

import (
	"fmt"
	"strings"
	"time"
)

// Plan is one row of the plan catalog. Price is in minor units (kopecks).
type Plan struct {
	Code         string `json:"code" mapstructure:"code"`
	Title        string `json:"title" mapstructure:"title"`
	Price        int64  `json:"price" mapstructure:"price"`
	DurationHour int64  `json:"duration_hour" mapstructure:"duration_hour"`
	// Trial marks the short introductory tier.
	Trial bool `json:"trial" mapstructure:"trial"`
}

func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationHour) * time.Hour
}

// Plans is the canonical plan-code table used by issuing, reconciling and
// display.
type Plans []*Plan

// Lookup finds a plan by code, case-insensitively.
func (ps Plans) Lookup(code string) (*Plan, bool) {
	for _, p := range ps {
		if strings.EqualFold(p.Code, code) {
			return p, true
		}
	}
	return nil, false
}

// Validate rejects an empty catalog, duplicate codes and non-positive
// prices or durations.
func (ps Plans) Validate() error {
	if len(ps) == 0 {
		return fmt.Errorf("plan catalog is empty")
	}
	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		code := strings.ToUpper(p.Code)
		if code == "" {
			return fmt.Errorf("plan with empty code")
		}
		if _, ok := seen[code]; ok {
			return fmt.Errorf("duplicate plan code %q", p.Code)
		}
		seen[code] = struct{}{}
		if p.Price <= 0 {
			return fmt.Errorf("plan %q: price must be positive", p.Code)
		}
		if p.DurationHour <= 0 {
			return fmt.Errorf("plan %q: duration must be positive", p.Code)
		}
	}
	return nil
}

func DefaultPlans() Plans {
	return Plans{
		{Code: "DAY", Title: "Оракул на сутки", Price: 9900, DurationHour: 24, Trial: true},
		{Code: "WEEK", Title: "Оракул на неделю", Price: 29900, DurationHour: 7 * 24},
		{Code: "MONTH", Title: "Оракул на месяц", Price: 89900, DurationHour: 30 * 24},
	}
}
