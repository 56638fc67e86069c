package types

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
)

// CommonFilter is a list-endpoint predicate. Field names are checked against
// an allow list with ValidateFields before Build is used.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
}

// ValidateFields rejects filters on columns outside allowed and operators
// this builder does not know.
func ValidateFields(filters []CommonFilter, allowed map[string]bool) error {
	for _, f := range filters {
		if !allowed[f.Field] {
			return fmt.Errorf("filter on field %q is not allowed", f.Field)
		}
		switch f.Operator {
		case CommonFilterOperatorEq, CommonFilterOperatorNotEq,
			CommonFilterOperatorLt, CommonFilterOperatorLte,
			CommonFilterOperatorGt, CommonFilterOperatorGte,
			CommonFilterOperatorDateRange, CommonFilterOperatorRange,
			CommonFilterOperatorIn:
		default:
			return fmt.Errorf("unknown filter operator %q", f.Operator)
		}
		if len(f.Values) == 0 {
			return fmt.Errorf("filter on %q has no values", f.Field)
		}
		if (f.Operator == CommonFilterOperatorRange || f.Operator == CommonFilterOperatorDateRange) && len(f.Values) != 2 {
			return fmt.Errorf("%s filter on %q needs two values", f.Operator, f.Field)
		}
		if f.Operator == CommonFilterOperatorDateRange {
			if _, err := parseDay(f.Values[0]); err != nil {
				return fmt.Errorf("date_range on %q: %w", f.Field, err)
			}
			if _, err := parseDay(f.Values[1]); err != nil {
				return fmt.Errorf("date_range on %q: %w", f.Field, err)
			}
		}
	}
	return nil
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	if len(f.Values) == 0 {
		return
	}

	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorDateRange:
		// values are "2006-01-02" days, end inclusive
		if len(f.Values) < 2 {
			return
		}
		from, err1 := parseDay(f.Values[0])
		to, err2 := parseDay(f.Values[1])
		if err1 != nil || err2 != nil {
			return
		}
		clause.And(clause.Gte{Column: f.Field, Value: from}, clause.Lt{Column: f.Field, Value: to.AddDate(0, 0, 1)}).Build(builder)
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return
		}

		clause.And(clause.Gte{Column: f.Field, Value: f.Values[0]}, clause.Lte{Column: f.Field, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: f.Field, Values: f.Values}.Build(builder)
	default:
		return
	}
}

func parseDay(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("date value must be a string")
	}
	return time.ParseInLocation(time.DateOnly, s, time.UTC)
}
