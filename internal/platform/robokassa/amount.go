package robokassa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stepun/botoracle/pkg/apperr"
)

// maxRubles keeps rubles*100 within int64.
const maxRubles = 999_999_999_999_999

// ParseAmount converts a provider amount ("299", "299.00", "299.000000") to
// kopecks. Fractions finer than a kopeck must be zero.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	intPart, frac, _ := strings.Cut(s, ".")
	if intPart == "" || strings.TrimLeft(intPart, "0123456789") != "" {
		return 0, apperr.Validation.New("malformed amount %q", s)
	}
	if strings.TrimLeft(frac, "0123456789") != "" {
		return 0, apperr.Validation.New("malformed amount %q", s)
	}
	if len(frac) > 2 {
		if strings.TrimRight(frac[2:], "0") != "" {
			return 0, apperr.Validation.New("amount %q has sub-kopeck precision", s)
		}
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	rub, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, apperr.Validation.Wrap(err)
	}
	if rub > maxRubles {
		return 0, apperr.Validation.New("amount %q out of range", s)
	}
	kop, _ := strconv.ParseInt(frac, 10, 64)
	return rub*100 + kop, nil
}

// FormatAmount renders kopecks the way the payment form expects.
func FormatAmount(kopecks int64) string {
	return fmt.Sprintf("%d.%02d", kopecks/100, kopecks%100)
}
