package notify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidNumber is returned when a phone number has too few digits after normalization.
var ErrInvalidNumber = errors.New("notify: invalid phone number")

// NormalizePhone reduces raw to digits in international form: a leading 0 becomes
// countryCode and numbers without the country code get it prepended.
func NormalizePhone(raw, countryCode string, minDigits int) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()

	switch {
	case number == "":
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalidNumber, raw)
	case strings.HasPrefix(number, "0"):
		number = countryCode + number[1:]
	case !strings.HasPrefix(number, countryCode):
		number = countryCode + number
	}

	if len(number) < minDigits {
		return "", fmt.Errorf("%w: %q is shorter than %d digits", ErrInvalidNumber, raw, minDigits)
	}
	return number, nil
}
