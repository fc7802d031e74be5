package model

import "strings"

const minPhoneDigits = 10

// NormalizePhone strips formatting, a leading "+" and a leading "00" and
// returns the remaining digits. Any other character makes the number invalid
// and an empty string is returned.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return ""
		}
	}
	return strings.TrimPrefix(b.String(), "00")
}

func ValidPhone(normalized string) bool {
	return len(normalized) >= minPhoneDigits
}

// PhoneKey is the equivalence key used to match numbers written with and
// without a country prefix: the last ten digits.
func PhoneKey(normalized string) string {
	if len(normalized) <= minPhoneDigits {
		return normalized
	}
	return normalized[len(normalized)-minPhoneDigits:]
}
