package security

// PasswordStrength scores a password 0..100, 20 points per satisfied rule:
// length >= 8, length >= 12, lowercase, uppercase, digit, symbol.
// It is advisory only; nothing rejects a weak password.
func PasswordStrength(pw string) int {
	points := 0
	n := len([]rune(pw))
	if n >= 8 {
		points++
	}
	if n >= 12 {
		points++
	}
	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			symbol = true
		}
	}
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			points++
		}
	}
	return min(points*20, 100)
}

// StrengthLabel buckets a score the way the profile page colors it.
func StrengthLabel(score int) string {
	switch {
	case score >= 80:
		return "strong"
	case score >= 60:
		return "fair"
	default:
		return "weak"
	}
}
