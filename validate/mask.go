package validate

import "strings"

// MaskEmail keeps the first character of the local part and the domain:
// "jane.doe@school.org" becomes "j***@school.org".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}

// MaskKey masks every colon-separated segment of a rate limit key that looks
// like an email or phone number, leaving limiter names and ids readable.
func MaskKey(key string) string {
	parts := strings.Split(key, ":")
	for i, part := range parts {
		switch {
		case strings.Contains(part, "@"):
			parts[i] = MaskEmail(part)
		case looksLikePhone(part):
			parts[i] = MaskPhone(part)
		}
	}
	return strings.Join(parts, ":")
}

func looksLikePhone(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 8 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
