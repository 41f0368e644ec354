// Package validate holds the input checks shared by the enrollment and login
// flows: email, phone, password and name validation, domain typo hints,
// class code and PIN checks, and masking of identifiers before they are logged.
package validate

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrInvalidEmail is returned when an email address is malformed
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidPhone is returned when a phone number cannot be normalized
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrWeakPassword is returned when a password misses a strength rule
	ErrWeakPassword = errors.New("password does not meet requirements")

	// ErrInvalidName is returned for empty or malformed person names
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidClassCode is returned when a class code is malformed
	ErrInvalidClassCode = errors.New("invalid class code")

	// ErrInvalidPIN is returned when a PIN is not 4 to 8 digits
	ErrInvalidPIN = errors.New("invalid PIN")
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
	MaxNameLength     = 100
)

var (
	emailPattern     = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	classCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	pinPattern       = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Email validates an address and returns its normalized form.
func Email(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if len(normalized) > 254 {
		return "", fmt.Errorf("%w: too long", ErrInvalidEmail)
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized || !emailPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if strings.Contains(normalized, "..") {
		return "", fmt.Errorf("%w: consecutive dots", ErrInvalidEmail)
	}
	return normalized, nil
}

// commonDomainTypos maps frequent misspellings to the intended provider.
var commonDomainTypos = map[string]string{
	"gmial.com":   "gmail.com",
	"gmai.com":    "gmail.com",
	"gamil.com":   "gmail.com",
	"gmail.co":    "gmail.com",
	"gmail.con":   "gmail.com",
	"gnail.com":   "gmail.com",
	"hotmial.com": "hotmail.com",
	"hotmal.com":  "hotmail.com",
	"hotmail.co":  "hotmail.com",
	"outlok.com":  "outlook.com",
	"outloo.com":  "outlook.com",
	"yaho.com":    "yahoo.com",
	"yahooo.com":  "yahoo.com",
	"yahoo.co":    "yahoo.com",
	"icloud.co":   "icloud.com",
	"iclod.com":   "icloud.com",
}

// SuggestEmailDomain returns a corrected address when the domain is a known
// typo of a common provider, and "" otherwise.
func SuggestEmailDomain(email string) string {
	normalized := NormalizeEmail(email)
	at := strings.LastIndex(normalized, "@")
	if at <= 0 {
		return ""
	}
	if fixed, ok := commonDomainTypos[normalized[at+1:]]; ok {
		return normalized[:at+1] + fixed
	}
	return ""
}

// NormalizePhone strips formatting and returns an E.164-style number.
// Ten digit numbers without a country code are assumed to be +1.
func NormalizePhone(phone string) (string, error) {
	trimmed := strings.TrimSpace(phone)
	var digits strings.Builder
	for i, r := range trimmed {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidPhone, r)
		}
	}

	d := digits.String()
	hasPlus := strings.HasPrefix(trimmed, "+")
	if !hasPlus && len(d) == 10 {
		d = "1" + d
	}
	if len(d) < 8 || len(d) > 15 {
		return "", fmt.Errorf("%w: %d digits", ErrInvalidPhone, len(d))
	}
	return "+" + d, nil
}

// Phone validates a phone number.
func Phone(phone string) error {
	_, err := NormalizePhone(phone)
	return err
}

// Password checks length and requires upper, lower and digit characters.
func Password(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return fmt.Errorf("%w: at most %d characters", ErrWeakPassword, MaxPasswordLength)
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return fmt.Errorf("%w: needs upper case, lower case and a digit", ErrWeakPassword)
	}
	return nil
}

// Name validates a display name: letters, spaces, hyphens and apostrophes.
func Name(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) || r == ' ' || r == '-' || r == '\'' || r == '.' {
			continue
		}
		return fmt.Errorf("%w: unexpected character %q", ErrInvalidName, r)
	}
	return nil
}

// ClassCode validates and upper-cases a six character class code.
func ClassCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !classCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidClassCode, code)
	}
	return normalized, nil
}

// PIN validates the format of a class PIN.
func PIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("%w: must be 4 to 8 digits", ErrInvalidPIN)
	}
	return nil
}

// PINEqual compares a submitted PIN against the stored one in constant time
// and rejects malformed input.
func PINEqual(submitted, stored string) bool {
	if !pinPattern.MatchString(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}
