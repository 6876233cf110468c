package auth

import "regexp"

const (
	passwordMinLen = 8
	passwordMaxLen = 128

	phoneFormatMessage   = "Phone number must be either 11 digits and start with 0, or 10 digits and start with 9"
	passwordLenMessage   = "Password must be between 8 and 128 characters"
	fieldRequiredMessage = "This field is required"
)

// Exactly 11 digits starting with 0, or 10 digits starting with 9.
var phoneRegex = regexp.MustCompile(`^0\d{10}$|^9\d{9}$`)

// ValidPhoneNumber reports whether phone matches the accepted formats.
func ValidPhoneNumber(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// ValidPasswordLength reports whether the plaintext length is within bounds.
// Checked before hashing.
func ValidPasswordLength(password string) bool {
	return len(password) >= passwordMinLen && len(password) <= passwordMaxLen
}
