package emailutil

import (
	"net/mail"
	"strings"
)

// Normalize normalizes an email address for consistent comparison
// by converting to lowercase and trimming whitespace
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValid reports whether the address parses as a single RFC 5322
// address without a display name. The identity provider does its own
// validation too; this just rejects obvious junk before a network call.
func IsValid(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}
