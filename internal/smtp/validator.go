package smtp

import (
	"net/mail"
	"strings"
)

// ValidateEmailAddress validates an email address per RFC 5322.
func ValidateEmailAddress(email string) error {
	_, err := mail.ParseAddress(email)
	return err
}

// ExtractDomain extracts the domain part from an email address.
// Returns an empty string if the address does not contain an @ symbol.
func ExtractDomain(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
